// Package localwatch watches an account's mounted sync root for local
// filesystem activity and debounces it into a trigger signal for
// SyncEngine's push phase. It is grounded in tonimelisma-onedrive-go's
// internal/sync/observer_local.go (FsWatcher abstraction over
// *fsnotify.Watcher, recursive directory watch registration, exponential
// backoff on watcher errors, a periodic safety-scan fallback), adapted
// from that repo's event-to-ChangeEvent translation to a pure wake signal:
// SyncEngine's push phase (internal/syncengine) already discovers what
// changed by querying StateRepository for Modified/Deleted items, since
// every local mutation reaches the filesystem through FuseFilesystem and
// is persisted there. fsnotify sees the same mutations a beat later from
// outside the FUSE session and is used only to shorten the wait until the
// next sync cycle, not as a second source of truth.
package localwatch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
)

const (
	defaultDebounce     = 2 * time.Second
	defaultSafetyPeriod = 5 * time.Minute
	errInitBackoff      = 1 * time.Second
	errMaxBackoff       = 30 * time.Second
	errBackoffMult      = 2
)

// FsWatcher abstracts *fsnotify.Watcher so tests can inject a fake.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct{ w *fsnotify.Watcher }

func (f *fsnotifyWatcher) Add(name string) error        { return f.w.Add(name) }
func (f *fsnotifyWatcher) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error           { return f.w.Errors }

// Trigger is called whenever the watcher believes the sync root has
// settled after local activity. Implementations should be cheap and
// non-blocking; SyncEngine.Sync already coalesces overlapping calls for
// the same account, so Trigger can simply forward to it.
type Trigger func(ctx context.Context)

// Config carries the tunables SPEC_FULL.md's config loader exposes for the
// local watcher; a zero Config uses the package defaults.
type Config struct {
	Debounce     time.Duration
	SafetyPeriod time.Duration
}

// Watcher drives one fsnotify session over one account's sync root.
type Watcher struct {
	accountID  string
	syncRoot   string
	trigger    Trigger
	debounce   time.Duration
	safety     time.Duration
	newWatcher func() (FsWatcher, error)
}

// New constructs a Watcher for accountID rooted at syncRoot. trigger is
// invoked after local activity has quieted down for Debounce, and also on
// every SafetyPeriod tick regardless of activity, as a backstop against
// missed or coalesced kernel events.
func New(accountID, syncRoot string, trigger Trigger, cfg Config) *Watcher {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	safety := cfg.SafetyPeriod
	if safety <= 0 {
		safety = defaultSafetyPeriod
	}
	return &Watcher{
		accountID: accountID,
		syncRoot:  syncRoot,
		trigger:   trigger,
		debounce:  debounce,
		safety:    safety,
		newWatcher: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}
			return &fsnotifyWatcher{w: w}, nil
		},
	}
}

// Run watches syncRoot until ctx is cancelled or an unrecoverable error
// occurs (the root itself disappearing). Safe to run in its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	log := lnxlog.NewLogContext("localwatch").WithMethod("Run").With("account_id", w.accountID).Logger()

	watcher, err := w.newWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursive(watcher, w.syncRoot); err != nil {
		log.Warn().Err(err).Msg("failed to register initial watch tree")
	}

	debounceTimer := time.NewTimer(w.debounce)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()

	safetyTicker := time.NewTicker(w.safety)
	defer safetyTicker.Stop()

	backoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			if handleEvent(watcher, ev) {
				debounceTimer.Reset(w.debounce)
			}
			backoff = errInitBackoff

		case werr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}
			log.Warn().Err(werr).Dur("backoff", backoff).Msg("watcher error")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			if !rootExists(w.syncRoot) {
				return werr
			}
			backoff *= errBackoffMult
			if backoff > errMaxBackoff {
				backoff = errMaxBackoff
			}

		case <-debounceTimer.C:
			w.trigger(ctx)

		case <-safetyTicker.C:
			if !rootExists(w.syncRoot) {
				log.Error().Msg("sync root deleted, stopping watch")
				return fs.ErrNotExist
			}
			w.trigger(ctx)
		}
	}
}

// handleEvent keeps the watch tree in step with ev and reports whether ev
// counts as local activity; chmod-only events do not.
func handleEvent(watcher FsWatcher, ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = watcher.Add(ev.Name)
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		_ = watcher.Remove(ev.Name)
	}
	return true
}

func addRecursive(watcher FsWatcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = watcher.Add(path)
		}
		return nil
	})
}

func rootExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
