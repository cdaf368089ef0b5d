// Command lnxdrived mounts one account's sync root as a FUSE filesystem
// and drives the background hydration, dehydration, and sync-engine
// loops behind it. Wiring follows the teacher's cmd/onemount/main.go:
// load configuration, build the cache and state layers, construct the
// filesystem, mount it, then hand off to signal-driven graceful unmount.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lnxdrive/lnxdrive/internal/cloudapi"
	"github.com/lnxdrive/lnxdrive/internal/conflict"
	"github.com/lnxdrive/lnxdrive/internal/config"
	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/dehydration"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/fusefs"
	"github.com/lnxdrive/lnxdrive/internal/hydration"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
	"github.com/lnxdrive/lnxdrive/internal/localwatch"
	"github.com/lnxdrive/lnxdrive/internal/notify"
	"github.com/lnxdrive/lnxdrive/internal/state"
	"github.com/lnxdrive/lnxdrive/internal/syncengine"
	"github.com/lnxdrive/lnxdrive/internal/writeserializer"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flags.Mountpoint == "" {
		fmt.Fprintln(os.Stderr, "usage: lnxdrived [flags] <mountpoint>")
		os.Exit(2)
	}

	cfg := config.Load(flags.ConfigPath)
	flags.Apply(cfg)
	lnxlog.SetLevel(cfg.LogLevel)

	mountpoint, err := filepath.Abs(flags.Mountpoint)
	if err != nil {
		lnxlog.Error().Err(err).Str("mountpoint", flags.Mountpoint).Msg("invalid mountpoint")
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.CacheDir, 0700); err != nil {
		lnxlog.Error().Err(err).Str("path", cfg.CacheDir).Msg("could not create cache directory")
		os.Exit(1)
	}

	d, err := newDaemon(cfg, mountpoint)
	if err != nil {
		lnxlog.Error().Err(err).Msg("failed to initialize lnxdrived")
		os.Exit(1)
	}
	defer d.repo.Close()

	server, err := d.mount()
	if err != nil {
		lnxlog.Error().Err(err).Str("mountpoint", mountpoint).
			Msg("mount failed. Is the mountpoint already in use? (try fusermount3 -u)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.startBackgroundLoops(ctx)
	setupSignalHandler(d, server, mountpoint, cancel)

	sdnotify(mountpoint)

	lnxlog.Info().Str("mountpoint", mountpoint).Str("cacheDir", cfg.CacheDir).Msg("serving filesystem")
	server.Serve()
}

// lnxDaemon bundles the wired components for one mounted account, mirroring
// the teacher's Filesystem-plus-auth bundle returned from
// initializeFilesystem.
type lnxDaemon struct {
	cfg        *config.Config
	account    *domain.Account
	repo       *state.BoltRepository
	cache      *contentcache.Cache
	provider   cloudapi.Provider
	ws         *writeserializer.Serializer
	hydrator   *hydration.Manager
	dehydrator *dehydration.Manager
	conflict   *conflict.Engine
	sync       *syncengine.Engine
	fs         *fusefs.Filesystem
	notifier   *notify.Server
	watcher    *localwatch.Watcher
}

func newDaemon(cfg *config.Config, mountpoint string) (*lnxDaemon, error) {
	repo, err := state.Open(filepath.Join(cfg.CacheDir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open state repository: %w", err)
	}

	cache, err := contentcache.New(filepath.Join(cfg.CacheDir, "blobs"))
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("open content cache: %w", err)
	}

	account, err := loadOrCreateAccount(repo, mountpoint)
	if err != nil {
		repo.Close()
		return nil, err
	}

	// No production Microsoft Graph client is wired here: spec.md scopes
	// OAuth2/PKCE and the Graph HTTP surface out as collaborator-owned
	// plumbing (see DESIGN.md). cloudapi.NewMockProvider stands in as
	// the injectable seam a real provider implementation would occupy.
	provider := cloudapi.NewMockProvider()

	ws := writeserializer.New()
	hydrator := hydration.New(repo, cache, provider, ws, cfg.HydrationConcurrency)

	fs := fusefs.New(repo, cache, hydrator, ws, account)
	fs.SetRenameOrphanHandler(func(remoteID string) error {
		return provider.DeleteItem(context.Background(), remoteID)
	})

	dehydrator := dehydration.New(repo, cache, ws, fs.IsOpen, dehydration.Config{
		ThresholdPercent: float64(cfg.DehydrationThresholdPct),
		MaxAgeDays:       cfg.DehydrationMaxAgeDays,
		BatchLimit:       256,
		CacheMaxBytes:    int64(cfg.CacheMaxSizeGB) * 1024 * 1024 * 1024,
	})

	conflictEngine := conflict.NewEngine(repo, cache, provider, cfg.ConflictPolicy(), ws)
	syncEngine := syncengine.New(repo, cache, provider, conflictEngine, ws)
	notifier := notify.New(repo)

	watcher := localwatch.New(account.ID, account.SyncRoot, func(ctx context.Context) {
		if _, err := syncEngine.Sync(ctx, account.ID); err != nil {
			lnxlog.Warn().Err(err).Str("accountID", account.ID).Msg("local-change triggered sync failed")
		}
	}, localwatch.Config{
		Debounce:     time.Duration(cfg.LocalWatchDebounceSeconds) * time.Second,
		SafetyPeriod: time.Duration(cfg.LocalWatchSafetyPeriodMinutes) * time.Minute,
	})

	return &lnxDaemon{
		cfg:        cfg,
		account:    account,
		repo:       repo,
		cache:      cache,
		provider:   provider,
		ws:         ws,
		hydrator:   hydrator,
		dehydrator: dehydrator,
		conflict:   conflictEngine,
		sync:       syncEngine,
		fs:         fs,
		notifier:   notifier,
		watcher:    watcher,
	}, nil
}

// loadOrCreateAccount looks up the account whose sync root is
// mountpoint, registering a fresh one on first run. A full production
// client would authenticate first and derive the account from the
// resulting profile; this module's scope stops at the cloudapi.Provider
// seam, so the account row is keyed on the mountpoint instead.
func loadOrCreateAccount(repo state.Repository, mountpoint string) (*domain.Account, error) {
	accounts, err := repo.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range accounts {
		if a.SyncRoot == mountpoint {
			return a, nil
		}
	}

	account := &domain.Account{
		ID:        mountpoint,
		SyncRoot:  mountpoint,
		State:     domain.AccountActive,
		CreatedAt: time.Now(),
	}
	if err := repo.SaveAccount(account); err != nil {
		return nil, fmt.Errorf("save new account: %w", err)
	}
	return account, nil
}

func (d *lnxDaemon) mount() (*fuse.Server, error) {
	mountOptions := &fuse.MountOptions{
		Name:          "lnxdrive",
		FsName:        "lnxdrive",
		DisableXAttrs: false,
		MaxBackground: 1024,
	}
	return fuse.NewServer(d.fs, d.account.SyncRoot, mountOptions)
}

func (d *lnxDaemon) startBackgroundLoops(ctx context.Context) {
	if err := d.notifier.Start(); err != nil {
		lnxlog.Warn().Err(err).Msg("D-Bus notifier failed to start, file-status signals disabled")
	}

	go d.dehydrator.Run(ctx, d.cfg.DehydrationIntervalMinutes)

	go func() {
		if err := d.watcher.Run(ctx); err != nil && ctx.Err() == nil {
			lnxlog.Warn().Err(err).Str("accountID", d.account.ID).Msg("local filesystem watcher stopped")
		}
	}()

	go func() {
		if _, err := d.sync.Sync(ctx, d.account.ID); err != nil {
			lnxlog.Warn().Err(err).Str("accountID", d.account.ID).Msg("initial sync failed")
		}
	}()
}

// sdnotify reports readiness to systemd once the FUSE mount succeeds, so
// a unit using Type=notify only considers the service up once the
// mountpoint is actually usable.
func sdnotify(mountpoint string) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		lnxlog.Debug().Err(err).Msg("sd_notify failed")
		return
	}
	if sent {
		lnxlog.Debug().Str("mountpoint", mountpoint).Msg("sd_notify READY=1 sent")
	}
}

// setupSignalHandler mirrors the teacher's setupSignalHandler: block for
// SIGINT/SIGTERM, then stop background loops and unmount cleanly.
func setupSignalHandler(d *lnxDaemon, server *fuse.Server, mountpoint string, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lnxlog.Info().Str("signal", strings.ToUpper(sig.String())).
			Msg("signal received, cleaning up and unmounting filesystem")

		cancel()
		d.notifier.Stop()
		d.ws.Stop()

		if err := server.Unmount(); err != nil {
			lnxlog.Warn().Err(err).Str("mountpoint", mountpoint).Msg("clean unmount failed")
		}
	}()
}
