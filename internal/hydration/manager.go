// Package hydration implements component E of spec.md §4: on-demand
// download scheduling with per-item deduplication and bounded
// concurrency, grounded in the teacher's internal/fs/download_manager.go
// (worker pool + session map) but reshaped around spec.md's join/permit
// semantics and progress multicasting (spec.md §9 "one download, many
// waiters").
package hydration

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lnxdrive/lnxdrive/internal/cloudapi"
	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
	"github.com/lnxdrive/lnxdrive/internal/state"
	"github.com/lnxdrive/lnxdrive/internal/writeserializer"
)

// Priority orders waiters within the permit queue (spec.md §4.E).
type Priority int

const (
	Background Priority = iota
	Interactive
)

// ProgressUpdate is published to every subscriber of an in-flight
// hydration at chunk boundaries, per spec.md §9's broadcast/watch
// channel recommendation.
type ProgressUpdate struct {
	Percent int
	Done    bool
	Err     error
}

// ProgressReceiver is what callers of Hydrate subscribe to. It is closed
// once the terminal update (Done or Err set) has been delivered.
type ProgressReceiver <-chan ProgressUpdate

type activeDownload struct {
	mu     sync.Mutex
	subs   []chan ProgressUpdate
	cancel context.CancelFunc
}

func (a *activeDownload) subscribe() chan ProgressUpdate {
	ch := make(chan ProgressUpdate, 8)
	a.mu.Lock()
	a.subs = append(a.subs, ch)
	a.mu.Unlock()
	return ch
}

func (a *activeDownload) publish(u ProgressUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subs {
		ch <- u
	}
	if u.Done || u.Err != nil {
		for _, ch := range a.subs {
			close(ch)
		}
	}
}

// permitBroker hands out a bounded number of permits, preferring
// Interactive waiters over Background ones, FIFO within each class, per
// spec.md §4.E.
type permitBroker struct {
	mu           sync.Mutex
	available    int
	interactiveQ []chan struct{}
	backgroundQ  []chan struct{}
}

func newPermitBroker(n int) *permitBroker { return &permitBroker{available: n} }

func (b *permitBroker) acquire(ctx context.Context, priority Priority) error {
	b.mu.Lock()
	if b.available > 0 {
		b.available--
		b.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	if priority == Interactive {
		b.interactiveQ = append(b.interactiveQ, wait)
	} else {
		b.backgroundQ = append(b.backgroundQ, wait)
	}
	b.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		b.removeWaiter(wait)
		return ctx.Err()
	}
}

func (b *permitBroker) removeWaiter(wait chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.interactiveQ {
		if w == wait {
			b.interactiveQ = append(b.interactiveQ[:i], b.interactiveQ[i+1:]...)
			return
		}
	}
	for i, w := range b.backgroundQ {
		if w == wait {
			b.backgroundQ = append(b.backgroundQ[:i], b.backgroundQ[i+1:]...)
			return
		}
	}
}

func (b *permitBroker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.interactiveQ) > 0 {
		ch := b.interactiveQ[0]
		b.interactiveQ = b.interactiveQ[1:]
		close(ch)
		return
	}
	if len(b.backgroundQ) > 0 {
		ch := b.backgroundQ[0]
		b.backgroundQ = b.backgroundQ[1:]
		close(ch)
		return
	}
	b.available++
}

// Manager is the HydrationManager. Concurrency cap must be 1..32
// (spec.md §4.E).
type Manager struct {
	repo     state.Repository
	cache    *contentcache.Cache
	provider cloudapi.Provider
	ws       *writeserializer.Serializer

	permits *permitBroker
	flight  singleflight.Group

	mu     sync.Mutex
	active map[string]*activeDownload

	group *errgroup.Group
}

func New(repo state.Repository, cache *contentcache.Cache, provider cloudapi.Provider, ws *writeserializer.Serializer, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 32 {
		concurrency = 32
	}
	return &Manager{
		repo:     repo,
		cache:    cache,
		provider: provider,
		ws:       ws,
		permits:  newPermitBroker(concurrency),
		active:   make(map[string]*activeDownload),
		group:    &errgroup.Group{},
	}
}

// Hydrate schedules a download for itemID if one isn't already running,
// or joins the existing one. Per spec.md §4.E: "if key present, return a
// new subscription to the same sender".
func (m *Manager) Hydrate(itemID string, priority Priority) ProgressReceiver {
	m.mu.Lock()
	if ad, ok := m.active[itemID]; ok {
		ch := ad.subscribe()
		m.mu.Unlock()
		return ch
	}

	downloadCtx, cancel := context.WithCancel(context.Background())
	ad := &activeDownload{cancel: cancel}
	ch := ad.subscribe()
	m.active[itemID] = ad
	m.mu.Unlock()

	m.group.Go(func() error {
		m.run(downloadCtx, itemID, priority, ad)
		return nil
	})
	return ch
}

// Cancel aborts an in-flight hydration, removing the .partial cache file
// and returning the item to Online, per spec.md's boundary behavior.
func (m *Manager) Cancel(itemID string) bool {
	m.mu.Lock()
	ad, ok := m.active[itemID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	ad.cancel()
	return true
}

// WaitFor blocks until itemID's current hydration (if any) terminates,
// returning its terminal error.
func (m *Manager) WaitFor(itemID string) error {
	m.mu.Lock()
	ad, ok := m.active[itemID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	ch := ad.subscribe()
	var last error
	for u := range ch {
		if u.Err != nil {
			last = u.Err
		}
	}
	return last
}

// Shutdown waits for all in-flight hydration goroutines to exit.
func (m *Manager) Shutdown() error {
	return m.group.Wait()
}

func (m *Manager) run(ctx context.Context, itemID string, priority Priority, ad *activeDownload) {
	log := lnxlog.NewLogContext("hydration").WithMethod("run").WithItem(itemID).Logger()

	defer func() {
		m.mu.Lock()
		delete(m.active, itemID)
		m.mu.Unlock()
	}()

	if err := m.permits.acquire(ctx, priority); err != nil {
		ad.publish(ProgressUpdate{Err: err})
		return
	}
	defer m.permits.release()

	// singleflight guarantees at most one real download in flight for
	// this item id within this Manager (each Manager has its own flight
	// group), satisfying spec.md §8's "at most one
	// concurrent hydration task per item id" as a second line of defense
	// alongside the active map above.
	_, err, _ := m.flight.Do(itemID, func() (any, error) {
		return nil, m.download(ctx, itemID, ad)
	})
	if err != nil {
		log.Warn().Err(err).Msg("hydration failed")
		ad.publish(ProgressUpdate{Err: err})
		return
	}
	ad.publish(ProgressUpdate{Percent: 100, Done: true})
}

func (m *Manager) download(ctx context.Context, itemID string, ad *activeDownload) error {
	item, err := m.repo.GetItem(itemID)
	if err != nil {
		return err
	}

	if err := item.Transition(domain.TransitionAccess); err != nil {
		return err
	}
	m.ws.Send(func() error { return m.repo.SaveItem(item) }).Wait()

	w := &progressWriter{ad: ad, total: item.SizeBytes}
	_, err = m.provider.DownloadFile(ctx, item.RemoteID, w)
	if err != nil {
		m.cache.RemovePartial(item.RemoteID)
		if ctx.Err() != nil {
			item.ResetToOnline()
			m.ws.Send(func() error { return m.repo.SaveItem(item) }).Wait()
			return ctx.Err()
		}
		item.MarkError("HYDRATION_FAILED", err.Error())
		m.ws.Send(func() error { return m.repo.SaveItem(item) }).Wait()
		return err
	}

	if err := m.cache.Store(item.RemoteID, w.buf); err != nil {
		return err
	}

	if err := item.Transition(domain.TransitionComplete); err != nil {
		return err
	}
	item.Touch(time.Now())
	m.ws.Send(func() error { return m.repo.SaveItem(item) }).Wait()
	return nil
}

// progressWriter accumulates downloaded bytes in memory while publishing
// percentage updates at each Write call, standing in for "chunk
// boundaries" (spec.md §4.E) since Provider.DownloadFile streams writes
// incrementally.
type progressWriter struct {
	ad    *activeDownload
	total uint64
	buf   []byte
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	pct := 0
	if w.total > 0 {
		pct = int(uint64(len(w.buf)) * 100 / w.total)
		if pct > 99 {
			pct = 99
		}
	}
	w.ad.publish(ProgressUpdate{Percent: pct})
	return len(p), nil
}

var _ io.Writer = (*progressWriter)(nil)
