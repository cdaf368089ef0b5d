// Package dehydration implements component F of spec.md §4: a periodic
// sweep that evicts cache blobs for Hydrated items that have gone
// untouched for too long, returning them to Online placeholders.
// Grounded in the teacher's internal/fs/content_cache.go eviction pass
// (content_eviction_test.go exercises the same LRU-age idea against
// LoopbackCache) generalized to the spec's explicit threshold/hysteresis
// sweep algorithm.
package dehydration

import (
	"context"
	"time"

	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
	"github.com/lnxdrive/lnxdrive/internal/state"
	"github.com/lnxdrive/lnxdrive/internal/writeserializer"
)

// Hysteresis is the 0.9 factor spec.md §4.F applies to the threshold
// once a sweep starts, so a sweep doesn't stop the instant it dips under
// the trigger line and immediately re-trigger next tick.
const Hysteresis = 0.9

// Report summarizes one sweep, per spec.md §4.F.
type Report struct {
	ItemsEvicted int
	BytesFreed   int64
	Scanned      int
	Skipped      int
}

// OpenHandleChecker reports whether any FUSE file handle currently
// references itemID; the sweep must never evict an open file.
type OpenHandleChecker func(itemID string) bool

// Config bundles the numeric knobs spec.md §6 names for this component.
type Config struct {
	ThresholdPercent float64 // dehydration_threshold_percent, 0..100
	MaxAgeDays       int     // dehydration_max_age_days
	BatchLimit       int     // per-query batch size
	CacheMaxBytes    int64   // cache_max_size_gb, in bytes
}

// Manager is the DehydrationManager.
type Manager struct {
	repo   state.Repository
	cache  *contentcache.Cache
	ws     *writeserializer.Serializer
	isOpen OpenHandleChecker
	cfg    Config
}

func New(repo state.Repository, cache *contentcache.Cache, ws *writeserializer.Serializer, isOpen OpenHandleChecker, cfg Config) *Manager {
	if isOpen == nil {
		isOpen = func(string) bool { return false }
	}
	return &Manager{repo: repo, cache: cache, ws: ws, isOpen: isOpen, cfg: cfg}
}

// Sweep runs one eviction pass, per the five-step algorithm in spec.md
// §4.F.
func (m *Manager) Sweep(ctx context.Context) (Report, error) {
	log := lnxlog.NewLogContext("dehydration").WithMethod("Sweep").Logger()
	var report Report

	thresholdBytes := int64(m.cfg.ThresholdPercent / 100 * float64(m.cfg.CacheMaxBytes))
	usage := m.cache.DiskUsage()
	if usage < thresholdBytes {
		return report, nil
	}

	stopBytes := int64(float64(thresholdBytes) * Hysteresis)

	for usage > stopBytes {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		candidates, err := m.repo.GetItemsForDehydration(m.cfg.MaxAgeDays, m.cfg.BatchLimit)
		if err != nil {
			return report, err
		}
		if len(candidates) == 0 {
			break
		}

		evictedBefore := report.ItemsEvicted
		for _, item := range candidates {
			report.Scanned++
			if m.isOpen(item.ID) || item.GetState() != domain.StateHydrated {
				report.Skipped++
				continue
			}

			freed := m.cache.Size(item.RemoteID)
			if err := m.cache.Remove(item.RemoteID); err != nil {
				log.Warn().Str("itemID", item.ID).Err(err).Msg("failed to remove cache blob during sweep")
				report.Skipped++
				continue
			}
			if err := item.Transition(domain.TransitionDehydrate); err != nil {
				log.Warn().Str("itemID", item.ID).Err(err).Msg("failed to transition item to Online during sweep")
				report.Skipped++
				continue
			}
			if err := m.ws.Send(func() error { return m.repo.SaveItem(item) }).Wait(); err != nil {
				log.Warn().Str("itemID", item.ID).Err(err).Msg("failed to persist dehydrated item")
				report.Skipped++
				continue
			}

			report.ItemsEvicted++
			report.BytesFreed += freed
			usage -= freed
			if usage <= stopBytes {
				break
			}
		}

		if report.ItemsEvicted == evictedBefore {
			// every candidate in this batch was skipped; further passes
			// would just requery the same stuck items forever.
			break
		}
	}

	return report, nil
}

// Run ticks Sweep on intervalMinutes until ctx is cancelled, per spec.md
// §4.F "runs on a timer".
func (m *Manager) Run(ctx context.Context, intervalMinutes int) {
	log := lnxlog.NewLogContext("dehydration").WithMethod("Run").Logger()
	ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := m.Sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("dehydration sweep failed")
				continue
			}
			log.Info().
				Int("itemsEvicted", report.ItemsEvicted).
				Int64("bytesFreed", report.BytesFreed).
				Int("scanned", report.Scanned).
				Int("skipped", report.Skipped).
				Msg("dehydration sweep complete")
		}
	}
}
