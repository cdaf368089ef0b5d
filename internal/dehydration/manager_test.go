package dehydration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/state"
	"github.com/lnxdrive/lnxdrive/internal/writeserializer"
)

func newTestManager(t *testing.T, cfg Config, isOpen OpenHandleChecker) (*Manager, *state.BoltRepository, *contentcache.Cache) {
	t.Helper()
	repo, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cache, err := contentcache.New(t.TempDir())
	require.NoError(t, err)

	ws := writeserializer.New()
	t.Cleanup(ws.Stop)

	return New(repo, cache, ws, isOpen, cfg), repo, cache
}

// TestSweepEvictsStaleItem exercises spec.md §8 scenario 5 directly:
// usage above threshold, one stale Hydrated item past max age.
func TestSweepEvictsStaleItem(t *testing.T) {
	mgr, repo, cache := newTestManager(t, Config{
		ThresholdPercent: 80,
		MaxAgeDays:       30,
		BatchLimit:       10,
		CacheMaxBytes:    1000,
	}, nil)

	item := domain.NewSyncItem("acct-1", "/sync/z.bin", "/drive/z.bin", false)
	item.RemoteID = "Z"
	item.State = domain.StateHydrated
	item.LastAccessed = time.Now().AddDate(0, 0, -31)
	require.NoError(t, repo.SaveItem(item))
	require.NoError(t, cache.Store("Z", make([]byte, 850))) // 85% of 1000

	report, err := mgr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsEvicted)
	assert.EqualValues(t, 850, report.BytesFreed)
	assert.False(t, cache.Exists("Z"))

	got, err := repo.GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOnline, got.GetState())
}

func TestSweepSkipsBelowThreshold(t *testing.T) {
	mgr, repo, cache := newTestManager(t, Config{
		ThresholdPercent: 80,
		MaxAgeDays:       30,
		BatchLimit:       10,
		CacheMaxBytes:    1_000_000,
	}, nil)

	item := domain.NewSyncItem("acct-1", "/sync/small.bin", "/drive/small.bin", false)
	item.RemoteID = "small"
	item.State = domain.StateHydrated
	item.LastAccessed = time.Now().AddDate(0, 0, -60)
	require.NoError(t, repo.SaveItem(item))
	require.NoError(t, cache.Store("small", []byte("tiny")))

	report, err := mgr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.ItemsEvicted)
	assert.True(t, cache.Exists("small"))
}

func TestSweepSkipsOpenHandles(t *testing.T) {
	mgr, repo, cache := newTestManager(t, Config{
		ThresholdPercent: 80,
		MaxAgeDays:       30,
		BatchLimit:       10,
		CacheMaxBytes:    1000,
	}, func(itemID string) bool { return true })

	item := domain.NewSyncItem("acct-1", "/sync/open.bin", "/drive/open.bin", false)
	item.RemoteID = "OPEN"
	item.State = domain.StateHydrated
	item.LastAccessed = time.Now().AddDate(0, 0, -31)
	require.NoError(t, repo.SaveItem(item))
	require.NoError(t, cache.Store("OPEN", make([]byte, 900)))

	report, err := mgr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.ItemsEvicted)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, cache.Exists("OPEN"))
}
