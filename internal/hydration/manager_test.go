package hydration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnxdrive/lnxdrive/internal/cloudapi"
	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/state"
	"github.com/lnxdrive/lnxdrive/internal/writeserializer"
)

func newTestManager(t *testing.T) (*Manager, *state.BoltRepository, *cloudapi.MockProvider, *domain.SyncItem) {
	t.Helper()
	repo, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cache, err := contentcache.New(t.TempDir())
	require.NoError(t, err)

	provider := cloudapi.NewMockProvider()
	ws := writeserializer.New()
	t.Cleanup(ws.Stop)

	mgr := New(repo, cache, provider, ws, 4)

	item := domain.NewSyncItem("acct-1", "/sync/x.bin", "/drive/x.bin", false)
	item.RemoteID = "01AB"
	item.SizeBytes = 11
	require.NoError(t, repo.SaveItem(item))
	provider.SetBlob("01AB", []byte("hello world"))

	return mgr, repo, provider, item
}

func waitTerminal(t *testing.T, ch ProgressReceiver) ProgressUpdate {
	t.Helper()
	var last ProgressUpdate
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return last
			}
			last = u
		case <-timeout:
			t.Fatal("timed out waiting for hydration to finish")
		}
	}
}

func TestHydrateDownloadsAndTransitionsToHydrated(t *testing.T) {
	mgr, repo, provider, item := newTestManager(t)

	ch := mgr.Hydrate(item.ID, Interactive)
	waitTerminal(t, ch)

	got, err := repo.GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateHydrated, got.GetState())
	assert.Equal(t, 1, provider.CountCalls("DownloadFile"))
}

func TestHydrateJoinsExistingDownload(t *testing.T) {
	mgr, _, provider, item := newTestManager(t)

	ch1 := mgr.Hydrate(item.ID, Interactive)
	ch2 := mgr.Hydrate(item.ID, Background)

	u1 := waitTerminal(t, ch1)
	u2 := waitTerminal(t, ch2)

	assert.True(t, u1.Done)
	assert.True(t, u2.Done)
	assert.Equal(t, 1, provider.CountCalls("DownloadFile"))
}

func TestCancelResetsToOnline(t *testing.T) {
	mgr, repo, provider, item := newTestManager(t)

	ok := mgr.Cancel(item.ID)
	assert.False(t, ok) // nothing active yet

	provider.BlockDownload = make(chan struct{})
	ch := mgr.Hydrate(item.ID, Background)

	// give the download goroutine a moment to reach the blocked
	// provider call before cancelling it.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, mgr.Cancel(item.ID))
	waitTerminal(t, ch)

	got, err := repo.GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOnline, got.GetState())
}
