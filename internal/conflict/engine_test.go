package conflict

import (
	"context"
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

func newTestEngine(t *testing.T, policy *Policy) (*Engine, *state.BoltRepository, *contentcache.Cache, *cloudapi.MockProvider) {
	t.Helper()
	repo, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cache, err := contentcache.New(t.TempDir())
	require.NoError(t, err)

	provider := cloudapi.NewMockProvider()
	ws := writeserializer.New()
	t.Cleanup(ws.Stop)

	return NewEngine(repo, cache, provider, policy, ws), repo, cache, provider
}

func modifiedStoredItem(t *testing.T, repo *state.BoltRepository, cache *contentcache.Cache, data []byte) *domain.SyncItem {
	t.Helper()
	item := domain.NewSyncItem("acct-1", "/sync/report.txt", "/drive/report.txt", false)
	item.RemoteID = "R9"
	item.SizeBytes = uint64(len(data))
	item.ContentHash = "local-hash"
	require.NoError(t, item.Transition(domain.TransitionAccess))
	require.NoError(t, item.Transition(domain.TransitionComplete))
	require.NoError(t, item.Transition(domain.TransitionModify))
	require.NoError(t, cache.Store("R9", data))
	require.NoError(t, repo.SaveItem(item))
	return item
}

func TestEngineAutoResolvesPerPolicy(t *testing.T) {
	policy := NewPolicy([]Rule{{Pattern: "*.txt", Resolution: domain.ResolutionKeepRemote}}, domain.ResolutionManual)
	engine, repo, cache, provider := newTestEngine(t, policy)
	item := modifiedStoredItem(t, repo, cache, []byte("local bytes"))
	provider.SetBlob("R9", []byte("remote bytes"))
	provider.Metadata["R9"] = &cloudapi.DeltaItem{ID: "R9", Hash: "remote-hash", Size: 12, Modified: time.Now()}

	c, copyItem, err := engine.HandleRemoteUpdate(context.Background(), item, "remote-hash", 12, time.Now(), "etag", time.Now())
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Nil(t, copyItem)
	assert.True(t, c.IsResolved())
	assert.Equal(t, domain.StateHydrated, item.GetState())
}

func TestEngineLeavesManualConflictUnresolved(t *testing.T) {
	policy := NewPolicy(nil, domain.ResolutionManual)
	engine, repo, cache, _ := newTestEngine(t, policy)
	item := modifiedStoredItem(t, repo, cache, []byte("local bytes"))

	c, copyItem, err := engine.HandleRemoteUpdate(context.Background(), item, "remote-hash", 12, time.Now(), "etag", time.Now())
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Nil(t, copyItem)
	assert.False(t, c.IsResolved())
	assert.Equal(t, domain.StateConflicted, item.GetState())

	unresolved, err := repo.GetUnresolvedConflicts()
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
}

func TestEngineNoConflictWhenHashesMatch(t *testing.T) {
	policy := NewPolicy(nil, domain.ResolutionManual)
	engine, repo, cache, _ := newTestEngine(t, policy)
	item := modifiedStoredItem(t, repo, cache, []byte("local bytes"))
	item.ContentHash = "same-hash"
	require.NoError(t, repo.SaveItem(item))

	c, copyItem, err := engine.HandleRemoteUpdate(context.Background(), item, "same-hash", 12, time.Now(), "etag", time.Now())
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Nil(t, copyItem)
}

func TestEngineResolveManually(t *testing.T) {
	policy := NewPolicy(nil, domain.ResolutionManual)
	engine, repo, cache, provider := newTestEngine(t, policy)
	item := modifiedStoredItem(t, repo, cache, []byte("local bytes"))

	c, _, err := engine.HandleRemoteUpdate(context.Background(), item, "remote-hash", 12, time.Now(), "etag", time.Now())
	require.NoError(t, err)
	require.NotNil(t, c)

	copyItem, err := engine.ResolveManually(context.Background(), item.ID, c.ID, domain.ResolutionKeepLocal, time.Now())
	require.NoError(t, err)
	assert.Nil(t, copyItem)
	assert.Equal(t, 1, provider.CountCalls("UploadFile"))

	got, err := repo.GetConflict(c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved())
}
