package notify

import (
	"path/filepath"
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/state"
)

func newTestRepo(t *testing.T) *state.BoltRepository {
	t.Helper()
	repo, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestGetFileStatusReturnsTrackedItemState(t *testing.T) {
	repo := newTestRepo(t)
	item := domain.NewSyncItem("acct-1", "/sync/doc.txt", "/doc.txt", false)
	require.NoError(t, repo.SaveItem(item))

	s := New(repo)
	status, dberr := s.GetFileStatus("/sync/doc.txt")
	assert.Nil(t, dberr)
	assert.Equal(t, item.GetState().String(), status)
}

func TestGetFileStatusUnknownForUntrackedPath(t *testing.T) {
	s := New(newTestRepo(t))
	status, dberr := s.GetFileStatus("/sync/missing.txt")
	assert.Nil(t, dberr)
	assert.Equal(t, "Unknown", status)
}

func TestNotifyBeforeStartIsNoOp(t *testing.T) {
	s := New(newTestRepo(t))
	assert.NotPanics(t, func() {
		s.NotifyStateChanged("/sync/doc.txt", domain.StateHydrated)
		s.NotifyConflictDetected("/sync/doc.txt", "conflict-1")
	})
}

func requireSessionBus(t *testing.T) {
	t.Helper()
	conn, err := dbus.SessionBus()
	if err != nil {
		t.Skip("no D-Bus session bus available in this environment")
	}
	_ = conn.Close()
}

func TestStartStopRegistersAndReleasesServiceName(t *testing.T) {
	requireSessionBus(t)
	SetServiceNamePrefix("test_start_stop")

	s := New(newTestRepo(t))
	require.NoError(t, s.Start())
	defer s.Stop()

	conn, err := dbus.SessionBus()
	require.NoError(t, err)
	defer conn.Close()

	var names []string
	err = conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	require.NoError(t, err)

	found := false
	for _, n := range names {
		if n == ServiceName {
			found = true
			break
		}
	}
	assert.True(t, found, "expected %s to be registered", ServiceName)
}
