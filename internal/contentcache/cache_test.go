package contentcache

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestStoreAndRead(t *testing.T) {
	c := newTestCache(t)
	data := []byte("hello world")
	require.NoError(t, c.Store("01AB", data))

	h := Hash("01AB")
	expectedPath := filepath.Join(c.dir, "content", h[:2], h[2:])
	assert.FileExists(t, expectedPath)

	got, err := c.Read("01AB", 0, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadBeyondEOFIsEmpty(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("id", []byte("abc")))

	got, err := c.Read("id", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadMissingIsEmpty(t *testing.T) {
	c := newTestCache(t)
	got, err := c.Read("nope", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteAtExtendsWithGap(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.WriteAt("id", 5, []byte("xyz")))

	got, err := c.Read("id", 0, 8)
	require.NoError(t, err)
	require.Len(t, got, 8)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, got[:5])
	assert.Equal(t, []byte("xyz"), got[5:])
}

func TestExistsAndRemove(t *testing.T) {
	c := newTestCache(t)
	assert.False(t, c.Exists("id"))
	require.NoError(t, c.Store("id", []byte("a")))
	assert.True(t, c.Exists("id"))

	require.NoError(t, c.Remove("id"))
	assert.False(t, c.Exists("id"))
}

func TestRemoveAlsoRemovesPartial(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("id", []byte("a")))

	partial := c.PartialPath("id")
	require.NoError(t, os.WriteFile(partial, []byte("partial-bytes"), 0o600))

	require.NoError(t, c.Remove("id"))
	assert.NoFileExists(t, partial)
}

func TestWrapWriteErrTagsDiskFull(t *testing.T) {
	enospc := &os.PathError{Op: "write", Path: "blob", Err: syscall.ENOSPC}

	wrapped := wrapWriteErr(enospc)
	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, syscall.ENOSPC))

	var typed *lnxerrors.TypedError
	require.True(t, errors.As(wrapped, &typed))
	assert.Equal(t, lnxerrors.Filesystem, typed.TypeOf)
	assert.Equal(t, lnxerrors.CodeDiskFull, typed.Code)
}

func TestWrapWriteErrLeavesOtherErrorsUnwrapped(t *testing.T) {
	eperm := &os.PathError{Op: "write", Path: "blob", Err: syscall.EPERM}
	assert.Same(t, eperm, wrapWriteErr(eperm).(*os.PathError))
}

func TestDiskUsage(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store("a", []byte("12345")))
	require.NoError(t, c.Store("b", []byte("1234567890")))
	assert.Equal(t, int64(15), c.DiskUsage())
}
