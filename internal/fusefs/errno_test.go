package fusefs

import (
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"

	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
)

func TestErrnoForDiskFullReturnsENOSPC(t *testing.T) {
	err := lnxerrors.NewFilesystemError("no space left", syscall.ENOSPC)
	assert.Equal(t, fuse.Status(syscall.ENOSPC), errnoFor(err))
}

func TestErrnoForOtherFilesystemErrorReturnsEACCES(t *testing.T) {
	err := lnxerrors.NewFilesystemError("permission denied", syscall.EPERM)
	assert.Equal(t, fuse.EACCES, errnoFor(err))
}

func TestErrnoForNilIsOK(t *testing.T) {
	assert.Equal(t, fuse.OK, errnoFor(nil))
}

func TestErrnoForNotFoundReturnsENOENT(t *testing.T) {
	err := lnxerrors.NewNotFoundError("missing", nil)
	assert.Equal(t, fuse.ENOENT, errnoFor(err))
}
