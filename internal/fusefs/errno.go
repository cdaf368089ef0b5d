package fusefs

import (
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
)

// errnoFor maps a typed error crossing a repository/cache/provider
// boundary to the kernel errno spec.md §4.G's exhaustive table names for
// the error Type categories that can reach the FUSE layer (the purely
// structural codes — NotADirectory, IsADirectory, NotEmpty,
// XattrNotFound, XattrBufferTooSmall, InvalidArgument, NameTooLong — are
// detected directly in each handler rather than carried as TypedErrors,
// since they arise from FUSE-level argument shape, not domain state).
func errnoFor(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	var typed *lnxerrors.TypedError
	if !errors.As(err, &typed) {
		return fuse.EIO
	}
	switch typed.TypeOf {
	case lnxerrors.NotFound:
		return fuse.ENOENT
	case lnxerrors.AlreadyExists:
		return fuse.Status(syscall.EEXIST)
	case lnxerrors.Auth:
		return fuse.EACCES
	case lnxerrors.Validation, lnxerrors.InvalidTransition:
		return fuse.EINVAL
	case lnxerrors.ResourceBusy:
		return fuse.Status(syscall.EAGAIN)
	case lnxerrors.Timeout:
		return fuse.Status(syscall.ETIMEDOUT)
	case lnxerrors.Filesystem:
		if typed.Code == lnxerrors.CodeDiskFull {
			return fuse.Status(syscall.ENOSPC)
		}
		return fuse.EACCES
	default:
		// Network, Throttled, Operation, Integrity, Unknown: all surface as
		// a generic IoError per spec.md §4.G's IoError/Hydration/Cache/Db ->
		// EIO row.
		return fuse.EIO
	}
}
