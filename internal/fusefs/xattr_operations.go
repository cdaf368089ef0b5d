package fusefs

import (
	"strconv"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lnxdrive/lnxdrive/internal/domain"
)

const xattrPrefix = "user.lnxdrive."

// xattrNames are the attributes spec.md §4.G exposes through
// getxattr/listxattr; "progress" only carries a meaningful value while the
// item is Hydrating.
var xattrNames = []string{"state", "size", "remote_id", "progress", "pin"}

func (f *Filesystem) xattrValue(item *domain.SyncItem, name string) (string, bool) {
	switch name {
	case "state":
		return item.GetState().String(), true
	case "size":
		return strconv.FormatUint(item.SizeBytes, 10), true
	case "remote_id":
		return item.RemoteID, true
	case "progress":
		if item.GetState() != domain.StateHydrating {
			return "", false
		}
		return strconv.Itoa(item.HydrationProgress), true
	case "pin":
		if item.IsPinned() {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

// GetXAttr implements spec.md §4.G getxattr for the user.lnxdrive.* set.
func (f *Filesystem) GetXAttr(_ <-chan struct{}, header *fuse.InHeader, name string, buf []byte) (uint32, fuse.Status) {
	if !strings.HasPrefix(name, xattrPrefix) {
		return 0, fuse.Status(syscall.ENODATA)
	}
	e := f.inodes.Get(header.NodeId)
	if e == nil {
		return 0, fuse.ENOENT
	}
	item, err := f.repo.GetItem(e.ItemID)
	if err != nil {
		return 0, errnoFor(err)
	}
	value, ok := f.xattrValue(item, strings.TrimPrefix(name, xattrPrefix))
	if !ok {
		return 0, fuse.Status(syscall.ENODATA)
	}
	if len(buf) == 0 {
		return uint32(len(value)), fuse.OK
	}
	if len(buf) < len(value) {
		return 0, fuse.Status(syscall.ERANGE)
	}
	copy(buf, value)
	return uint32(len(value)), fuse.OK
}

// ListXAttr implements spec.md §4.G listxattr.
func (f *Filesystem) ListXAttr(_ <-chan struct{}, header *fuse.InHeader, buf []byte) (uint32, fuse.Status) {
	e := f.inodes.Get(header.NodeId)
	if e == nil {
		return 0, fuse.ENOENT
	}
	item, err := f.repo.GetItem(e.ItemID)
	if err != nil {
		return 0, errnoFor(err)
	}

	var names []string
	for _, n := range xattrNames {
		if _, ok := f.xattrValue(item, n); ok {
			names = append(names, xattrPrefix+n)
		}
	}

	var size uint32
	for _, n := range names {
		size += uint32(len(n) + 1)
	}
	if len(buf) == 0 {
		return size, fuse.OK
	}
	if len(buf) < int(size) {
		return 0, fuse.Status(syscall.ERANGE)
	}
	var offset int
	for _, n := range names {
		copy(buf[offset:], n)
		offset += len(n)
		buf[offset] = 0
		offset++
	}
	return size, fuse.OK
}

// SetXAttr implements spec.md §4.G setxattr: only user.lnxdrive.pin is
// accepted, toggling the item's membership in the pinned set that exempts
// it from DehydrationManager's sweep.
func (f *Filesystem) SetXAttr(_ <-chan struct{}, in *fuse.SetXAttrIn, name string, value []byte) fuse.Status {
	if name != xattrPrefix+"pin" {
		return fuse.EINVAL
	}
	e := f.inodes.Get(in.NodeId)
	if e == nil {
		return fuse.ENOENT
	}
	item, err := f.repo.GetItem(e.ItemID)
	if err != nil {
		return errnoFor(err)
	}
	pinned := strings.TrimSpace(string(value)) != "0"
	item.SetPinned(pinned)
	if err := f.ws.Send(func() error { return f.repo.SaveItem(item) }).Wait(); err != nil {
		return errnoFor(err)
	}
	return fuse.OK
}
