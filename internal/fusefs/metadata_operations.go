package fusefs

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lnxdrive/lnxdrive/internal/domain"
)

// GetAttr implements spec.md §4.G getattr.
func (f *Filesystem) GetAttr(_ <-chan struct{}, in *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	e := f.inodes.Get(in.NodeId)
	if e == nil {
		return fuse.ENOENT
	}
	out.Attr = f.attrFor(e)
	out.SetTimeout(timeout)
	return fuse.OK
}

// SetAttr handles truncate (the only mutation this filesystem exposes
// through setattr; chmod/chown/utimens are accepted and ignored, changing
// neither the repository nor the in-memory inode entry, matching the
// teacher's single-user FUSE stance in internal/fs/metadata_operations.go).
func (f *Filesystem) SetAttr(_ <-chan struct{}, in *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	e := f.inodes.Get(in.NodeId)
	if e == nil {
		return fuse.ENOENT
	}

	if size, valid := in.GetSize(); valid {
		item, err := f.repo.GetItem(e.ItemID)
		if err != nil {
			return errnoFor(err)
		}
		if item.RemoteID == "" {
			return fuse.EIO
		}
		data, err := f.cache.Read(item.RemoteID, 0, int(item.SizeBytes))
		if err != nil {
			return errnoFor(err)
		}
		switch {
		case size < uint64(len(data)):
			data = data[:size]
		case size > uint64(len(data)):
			data = append(data, make([]byte, size-uint64(len(data)))...)
		}
		if err := f.cache.Store(item.RemoteID, data); err != nil {
			return errnoFor(err)
		}
		item.SizeBytes = size
		if item.GetState() == domain.StateHydrated {
			if err := item.Transition(domain.TransitionModify); err != nil {
				return errnoFor(err)
			}
		}
		item.LastModifiedLocal = time.Now()
		if err := f.ws.Send(func() error { return f.repo.SaveItem(item) }).Wait(); err != nil {
			return errnoFor(err)
		}
		e.Size = size
		e.State = item.GetState()
		f.inodes.Insert(e)
	}

	out.Attr = f.attrFor(e)
	out.SetTimeout(timeout)
	return fuse.OK
}

// StatFs implements spec.md §4.G statfs: total/used from the account
// quota, free = total - used.
func (f *Filesystem) StatFs(_ <-chan struct{}, _ *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	const blockSize uint64 = 4096
	total := f.account.QuotaTotal
	used := f.account.QuotaUsed
	free := uint64(0)
	if total > used {
		free = total - used
	}
	out.Bsize = uint32(blockSize)
	out.Blocks = total / blockSize
	out.Bfree = free / blockSize
	out.Bavail = free / blockSize
	out.NameLen = maxNameLength
	return fuse.OK
}
