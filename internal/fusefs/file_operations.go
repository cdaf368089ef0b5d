package fusefs

import (
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/hydration"
	"github.com/lnxdrive/lnxdrive/internal/inode"
)

// Open implements spec.md §4.G open: allocate a monotonic file handle; if
// the item is still Online and the request wants to read, kick off
// hydration and block this call on the progress receiver (the kernel
// reader legitimately blocks on missing content, per spec.md §5).
func (f *Filesystem) Open(_ <-chan struct{}, in *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	e := f.inodes.Get(in.NodeId)
	if e == nil {
		return fuse.ENOENT
	}
	item, err := f.repo.GetItem(e.ItemID)
	if err != nil {
		return errnoFor(err)
	}

	wantsRead := in.Flags&syscall.O_WRONLY == 0
	if item.GetState() == domain.StateOnline && wantsRead {
		priority := hydration.Interactive
		ch := f.hydrator.Hydrate(item.ID, priority)
		for update := range ch {
			if update.Err != nil {
				return errnoFor(update.Err)
			}
		}
	}

	fh := f.allocHandle(e.ItemID)
	f.trackOpen(e.ItemID)
	out.Fh = fh
	out.OpenFlags |= fuse.FOPEN_KEEP_CACHE
	return fuse.OK
}

// Release drops the file handle opened by Open.
func (f *Filesystem) Release(in *fuse.ReleaseIn) {
	if id, ok := f.itemIDForHandle(in.Fh); ok {
		f.trackClose(id)
	}
	f.releaseHandle(in.Fh)
}

// Read implements spec.md §4.G read: item must be Hydrated or Modified;
// ContentCache.Read at offset; last_accessed is updated through
// WriteSerializer.
func (f *Filesystem) Read(_ <-chan struct{}, in *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	itemID, ok := f.itemIDForHandle(in.Fh)
	if !ok {
		return nil, fuse.EBADF
	}
	item, err := f.repo.GetItem(itemID)
	if err != nil {
		return nil, errnoFor(err)
	}
	switch item.GetState() {
	case domain.StateHydrated, domain.StateModified:
	default:
		return nil, fuse.EIO
	}

	data, err := f.cache.Read(item.RemoteID, int64(in.Offset), len(buf))
	if err != nil {
		return nil, errnoFor(err)
	}
	item.Touch(time.Now())
	_ = f.ws.Send(func() error { return f.repo.SaveItem(item) }).Wait()
	return fuse.ReadResultData(data), fuse.OK
}

// Write implements spec.md §4.G write: ContentCache.WriteAt, transition
// Hydrated->Modified, invalidate local_hash (handled inside
// SyncItem.Transition), update size through WriteSerializer.
func (f *Filesystem) Write(_ <-chan struct{}, in *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	itemID, ok := f.itemIDForHandle(in.Fh)
	if !ok {
		return 0, fuse.EBADF
	}
	item, err := f.repo.GetItem(itemID)
	if err != nil {
		return 0, errnoFor(err)
	}

	placeholderID := item.RemoteID
	if placeholderID == "" {
		return 0, fuse.EIO
	}
	if err := f.cache.WriteAt(placeholderID, int64(in.Offset), data); err != nil {
		return 0, errnoFor(err)
	}

	if item.GetState() == domain.StateHydrated {
		if err := item.Transition(domain.TransitionModify); err != nil {
			return 0, errnoFor(err)
		}
	}
	end := in.Offset + uint64(len(data))
	if end > item.SizeBytes {
		item.SizeBytes = end
	}
	item.LastModifiedLocal = time.Now()
	if err := f.ws.Send(func() error { return f.repo.SaveItem(item) }).Wait(); err != nil {
		return 0, errnoFor(err)
	}
	return uint32(len(data)), fuse.OK
}

// Create implements spec.md §4.G create: allocate an inode, create a
// SyncItem at parent.remote_path/name in state Modified with an empty
// content blob, return a handle. A RemoteID is not yet known, so a
// local placeholder ("local-" followed by the item's opaque ID) stands in
// for it until the
// sync engine's push phase uploads the content and assigns the real one,
// mirroring the teacher's localID()/isLocalID() convention in
// internal/fs/inode.go.
func (f *Filesystem) Create(_ <-chan struct{}, in *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	if nameTooLong(name) {
		return fuse.Status(syscall.ENAMETOOLONG)
	}
	if isNameRestricted(name) {
		return fuse.EINVAL
	}
	parentEntry := f.inodes.Get(in.NodeId)
	if parentEntry == nil {
		return fuse.EBADF
	}
	if f.inodes.Lookup(in.NodeId, name) != nil {
		return fuse.Status(syscall.EEXIST)
	}

	remotePath := filepath.Join(f.remotePath(parentEntry), name)
	localPath := filepath.Join(f.account.SyncRoot, remotePath)
	if existing, err := f.repo.GetItemByLocalPath(localPath); err == nil && existing.GetState() != domain.StateDeleted {
		return fuse.Status(syscall.EEXIST)
	}

	item := domain.NewSyncItem(f.account.ID, localPath, remotePath, false)
	ino, err := f.repo.GetNextInode()
	if err != nil {
		return errnoFor(err)
	}
	item.Inode = ino
	item.RemoteID = "local-" + item.ID

	if err := item.Transition(domain.TransitionAccess); err != nil {
		return errnoFor(err)
	}
	if err := item.Transition(domain.TransitionComplete); err != nil {
		return errnoFor(err)
	}
	if err := item.Transition(domain.TransitionModify); err != nil {
		return errnoFor(err)
	}
	if err := f.cache.Store(item.RemoteID, nil); err != nil {
		return errnoFor(err)
	}
	if err := f.ws.Send(func() error { return f.repo.SaveItem(item) }).Wait(); err != nil {
		return errnoFor(err)
	}

	e := entryFromItem(item, in.NodeId, name)
	f.inodes.Insert(e)

	fh := f.allocHandle(item.ID)
	f.trackOpen(item.ID)
	out.Fh = fh
	out.NodeId = e.Ino
	out.Attr = f.attrFor(e)
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	out.OpenFlags |= fuse.FOPEN_KEEP_CACHE
	return fuse.OK
}

// Unlink implements spec.md §4.G unlink: mark Deleted, drop the cache
// blob, remove the inode row (the repository row itself survives, pending
// the sync engine's push-phase delete_item call).
func (f *Filesystem) Unlink(_ <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	e := f.inodes.Lookup(header.NodeId, name)
	if e == nil {
		return fuse.ENOENT
	}
	if e.Kind == inode.KindDirectory {
		return fuse.Status(syscall.EISDIR)
	}
	return f.deleteEntry(e)
}

// renameExchange is RENAME_EXCHANGE from linux renameat2(2); go-fuse
// passes it through RenameIn.Flags unchanged.
const renameExchange = 0x2

// Rename implements spec.md §4.G rename. The CloudProvider port (spec.md
// §4.J) has no move/rename call, so a rename of an already-synced item
// deletes the old remote object and clears RemoteID, forcing the sync
// engine to re-upload fresh content under the new path on the next push
// phase — the same "upload wins" shape OneDrive's path-addressed API
// pushes callers toward.
func (f *Filesystem) Rename(_ <-chan struct{}, in *fuse.RenameIn, name string, newName string) fuse.Status {
	if nameTooLong(newName) {
		return fuse.Status(syscall.ENAMETOOLONG)
	}
	if isNameRestricted(newName) {
		return fuse.EINVAL
	}
	srcEntry := f.inodes.Lookup(in.NodeId, name)
	if srcEntry == nil {
		return fuse.ENOENT
	}
	dstParent := f.inodes.Get(in.Newdir)
	if dstParent == nil {
		return fuse.EBADF
	}
	if existing := f.inodes.Lookup(in.Newdir, newName); existing != nil && existing.Ino != srcEntry.Ino {
		if in.Flags&renameExchange != 0 {
			// Atomic swap-in-place is not implemented; reject rather than
			// silently performing a one-way rename-over in its place.
			return fuse.Status(syscall.ENOSYS)
		}
		return fuse.Status(syscall.EEXIST)
	}

	item, err := f.repo.GetItem(srcEntry.ItemID)
	if err != nil {
		return errnoFor(err)
	}

	newRemotePath := filepath.Join(f.remotePath(dstParent), newName)
	newLocalPath := filepath.Join(f.account.SyncRoot, newRemotePath)

	hadRemote := item.RemoteID != "" && !strings.HasPrefix(item.RemoteID, "local-")
	oldRemoteID := item.RemoteID

	item.LocalPath = newLocalPath
	item.RemotePath = newRemotePath

	switch item.GetState() {
	case domain.StateHydrated:
		if hadRemote {
			item.RemoteID = ""
		}
		if err := item.Transition(domain.TransitionModify); err != nil {
			return errnoFor(err)
		}
	case domain.StateModified:
		// already pending upload; path change rides along.
	}

	if err := f.ws.Send(func() error { return f.repo.SaveItem(item) }).Wait(); err != nil {
		return errnoFor(err)
	}

	if hadRemote {
		// best-effort: the old remote object is orphaned otherwise.
		_ = f.deleteRemoteBestEffort(oldRemoteID)
	}

	f.inodes.Remove(srcEntry.Ino)
	srcEntry.ParentIno = in.Newdir
	srcEntry.Name = newName
	srcEntry.State = item.GetState()
	f.inodes.Insert(srcEntry)
	return fuse.OK
}

// deleteRemoteBestEffort passes remoteID to the handler installed with
// SetRenameOrphanHandler (the daemon entry point installs one that calls
// cloudapi.Provider.DeleteItem); with no handler installed it does
// nothing.
func (f *Filesystem) deleteRemoteBestEffort(remoteID string) error {
	if f.onRenameOrphan == nil {
		return nil
	}
	return f.onRenameOrphan(remoteID)
}
