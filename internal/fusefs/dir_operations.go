package fusefs

import (
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/inode"
	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
	"github.com/lnxdrive/lnxdrive/internal/state"
)

// Lookup implements spec.md §4.G lookup: InodeTable first, falling back to
// a repository query by (parent remote path + name) on a cold cache.
func (f *Filesystem) Lookup(_ <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	if nameTooLong(name) {
		return fuse.Status(syscall.ENAMETOOLONG)
	}
	if isNameRestricted(name) {
		return fuse.EINVAL
	}

	if e := f.inodes.Lookup(header.NodeId, name); e != nil {
		out.NodeId = e.Ino
		out.Attr = f.attrFor(e)
		out.SetAttrTimeout(timeout)
		out.SetEntryTimeout(timeout)
		return fuse.OK
	}

	parentEntry := f.inodes.Get(header.NodeId)
	if parentEntry == nil {
		return fuse.ENOENT
	}

	localPath := filepath.Join(f.localPath(parentEntry), name)
	item, err := f.repo.GetItemByLocalPath(localPath)
	if err != nil {
		if lnxerrors.IsNotFound(err) {
			return fuse.ENOENT
		}
		return errnoFor(err)
	}
	if item.GetState() == domain.StateDeleted {
		return fuse.ENOENT
	}

	e := entryFromItem(item, header.NodeId, name)
	f.inodes.Insert(e)
	out.NodeId = e.Ino
	out.Attr = f.attrFor(e)
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	return fuse.OK
}

// Mkdir implements spec.md §4.G's directory-creation path: a SyncItem
// marked IsDirectory, resting in Hydrated (directories carry no content,
// so the Hydrating/content-cache leg of the state machine is skipped).
// The remote folder itself is created lazily: OneDrive creates missing
// intermediate path segments on the first file uploaded beneath it, so no
// CloudProvider call is made here (the port contract, spec.md §4.J, has no
// create_folder operation).
func (f *Filesystem) Mkdir(_ <-chan struct{}, in *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
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

	item := domain.NewSyncItem(f.account.ID, localPath, remotePath, true)
	ino, err := f.repo.GetNextInode()
	if err != nil {
		return errnoFor(err)
	}
	item.Inode = ino
	if err := item.Transition(domain.TransitionAccess); err != nil {
		return errnoFor(err)
	}
	if err := item.Transition(domain.TransitionComplete); err != nil {
		return errnoFor(err)
	}
	if err := f.ws.Send(func() error { return f.repo.SaveItem(item) }).Wait(); err != nil {
		return errnoFor(err)
	}

	e := entryFromItem(item, in.NodeId, name)
	f.inodes.Insert(e)
	out.NodeId = e.Ino
	out.Attr = f.attrFor(e)
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	return fuse.OK
}

// Rmdir implements spec.md §4.G rmdir: ENOTEMPTY on a non-empty directory,
// otherwise the same tombstone path as Unlink.
func (f *Filesystem) Rmdir(_ <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	e := f.inodes.Lookup(header.NodeId, name)
	if e == nil {
		return fuse.ENOENT
	}
	if e.Kind != inode.KindDirectory {
		return fuse.Status(syscall.ENOTDIR)
	}
	if len(f.inodes.Children(e.Ino)) > 0 {
		return fuse.Status(syscall.ENOTEMPTY)
	}
	children, err := f.repo.QueryItems(state.ItemFilter{AccountID: f.account.ID})
	if err == nil {
		prefix := f.remotePath(e) + "/"
		for _, c := range children {
			if c.GetState() != domain.StateDeleted && strings.HasPrefix(c.RemotePath, prefix) {
				return fuse.Status(syscall.ENOTEMPTY)
			}
		}
	}
	return f.deleteEntry(e)
}

// OpenDir allocates the directory listing snapshot consulted by
// ReadDir/ReadDirPlus, grounded on the teacher's OpenDir
// (internal/fs/dir_operations.go) storing entries per node ID under a
// dedicated mutex.
func (f *Filesystem) OpenDir(_ <-chan struct{}, in *fuse.OpenIn, _ *fuse.OpenOut) fuse.Status {
	parentEntry := f.inodes.Get(in.NodeId)
	if parentEntry == nil {
		return fuse.ENOENT
	}
	f.opendirsM.Lock()
	f.opendirs[in.NodeId] = f.inodes.Children(in.NodeId)
	f.opendirsM.Unlock()
	return fuse.OK
}

func (f *Filesystem) ReleaseDir(in *fuse.ReleaseIn) {
	f.opendirsM.Lock()
	delete(f.opendirs, in.NodeId)
	f.opendirsM.Unlock()
}

func (f *Filesystem) readDirCommon(in *fuse.ReadIn) []*inode.Entry {
	f.opendirsM.RLock()
	entries, ok := f.opendirs[in.NodeId]
	f.opendirsM.RUnlock()
	if ok {
		return entries
	}
	// readdir arrived without a preceding opendir (possible with some
	// kernel versions); populate lazily.
	entries = f.inodes.Children(in.NodeId)
	f.opendirsM.Lock()
	f.opendirs[in.NodeId] = entries
	f.opendirsM.Unlock()
	return entries
}

// ReadDirPlus implements spec.md §4.G readdir, emitting (name, kind) pairs
// with full attributes starting at in.Offset.
func (f *Filesystem) ReadDirPlus(_ <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries := f.readDirCommon(in)
	for i := in.Offset; i < uint64(len(entries)); i++ {
		e := entries[i]
		entryOut := out.AddDirLookupEntry(fuse.DirEntry{
			Mode: f.attrFor(e).Mode,
			Name: e.Name,
			Ino:  e.Ino,
			Off:  i + 1,
		})
		if entryOut == nil {
			break
		}
		entryOut.NodeId = e.Ino
		entryOut.Attr = f.attrFor(e)
		entryOut.SetAttrTimeout(timeout)
		entryOut.SetEntryTimeout(timeout)
	}
	return fuse.OK
}

func (f *Filesystem) ReadDir(_ <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries := f.readDirCommon(in)
	for i := in.Offset; i < uint64(len(entries)); i++ {
		e := entries[i]
		if !out.AddDirEntry(fuse.DirEntry{Mode: f.attrFor(e).Mode, Name: e.Name, Ino: e.Ino, Off: i + 1}) {
			break
		}
	}
	return fuse.OK
}

// deleteEntry tombstones item, drops its cache blob, and removes the
// inode row, shared between Unlink and Rmdir.
func (f *Filesystem) deleteEntry(e *inode.Entry) fuse.Status {
	item, err := f.repo.GetItem(e.ItemID)
	if err != nil {
		return errnoFor(err)
	}
	if err := item.Transition(domain.TransitionDelete); err != nil {
		return errnoFor(err)
	}
	if item.RemoteID != "" {
		_ = f.cache.Remove(item.RemoteID)
	}
	if err := f.ws.Send(func() error { return f.repo.SaveItem(item) }).Wait(); err != nil {
		return errnoFor(err)
	}
	_ = f.ws.Send(func() error {
		return f.repo.AppendAudit(&domain.AuditEntry{
			Timestamp: time.Now(), ItemID: item.ID, Action: domain.ActionFileDelete, Result: domain.Success(),
		})
	}).Wait()
	f.inodes.Remove(e.Ino)
	return fuse.OK
}
