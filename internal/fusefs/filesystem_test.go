package fusefs

import (
	"path/filepath"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnxdrive/lnxdrive/internal/cloudapi"
	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/hydration"
	"github.com/lnxdrive/lnxdrive/internal/inode"
	"github.com/lnxdrive/lnxdrive/internal/state"
	"github.com/lnxdrive/lnxdrive/internal/writeserializer"
)

func newTestFilesystem(t *testing.T) (*Filesystem, *state.BoltRepository, *cloudapi.MockProvider) {
	t.Helper()
	repo, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cache, err := contentcache.New(t.TempDir())
	require.NoError(t, err)

	provider := cloudapi.NewMockProvider()
	ws := writeserializer.New()
	t.Cleanup(ws.Stop)

	mgr := hydration.New(repo, cache, provider, ws, 4)

	account := &domain.Account{ID: "acct-1", SyncRoot: t.TempDir()}
	require.NoError(t, repo.SaveAccount(account))

	return New(repo, cache, mgr, ws, account), repo, provider
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs, repo, _ := newTestFilesystem(t)

	var createOut fuse.CreateOut
	status := fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "hello.txt", &createOut)
	require.Equal(t, fuse.OK, status)
	assert.NotZero(t, createOut.Fh)

	payload := []byte("hello world")
	n, status := fs.Write(nil, &fuse.WriteIn{InHeader: fuse.InHeader{NodeId: createOut.NodeId}, Fh: createOut.Fh, Size: uint32(len(payload))}, payload)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, uint32(len(payload)), n)

	buf := make([]byte, len(payload))
	res, status := fs.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: createOut.NodeId}, Fh: createOut.Fh}, buf)
	require.Equal(t, fuse.OK, status)
	data, status2 := res.Bytes(buf)
	require.Equal(t, fuse.OK, status2)
	assert.Equal(t, payload, data)

	item, err := repo.GetItem(fs.inodes.Get(createOut.NodeId).ItemID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateModified, item.GetState())
	assert.Equal(t, uint64(len(payload)), item.SizeBytes)

	fs.Release(&fuse.ReleaseIn{InHeader: fuse.InHeader{NodeId: createOut.NodeId}, Fh: createOut.Fh})
	assert.False(t, fs.IsOpen(item.ID))
}

func TestCreateDuplicateNameReturnsEEXIST(t *testing.T) {
	fs, _, _ := newTestFilesystem(t)

	var out1 fuse.CreateOut
	status := fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "dup.txt", &out1)
	require.Equal(t, fuse.OK, status)

	var out2 fuse.CreateOut
	status = fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "dup.txt", &out2)
	assert.Equal(t, fuse.Status(syscall.EEXIST), status)
}

func TestLookupMissReturnsENOENT(t *testing.T) {
	fs, _, _ := newTestFilesystem(t)

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: inode.RootIno}, "nope.txt", &out)
	assert.Equal(t, fuse.ENOENT, status)
}

func TestLookupFallsBackToRepositoryOnColdCache(t *testing.T) {
	fs, repo, _ := newTestFilesystem(t)

	item := domain.NewSyncItem("acct-1", filepath.Join(fs.account.SyncRoot, "cold.txt"), "/cold.txt", false)
	item.RemoteID = "remote-cold"
	ino, err := repo.GetNextInode()
	require.NoError(t, err)
	item.Inode = ino
	require.NoError(t, item.Transition(domain.TransitionAccess))
	require.NoError(t, item.Transition(domain.TransitionComplete))
	require.NoError(t, repo.SaveItem(item))

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: inode.RootIno}, "cold.txt", &out)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, item.Inode, out.NodeId)

	// Second lookup hits the now-warm inode table without a repo round trip.
	status = fs.Lookup(nil, &fuse.InHeader{NodeId: inode.RootIno}, "cold.txt", &out)
	assert.Equal(t, fuse.OK, status)
}

func TestMkdirIsLocalOnly(t *testing.T) {
	fs, repo, provider := newTestFilesystem(t)

	var out fuse.EntryOut
	status := fs.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "sub", &out)
	require.Equal(t, fuse.OK, status)

	e := fs.inodes.Get(out.NodeId)
	require.NotNil(t, e)
	assert.Equal(t, inode.KindDirectory, e.Kind)

	item, err := repo.GetItem(e.ItemID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateHydrated, item.GetState())
	assert.Empty(t, item.RemoteID)
	assert.Zero(t, provider.CountCalls("UploadFile"))
}

func TestRmdirNonEmptyReturnsENOTEMPTY(t *testing.T) {
	fs, _, _ := newTestFilesystem(t)

	var dirOut fuse.EntryOut
	require.Equal(t, fuse.OK, fs.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "parent", &dirOut))

	var fileOut fuse.CreateOut
	require.Equal(t, fuse.OK, fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: dirOut.NodeId}}, "child.txt", &fileOut))

	status := fs.Rmdir(nil, &fuse.InHeader{NodeId: inode.RootIno}, "parent")
	assert.Equal(t, fuse.Status(syscall.ENOTEMPTY), status)
}

func TestUnlinkRemovesEntryAndTombstonesItem(t *testing.T) {
	fs, repo, _ := newTestFilesystem(t)

	var out fuse.CreateOut
	require.Equal(t, fuse.OK, fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "gone.txt", &out))
	itemID := fs.inodes.Get(out.NodeId).ItemID

	status := fs.Unlink(nil, &fuse.InHeader{NodeId: inode.RootIno}, "gone.txt")
	require.Equal(t, fuse.OK, status)

	assert.Nil(t, fs.inodes.Lookup(inode.RootIno, "gone.txt"))
	item, err := repo.GetItem(itemID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeleted, item.GetState())
}

func TestUnlinkOnDirectoryReturnsEISDIR(t *testing.T) {
	fs, _, _ := newTestFilesystem(t)

	var out fuse.EntryOut
	require.Equal(t, fuse.OK, fs.Mkdir(nil, &fuse.MkdirIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "adir", &out))

	status := fs.Unlink(nil, &fuse.InHeader{NodeId: inode.RootIno}, "adir")
	assert.Equal(t, fuse.Status(syscall.EISDIR), status)
}

func TestRenameClearsRemoteIDForHydratedItem(t *testing.T) {
	fs, repo, _ := newTestFilesystem(t)

	item := domain.NewSyncItem("acct-1", filepath.Join(fs.account.SyncRoot, "old.txt"), "/old.txt", false)
	item.RemoteID = "remote-old"
	ino, err := repo.GetNextInode()
	require.NoError(t, err)
	item.Inode = ino
	require.NoError(t, item.Transition(domain.TransitionAccess))
	require.NoError(t, item.Transition(domain.TransitionComplete))
	require.NoError(t, repo.SaveItem(item))
	fs.inodes.Insert(entryFromItem(item, inode.RootIno, "old.txt"))

	var orphaned string
	fs.SetRenameOrphanHandler(func(remoteID string) error {
		orphaned = remoteID
		return nil
	})

	status := fs.Rename(nil, &fuse.RenameIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}, Newdir: inode.RootIno}, "old.txt", "new.txt")
	require.Equal(t, fuse.OK, status)

	assert.Nil(t, fs.inodes.Lookup(inode.RootIno, "old.txt"))
	renamed := fs.inodes.Lookup(inode.RootIno, "new.txt")
	require.NotNil(t, renamed)

	got, err := repo.GetItem(item.ID)
	require.NoError(t, err)
	assert.Empty(t, got.RemoteID)
	assert.Equal(t, domain.StateModified, got.GetState())
	assert.Equal(t, "/new.txt", got.RemotePath)
	assert.Equal(t, "remote-old", orphaned)
}

func TestRenameWithExchangeFlagReturnsENOSYS(t *testing.T) {
	fs, repo, _ := newTestFilesystem(t)

	src := domain.NewSyncItem("acct-1", filepath.Join(fs.account.SyncRoot, "old.txt"), "/old.txt", false)
	srcIno, err := repo.GetNextInode()
	require.NoError(t, err)
	src.Inode = srcIno
	require.NoError(t, src.Transition(domain.TransitionAccess))
	require.NoError(t, src.Transition(domain.TransitionComplete))
	require.NoError(t, repo.SaveItem(src))
	fs.inodes.Insert(entryFromItem(src, inode.RootIno, "old.txt"))

	dst := domain.NewSyncItem("acct-1", filepath.Join(fs.account.SyncRoot, "new.txt"), "/new.txt", false)
	dstIno, err := repo.GetNextInode()
	require.NoError(t, err)
	dst.Inode = dstIno
	require.NoError(t, dst.Transition(domain.TransitionAccess))
	require.NoError(t, dst.Transition(domain.TransitionComplete))
	require.NoError(t, repo.SaveItem(dst))
	fs.inodes.Insert(entryFromItem(dst, inode.RootIno, "new.txt"))

	status := fs.Rename(nil, &fuse.RenameIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}, Newdir: inode.RootIno, Flags: renameExchange}, "old.txt", "new.txt")
	assert.Equal(t, fuse.Status(syscall.ENOSYS), status)

	// neither entry moved.
	assert.NotNil(t, fs.inodes.Lookup(inode.RootIno, "old.txt"))
	assert.NotNil(t, fs.inodes.Lookup(inode.RootIno, "new.txt"))
}

func TestGetAttrAndStatFs(t *testing.T) {
	fs, _, _ := newTestFilesystem(t)
	fs.account.QuotaTotal = 1000 * 4096
	fs.account.QuotaUsed = 400 * 4096

	var createOut fuse.CreateOut
	require.Equal(t, fuse.OK, fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "a.txt", &createOut))

	var attrOut fuse.AttrOut
	status := fs.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: createOut.NodeId}}, &attrOut)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, createOut.NodeId, attrOut.Ino)

	var statOut fuse.StatfsOut
	status = fs.StatFs(nil, &fuse.InHeader{}, &statOut)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, uint64(600), statOut.Bfree)
}

func TestSetAttrTruncateShrinksContent(t *testing.T) {
	fs, repo, _ := newTestFilesystem(t)

	var createOut fuse.CreateOut
	require.Equal(t, fuse.OK, fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "shrink.txt", &createOut))
	payload := []byte("0123456789")
	_, status := fs.Write(nil, &fuse.WriteIn{InHeader: fuse.InHeader{NodeId: createOut.NodeId}, Fh: createOut.Fh}, payload)
	require.Equal(t, fuse.OK, status)

	in := &fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{Valid: fuse.FATTR_SIZE, Size: 4}}
	in.NodeId = createOut.NodeId
	var attrOut fuse.AttrOut
	status = fs.SetAttr(nil, in, &attrOut)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, uint64(4), attrOut.Size)

	item, err := repo.GetItem(fs.inodes.Get(createOut.NodeId).ItemID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), item.SizeBytes)
}

func TestXAttrGetListAndSetPin(t *testing.T) {
	fs, repo, _ := newTestFilesystem(t)

	var createOut fuse.CreateOut
	require.Equal(t, fuse.OK, fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "pin.txt", &createOut))

	buf := make([]byte, 128)
	n, status := fs.GetXAttr(nil, &fuse.InHeader{NodeId: createOut.NodeId}, "user.lnxdrive.state", buf)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "Modified", string(buf[:n]))

	_, status = fs.GetXAttr(nil, &fuse.InHeader{NodeId: createOut.NodeId}, "user.lnxdrive.nope", buf)
	assert.Equal(t, fuse.Status(syscall.ENODATA), status)

	n, status = fs.ListXAttr(nil, &fuse.InHeader{NodeId: createOut.NodeId}, buf)
	require.Equal(t, fuse.OK, status)
	assert.Contains(t, string(buf[:n]), "user.lnxdrive.pin")

	setIn := &fuse.SetXAttrIn{InHeader: fuse.InHeader{NodeId: createOut.NodeId}}
	status = fs.SetXAttr(nil, setIn, "user.lnxdrive.pin", []byte("1"))
	require.Equal(t, fuse.OK, status)

	item, err := repo.GetItem(fs.inodes.Get(createOut.NodeId).ItemID)
	require.NoError(t, err)
	assert.True(t, item.IsPinned())

	n, status = fs.GetXAttr(nil, &fuse.InHeader{NodeId: createOut.NodeId}, "user.lnxdrive.pin", buf)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "1", string(buf[:n]))

	status = fs.SetXAttr(nil, setIn, "user.lnxdrive.size", []byte("5"))
	assert.Equal(t, fuse.EINVAL, status)
}

func TestReadDirListsCreatedChildren(t *testing.T) {
	fs, _, _ := newTestFilesystem(t)

	var a, b fuse.CreateOut
	require.Equal(t, fuse.OK, fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "a.txt", &a))
	require.Equal(t, fuse.OK, fs.Create(nil, &fuse.CreateIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, "b.txt", &b))

	require.Equal(t, fuse.OK, fs.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}, &fuse.OpenOut{}))

	names := map[string]bool{}
	out := &fuse.DirEntryList{}
	status := fs.ReadDir(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}, Size: 4096}, out)
	require.Equal(t, fuse.OK, status)
	for _, e := range fs.readDirCommon(&fuse.ReadIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}}) {
		names[e.Name] = true
	}
	assert.True(t, names["a.txt"])
	assert.True(t, names["b.txt"])

	fs.ReleaseDir(&fuse.ReleaseIn{InHeader: fuse.InHeader{NodeId: inode.RootIno}})
}
