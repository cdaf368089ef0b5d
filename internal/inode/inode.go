// Package inode implements component A of spec.md §4: the in-memory,
// bidirectional inode<->item-id table the FUSE layer consults on every
// lookup/getattr/readdir call. It is grounded in the teacher's
// internal/fs/inode.go, which keeps an Inode's identity (node ID) separate
// from its durable metadata and shards locking so concurrent FUSE callback
// threads don't serialize on a single mutex.
package inode

import (
	"sync"
	"time"

	"github.com/lnxdrive/lnxdrive/internal/domain"
)

// Kind distinguishes files from directories for InodeEntry.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// RootIno is the fixed inode number of the sync root, per spec.md §3.
const RootIno uint64 = 1

// Entry is the in-memory row InodeTable hands to the FUSE layer. It mirrors
// a SyncItem's identity-relevant fields so readdir/getattr don't need to
// round-trip through the repository on every call; StateRepository remains
// the source of truth. Entry fields are copied from the item when the entry
// is inserted and change only when the FUSE layer re-inserts the entry;
// WriteSerializer does not touch the table.
type Entry struct {
	Ino       uint64
	ItemID    string
	RemoteID  string
	ParentIno uint64
	Name      string
	Kind      Kind
	Size      uint64
	Perm      uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Nlink     uint32
	State     domain.ItemState
}

func (e *Entry) IsDir() bool { return e.Kind == KindDirectory }

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	byIno   map[uint64]*Entry
	byItem  map[string]uint64
}

// Table is the two-map structure spec.md §4.A describes: ino->InodeEntry
// and item_id->ino, sharded by inode number so inserts/removes on unrelated
// inodes don't contend. Lookups (children, lookup) scan every shard, but
// the table is small enough in practice that linear scan per
// spec.md is acceptable; it is the locking granularity that matters for
// concurrent FUSE callers.
type Table struct {
	shards [shardCount]*shard
}

// New constructs an empty Table with the root inode pre-registered.
func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{
			byIno:  make(map[uint64]*Entry),
			byItem: make(map[string]uint64),
		}
	}
	t.Insert(&Entry{Ino: RootIno, ParentIno: RootIno, Name: "/", Kind: KindDirectory, Perm: 0755, Nlink: 2})
	return t
}

func (t *Table) shardFor(ino uint64) *shard {
	return t.shards[ino%shardCount]
}

// Insert adds or replaces an entry, wiring both directions atomically
// within the owning shard.
func (t *Table) Insert(e *Entry) {
	s := t.shardFor(e.Ino)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIno[e.Ino] = e
	if e.ItemID != "" {
		s.byItem[e.ItemID] = e.Ino
	}
}

// Get returns the entry for ino, or nil if absent.
func (t *Table) Get(ino uint64) *Entry {
	s := t.shardFor(ino)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byIno[ino]
}

// GetByItemID resolves an item ID to its entry across all shards (the
// item->ino map is sharded the same way as the ino it points to, so this
// scans every shard; the table is bounded by the working set of open
// files/directories, not the whole drive, so this stays cheap).
func (t *Table) GetByItemID(itemID string) *Entry {
	for _, s := range t.shards {
		s.mu.RLock()
		if ino, ok := s.byItem[itemID]; ok {
			e := s.byIno[ino]
			s.mu.RUnlock()
			return e
		}
		s.mu.RUnlock()
	}
	return nil
}

// Remove deletes both directions for ino atomically. Returns false if ino
// was not present.
func (t *Table) Remove(ino uint64) bool {
	s := t.shardFor(ino)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byIno[ino]
	if !ok {
		return false
	}
	delete(s.byIno, ino)
	if e.ItemID != "" {
		delete(s.byItem, e.ItemID)
	}
	return true
}

// Children returns every entry whose ParentIno is parent, via a linear scan
// across shards as spec.md §4.A specifies.
func (t *Table) Children(parent uint64) []*Entry {
	var out []*Entry
	for _, s := range t.shards {
		s.mu.RLock()
		for _, e := range s.byIno {
			if e.ParentIno == parent && e.Ino != parent {
				out = append(out, e)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Lookup finds the child of parent named name, or nil.
func (t *Table) Lookup(parent uint64, name string) *Entry {
	for _, e := range t.Children(parent) {
		if e.Name == name {
			return e
		}
	}
	return nil
}
