package state

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
)

var (
	bucketAccounts    = []byte("accounts")
	bucketItems       = []byte("sync_items")
	bucketItemsByPath = []byte("sync_items_by_local_path")
	bucketItemsByRID  = []byte("sync_items_by_remote_id")
	bucketItemsByIno  = []byte("sync_items_by_inode")
	bucketSessions    = []byte("sync_sessions")
	bucketAudit       = []byte("audit_log")
	bucketConflicts   = []byte("conflicts")
	bucketMeta        = []byte("inode_counter")

	keyNextInode = []byte("value")
)

// BoltRepository implements Repository on top of a single bbolt.DB file,
// mirroring spec.md §6's relational layout as a set of buckets plus
// secondary-index buckets that store the primary key for O(1) lookups by
// local_path/remote_id/inode, the way the teacher's download/upload
// managers keep a bucket per entity (internal/fs/download_manager.go).
type BoltRepository struct {
	db *bolt.DB
	mu sync.Mutex // serializes the inode counter increment across goroutines sharing this repository value
}

// Open creates/opens the bbolt file at path and ensures every bucket
// exists, seeding the inode counter at 2 per spec.md §6.
func Open(path string) (*BoltRepository, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, lnxerrors.NewOperationError("open state database", err)
	}
	r := &BoltRepository{db: db}
	if err := r.init(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *BoltRepository) init() error {
	return r.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAccounts, bucketItems, bucketItemsByPath, bucketItemsByRID, bucketItemsByIno, bucketSessions, bucketAudit, bucketConflicts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keyNextInode) == nil {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, 2)
			return meta.Put(keyNextInode, buf)
		}
		return nil
	})
}

func (r *BoltRepository) Close() error { return r.db.Close() }

// --- accounts ---

func (r *BoltRepository) SaveAccount(a *domain.Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(a.ID), data)
	})
}

func (r *BoltRepository) GetAccount(id string) (*domain.Account, error) {
	var a domain.Account
	found := false
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, lnxerrors.NewNotFoundError("account not found: "+id, nil)
	}
	return &a, nil
}

func (r *BoltRepository) GetAccountByEmail(email string) (*domain.Account, error) {
	accounts, err := r.ListAccounts()
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, lnxerrors.NewNotFoundError("account not found for email: "+email, nil)
}

func (r *BoltRepository) ListAccounts() ([]*domain.Account, error) {
	var out []*domain.Account
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var a domain.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, &a)
			return nil
		})
	})
	return out, err
}

// --- items ---

// itemRow is the JSON-serializable shadow of domain.SyncItem: the domain
// type carries an unexported *sync.RWMutex that json.Marshal silently
// drops, so round-tripping through json.Unmarshal directly into SyncItem
// works for reads but leaves mu nil; hydrateMutex fixes that up before
// handing the item back to a caller that might lock it.
func hydrateMutex(i *domain.SyncItem) *domain.SyncItem {
	// SyncItem exports no way to set mu directly; NewSyncItem + field copy
	// keeps this local to the package without widening SyncItem's API.
	fresh := domain.NewSyncItem(i.AccountID, i.LocalPath, i.RemotePath, i.IsDirectory)
	saved := *i
	*i = *fresh
	i.ID = saved.ID
	i.Inode = saved.Inode
	i.AccountID = saved.AccountID
	i.LocalPath = saved.LocalPath
	i.RemotePath = saved.RemotePath
	i.RemoteID = saved.RemoteID
	i.IsDirectory = saved.IsDirectory
	i.SizeBytes = saved.SizeBytes
	i.ContentHash = saved.ContentHash
	i.LocalHash = saved.LocalHash
	i.State = saved.State
	i.ErrorInfo = saved.ErrorInfo
	i.LastModifiedLocal = saved.LastModifiedLocal
	i.LastModifiedRemote = saved.LastModifiedRemote
	i.LastSync = saved.LastSync
	i.LastAccessed = saved.LastAccessed
	i.HydrationProgress = saved.HydrationProgress
	i.Pinned = saved.Pinned
	return i
}

func (r *BoltRepository) SaveItem(i *domain.SyncItem) error {
	data, err := json.Marshal(i)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketItems)
		byPath := tx.Bucket(bucketItemsByPath)
		byRID := tx.Bucket(bucketItemsByRID)
		byIno := tx.Bucket(bucketItemsByIno)

		if err := items.Put([]byte(i.ID), data); err != nil {
			return err
		}
		if err := byPath.Put([]byte(i.LocalPath), []byte(i.ID)); err != nil {
			return err
		}
		if i.RemoteID != "" {
			if err := byRID.Put([]byte(i.RemoteID), []byte(i.ID)); err != nil {
				return err
			}
		}
		if i.Inode != 0 {
			inoKey := make([]byte, 8)
			binary.BigEndian.PutUint64(inoKey, i.Inode)
			if err := byIno.Put(inoKey, []byte(i.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BoltRepository) getItemTx(tx *bolt.Tx, id string) (*domain.SyncItem, error) {
	data := tx.Bucket(bucketItems).Get([]byte(id))
	if data == nil {
		return nil, lnxerrors.NewNotFoundError("item not found: "+id, nil)
	}
	var i domain.SyncItem
	if err := json.Unmarshal(data, &i); err != nil {
		return nil, err
	}
	return hydrateMutex(&i), nil
}

func (r *BoltRepository) GetItem(id string) (*domain.SyncItem, error) {
	var out *domain.SyncItem
	err := r.db.View(func(tx *bolt.Tx) error {
		i, err := r.getItemTx(tx, id)
		if err != nil {
			return err
		}
		out = i
		return nil
	})
	return out, err
}

func (r *BoltRepository) GetItemByLocalPath(path string) (*domain.SyncItem, error) {
	var out *domain.SyncItem
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketItemsByPath).Get([]byte(path))
		if id == nil {
			return lnxerrors.NewNotFoundError("item not found for path: "+path, nil)
		}
		i, err := r.getItemTx(tx, string(id))
		if err != nil {
			return err
		}
		out = i
		return nil
	})
	return out, err
}

func (r *BoltRepository) GetItemByRemoteID(remoteID string) (*domain.SyncItem, error) {
	var out *domain.SyncItem
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketItemsByRID).Get([]byte(remoteID))
		if id == nil {
			return lnxerrors.NewNotFoundError("item not found for remote id: "+remoteID, nil)
		}
		i, err := r.getItemTx(tx, string(id))
		if err != nil {
			return err
		}
		out = i
		return nil
	})
	return out, err
}

func (r *BoltRepository) GetItemByInode(ino uint64) (*domain.SyncItem, error) {
	var out *domain.SyncItem
	err := r.db.View(func(tx *bolt.Tx) error {
		inoKey := make([]byte, 8)
		binary.BigEndian.PutUint64(inoKey, ino)
		id := tx.Bucket(bucketItemsByIno).Get(inoKey)
		if id == nil {
			return lnxerrors.NewNotFoundError("item not found for inode", nil)
		}
		i, err := r.getItemTx(tx, string(id))
		if err != nil {
			return err
		}
		out = i
		return nil
	})
	return out, err
}

func (r *BoltRepository) DeleteItem(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		i, err := r.getItemTx(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketItems).Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketItemsByPath).Delete([]byte(i.LocalPath)); err != nil {
			return err
		}
		if i.RemoteID != "" {
			if err := tx.Bucket(bucketItemsByRID).Delete([]byte(i.RemoteID)); err != nil {
				return err
			}
		}
		if i.Inode != 0 {
			inoKey := make([]byte, 8)
			binary.BigEndian.PutUint64(inoKey, i.Inode)
			if err := tx.Bucket(bucketItemsByIno).Delete(inoKey); err != nil {
				return err
			}
		}
		return nil
	})
}

func matchesFilter(i *domain.SyncItem, f ItemFilter) bool {
	if f.State != nil && i.State != *f.State {
		return false
	}
	if f.AccountID != "" && i.AccountID != f.AccountID {
		return false
	}
	if f.ModifiedSince != nil && i.LastModifiedLocal.Before(*f.ModifiedSince) {
		return false
	}
	if f.RemoteIDSet != nil {
		hasRID := i.RemoteID != ""
		if hasRID != *f.RemoteIDSet {
			return false
		}
	}
	return true
}

func (r *BoltRepository) QueryItems(filter ItemFilter) ([]*domain.SyncItem, error) {
	var out []*domain.SyncItem
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			var i domain.SyncItem
			if err := json.Unmarshal(v, &i); err != nil {
				return err
			}
			hydrateMutex(&i)
			if matchesFilter(&i, filter) {
				out = append(out, &i)
			}
			return nil
		})
	})
	return out, err
}

func (r *BoltRepository) CountItemsByState(state domain.ItemState) (int, error) {
	items, err := r.QueryItems(ItemFilter{State: &state})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// GetItemsForDehydration returns Hydrated items whose last_accessed is at
// least maxAgeDays old, oldest-first, limited to limit rows, per spec.md
// §4.D.
func (r *BoltRepository) GetItemsForDehydration(maxAgeDays int, limit int) ([]*domain.SyncItem, error) {
	hydrated := domain.StateHydrated
	candidates, err := r.QueryItems(ItemFilter{State: &hydrated})
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	var eligible []*domain.SyncItem
	for _, i := range candidates {
		if !i.LastAccessed.After(cutoff) && !i.Pinned {
			eligible = append(eligible, i)
		}
	}
	sortByLastAccessedAsc(eligible)
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func sortByLastAccessedAsc(items []*domain.SyncItem) {
	// simple insertion sort: dehydration batches are small (batch_limit),
	// so this avoids pulling in sort for a handful of comparisons per sweep.
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && items[j-1].LastAccessed.After(items[j].LastAccessed) {
			items[j-1], items[j] = items[j], items[j-1]
			j--
		}
	}
}

// --- sessions ---

func (r *BoltRepository) SaveSession(s *domain.SyncSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(s.ID), data)
	})
}

func (r *BoltRepository) GetSession(id string) (*domain.SyncSession, error) {
	var s domain.SyncSession
	found := false
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, lnxerrors.NewNotFoundError("session not found: "+id, nil)
	}
	return &s, nil
}

// --- audit ---

// AppendAudit assigns an autoincrementing ID (mirroring audit_log's
// PK autoinc, spec.md §6) and appends the entry. Callers in sync/hydration
// paths treat failures here as log-and-swallow per spec.md §7; this method
// itself just returns the error and leaves that policy to the caller.
func (r *BoltRepository) AppendAudit(e *domain.AuditEntry) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		id, _ := b.NextSequence()
		e.ID = int64(id)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return b.Put(key, data)
	})
}

func (r *BoltRepository) GetAuditTrail(itemID string) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).ForEach(func(k, v []byte) error {
			var e domain.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.ItemID == itemID {
				out = append(out, &e)
			}
			return nil
		})
	})
	reverse(out)
	return out, err
}

// GetAuditSince returns entries at or after since, newest-first, capped at
// limit, per spec.md §4.D.
func (r *BoltRepository) GetAuditSince(since time.Time, limit int) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).ForEach(func(k, v []byte) error {
			var e domain.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !e.Timestamp.Before(since) {
				out = append(out, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func reverse(entries []*domain.AuditEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// --- conflicts ---

func (r *BoltRepository) SaveConflict(c *domain.Conflict) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConflicts).Put([]byte(c.ID), data)
	})
}

func (r *BoltRepository) GetConflict(id string) (*domain.Conflict, error) {
	var c domain.Conflict
	found := false
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConflicts).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, lnxerrors.NewNotFoundError("conflict not found: "+id, nil)
	}
	return &c, nil
}

func (r *BoltRepository) GetUnresolvedConflicts() ([]*domain.Conflict, error) {
	var out []*domain.Conflict
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConflicts).ForEach(func(k, v []byte) error {
			var c domain.Conflict
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if !c.IsResolved() {
				out = append(out, &c)
			}
			return nil
		})
	})
	return out, err
}

// --- inode allocation ---

// GetNextInode allocates and persists the next monotonic inode number,
// starting at 2 (1 is the root), per spec.md §4.A and §6. The in-process
// mutex plus bbolt's single-writer transaction together make this safe
// across concurrent FUSE callback goroutines within one daemon; bbolt's
// file lock extends that guarantee across processes sharing the database.
func (r *BoltRepository) GetNextInode() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next uint64
	err := r.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		cur := binary.BigEndian.Uint64(meta.Get(keyNextInode))
		next = cur
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, cur+1)
		return meta.Put(keyNextInode, buf)
	})
	return next, err
}
