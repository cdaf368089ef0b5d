// Package state defines the StateRepository port (component D, spec.md
// §4.D) and its bbolt-backed implementation, grounded in the teacher's use
// of go.etcd.io/bbolt across internal/fs/cache.go and download_manager.go
// for durable, transactional local state.
package state

import (
	"time"

	"github.com/lnxdrive/lnxdrive/internal/domain"
)

// ItemFilter narrows query_items per spec.md §4.D. A nil field means "don't
// filter on this".
type ItemFilter struct {
	State         *domain.ItemState
	AccountID     string
	ModifiedSince *time.Time
	RemoteIDSet   *bool
}

// Repository is the durable store the filesystem and sync engine share: all
// of items, accounts, sessions, audit, conflicts, and inode allocation.
// Every mutating method must be safe to call concurrently; bbolt's
// single-writer transactions give us that for free, but callers that want
// the queue-based mitigation spec.md §4.C describes should route writes
// through writeserializer.Serializer instead of calling Repository
// directly from many goroutines.
type Repository interface {
	// Accounts
	SaveAccount(a *domain.Account) error
	GetAccount(id string) (*domain.Account, error)
	GetAccountByEmail(email string) (*domain.Account, error)
	ListAccounts() ([]*domain.Account, error)

	// Items
	SaveItem(i *domain.SyncItem) error
	GetItem(id string) (*domain.SyncItem, error)
	GetItemByLocalPath(path string) (*domain.SyncItem, error)
	GetItemByRemoteID(remoteID string) (*domain.SyncItem, error)
	GetItemByInode(ino uint64) (*domain.SyncItem, error)
	DeleteItem(id string) error
	QueryItems(filter ItemFilter) ([]*domain.SyncItem, error)
	CountItemsByState(state domain.ItemState) (int, error)
	GetItemsForDehydration(maxAgeDays int, limit int) ([]*domain.SyncItem, error)

	// Sessions
	SaveSession(s *domain.SyncSession) error
	GetSession(id string) (*domain.SyncSession, error)

	// Audit
	AppendAudit(e *domain.AuditEntry) error
	GetAuditTrail(itemID string) ([]*domain.AuditEntry, error)
	GetAuditSince(since time.Time, limit int) ([]*domain.AuditEntry, error)

	// Conflicts
	SaveConflict(c *domain.Conflict) error
	GetConflict(id string) (*domain.Conflict, error)
	GetUnresolvedConflicts() ([]*domain.Conflict, error)

	// Inode allocation
	GetNextInode() (uint64, error)

	Close() error
}
