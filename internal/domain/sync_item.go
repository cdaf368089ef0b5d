package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
)

// ErrorInfo is present only while an item is in the Error state.
type ErrorInfo struct {
	Code       string
	Message    string
	RetryCount int
}

// SyncItem is the unit of sync (spec.md §3). All mutation happens through
// Transition/setters guarded by mu, matching the teacher's Inode pattern of
// a mutex pointer alongside plain fields so the struct can be copied for
// snapshotting without aliasing the lock.
type SyncItem struct {
	mu *sync.RWMutex

	ID       string
	Inode    uint64
	AccountID string

	LocalPath  string
	RemotePath string
	RemoteID   string

	IsDirectory bool
	SizeBytes   uint64

	ContentHash string
	LocalHash   string

	State     ItemState
	ErrorInfo *ErrorInfo

	LastModifiedLocal  time.Time
	LastModifiedRemote time.Time
	LastSync           time.Time
	LastAccessed       time.Time

	HydrationProgress int

	Pinned bool
}

// NewSyncItem constructs a fresh item in the Online state, assigned an
// opaque ID. The caller is responsible for persisting it and allocating its
// inode via StateRepository.GetNextInode.
func NewSyncItem(accountID, localPath, remotePath string, isDirectory bool) *SyncItem {
	return &SyncItem{
		mu:          &sync.RWMutex{},
		ID:          uuid.NewString(),
		AccountID:   accountID,
		LocalPath:   localPath,
		RemotePath:  remotePath,
		IsDirectory: isDirectory,
		State:       StateOnline,
	}
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// lock (e.g. for building a Conflict's VersionInfo or a query result row).
func (i *SyncItem) Clone() *SyncItem {
	i.mu.RLock()
	defer i.mu.RUnlock()
	cp := *i
	cp.mu = &sync.RWMutex{}
	if i.ErrorInfo != nil {
		ei := *i.ErrorInfo
		cp.ErrorInfo = &ei
	}
	return &cp
}

// Transition applies a named edge from the state machine, returning an
// InvalidTransition error if the edge does not exist from the item's
// current state. On success it also maintains invariant I3 (content_hash ==
// local_hash iff Hydrated) for the transitions that affect hashes.
func (i *SyncItem) Transition(t Transition) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	to, err := Next(i.State, t)
	if err != nil {
		return err
	}
	i.State = to
	switch t {
	case TransitionComplete:
		i.LocalHash = i.ContentHash
	case TransitionModify:
		i.LocalHash = ""
	case TransitionSync:
		i.LocalHash = i.ContentHash
	case TransitionResolve:
		i.LocalHash = i.ContentHash
	case TransitionDehydrate:
		i.LocalHash = ""
	}
	return nil
}

// MarkError transitions to Error, recording reason and bumping retry_count.
func (i *SyncItem) MarkError(code, message string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	retry := 0
	if i.ErrorInfo != nil {
		retry = i.ErrorInfo.RetryCount
	}
	i.State = StateError
	i.ErrorInfo = &ErrorInfo{Code: code, Message: message, RetryCount: retry + 1}
}

// Recover exits the Error state into the remembered prior class.
func (i *SyncItem) Recover(priorClass ItemState) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.State != StateError {
		return lnxerrors.NewInvalidTransitionError("recover called outside Error state")
	}
	to, err := Recover(priorClass)
	if err != nil {
		return err
	}
	i.State = to
	i.ErrorInfo = nil
	return nil
}

// Undelete restores a Deleted item to Online, the sole valid exit from the
// terminal state.
func (i *SyncItem) Undelete() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.State != StateDeleted {
		return lnxerrors.NewInvalidTransitionError("undelete called outside Deleted state")
	}
	to, _ := Undelete()
	i.State = to
	return nil
}

// ResetToOnline forces the item back to Online, used when a hydration is
// cancelled mid-flight (spec.md §4.E): the cache .partial is discarded and
// the item must not be left stuck in Hydrating.
func (i *SyncItem) ResetToOnline() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.State = StateOnline
	i.HydrationProgress = 0
}

// GetState returns the current state under the read lock.
func (i *SyncItem) GetState() ItemState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.State
}

// HasCacheBlob reports whether invariant I4 requires a cache blob to exist
// for the item's current state.
func (i *SyncItem) HasCacheBlob() bool {
	switch i.GetState() {
	case StateHydrating, StateHydrated, StateModified, StateConflicted:
		return true
	default:
		return false
	}
}

// SetHydrationProgress updates the 0..100 progress while Hydrating.
func (i *SyncItem) SetHydrationProgress(pct int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.HydrationProgress = pct
}

// Touch updates last_accessed, used by read/open paths and consulted by the
// dehydration sweep.
func (i *SyncItem) Touch(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.LastAccessed = now
}

// SetPinned marks or clears the pin that opts an item out of dehydration.
func (i *SyncItem) SetPinned(pinned bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Pinned = pinned
}

func (i *SyncItem) IsPinned() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.Pinned
}

// SetRemoteMetadata updates the fields a delta response refreshes, without
// touching state (the caller decides the transition separately).
func (i *SyncItem) SetRemoteMetadata(remoteID, contentHash string, size uint64, modified time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.RemoteID = remoteID
	i.ContentHash = contentHash
	i.SizeBytes = size
	i.LastModifiedRemote = modified
}
