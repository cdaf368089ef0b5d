package domain

import "time"

// SessionStatus is the lifecycle of a SyncSession.
type SessionStatus int

const (
	SessionRunning SessionStatus = iota
	SessionCompleted
	SessionFailed
	SessionCancelled
)

func (s SessionStatus) String() string {
	switch s {
	case SessionRunning:
		return "Running"
	case SessionCompleted:
		return "Completed"
	case SessionFailed:
		return "Failed"
	case SessionCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// SessionError records a single item-level failure that did not abort the
// sync cycle (spec.md §4.I step 5).
type SessionError struct {
	ItemID  string
	Code    string
	Message string
}

// SessionCounters holds the bookkeeping fields spec.md §3 lists on
// SyncSession.
type SessionCounters struct {
	ItemsChecked   int
	ItemsSynced    int
	ItemsProcessed int
	ItemsSucceeded int
	ItemsFailed    int
	BytesUploaded  uint64
	BytesDownloaded uint64
}

// SyncSession is a single run of the sync engine.
type SyncSession struct {
	ID        string
	AccountID string

	StartedAt   time.Time
	CompletedAt *time.Time

	Status     SessionStatus
	FailReason string

	Counters SessionCounters

	DeltaTokenStart string
	DeltaTokenEnd   string

	Errors []SessionError
}

// RecordError appends an item-level error and bumps ItemsFailed.
func (s *SyncSession) RecordError(itemID, code, message string) {
	s.Errors = append(s.Errors, SessionError{ItemID: itemID, Code: code, Message: message})
	s.Counters.ItemsFailed++
}

// Complete marks the session Completed and stamps CompletedAt.
func (s *SyncSession) Complete(now time.Time) {
	s.Status = SessionCompleted
	s.CompletedAt = &now
}

// Fail marks the session Failed with a reason.
func (s *SyncSession) Fail(now time.Time, reason string) {
	s.Status = SessionFailed
	s.FailReason = reason
	s.CompletedAt = &now
}

// Cancel marks the session Cancelled, used on daemon shutdown mid-cycle.
func (s *SyncSession) Cancel(now time.Time) {
	s.Status = SessionCancelled
	s.CompletedAt = &now
}

// CountersConsistent checks that the testable properties in spec.md §8 hold; this is
// consulted by tests and may be called defensively before persisting.
func (s *SyncSession) CountersConsistent() bool {
	return s.Counters.ItemsProcessed == s.Counters.ItemsSucceeded+s.Counters.ItemsFailed &&
		s.Counters.ItemsSynced <= s.Counters.ItemsChecked
}
