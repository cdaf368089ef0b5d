package domain

import "time"

// AccountState reflects the health of an account's connection to OneDrive.
type AccountState int

const (
	AccountActive AccountState = iota
	AccountTokenExpired
	AccountSuspended
	AccountError
)

func (s AccountState) String() string {
	switch s {
	case AccountActive:
		return "Active"
	case AccountTokenExpired:
		return "TokenExpired"
	case AccountSuspended:
		return "Suspended"
	case AccountError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Account is the durable record for one connected OneDrive account
// (spec.md §3).
type Account struct {
	ID          string
	Email       string
	DisplayName string
	OneDriveID  string
	SyncRoot    string

	QuotaUsed  uint64
	QuotaTotal uint64

	// DeltaToken is nil/empty to force a full sync (spec.md §4.I).
	DeltaToken string

	LastSync time.Time
	State    AccountState

	CreatedAt time.Time
}

// NeedsFullSync reports whether the next sync cycle must use a full delta
// (no token) rather than an incremental one.
func (a *Account) NeedsFullSync() bool {
	return a.DeltaToken == ""
}

// ClearDeltaToken forces the next sync to be a full sync.
func (a *Account) ClearDeltaToken() {
	a.DeltaToken = ""
}
