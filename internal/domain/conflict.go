package domain

import (
	"time"

	"github.com/google/uuid"
)

// Resolution is how a Conflict was, or should be, resolved.
type Resolution int

const (
	ResolutionManual Resolution = iota
	ResolutionKeepLocal
	ResolutionKeepRemote
	ResolutionKeepBoth
)

func (r Resolution) String() string {
	switch r {
	case ResolutionKeepLocal:
		return "KeepLocal"
	case ResolutionKeepRemote:
		return "KeepRemote"
	case ResolutionKeepBoth:
		return "KeepBoth"
	default:
		return "Manual"
	}
}

// ParseResolution accepts the lowercase/snake_case spellings used in
// config policy rules (spec.md §4.H), defaulting to Manual on a miss.
func ParseResolution(s string) Resolution {
	switch s {
	case "keep_local", "KeepLocal":
		return ResolutionKeepLocal
	case "keep_remote", "KeepRemote":
		return ResolutionKeepRemote
	case "keep_both", "KeepBoth":
		return ResolutionKeepBoth
	default:
		return ResolutionManual
	}
}

// ResolvedBy records who/what performed a resolution.
type ResolvedBy int

const (
	ResolvedByNone ResolvedBy = iota
	ResolvedByUser
	ResolvedByPolicy
	ResolvedBySystem
)

func (r ResolvedBy) String() string {
	switch r {
	case ResolvedByUser:
		return "User"
	case ResolvedByPolicy:
		return "Policy"
	case ResolvedBySystem:
		return "System"
	default:
		return "None"
	}
}

// VersionInfo is one side (local or remote) of a detected conflict.
type VersionInfo struct {
	Hash       string
	Size       uint64
	ModifiedAt time.Time
	ETag       string
}

// Conflict is persisted whenever the ConflictEngine detects diverging
// local/remote state (spec.md §3, §4.H).
type Conflict struct {
	ID         string
	ItemID     string
	DetectedAt time.Time

	LocalVersion  VersionInfo
	RemoteVersion VersionInfo

	Resolution *Resolution
	ResolvedAt *time.Time
	ResolvedBy *ResolvedBy
}

// NewConflict builds an unresolved Conflict row.
func NewConflict(itemID string, local, remote VersionInfo, now time.Time) *Conflict {
	return &Conflict{
		ID:            uuid.NewString(),
		ItemID:        itemID,
		DetectedAt:    now,
		LocalVersion:  local,
		RemoteVersion: remote,
	}
}

func (c *Conflict) IsResolved() bool { return c.Resolution != nil }

// Resolve records a resolution idempotently: a second call with the same
// arguments (or any arguments, once resolved) is a no-op that leaves the
// original resolution unchanged, per spec.md's idempotent-resolution
// invariant.
func (c *Conflict) Resolve(res Resolution, by ResolvedBy, now time.Time) {
	if c.IsResolved() {
		return
	}
	c.Resolution = &res
	c.ResolvedBy = &by
	c.ResolvedAt = &now
}
