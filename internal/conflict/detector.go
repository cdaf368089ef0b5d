package conflict

import (
	"time"

	"github.com/lnxdrive/lnxdrive/internal/domain"
)

// DetectionResult is the outcome of checking a remote update against an
// item's local state.
type DetectionResult struct {
	Conflicted bool
	Conflict   *domain.Conflict
}

// CheckRemoteUpdate implements original_source's detector.rs
// check_remote_update: a conflict exists only when the item is Modified
// AND the remote hash differs from the item's stored content hash.
func CheckRemoteUpdate(item *domain.SyncItem, remoteHash string, remoteSize uint64, remoteModified time.Time, remoteETag string, now time.Time) DetectionResult {
	if item.GetState() != domain.StateModified {
		return DetectionResult{}
	}
	if remoteHash == "" {
		return DetectionResult{}
	}

	storedHash := item.ContentHash
	if storedHash == remoteHash {
		return DetectionResult{}
	}

	localVersion := domain.VersionInfo{
		Hash:       firstNonEmpty(item.LocalHash, item.ContentHash),
		Size:       item.SizeBytes,
		ModifiedAt: item.LastModifiedLocal,
	}
	remoteVersion := domain.VersionInfo{
		Hash:       remoteHash,
		Size:       remoteSize,
		ModifiedAt: remoteModified,
		ETag:       remoteETag,
	}

	c := domain.NewConflict(item.ID, localVersion, remoteVersion, now)
	return DetectionResult{Conflicted: true, Conflict: c}
}

// CheckLocalUpdate implements the reverse-direction check: before
// uploading a local change, verify the remote hasn't also changed since
// the item's stored content hash was recorded.
func CheckLocalUpdate(item *domain.SyncItem, currentRemoteHash string) bool {
	stored := item.ContentHash
	if stored == "" || currentRemoteHash == "" {
		return false
	}
	return stored != currentRemoteHash
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
