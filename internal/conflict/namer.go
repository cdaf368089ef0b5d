package conflict

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateName produces the KeepBoth copy name for originalName, per
// original_source's namer.rs: `{stem} (conflicted copy {YYYY-MM-DD}
// {uuid8}){ext}`, or `{name} (conflicted copy ...)` with no extension.
func GenerateName(originalName string, now time.Time) string {
	stamp := now.Format("2006-01-02")
	short := uuid.NewString()[:8]

	ext := filepath.Ext(originalName)
	stem := strings.TrimSuffix(originalName, ext)
	return fmt.Sprintf("%s (conflicted copy %s %s)%s", stem, stamp, short, ext)
}

// ExistsFunc reports whether a candidate name already exists in the
// target directory, supplied by the caller (spec.md §4.H "collision
// checked via a caller-supplied exists predicate").
type ExistsFunc func(name string) bool

// GenerateUniqueName collision-checks GenerateName's output against
// exists, falling back to a numbered suffix `name 2`, `name 3`, ... up to
// 99, then a full-UUID suffix, exactly per original_source's
// generate_unique.
func GenerateUniqueName(originalName string, now time.Time, exists ExistsFunc) string {
	candidate := GenerateName(originalName, now)
	if !exists(candidate) {
		return candidate
	}

	ext := filepath.Ext(candidate)
	stem := strings.TrimSuffix(candidate, ext)
	for i := 2; i <= 99; i++ {
		numbered := fmt.Sprintf("%s %d%s", stem, i, ext)
		if !exists(numbered) {
			return numbered
		}
	}

	return fmt.Sprintf("%s.conflict-%s", originalName, uuid.NewString())
}
