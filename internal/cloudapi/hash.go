package cloudapi

import (
	"encoding/base64"
	"io"

	"github.com/jstaf/quickxorhash"
)

// QuickXorHash computes OneDrive's 20-byte rolling hash over r and
// returns it as the 28-character base64 encoding every DeltaItem.Hash
// and SyncItem content_hash/local_hash carries (spec.md GLOSSARY). The
// teacher imports this exact algorithm as pkg/quickxorhash (itself
// vendored from this upstream); the retrieved example tree dropped the
// vendored copy, so it is referenced directly here instead of
// hand-rolling OneDrive's bit-rotation scheme from scratch.
func QuickXorHash(r io.Reader) (string, error) {
	h := quickxorhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// QuickXorHashBytes is the []byte convenience form used by callers that
// already hold the full content in memory (e.g. ConflictEngine's
// VersionInfo construction).
func QuickXorHashBytes(data []byte) string {
	h := quickxorhash.New()
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
