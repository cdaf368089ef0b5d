// Package contentcache implements component B of spec.md §4: a
// hash-addressed on-disk blob store for hydrated file bytes, grounded in
// the teacher's internal/fs/content_cache.go LoopbackCache (atomic
// temp-file-then-rename writes, os.File ReadAt/WriteAt for random access) but
// keyed by SHA-256(remote_id) as spec.md §4.B and §6 require instead of by
// raw item ID.
package contentcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
)

// wrapWriteErr classifies a disk write failure so callers crossing into
// the FUSE layer (errnoFor) can map disk-full conditions to ENOSPC
// instead of falling through to a generic EIO.
func wrapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOSPC) {
		return lnxerrors.NewFilesystemError("content cache write failed", err)
	}
	return err
}

// Cache stores hydrated content under {dir}/content/{hash[0:2]}/{hash[2:]}
// where hash = SHA256(remoteID), per spec.md §4.B and §6.
type Cache struct {
	dir string

	// fileLocks gives per-path mutual exclusion for write_at so concurrent
	// writers to the same blob don't interleave; reads are not serialized
	// against each other (each Read opens its own fd and uses ReadAt).
	fileLocks sync.Map // path -> *sync.Mutex
}

func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "content"), 0o700); err != nil {
		return nil, fmt.Errorf("create content cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Hash returns the SHA-256 hex digest used to key a cache path, exported so
// callers can predict a path.
func Hash(remoteID string) string {
	sum := sha256.Sum256([]byte(remoteID))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) pathFor(remoteID string) string {
	h := Hash(remoteID)
	return filepath.Join(c.dir, "content", h[:2], h[2:])
}

func (c *Cache) partialPathFor(remoteID string) string {
	return c.pathFor(remoteID) + ".partial"
}

// PartialPath exposes the .partial path for in-flight downloads (spec.md
// §6). HydrationManager does not write here: it buffers a download in
// memory and commits it with Store, and calls RemovePartial when the
// download fails or is cancelled.
func (c *Cache) PartialPath(remoteID string) string {
	return c.partialPathFor(remoteID)
}

func (c *Cache) lockFor(path string) *sync.Mutex {
	v, _ := c.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Store writes a whole blob atomically: content is written to a temp file
// in the same directory, then renamed over the final path so concurrent
// readers never observe a partially written file.
func (c *Cache) Store(remoteID string, data []byte) error {
	path := c.pathFor(remoteID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return wrapWriteErr(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return wrapWriteErr(err)
	}
	return nil
}

// Read performs a pread-style read at offset for up to size bytes,
// truncating the result to the bytes actually available (spec.md §4.B,
// §8 "read at offset >= size returns empty buffer").
func (c *Cache) Read(remoteID string, offset int64, size int) ([]byte, error) {
	f, err := os.Open(c.pathFor(remoteID))
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if offset >= info.Size() {
		return []byte{}, nil
	}

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// WriteAt creates-or-opens the blob read-write, seeks to offset, and writes
// bytes, extending the file (with an OS-defined zero gap) if offset is
// beyond the current length, per spec.md §4.B and §8.
func (c *Cache) WriteAt(remoteID string, offset int64, data []byte) error {
	path := c.pathFor(remoteID)
	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return wrapWriteErr(err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return wrapWriteErr(err)
	}
	return nil
}

// Exists reports whether a blob is present.
func (c *Cache) Exists(remoteID string) bool {
	_, err := os.Stat(c.pathFor(remoteID))
	return err == nil
}

// Remove deletes a blob and its sibling .partial, if any.
func (c *Cache) Remove(remoteID string) error {
	path := c.pathFor(remoteID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(c.partialPathFor(remoteID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemovePartial removes only the .partial file, used on hydration
// cancellation (spec.md §4.E).
func (c *Cache) RemovePartial(remoteID string) error {
	if err := os.Remove(c.partialPathFor(remoteID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Size returns the byte size of a stored blob, or 0 if absent.
func (c *Cache) Size(remoteID string) int64 {
	info, err := os.Stat(c.pathFor(remoteID))
	if err != nil {
		return 0
	}
	return info.Size()
}

// DiskUsage sums the size of every file under the content root, per
// spec.md §4.F step 1.
func (c *Cache) DiskUsage() int64 {
	var total int64
	root := filepath.Join(c.dir, "content")
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		lnxlog.Warn().Err(err).Msg("content cache disk usage walk failed")
	}
	return total
}
