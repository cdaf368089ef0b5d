package conflict

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/lnxdrive/lnxdrive/internal/cloudapi"
	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/state"
)

// Resolver executes a Resolution against an item and its conflict row,
// per spec.md §4.H. KeepLocal re-uploads the cached local bytes over the
// remote version; KeepRemote downloads the remote bytes over the local
// cache; KeepBoth leaves the remote side untouched and renames the local
// side into a new sibling item. Manual performs no action.
type Resolver struct {
	repo     state.Repository
	cache    *contentcache.Cache
	provider cloudapi.Provider
}

func NewResolver(repo state.Repository, cache *contentcache.Cache, provider cloudapi.Provider) *Resolver {
	return &Resolver{repo: repo, cache: cache, provider: provider}
}

// Apply resolves c for item according to res, persisting both rows on
// success. now is the timestamp recorded on the conflict and, for
// KeepBoth, used to generate the copy's name.
func (r *Resolver) Apply(ctx context.Context, item *domain.SyncItem, c *domain.Conflict, res domain.Resolution, by domain.ResolvedBy, now time.Time) (*domain.SyncItem, error) {
	switch res {
	case domain.ResolutionKeepRemote:
		if err := r.keepRemote(ctx, item); err != nil {
			return nil, err
		}
	case domain.ResolutionKeepLocal:
		if err := r.keepLocal(ctx, item, c); err != nil {
			return nil, err
		}
	case domain.ResolutionKeepBoth:
		copyItem, err := r.keepBoth(ctx, item, now)
		if err != nil {
			return nil, err
		}
		if err := item.Transition(domain.TransitionResolve); err != nil {
			return nil, err
		}
		c.Resolve(res, by, now)
		if err := r.repo.SaveItem(item); err != nil {
			return nil, err
		}
		if err := r.repo.SaveConflict(c); err != nil {
			return nil, err
		}
		return copyItem, nil
	default: // Manual: leave the conflict open
		return nil, nil
	}

	if err := item.Transition(domain.TransitionResolve); err != nil {
		return nil, err
	}
	c.Resolve(res, by, now)
	if err := r.repo.SaveItem(item); err != nil {
		return nil, err
	}
	return nil, r.repo.SaveConflict(c)
}

// keepRemote discards local edits: download the remote's current bytes
// into the cache blob over whatever local changes were cached.
func (r *Resolver) keepRemote(ctx context.Context, item *domain.SyncItem) error {
	meta, err := r.provider.GetMetadata(ctx, item.RemoteID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if _, err := r.provider.DownloadFile(ctx, item.RemoteID, &buf); err != nil {
		return err
	}

	if err := r.cache.Store(item.RemoteID, buf.Bytes()); err != nil {
		return err
	}
	item.SetRemoteMetadata(meta.ID, meta.Hash, meta.Size, meta.Modified)
	return nil
}

// keepLocal discards the remote edit: re-upload the cached local bytes,
// overwriting whatever is on the server.
func (r *Resolver) keepLocal(ctx context.Context, item *domain.SyncItem, c *domain.Conflict) error {
	data, err := r.cache.Read(item.RemoteID, 0, int(item.SizeBytes))
	if err != nil {
		return err
	}

	parent := filepath.Dir(item.RemotePath)
	name := filepath.Base(item.RemotePath)

	var meta *cloudapi.DeltaItem
	if uint64(len(data)) < cloudapi.SmallFileThreshold {
		meta, err = r.provider.UploadFile(ctx, parent, name, data, "")
	} else {
		meta, err = r.provider.UploadFileSession(ctx, parent, name, data, "")
	}
	if err != nil {
		return err
	}
	item.SetRemoteMetadata(meta.ID, meta.Hash, meta.Size, meta.Modified)
	return nil
}

// keepBoth uploads the local content under a newly generated conflict
// copy name, leaving the original item's remote side untouched, and
// returns a fresh SyncItem tracking the new remote object.
func (r *Resolver) keepBoth(ctx context.Context, item *domain.SyncItem, now time.Time) (*domain.SyncItem, error) {
	data, err := r.cache.Read(item.RemoteID, 0, int(item.SizeBytes))
	if err != nil {
		return nil, err
	}

	parent := filepath.Dir(item.RemotePath)
	originalName := filepath.Base(item.RemotePath)
	copyName := GenerateUniqueName(originalName, now, func(name string) bool {
		_, err := r.repo.GetItemByLocalPath(filepath.Join(filepath.Dir(item.LocalPath), name))
		return err == nil
	})

	var meta *cloudapi.DeltaItem
	if uint64(len(data)) < cloudapi.SmallFileThreshold {
		meta, err = r.provider.UploadFile(ctx, parent, copyName, data, "")
	} else {
		meta, err = r.provider.UploadFileSession(ctx, parent, copyName, data, "")
	}
	if err != nil {
		return nil, err
	}

	copyItem := domain.NewSyncItem(item.AccountID, filepath.Join(filepath.Dir(item.LocalPath), copyName), filepath.Join(parent, copyName), false)
	copyItem.SetRemoteMetadata(meta.ID, meta.Hash, meta.Size, meta.Modified)
	if err := r.cache.Store(meta.ID, data); err != nil {
		return nil, err
	}
	if err := copyItem.Transition(domain.TransitionAccess); err != nil {
		return nil, err
	}
	if err := copyItem.Transition(domain.TransitionComplete); err != nil {
		return nil, err
	}
	if err := r.repo.SaveItem(copyItem); err != nil {
		return nil, err
	}
	return copyItem, nil
}
