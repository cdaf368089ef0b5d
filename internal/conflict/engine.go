// Package conflict implements component H of spec.md §4.H: conflict
// detection, policy matching, and three-way resolution, grounded in
// original_source/crates/lnxdrive-conflict (detector.rs, namer.rs, and
// its use_cases.rs DetectConflictUseCase orchestration) and adapted to
// the teacher's Go idiom (internal/fs/conflict_resolution.go supplies
// the resolver-strategy shape).
package conflict

import (
	"context"
	"time"

	"github.com/lnxdrive/lnxdrive/internal/cloudapi"
	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
	"github.com/lnxdrive/lnxdrive/internal/state"
	"github.com/lnxdrive/lnxdrive/internal/writeserializer"
)

// Engine ties detection, policy, and resolution together, mirroring
// original_source's DetectConflictUseCase: check the incoming remote
// update against the item's local state, persist a Conflict row if one
// is found, then either auto-resolve per policy or leave it for manual
// resolution.
type Engine struct {
	repo     state.Repository
	policy   *Policy
	resolver *Resolver
	ws       *writeserializer.Serializer
}

func NewEngine(repo state.Repository, cache *contentcache.Cache, provider cloudapi.Provider, policy *Policy, ws *writeserializer.Serializer) *Engine {
	return &Engine{repo: repo, policy: policy, resolver: NewResolver(repo, cache, provider), ws: ws}
}

// relativePath strips nothing by convention: callers pass the item's
// RemotePath, which policy rules match against.
func relativePath(item *domain.SyncItem) string {
	return item.RemotePath
}

// HandleRemoteUpdate runs CheckRemoteUpdate for item against an
// incoming delta row. When a conflict is found it transitions the item
// to Conflicted, persists the Conflict row, and — unless the policy
// says Manual — immediately resolves it per policy, returning the
// resulting conflict-copy item for KeepBoth (nil otherwise).
func (e *Engine) HandleRemoteUpdate(ctx context.Context, item *domain.SyncItem, remoteHash string, remoteSize uint64, remoteModified time.Time, remoteETag string, now time.Time) (*domain.Conflict, *domain.SyncItem, error) {
	log := lnxlog.NewLogContext("conflict").WithMethod("HandleRemoteUpdate").Logger()

	result := CheckRemoteUpdate(item, remoteHash, remoteSize, remoteModified, remoteETag, now)
	if !result.Conflicted {
		return nil, nil, nil
	}

	if err := item.Transition(domain.TransitionRemoteAlso); err != nil {
		return nil, nil, err
	}
	if err := e.ws.Send(func() error { return e.repo.SaveItem(item) }).Wait(); err != nil {
		return nil, nil, err
	}
	if err := e.ws.Send(func() error { return e.repo.SaveConflict(result.Conflict) }).Wait(); err != nil {
		return nil, nil, err
	}

	res, auto := e.policy.ShouldAutoResolve(relativePath(item))
	if !auto {
		log.Info().Str("itemID", item.ID).Msg("conflict left for manual resolution")
		return result.Conflict, nil, nil
	}

	copyItem, err := e.resolver.Apply(ctx, item, result.Conflict, res, domain.ResolvedByPolicy, now)
	if err != nil {
		return result.Conflict, nil, err
	}
	log.Info().Str("itemID", item.ID).Str("resolution", res.String()).Msg("conflict auto-resolved")
	return result.Conflict, copyItem, nil
}

// ResolveManually applies a user-chosen resolution to an existing,
// still-unresolved conflict.
func (e *Engine) ResolveManually(ctx context.Context, itemID, conflictID string, res domain.Resolution, now time.Time) (*domain.SyncItem, error) {
	item, err := e.repo.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	c, err := e.repo.GetConflict(conflictID)
	if err != nil {
		return nil, err
	}
	if c.IsResolved() {
		return nil, nil
	}
	return e.resolver.Apply(ctx, item, c, res, domain.ResolvedByUser, now)
}
