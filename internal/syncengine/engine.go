// Package syncengine implements component I of spec.md §4.I: delta
// pull, conflict detection, local-change push, and session bookkeeping,
// grounded in the teacher's internal/fs/sync_manager.go orchestration
// (retry-wrapped phases, SyncResult accumulation) generalized from the
// teacher's offline-change queue to the spec's delta-token/push-scan
// design.
package syncengine

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lnxdrive/lnxdrive/internal/cloudapi"
	"github.com/lnxdrive/lnxdrive/internal/conflict"
	"github.com/lnxdrive/lnxdrive/internal/contentcache"
	"github.com/lnxdrive/lnxdrive/internal/domain"
	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
	"github.com/lnxdrive/lnxdrive/internal/retry"
	"github.com/lnxdrive/lnxdrive/internal/state"
	"github.com/lnxdrive/lnxdrive/internal/writeserializer"
)

// SyncResult summarizes one sync cycle, per spec.md §4.I's entry point
// signature `sync() -> SyncResult{downloaded, uploaded, deleted, errors,
// duration_ms}`.
type SyncResult struct {
	Downloaded int
	Uploaded   int
	Deleted    int
	Errors     []string
	DurationMs int64
	SessionID  string
}

// ErrSyncCoalesced is returned when Sync is called for an account that
// already has a cycle running; the caller's trigger is folded into a
// follow-up cycle run automatically once the in-flight one finishes,
// per spec.md §5 "a second trigger during a cycle is coalesced into a
// follow-up cycle".
var ErrSyncCoalesced = lnxerrors.NewResourceBusyError("sync already running for this account; coalesced into a follow-up cycle", nil)

type accountRun struct {
	mu      sync.Mutex
	running bool
	pending bool
}

// Engine is the SyncEngine.
type Engine struct {
	repo     state.Repository
	cache    *contentcache.Cache
	provider cloudapi.Provider
	conflict *conflict.Engine
	ws       *writeserializer.Serializer
	retryCfg retry.Config

	runsMu sync.Mutex
	runs   map[string]*accountRun
}

func New(repo state.Repository, cache *contentcache.Cache, provider cloudapi.Provider, conflictEngine *conflict.Engine, ws *writeserializer.Serializer) *Engine {
	return &Engine{
		repo:     repo,
		cache:    cache,
		provider: provider,
		conflict: conflictEngine,
		ws:       ws,
		retryCfg: retry.DefaultConfig(),
		runs:     make(map[string]*accountRun),
	}
}

func (e *Engine) runFor(accountID string) *accountRun {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	r, ok := e.runs[accountID]
	if !ok {
		r = &accountRun{}
		e.runs[accountID] = r
	}
	return r
}

// Sync runs one sync cycle for accountID: pull, conflict-check, push,
// finalize. If a cycle is already running for this account, the call
// returns ErrSyncCoalesced immediately and a follow-up cycle is queued
// to run once the in-flight cycle completes.
func (e *Engine) Sync(ctx context.Context, accountID string) (*SyncResult, error) {
	run := e.runFor(accountID)

	run.mu.Lock()
	if run.running {
		run.pending = true
		run.mu.Unlock()
		return nil, ErrSyncCoalesced
	}
	run.running = true
	run.mu.Unlock()

	result, err := e.runCycle(ctx, accountID)

	run.mu.Lock()
	run.running = false
	rerun := run.pending
	run.pending = false
	run.mu.Unlock()

	if rerun {
		go func() {
			_, _ = e.Sync(context.Background(), accountID)
		}()
	}

	return result, err
}

func (e *Engine) runCycle(ctx context.Context, accountID string) (*SyncResult, error) {
	log := lnxlog.NewLogContext("syncengine").WithMethod("runCycle").Logger()
	start := time.Now()

	account, err := e.repo.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	session := &domain.SyncSession{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		StartedAt:       start,
		Status:          domain.SessionRunning,
		DeltaTokenStart: account.DeltaToken,
	}
	if err := e.ws.Send(func() error { return e.repo.SaveSession(session) }).Wait(); err != nil {
		return nil, err
	}
	_ = e.ws.Send(func() error {
		return e.repo.AppendAudit(&domain.AuditEntry{
			Timestamp: start, SessionID: session.ID, Action: domain.ActionSyncStart, Result: domain.Success(),
		})
	}).Wait()

	result := &SyncResult{SessionID: session.ID}

	if err := e.pull(ctx, account, session, result); err != nil {
		log.Warn().Err(err).Str("accountID", accountID).Msg("pull phase failed")
		session.RecordError("", "pull", err.Error())
	}

	e.push(ctx, account, session, result)

	now := time.Now()
	if len(session.Errors) > 0 && session.Counters.ItemsProcessed == 0 && result.Downloaded == 0 && result.Uploaded == 0 {
		session.Fail(now, "sync cycle failed before processing any items")
	} else {
		session.Complete(now)
	}
	result.Errors = make([]string, 0, len(session.Errors))
	for _, e2 := range session.Errors {
		result.Errors = append(result.Errors, e2.ItemID+": "+e2.Message)
	}
	result.DurationMs = now.Sub(start).Milliseconds()

	if err := e.ws.Send(func() error { return e.repo.SaveSession(session) }).Wait(); err != nil {
		return result, err
	}
	if err := e.ws.Send(func() error { return e.repo.SaveAccount(account) }).Wait(); err != nil {
		return result, err
	}
	_ = e.ws.Send(func() error {
		return e.repo.AppendAudit(&domain.AuditEntry{
			Timestamp: now, SessionID: session.ID, Action: domain.ActionSyncComplete, Result: domain.Success(),
			DurationMs: result.DurationMs,
		})
	}).Wait()

	return result, nil
}

// pull implements spec.md §4.I steps 2-3: page through get_delta,
// reconcile each DeltaItem against local state, then persist the new
// delta token.
func (e *Engine) pull(ctx context.Context, account *domain.Account, session *domain.SyncSession, result *SyncResult) error {
	token := account.DeltaToken

	for {
		resp, err := retry.DoWithResult(ctx, func() (*cloudapi.DeltaResponse, error) {
			return e.provider.GetDelta(ctx, token)
		}, e.retryCfg)
		if err != nil {
			return err
		}

		for _, di := range resp.Items {
			session.Counters.ItemsChecked++
			session.Counters.ItemsProcessed++
			if err := e.reconcileDeltaItem(ctx, account, di); err != nil {
				session.RecordError(di.ID, "pull", err.Error())
				continue
			}
			session.Counters.ItemsSynced++
			session.Counters.ItemsSucceeded++
			if di.IsDeleted {
				result.Deleted++
			} else {
				result.Downloaded++
			}
		}

		if resp.DeltaLink != "" {
			account.DeltaToken = resp.DeltaLink
			break
		}
		if resp.NextLink == "" {
			break
		}
		token = resp.NextLink
	}

	return nil
}

func (e *Engine) reconcileDeltaItem(ctx context.Context, account *domain.Account, di cloudapi.DeltaItem) error {
	localPath := filepath.Join(account.SyncRoot, di.Path)
	remotePath := di.Path

	existing, err := e.repo.GetItemByRemoteID(di.ID)
	if err != nil && !lnxerrors.IsNotFound(err) {
		return err
	}

	if di.IsDeleted {
		if existing == nil {
			return nil
		}
		if existing.GetState() == domain.StateDeleted {
			return nil
		}
		if terr := existing.Transition(domain.TransitionDelete); terr != nil {
			return terr
		}
		return e.ws.Send(func() error { return e.repo.SaveItem(existing) }).Wait()
	}

	if existing == nil {
		item := domain.NewSyncItem(account.ID, localPath, remotePath, di.IsDirectory)
		ino, ierr := e.repo.GetNextInode()
		if ierr != nil {
			return ierr
		}
		item.Inode = ino
		item.SetRemoteMetadata(di.ID, di.Hash, di.Size, di.Modified)
		return e.ws.Send(func() error { return e.repo.SaveItem(item) }).Wait()
	}

	conflictRow, _, cerr := e.conflict.HandleRemoteUpdate(ctx, existing, di.Hash, di.Size, di.Modified, di.ETag, time.Now())
	if cerr != nil {
		return cerr
	}
	if conflictRow != nil {
		// a Conflict row now exists (auto-resolved or left manual); the
		// engine already persisted item + conflict state.
		return nil
	}

	existing.SetRemoteMetadata(di.ID, di.Hash, di.Size, di.Modified)
	return e.ws.Send(func() error { return e.repo.SaveItem(existing) }).Wait()
}

// push implements spec.md §4.I step 4: upload Modified items, delete
// Deleted items. Item-level failures are recorded on the session and do
// not abort the cycle.
func (e *Engine) push(ctx context.Context, account *domain.Account, session *domain.SyncSession, result *SyncResult) {
	modifiedState := domain.StateModified
	modified, err := e.repo.QueryItems(state.ItemFilter{State: &modifiedState, AccountID: account.ID})
	if err != nil {
		session.RecordError("", "push-query", err.Error())
	}
	for _, item := range modified {
		session.Counters.ItemsProcessed++
		if err := e.uploadItem(ctx, item); err != nil {
			session.RecordError(item.ID, "upload", err.Error())
			continue
		}
		session.Counters.ItemsSucceeded++
		result.Uploaded++
	}

	deletedState := domain.StateDeleted
	deleted, err := e.repo.QueryItems(state.ItemFilter{State: &deletedState, AccountID: account.ID})
	if err != nil {
		session.RecordError("", "push-query", err.Error())
	}
	for _, item := range deleted {
		if item.RemoteID == "" {
			continue
		}
		session.Counters.ItemsProcessed++
		if err := retry.Do(ctx, func() error { return e.provider.DeleteItem(ctx, item.RemoteID) }, e.retryCfg); err != nil {
			session.RecordError(item.ID, "delete", err.Error())
			continue
		}
		session.Counters.ItemsSucceeded++
		result.Deleted++
	}
}

func (e *Engine) uploadItem(ctx context.Context, item *domain.SyncItem) error {
	data, err := e.cache.Read(item.RemoteID, 0, int(item.SizeBytes))
	if err != nil {
		return err
	}

	parent := filepath.Dir(item.RemotePath)
	name := filepath.Base(item.RemotePath)

	meta, err := retry.DoWithResult(ctx, func() (*cloudapi.DeltaItem, error) {
		if uint64(len(data)) < cloudapi.SmallFileThreshold {
			return e.provider.UploadFile(ctx, parent, name, data, "")
		}
		return e.provider.UploadFileSession(ctx, parent, name, data, "")
	}, e.retryCfg)
	if err != nil {
		return err
	}

	wantHash := cloudapi.QuickXorHashBytes(data)
	if meta.Hash != "" && meta.Hash != wantHash {
		item.MarkError("INTEGRITY_MISMATCH", "uploaded content hash did not match server response")
		_ = e.ws.Send(func() error { return e.repo.SaveItem(item) }).Wait()
		return lnxerrors.NewIntegrityError("upload hash mismatch for "+item.ID, nil)
	}

	item.SetRemoteMetadata(meta.ID, meta.Hash, meta.Size, meta.Modified)
	if err := item.Transition(domain.TransitionSync); err != nil {
		return err
	}
	return e.ws.Send(func() error { return e.repo.SaveItem(item) }).Wait()
}
