// Package syncer reconciles the cached run collection of an
// organization against the remote agent service. It is failure
// tolerant: a run the service no longer knows is dropped, while a run
// that merely failed to fetch keeps its stale cached snapshot.
package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agentdeck/internal/cache"
	"agentdeck/internal/types"
	"agentdeck/log"
	"agentdeck/pkg/agentapi"
	apperrors "agentdeck/pkg/errors"
)

const defaultFetchLimit = 8

// Syncer refreshes cached runs by re-fetching each one from the
// remote service.
type Syncer struct {
	api   agentapi.API
	cache *cache.Cache

	fetchLimit int
	now        func() time.Time
}

func New(api agentapi.API, runCache *cache.Cache) *Syncer {
	return &Syncer{
		api:        api,
		cache:      runCache,
		fetchLimit: defaultFetchLimit,
		now:        time.Now,
	}
}

// fetchOutcome is the per-run result slot filled by the parallel
// fetches. Exactly one of record/drop/stale applies.
type fetchOutcome struct {
	record *types.RunRecord
	drop   bool
	stale  bool
}

// SyncOrganization re-fetches every cached run of the organization,
// replaces the collection atomically and returns the resulting sync
// state. Per-run fetch failures never fail the sync; only an inability
// to persist the result does.
func (s *Syncer) SyncOrganization(ctx context.Context, organizationId string) (cache.SyncState, error) {
	previous := s.cache.GetSyncState(organizationId)
	if err := s.cache.SetSyncState(organizationId, cache.SyncState{
		Status:   cache.SyncStatusSyncing,
		LastSync: previous.LastSync,
	}); err != nil {
		return s.fail(organizationId, previous.LastSync, err)
	}

	cached := s.cache.GetEntities(organizationId)
	if len(cached) == 0 {
		return s.succeed(organizationId, previous.LastSync)
	}

	outcomes := make([]fetchOutcome, len(cached))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for i := range cached {
		i := i
		stale := cached[i]
		g.Go(func() error {
			record, err := s.api.GetRun(gctx, organizationId, stale.Id)
			switch {
			case err == nil:
				outcomes[i] = fetchOutcome{record: record}
			case apperrors.IsRunNotFound(err):
				log.GetLogger().Info("[Syncer] run gone upstream, dropping",
					zap.String("organization_id", organizationId),
					zap.String("run_id", stale.Id))
				outcomes[i] = fetchOutcome{drop: true}
			default:
				log.GetLogger().Warn("[Syncer] fetch failed, keeping stale record",
					zap.String("organization_id", organizationId),
					zap.String("run_id", stale.Id),
					zap.Error(err))
				outcomes[i] = fetchOutcome{stale: true}
			}
			return nil
		})
	}
	// Workers never return errors; Wait only orders the outcome writes.
	_ = g.Wait()

	reconciled := make([]types.RunRecord, 0, len(cached))
	for i, outcome := range outcomes {
		switch {
		case outcome.drop:
		case outcome.stale:
			reconciled = append(reconciled, cached[i])
		default:
			reconciled = append(reconciled, *outcome.record)
		}
	}

	if err := s.cache.SetEntities(organizationId, reconciled); err != nil {
		return s.fail(organizationId, previous.LastSync, err)
	}
	return s.succeed(organizationId, previous.LastSync)
}

func (s *Syncer) succeed(organizationId string, priorLastSync time.Time) (cache.SyncState, error) {
	state := cache.SyncState{
		Status:   cache.SyncStatusSuccess,
		LastSync: s.now(),
	}
	if err := s.cache.SetSyncState(organizationId, state); err != nil {
		return s.fail(organizationId, priorLastSync, err)
	}
	return state, nil
}

func (s *Syncer) fail(organizationId string, lastSync time.Time, cause error) (cache.SyncState, error) {
	wrapped := apperrors.Wrap(apperrors.CodeSyncFailed, "organization sync failed", cause)
	state := cache.SyncState{
		Status:   cache.SyncStatusError,
		LastSync: lastSync,
		Error:    wrapped.Error(),
	}
	if err := s.cache.SetSyncState(organizationId, state); err != nil {
		log.GetLogger().Error("[Syncer] failed to record sync error",
			zap.String("organization_id", organizationId),
			zap.Error(err))
	}
	return state, wrapped
}
