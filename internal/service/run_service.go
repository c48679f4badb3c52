package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentdeck/internal/cache"
	"agentdeck/internal/dto"
	"agentdeck/internal/events"
	"agentdeck/internal/types"
	"agentdeck/log"
	"agentdeck/pkg/agentapi"
	apperrors "agentdeck/pkg/errors"
	"agentdeck/pkg/githubsearch"
	"agentdeck/pkg/npmsearch"
)

// CreateRun starts a remote run, caches its first representation and
// puts it under monitoring. The idempotency key guards against the
// dashboard double-submitting on a flaky connection.
func (s *Service) CreateRun(ctx context.Context, organizationId string, req dto.CreateRunReq) (*types.RunRecord, error) {
	run, err := s.API.CreateRun(ctx, organizationId, agentapi.CreateRunRequest{
		Title:          req.Title,
		Prompt:         req.Prompt,
		Repository:     req.Repository,
		Branch:         req.Branch,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRunCreateFailed, "create run failed", err)
	}

	if err := s.Cache.UpsertEntity(organizationId, *run); err != nil {
		log.GetLogger().Error("[Service] cache write after create failed",
			zap.String("run_id", run.Id), zap.Error(err))
	}
	s.Monitor.TrackRun(organizationId, run.Id, run.Status)
	s.Bus.Publish(events.Event{
		Type:           events.EventRunCreated,
		Run:            run,
		RunId:          run.Id,
		OrganizationId: organizationId,
	})

	return run, nil
}

// GetRun fetches the live representation and refreshes the cache. A
// 404 is authoritative: the cached record is dropped and monitoring
// stops.
func (s *Service) GetRun(ctx context.Context, organizationId, runId string) (*types.RunRecord, error) {
	run, err := s.API.GetRun(ctx, organizationId, runId)
	if err != nil {
		if apperrors.IsRunNotFound(err) {
			s.Monitor.UntrackRun(runId)
			if removeErr := s.Cache.RemoveEntity(organizationId, runId); removeErr != nil {
				log.GetLogger().Error("[Service] cache remove failed",
					zap.String("run_id", runId), zap.Error(removeErr))
			}
		}
		return nil, err
	}

	if err := s.Cache.UpsertEntity(organizationId, *run); err != nil {
		log.GetLogger().Error("[Service] cache write failed",
			zap.String("run_id", runId), zap.Error(err))
	}
	return run, nil
}

// ListRuns serves the cached collection; it never touches the network.
func (s *Service) ListRuns(organizationId string) dto.ListRunsResData {
	return dto.ListRunsResData{
		Runs:      s.Cache.GetEntities(organizationId),
		SyncState: s.Cache.GetSyncState(organizationId),
	}
}

// ResumeRun asks the service to continue a run. The answer is a new
// child run which is cached and monitored like any other.
func (s *Service) ResumeRun(ctx context.Context, organizationId, runId string, req dto.ResumeRunReq) (*types.RunRecord, error) {
	child, err := s.API.ResumeRun(ctx, organizationId, runId, agentapi.ResumeRunRequest{Prompt: req.Prompt})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRunResumeFailed, "resume run failed", err)
	}

	if err := s.Cache.UpsertEntity(organizationId, *child); err != nil {
		log.GetLogger().Error("[Service] cache write after resume failed",
			zap.String("run_id", child.Id), zap.Error(err))
	}
	s.Monitor.TrackRun(organizationId, child.Id, child.Status)
	return child, nil
}

// StopRun cancels a run remotely. It stays monitored; the next poll
// observes the terminal status and emits the lifecycle events.
func (s *Service) StopRun(ctx context.Context, organizationId, runId string) (*types.RunRecord, error) {
	run, err := s.API.StopRun(ctx, organizationId, runId)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRunStopFailed, "stop run failed", err)
	}

	if err := s.Cache.UpsertEntity(organizationId, *run); err != nil {
		log.GetLogger().Error("[Service] cache write after stop failed",
			zap.String("run_id", runId), zap.Error(err))
	}
	return run, nil
}

// DeleteRun removes a run from the local cache and stops monitoring
// it. The remote run is untouched.
func (s *Service) DeleteRun(organizationId, runId string) error {
	s.Monitor.UntrackRun(runId)
	return s.Cache.RemoveEntity(organizationId, runId)
}

// SyncOrganization reconciles the cached collection and reports the
// resulting sync state. With the queue enabled the work is handed to a
// background worker and the state reflects the still-pending sync.
func (s *Service) SyncOrganization(ctx context.Context, organizationId string) (cache.SyncState, error) {
	if s.Queue != nil {
		if err := s.Queue.EnqueueOrgSync(organizationId); err != nil {
			return s.Cache.GetSyncState(organizationId), err
		}
		return s.Cache.GetSyncState(organizationId), nil
	}
	return s.Syncer.SyncOrganization(ctx, organizationId)
}

// SyncState returns the organization's last reconciliation outcome.
func (s *Service) SyncState(organizationId string) cache.SyncState {
	return s.Cache.GetSyncState(organizationId)
}

// SearchGithub proxies the repository search.
func (s *Service) SearchGithub(ctx context.Context, req dto.GithubSearchReq) (*githubsearch.SearchResult, error) {
	return s.Github.SearchRepositories(ctx, req.Query, githubsearch.SearchOptions{
		Sort:    req.Sort,
		Order:   req.Order,
		Page:    req.Page,
		PerPage: req.PerPage,
	})
}

// SearchNpm proxies the package search.
func (s *Service) SearchNpm(ctx context.Context, req dto.NpmSearchReq) ([]npmsearch.Package, error) {
	return s.Npm.Search(ctx, req.Query, npmsearch.SearchOptions{
		MaxPages: req.MaxPages,
		SortBy:   npmsearch.SortBy(req.SortBy),
	})
}
