// Package queue provides task handlers for Asynq background processing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"agentdeck/internal/syncer"
	"agentdeck/log"
)

// TaskHandlers provides handlers for different task types
type TaskHandlers struct {
	syncer *syncer.Syncer
}

// NewTaskHandlers creates a new TaskHandlers instance
func NewTaskHandlers(s *syncer.Syncer) *TaskHandlers {
	return &TaskHandlers{syncer: s}
}

// HandleOrgSync reconciles one organization's cached runs. Returning
// an error hands the task back to Asynq for a delayed retry.
func (h *TaskHandlers) HandleOrgSync(ctx context.Context, t *asynq.Task) error {
	var payload OrgSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	log.GetLogger().Info("[Queue] Processing org sync task",
		zap.String("organization_id", payload.OrganizationID))

	if _, err := h.syncer.SyncOrganization(ctx, payload.OrganizationID); err != nil {
		return err
	}

	log.GetLogger().Info("[Queue] Org sync task completed",
		zap.String("organization_id", payload.OrganizationID))

	return nil
}

// RegisterHandlers registers all task handlers with the Asynq server mux
func (h *TaskHandlers) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeOrgSync, h.HandleOrgSync)
}

// StartWorker starts the Asynq worker with registered handlers
func StartWorker(q *Queue, s *syncer.Syncer) error {
	handlers := NewTaskHandlers(s)

	mux := asynq.NewServeMux()
	handlers.RegisterHandlers(mux)

	log.GetLogger().Info("[Queue] Starting worker",
		zap.String("redis_addr", q.config.RedisAddr),
		zap.Int("concurrency", q.config.Concurrency))

	return q.server.Run(mux)
}
