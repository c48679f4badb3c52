// Package monitor tracks an open set of remote agent runs and keeps
// the local cache converged with the remote source of truth. Each
// tracked run is polled at an interval that adapts to its lifecycle
// phase; results flow into the cache and out through the event bus.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentdeck/internal/cache"
	"agentdeck/internal/events"
	"agentdeck/internal/types"
	"agentdeck/log"
	"agentdeck/pkg/agentapi"
)

const (
	defaultTick             = time.Second
	defaultActiveInterval   = 5 * time.Second
	defaultTerminalInterval = 30 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBaseDelay   = 2 * time.Second
)

// Config controls polling cadence and the retry budget.
type Config struct {
	Tick             time.Duration
	ActiveInterval   time.Duration
	TerminalInterval time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
}

// DefaultConfig returns the reference polling cadence.
func DefaultConfig() Config {
	return Config{
		Tick:             defaultTick,
		ActiveInterval:   defaultActiveInterval,
		TerminalInterval: defaultTerminalInterval,
		MaxRetries:       defaultMaxRetries,
		RetryBaseDelay:   defaultRetryBaseDelay,
	}
}

func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = defaults.Tick
	}
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = defaults.ActiveInterval
	}
	if cfg.TerminalInterval <= 0 {
		cfg.TerminalInterval = defaults.TerminalInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	return cfg
}

// trackedRun is the scheduler-owned state for one monitored run. At
// most one entry exists per run id; the generation counter lets a poll
// that outlives untrack/retrack discard its result.
type trackedRun struct {
	id             string
	organizationId string
	status         types.RunStatus
	lastPolled     time.Time
	nextPollAt     time.Time
	retryCount     int
	removeAt       time.Time
	inFlight       bool
	generation     uint64
}

type pollRequest struct {
	id             string
	organizationId string
	generation     uint64
}

// Scheduler polls tracked runs on a fixed tick, writes fresh
// representations into the cache and publishes lifecycle events. It is
// a single-process, best-effort synchronizer: no cross-tab or
// cross-process coordination, no durable event queue.
type Scheduler struct {
	api    agentapi.API
	cache  *cache.Cache
	bus    *events.Bus
	config Config

	mu         sync.Mutex
	runs       map[string]*trackedRun
	started    bool
	cancel     context.CancelFunc
	ctx        context.Context
	generation uint64

	loopWg sync.WaitGroup
	pollWg sync.WaitGroup

	now func() time.Time
}

func New(api agentapi.API, runCache *cache.Cache, bus *events.Bus, cfg Config) *Scheduler {
	return &Scheduler{
		api:    api,
		cache:  runCache,
		bus:    bus,
		config: normalizeConfig(cfg),
		runs:   make(map[string]*trackedRun),
		now:    time.Now,
	}
}

// Start begins the periodic tick. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	if s.started {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	s.started = true

	s.loopWg.Add(1)
	go s.loop(ctx)

	log.GetLogger().Info("[Monitor] scheduler started",
		zap.Duration("tick", s.config.Tick),
		zap.Duration("active_interval", s.config.ActiveInterval),
		zap.Duration("terminal_interval", s.config.TerminalInterval))
}

// Stop cancels the tick and clears all tracked runs. In-flight polls
// are not force-cancelled; their results are discarded because the
// runs they belong to are no longer tracked. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.runs = make(map[string]*trackedRun)
	s.mu.Unlock()

	s.loopWg.Wait()
	log.GetLogger().Info("[Monitor] scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWg.Done()

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// TrackRun inserts (or resets) a tracked run. lastPolled starts at the
// epoch so the run is polled on the very next tick. Auto-starts the
// scheduler when idle.
func (s *Scheduler) TrackRun(organizationId, runId string, initialStatus types.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.runs[runId] = &trackedRun{
		id:             runId,
		organizationId: organizationId,
		status:         types.NormalizeStatus(string(initialStatus)),
		generation:     s.generation,
	}
	s.startLocked()

	log.GetLogger().Debug("[Monitor] tracking run",
		zap.String("run_id", runId),
		zap.String("organization_id", organizationId),
		zap.String("initial_status", string(initialStatus)))
}

// UntrackRun removes a run from monitoring. Idempotent.
func (s *Scheduler) UntrackRun(runId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runId)
}

// IsTracking reports whether the run is currently monitored.
func (s *Scheduler) IsTracking(runId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[runId]
	return ok
}

// AddEventListener subscribes to the scheduler's lifecycle events.
// Delegates to the underlying bus so observers holding only the
// scheduler need no second reference.
func (s *Scheduler) AddEventListener(eventType events.EventType, fn events.Listener) events.Subscription {
	return s.bus.AddEventListener(eventType, fn)
}

// RemoveEventListener unsubscribes a listener registered through
// AddEventListener.
func (s *Scheduler) RemoveEventListener(sub events.Subscription) {
	s.bus.RemoveEventListener(sub)
}

// TrackedRunIds returns the ids of all currently tracked runs, sorted.
func (s *Scheduler) TrackedRunIds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// tick retires runs whose grace window elapsed and launches a poll for
// every due run. The scan itself never interleaves with another tick;
// only the polls run concurrently.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []pollRequest
	for id, run := range s.runs {
		if !run.removeAt.IsZero() && !now.Before(run.removeAt) {
			delete(s.runs, id)
			log.GetLogger().Debug("[Monitor] terminal grace elapsed, untracking",
				zap.String("run_id", id))
			continue
		}
		if run.inFlight || now.Before(run.nextPollAt) {
			continue
		}
		run.inFlight = true
		due = append(due, pollRequest{id: id, organizationId: run.organizationId, generation: run.generation})
	}
	s.mu.Unlock()

	for _, req := range due {
		req := req
		s.pollWg.Add(1)
		go func() {
			defer s.pollWg.Done()
			s.poll(ctx, req)
		}()
	}
}

func (s *Scheduler) poll(ctx context.Context, req pollRequest) {
	record, err := s.api.GetRun(ctx, req.organizationId, req.id)
	if err != nil {
		s.applyFailure(req, err)
		return
	}
	s.applySuccess(req, record)
}

// applySuccess folds a successful poll back into tracked state, writes
// the cache and then emits events. The cache write strictly precedes
// event emission so a listener reading the cache always observes at
// least this poll's data.
func (s *Scheduler) applySuccess(req pollRequest, record *types.RunRecord) {
	now := s.now()

	s.mu.Lock()
	run, ok := s.runs[req.id]
	if !ok || run.generation != req.generation {
		// Untracked (or re-tracked) while the fetch was in flight.
		s.mu.Unlock()
		return
	}

	previousStatus := run.status
	run.inFlight = false
	run.retryCount = 0
	run.lastPolled = now
	run.status = record.Status

	if record.Status.IsActive() {
		run.nextPollAt = now.Add(s.config.ActiveInterval)
		run.removeAt = time.Time{}
	} else {
		run.nextPollAt = now.Add(s.config.TerminalInterval)
		if run.removeAt.IsZero() {
			// Grace window: keep the run tracked for one more
			// terminal interval so slow observers can still read the
			// final state through the cache.
			run.removeAt = now.Add(s.config.TerminalInterval)
		}
	}
	s.mu.Unlock()

	if err := s.cache.UpsertEntity(req.organizationId, *record); err != nil {
		log.GetLogger().Error("[Monitor] cache write failed",
			zap.String("run_id", req.id),
			zap.Error(err))
	}

	s.publish(events.EventRunUpdated, record)
	for _, transition := range types.ClassifyTransitions(previousStatus, record.Status, record.HasParentRun()) {
		switch transition {
		case types.TransitionCompleted:
			s.publish(events.EventRunCompleted, record)
		case types.TransitionFailed:
			s.publish(events.EventRunFailed, record)
		case types.TransitionPaused:
			s.publish(events.EventRunPaused, record)
		case types.TransitionResumed:
			s.publish(events.EventRunResumed, record)
		}
	}
}

// applyFailure counts the failed attempt, schedules the exponential
// backoff or untracks the run once the retry budget is spent, and
// emits an Error event. Poll failures never propagate as errors; the
// cache keeps the last good snapshot.
func (s *Scheduler) applyFailure(req pollRequest, pollErr error) {
	now := s.now()

	s.mu.Lock()
	run, ok := s.runs[req.id]
	if !ok || run.generation != req.generation {
		s.mu.Unlock()
		return
	}

	run.inFlight = false
	run.retryCount++
	run.lastPolled = now
	retryCount := run.retryCount

	exhausted := retryCount >= s.config.MaxRetries
	if exhausted {
		delete(s.runs, req.id)
	} else {
		backoff := s.config.RetryBaseDelay << uint(retryCount-1)
		run.nextPollAt = now.Add(backoff)
	}
	s.mu.Unlock()

	if exhausted {
		log.GetLogger().Warn("[Monitor] retry budget exhausted, untracking run",
			zap.String("run_id", req.id),
			zap.String("organization_id", req.organizationId),
			zap.Int("retries", retryCount),
			zap.Error(pollErr))
	} else {
		log.GetLogger().Debug("[Monitor] poll failed, backing off",
			zap.String("run_id", req.id),
			zap.Int("retry_count", retryCount),
			zap.Error(pollErr))
	}

	s.bus.Publish(events.Event{
		Type:           events.EventError,
		RunId:          req.id,
		OrganizationId: req.organizationId,
		Err:            pollErr,
		Timestamp:      now,
	})
}

func (s *Scheduler) publish(eventType events.EventType, record *types.RunRecord) {
	s.bus.Publish(events.Event{
		Type:           eventType,
		Run:            record,
		RunId:          record.Id,
		OrganizationId: record.OrganizationId,
		Timestamp:      s.now(),
	})
}
