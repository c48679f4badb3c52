package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentdeck/internal/cache"
	"agentdeck/internal/events"
	"agentdeck/internal/storage"
	"agentdeck/internal/types"
	"agentdeck/pkg/agentapi"
	apperrors "agentdeck/pkg/errors"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int
	fn    map[string]func(call int) (*types.RunRecord, error)
	gate  chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls: make(map[string]int),
		fn:    make(map[string]func(int) (*types.RunRecord, error)),
	}
}

func (f *fakeAPI) respond(runId string, fn func(call int) (*types.RunRecord, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn[runId] = fn
}

func (f *fakeAPI) respondStatus(runId, organizationId string, status types.RunStatus) {
	f.respond(runId, func(int) (*types.RunRecord, error) {
		return &types.RunRecord{Id: runId, OrganizationId: organizationId, Status: status}, nil
	})
}

func (f *fakeAPI) callCount(runId string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[runId]
}

func (f *fakeAPI) GetRun(_ context.Context, _, runId string) (*types.RunRecord, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls[runId]++
	call := f.calls[runId]
	fn := f.fn[runId]
	f.mu.Unlock()

	if fn == nil {
		return nil, apperrors.ErrRunNotFound
	}
	return fn(call)
}

func (f *fakeAPI) ListRuns(context.Context, string) ([]types.RunRecord, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) CreateRun(context.Context, string, agentapi.CreateRunRequest) (*types.RunRecord, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) ResumeRun(context.Context, string, string, agentapi.ResumeRunRequest) (*types.RunRecord, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAPI) StopRun(context.Context, string, string) (*types.RunRecord, error) {
	return nil, errors.New("not implemented")
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) listen(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(eventType events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newTestScheduler(t *testing.T, api *fakeAPI) (*Scheduler, *cache.Cache, *events.Bus, *testClock, *eventRecorder) {
	t.Helper()

	runCache := cache.New(storage.NewMemoryKV())
	bus := events.NewBus()
	clock := newTestClock()

	// A huge tick keeps the background loop quiet; tests drive tick()
	// directly against the fake clock.
	cfg := DefaultConfig()
	cfg.Tick = time.Hour

	s := New(api, runCache, bus, cfg)
	s.now = clock.Now
	t.Cleanup(s.Stop)

	recorder := &eventRecorder{}
	for _, eventType := range []events.EventType{
		events.EventRunUpdated, events.EventRunCompleted, events.EventRunFailed,
		events.EventRunPaused, events.EventRunResumed, events.EventError,
	} {
		bus.AddEventListener(eventType, recorder.listen)
	}

	return s, runCache, bus, clock, recorder
}

// tickAndWait runs one scheduler tick and waits for every launched
// poll to apply its result.
func tickAndWait(s *Scheduler) {
	s.tick(context.Background())
	s.pollWg.Wait()
}

func TestIntervalAdaptation(t *testing.T) {
	api := newFakeAPI()
	api.respondStatus("run-active", "org-7", types.RunStatusActive)
	api.respondStatus("run-done", "org-7", types.RunStatusComplete)

	s, _, _, clock, _ := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-active", types.RunStatusActive)
	s.TrackRun("org-7", "run-done", types.RunStatusComplete)

	// First tick polls both immediately (lastPolled starts at epoch).
	tickAndWait(s)
	assert.Equal(t, 1, api.callCount("run-active"))
	assert.Equal(t, 1, api.callCount("run-done"))

	// Within the active interval neither is due.
	clock.Advance(4 * time.Second)
	tickAndWait(s)
	assert.Equal(t, 1, api.callCount("run-active"))
	assert.Equal(t, 1, api.callCount("run-done"))

	// After 5s the active run is due again; the terminal one is not.
	clock.Advance(time.Second)
	tickAndWait(s)
	assert.Equal(t, 2, api.callCount("run-active"))
	assert.Equal(t, 1, api.callCount("run-done"))

	// Over a 29s window the active run accumulates polls at 5s cadence
	// while the terminal run still waits for its 30s interval.
	for clockElapsed := 5 * time.Second; clockElapsed < 29*time.Second; clockElapsed += time.Second {
		clock.Advance(time.Second)
		tickAndWait(s)
	}
	assert.Equal(t, 6, api.callCount("run-active"))
	assert.Equal(t, 1, api.callCount("run-done"))
}

func TestTrackRunIdempotent(t *testing.T) {
	api := newFakeAPI()
	api.respondStatus("run-1", "org-7", types.RunStatusActive)

	s, _, _, _, _ := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-1", types.RunStatusPending)
	s.TrackRun("org-7", "run-1", types.RunStatusActive)

	assert.Equal(t, []string{"run-1"}, s.TrackedRunIds())
	assert.True(t, s.IsTracking("run-1"))

	s.UntrackRun("run-1")
	assert.False(t, s.IsTracking("run-1"))
	assert.Empty(t, s.TrackedRunIds())

	// Untracking twice is fine.
	s.UntrackRun("run-1")
}

func TestBackoffAndRetryBudget(t *testing.T) {
	api := newFakeAPI()
	pollErr := apperrors.Wrap(apperrors.CodeAgentTransient, "agent request failed", errors.New("connection reset"))
	api.respond("run-1", func(int) (*types.RunRecord, error) {
		return nil, pollErr
	})

	s, _, _, clock, recorder := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-1", types.RunStatusActive)

	// First failure: backoff 2s (base * 2^0).
	tickAndWait(s)
	assert.Equal(t, 1, api.callCount("run-1"))
	assert.Equal(t, 1, recorder.count(events.EventError))
	assert.True(t, s.IsTracking("run-1"))

	// Not due again before the backoff elapses.
	clock.Advance(time.Second)
	tickAndWait(s)
	assert.Equal(t, 1, api.callCount("run-1"))

	// Second failure at +2s: backoff doubles to 4s.
	clock.Advance(time.Second)
	tickAndWait(s)
	assert.Equal(t, 2, api.callCount("run-1"))
	assert.True(t, s.IsTracking("run-1"))

	clock.Advance(3 * time.Second)
	tickAndWait(s)
	assert.Equal(t, 2, api.callCount("run-1"))

	// Third failure at +4s exhausts the budget; the run is untracked.
	clock.Advance(time.Second)
	tickAndWait(s)
	assert.Equal(t, 3, api.callCount("run-1"))
	assert.Equal(t, 3, recorder.count(events.EventError))
	assert.False(t, s.IsTracking("run-1"))

	// No further polls happen.
	clock.Advance(time.Minute)
	tickAndWait(s)
	assert.Equal(t, 3, api.callCount("run-1"))
}

func TestRetryCountResetsOnSuccess(t *testing.T) {
	api := newFakeAPI()
	api.respond("run-1", func(call int) (*types.RunRecord, error) {
		if call%2 == 1 {
			return nil, apperrors.ErrAgentTransient
		}
		return &types.RunRecord{Id: "run-1", OrganizationId: "org-7", Status: types.RunStatusActive}, nil
	})

	s, _, _, clock, _ := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-1", types.RunStatusActive)

	// fail, success, fail, success... never exhausts the budget.
	for i := 0; i < 8; i++ {
		tickAndWait(s)
		clock.Advance(5 * time.Second)
	}
	assert.True(t, s.IsTracking("run-1"))
}

func TestTerminalGraceWindow(t *testing.T) {
	api := newFakeAPI()
	api.respondStatus("run-1", "org-7", types.RunStatusComplete)

	s, runCache, _, clock, _ := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-1", types.RunStatusActive)

	tickAndWait(s)
	require.True(t, s.IsTracking("run-1"), "run stays tracked through the grace window")

	// Still tracked just before the grace window closes.
	clock.Advance(29 * time.Second)
	tickAndWait(s)
	assert.True(t, s.IsTracking("run-1"))

	// One full terminal interval after the terminal poll, the run is
	// retired. The cache keeps the final snapshot.
	clock.Advance(time.Second)
	tickAndWait(s)
	assert.False(t, s.IsTracking("run-1"))

	records := runCache.GetEntities("org-7")
	require.Len(t, records, 1)
	assert.Equal(t, types.RunStatusComplete, records[0].Status)
}

func TestMonitorScenario(t *testing.T) {
	// Track run 42 in org 7 with initial status PAUSED. First poll
	// returns ACTIVE with no parent reference, second returns COMPLETE.
	api := newFakeAPI()
	api.respond("run-42", func(call int) (*types.RunRecord, error) {
		status := types.RunStatusActive
		if call > 1 {
			status = types.RunStatusComplete
		}
		return &types.RunRecord{Id: "run-42", OrganizationId: "org-7", Status: status}, nil
	})

	s, runCache, _, clock, recorder := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-42", types.RunStatus("PAUSED"))

	tickAndWait(s)
	assert.Equal(t, 1, recorder.count(events.EventRunResumed), "paused to active emits resumed")
	assert.Equal(t, 1, recorder.count(events.EventRunUpdated))

	records := runCache.GetEntities("org-7")
	require.Len(t, records, 1)
	assert.Equal(t, types.RunStatusActive, records[0].Status)

	recorder.reset()
	clock.Advance(5 * time.Second)
	tickAndWait(s)
	assert.Equal(t, 1, recorder.count(events.EventRunCompleted))
	assert.Equal(t, 1, recorder.count(events.EventRunUpdated))
	assert.True(t, s.IsTracking("run-42"), "run remains tracked during the grace window")

	clock.Advance(30 * time.Second)
	tickAndWait(s)
	assert.False(t, s.IsTracking("run-42"))

	records = runCache.GetEntities("org-7")
	require.Len(t, records, 1)
	assert.Equal(t, types.RunStatusComplete, records[0].Status)
}

func TestParentReferenceEmitsResumedOnEveryPoll(t *testing.T) {
	api := newFakeAPI()
	api.respond("run-43", func(int) (*types.RunRecord, error) {
		return &types.RunRecord{
			Id:             "run-43",
			OrganizationId: "org-7",
			Status:         types.RunStatusActive,
			ParentRunId:    "run-42",
		}, nil
	})

	s, _, _, clock, recorder := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-43", types.RunStatusActive)

	tickAndWait(s)
	clock.Advance(5 * time.Second)
	tickAndWait(s)

	// The parent reference fires resumed on each poll even though the
	// status never changed; this redundancy is intentional.
	assert.Equal(t, 2, recorder.count(events.EventRunResumed))
	assert.Equal(t, 2, recorder.count(events.EventRunUpdated))
}

func TestListenerReadsFreshCache(t *testing.T) {
	api := newFakeAPI()
	api.respondStatus("run-1", "org-7", types.RunStatusActive)

	s, runCache, _, _, _ := newTestScheduler(t, api)

	var observed types.RunStatus
	s.AddEventListener(events.EventRunUpdated, func(e events.Event) {
		records := runCache.GetEntities(e.OrganizationId)
		for _, r := range records {
			if r.Id == e.RunId {
				observed = r.Status
			}
		}
	})

	s.TrackRun("org-7", "run-1", types.RunStatusPending)
	tickAndWait(s)

	// The cache write happens before the event, so the listener sees
	// the just-applied status, never a stale value.
	assert.Equal(t, types.RunStatusActive, observed)
}

func TestStopClearsTrackedRunsAndIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	api.respondStatus("run-1", "org-7", types.RunStatusActive)

	s, _, _, _, _ := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-1", types.RunStatusActive)
	assert.True(t, s.IsTracking("run-1"))

	s.Stop()
	assert.False(t, s.IsTracking("run-1"))
	assert.Empty(t, s.TrackedRunIds())

	s.Stop()

	// Start after stop works again.
	s.Start()
	s.Start()
	s.Stop()
}

func TestLatePollResultDiscardedAfterUntrack(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	api.respondStatus("run-1", "org-7", types.RunStatusActive)

	s, runCache, _, _, recorder := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-1", types.RunStatusActive)

	// Launch the poll; it blocks inside the fake API.
	s.tick(context.Background())

	// The run disappears while the fetch is in flight.
	s.UntrackRun("run-1")

	close(api.gate)
	s.pollWg.Wait()

	// The completed poll must not resurrect state.
	assert.Empty(t, runCache.GetEntities("org-7"))
	assert.Zero(t, recorder.count(events.EventRunUpdated))
	assert.False(t, s.IsTracking("run-1"))
}

func TestInFlightRunNotReselectedBySubsequentTick(t *testing.T) {
	api := newFakeAPI()
	api.gate = make(chan struct{})
	api.respondStatus("run-1", "org-7", types.RunStatusActive)

	s, _, _, _, _ := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-1", types.RunStatusActive)

	s.tick(context.Background())
	s.tick(context.Background()) // must not launch a second poll

	close(api.gate)
	s.pollWg.Wait()

	assert.Equal(t, 1, api.callCount("run-1"))
}

func TestUnknownStatusPolledAtTerminalInterval(t *testing.T) {
	api := newFakeAPI()
	api.respondStatus("run-1", "org-7", types.RunStatus("mystery_state"))

	s, _, _, clock, _ := newTestScheduler(t, api)
	s.TrackRun("org-7", "run-1", types.RunStatusActive)

	tickAndWait(s)
	assert.Equal(t, 1, api.callCount("run-1"))

	clock.Advance(5 * time.Second)
	tickAndWait(s)
	assert.Equal(t, 1, api.callCount("run-1"), "unknown status uses the terminal interval")
}
