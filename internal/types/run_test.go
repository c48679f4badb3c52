package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusClassification(t *testing.T) {
	active := []RunStatus{
		RunStatusPending, RunStatusActive, RunStatusEvaluation,
		RunStatusRunning, RunStatusProcessing, RunStatusInitializing,
	}
	for _, s := range active {
		assert.True(t, s.IsActive(), "expected %q active", s)
		assert.False(t, s.IsTerminal(), "expected %q not terminal", s)
	}

	terminal := []RunStatus{
		RunStatusComplete, RunStatusFailed, RunStatusError,
		RunStatusCancelled, RunStatusTimeout, RunStatusPaused,
		RunStatusMaxIterations, RunStatusOutOfTokens,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %q terminal", s)
	}

	// Unknown statuses are terminal for polling-frequency purposes.
	assert.True(t, RunStatus("weird_new_state").IsTerminal())
}

func TestStatusClassificationCaseInsensitive(t *testing.T) {
	assert.True(t, RunStatus("ACTIVE").IsActive())
	assert.True(t, RunStatus("Running").IsActive())
	assert.True(t, RunStatus("  pending ").IsActive())
	assert.True(t, RunStatus("COMPLETE").IsTerminal())
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, RunStatusActive, NormalizeStatus("ACTIVE"))
	assert.Equal(t, RunStatusComplete, NormalizeStatus("  Complete "))
}

func TestClassifyTransitionsStatusChanges(t *testing.T) {
	testCases := []struct {
		name      string
		oldStatus RunStatus
		newStatus RunStatus
		hasParent bool
		want      []Transition
	}{
		{name: "active to complete", oldStatus: RunStatusActive, newStatus: RunStatusComplete, want: []Transition{TransitionCompleted}},
		{name: "active to failed", oldStatus: RunStatusActive, newStatus: RunStatusFailed, want: []Transition{TransitionFailed}},
		{name: "active to error counts as failed", oldStatus: RunStatusActive, newStatus: RunStatusError, want: []Transition{TransitionFailed}},
		{name: "active to paused", oldStatus: RunStatusActive, newStatus: RunStatusPaused, want: []Transition{TransitionPaused}},
		{name: "paused to active resumes", oldStatus: RunStatusPaused, newStatus: RunStatusActive, want: []Transition{TransitionResumed}},
		{name: "paused to running resumes", oldStatus: RunStatusPaused, newStatus: RunStatusRunning, want: []Transition{TransitionResumed}},
		{name: "no change", oldStatus: RunStatusActive, newStatus: RunStatusActive, want: nil},
		{name: "case-insensitive no change", oldStatus: RunStatus("ACTIVE"), newStatus: RunStatusActive, want: nil},
		{name: "non-distinguished change", oldStatus: RunStatusActive, newStatus: RunStatusCancelled, want: nil},
		{name: "timeout is not distinguished", oldStatus: RunStatusRunning, newStatus: RunStatusTimeout, want: nil},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyTransitions(tc.oldStatus, tc.newStatus, tc.hasParent)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyTransitionsFirstPollTerminal(t *testing.T) {
	// A run whose very first poll lands on a terminal status still
	// triggers the terminal event; the comparison is previous != new,
	// not "was previously active".
	got := ClassifyTransitions(RunStatusPending, RunStatusComplete, false)
	assert.Equal(t, []Transition{TransitionCompleted}, got)
}

func TestClassifyTransitionsParentRunReference(t *testing.T) {
	// Parent reference fires resume unconditionally, even with no
	// status change at all.
	got := ClassifyTransitions(RunStatusActive, RunStatusActive, true)
	assert.Equal(t, []Transition{TransitionResumed}, got)

	// It also stacks with distinguished status changes.
	got = ClassifyTransitions(RunStatusActive, RunStatusComplete, true)
	assert.Equal(t, []Transition{TransitionResumed, TransitionCompleted}, got)

	// Both resume triggers fire on the same poll; no deduplication.
	got = ClassifyTransitions(RunStatusPaused, RunStatusActive, true)
	assert.Equal(t, []Transition{TransitionResumed, TransitionResumed}, got)
}

func TestHasParentRun(t *testing.T) {
	assert.False(t, RunRecord{}.HasParentRun())
	assert.True(t, RunRecord{ParentRunId: "run-1"}.HasParentRun())
}
