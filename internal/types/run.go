// Package types holds the run data model and the lifecycle
// classification tables used by the monitor and cache layers.
package types

import (
	"strings"
	"time"
)

// RunStatus is the normalized (lowercase) status of a remote agent run.
type RunStatus string

const (
	// Active statuses: the run is still making progress and needs
	// frequent polling. "running", "processing" and "initializing" are
	// provider synonyms for the canonical trio.
	RunStatusPending      RunStatus = "pending"
	RunStatusActive       RunStatus = "active"
	RunStatusEvaluation   RunStatus = "evaluation"
	RunStatusRunning      RunStatus = "running"
	RunStatusProcessing   RunStatus = "processing"
	RunStatusInitializing RunStatus = "initializing"

	// Terminal statuses: the run will not progress without external action.
	RunStatusComplete      RunStatus = "complete"
	RunStatusFailed        RunStatus = "failed"
	RunStatusError         RunStatus = "error"
	RunStatusCancelled     RunStatus = "cancelled"
	RunStatusTimeout       RunStatus = "timeout"
	RunStatusPaused        RunStatus = "paused"
	RunStatusMaxIterations RunStatus = "max_iterations_reached"
	RunStatusOutOfTokens   RunStatus = "out_of_tokens"
)

// activeStatuses is the single source of truth for the active/terminal
// partition. Unknown statuses are treated as terminal.
var activeStatuses = map[RunStatus]struct{}{
	RunStatusPending:      {},
	RunStatusActive:       {},
	RunStatusEvaluation:   {},
	RunStatusRunning:      {},
	RunStatusProcessing:   {},
	RunStatusInitializing: {},
}

// NormalizeStatus lowercases and trims a raw provider status string.
func NormalizeStatus(raw string) RunStatus {
	return RunStatus(strings.ToLower(strings.TrimSpace(raw)))
}

// IsActive reports whether the status requires frequent polling.
func (s RunStatus) IsActive() bool {
	_, ok := activeStatuses[NormalizeStatus(string(s))]
	return ok
}

// IsTerminal reports whether the status belongs to the terminal set.
// Everything outside the active set, including unknown statuses, counts
// as terminal for polling-frequency purposes.
func (s RunStatus) IsTerminal() bool {
	return !s.IsActive()
}

// RunRecord is the full representation of a remote agent run as last
// fetched from the agent API.
type RunRecord struct {
	Id             string    `json:"id"`
	OrganizationId string    `json:"organization_id"`
	Status         RunStatus `json:"status"`
	Title          string    `json:"title,omitempty"`
	Prompt         string    `json:"prompt,omitempty"`
	Repository     string    `json:"repository,omitempty"`
	Branch         string    `json:"branch,omitempty"`
	ParentRunId    string    `json:"parent_run_id,omitempty"`
	Output         string    `json:"output,omitempty"`
	FailReason     string    `json:"fail_reason,omitempty"`
	CreateTime     time.Time `json:"create_time"`
	UpdateTime     time.Time `json:"update_time"`
}

// HasParentRun reports whether the record references the run it was
// resumed from.
func (r RunRecord) HasParentRun() bool {
	return r.ParentRunId != ""
}

// Transition is a distinguished lifecycle change detected between two
// consecutive polls of the same run.
type Transition uint8

const (
	TransitionNone Transition = iota
	TransitionCompleted
	TransitionFailed
	TransitionPaused
	TransitionResumed
)

func (t Transition) String() string {
	switch t {
	case TransitionCompleted:
		return "completed"
	case TransitionFailed:
		return "failed"
	case TransitionPaused:
		return "paused"
	case TransitionResumed:
		return "resumed"
	default:
		return "none"
	}
}

// ClassifyTransitions returns the lifecycle transitions triggered by a
// poll that observed newStatus after oldStatus, with hasParentRun set
// when the fetched record references a parent run.
//
// A parent-run reference triggers a resume on every poll that carries
// it, independent of any status change, and the paused-to-active path
// triggers a resume of its own. The two triggers are intentionally not
// deduplicated, so a single poll can yield two resume transitions.
func ClassifyTransitions(oldStatus, newStatus RunStatus, hasParentRun bool) []Transition {
	var transitions []Transition

	if hasParentRun {
		transitions = append(transitions, TransitionResumed)
	}

	oldNorm := NormalizeStatus(string(oldStatus))
	newNorm := NormalizeStatus(string(newStatus))
	if oldNorm == newNorm {
		return transitions
	}

	switch {
	case newNorm == RunStatusComplete:
		transitions = append(transitions, TransitionCompleted)
	case newNorm == RunStatusFailed || newNorm == RunStatusError:
		transitions = append(transitions, TransitionFailed)
	case newNorm == RunStatusPaused:
		transitions = append(transitions, TransitionPaused)
	case oldNorm == RunStatusPaused && newNorm.IsActive():
		transitions = append(transitions, TransitionResumed)
	}

	return transitions
}
