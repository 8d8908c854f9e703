// Package workflow defines the staterail domain model: workflow definitions,
// runs, step runs and the append-only run event log.
package workflow

import (
	"time"

	"github.com/staterail/staterail/pkg/errors"
)

// StepKind identifies how a workflow step executes.
type StepKind string

const (
	// StepKindHTTP issues an outbound HTTP request.
	StepKindHTTP StepKind = "http"
	// StepKindDelay sleeps for a configured number of seconds.
	StepKindDelay StepKind = "delay"
	// StepKindManual waits for a human to complete the step.
	StepKindManual StepKind = "manual"
)

// Valid reports whether the kind is one of the known step kinds.
func (k StepKind) Valid() bool {
	switch k {
	case StepKindHTTP, StepKindDelay, StepKindManual:
		return true
	}
	return false
}

// Status represents the lifecycle status of a run or step run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is absorbing. A run or step run in a
// terminal status never transitions again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// EventType classifies a run event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStepStarted   EventType = "step_started"
	EventStepSucceeded EventType = "step_succeeded"
	EventStepFailed    EventType = "step_failed"
	EventRunSucceeded  EventType = "run_succeeded"
	EventRunFailed     EventType = "run_failed"
)

// StepConfig holds the kind-dependent configuration of a step. It is stored
// as an opaque JSON blob; fields not used by a kind are ignored.
type StepConfig struct {
	// URL is the request target for http steps. Required at execution time.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Method is the HTTP method for http steps. Defaults to GET.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Seconds is the sleep duration for delay steps. Nil means the default
	// of 1 second; zero is a valid, essentially-immediate delay.
	Seconds *float64 `json:"seconds,omitempty" yaml:"seconds,omitempty"`
}

// DelaySeconds returns the configured delay, applying the default of 1.
func (c StepConfig) DelaySeconds() float64 {
	if c.Seconds == nil {
		return 1
	}
	return *c.Seconds
}

// Step is one entry in a workflow's ordered step sequence.
type Step struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Name       string     `json:"name"`
	Kind       StepKind   `json:"kind"`
	Config     StepConfig `json:"config"`
	Order      int        `json:"order"`
}

// Validate checks the structural fields of a step definition. Kind-dependent
// config problems (e.g. a missing URL) are surfaced at execution time, so a
// run records a step failure rather than the definition being rejected.
func (s *Step) Validate() error {
	if s.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "step name cannot be empty"}
	}
	if !s.Kind.Valid() {
		return &errors.ValidationError{
			Field:      "kind",
			Message:    "unknown step kind: " + string(s.Kind),
			Suggestion: "use one of: http, delay, manual",
		}
	}
	if s.Order < 0 {
		return &errors.ValidationError{Field: "order", Message: "step order must be non-negative"}
	}
	return nil
}

// Workflow is a named, versionless template describing an ordered sequence
// of steps. The step sequence is rewritten wholesale on edit.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Steps       []Step    `json:"steps"`
}

// Run is a single execution instance of a workflow.
type Run struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StepRun is the execution state of one step within a run. It references the
// step definition by ID snapshot, so workflow edits never affect live runs.
type StepRun struct {
	ID             string     `json:"id"`
	WorkflowRunID  string     `json:"workflow_run_id"`
	WorkflowStepID string     `json:"workflow_step_id"`
	Status         Status     `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Event is an immutable record of one state transition in a run. StepRunID is
// empty for run-scoped events. The sequence of events for a run, in creation
// order, reconstructs its full causal history.
type Event struct {
	ID            string    `json:"id"`
	WorkflowRunID string    `json:"workflow_run_id"`
	StepRunID     string    `json:"step_run_id,omitempty"`
	Type          EventType `json:"type"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunDetail is a point-in-time snapshot of a run together with its step runs
// and event history. Subscribers receive these; each snapshot reflects the
// latest persisted state, not a delta.
type RunDetail struct {
	Run      Run       `json:"run"`
	StepRuns []StepRun `json:"step_runs"`
	Events   []Event   `json:"events"`
}
