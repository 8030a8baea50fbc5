package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a convergence run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but nothing was applied yet.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently applying resources.
	RunStatusRunning RunStatus = "running"

	// RunStatusConverged indicates every resource reached its desired state.
	RunStatusConverged RunStatus = "converged"

	// RunStatusFailed indicates the run stopped at a failing resource.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was interrupted by the operator.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusConverged || s == RunStatusFailed || s == RunStatusCancelled
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusConverged,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// ResourceState is the per-resource convergence state.
//
//	pending -> applying -> converged
//	pending -> applying -> failed
//
// A resource that was never reached because an earlier one failed stays pending.
type ResourceState string

const (
	ResourceStatePending   ResourceState = "pending"
	ResourceStateApplying  ResourceState = "applying"
	ResourceStateConverged ResourceState = "converged"
	ResourceStateFailed    ResourceState = "failed"
)

// IsTerminal returns true if no further transition is possible.
func (s ResourceState) IsTerminal() bool {
	return s == ResourceStateConverged || s == ResourceStateFailed
}

// Validate checks if the resource state is valid.
func (s ResourceState) Validate() error {
	switch s {
	case ResourceStatePending, ResourceStateApplying, ResourceStateConverged, ResourceStateFailed:
		return nil
	default:
		return fmt.Errorf("invalid resource state: %s", s)
	}
}

// CanTransition reports whether moving from s to next is legal.
func (s ResourceState) CanTransition(next ResourceState) bool {
	switch s {
	case ResourceStatePending:
		return next == ResourceStateApplying
	case ResourceStateApplying:
		return next == ResourceStateConverged || next == ResourceStateFailed
	default:
		return false
	}
}

// Transition returns next if the move is legal, otherwise an internal error.
func (s ResourceState) Transition(next ResourceState) (ResourceState, error) {
	if !s.CanTransition(next) {
		return s, NewInternalError(
			fmt.Sprintf("illegal resource transition %s -> %s", s, next), nil,
		).WithCode(ErrCodeInvalidTransition)
	}
	return next, nil
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	EventTypeRunStarted       EventType = "run_started"
	EventTypeRunCompleted     EventType = "run_completed"
	EventTypeRunFailed        EventType = "run_failed"
	EventTypeResourceApplying EventType = "resource_applying"
	EventTypeResourceChanged  EventType = "resource_changed"
	EventTypeResourceUpToDate EventType = "resource_up_to_date"
	EventTypeResourceFailed   EventType = "resource_failed"
	EventTypePolicyWarning    EventType = "policy_warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeResourceFailed:
		return "error"
	case EventTypePolicyWarning:
		return "warning"
	default:
		return "info"
	}
}
