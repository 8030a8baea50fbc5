package engine

import (
	"context"
	"time"
)

// RunRecorder persists run history. Recording failures are logged by the
// orchestrator and never fail a run.
type RunRecorder interface {
	// RecordRunStarted stores a run in the running state.
	RecordRunStarted(ctx context.Context, run *Run) error

	// RecordResult appends the result of one resource to the run.
	RecordResult(ctx context.Context, runID string, seq int, result *ResourceResult) error

	// RecordRunCompleted stores the terminal status and summary of a run.
	RecordRunCompleted(ctx context.Context, run *Run) error
}

// PolicyGate inspects the compiled declaration set before anything is
// applied. A returned error aborts the run with ErrorClassPolicy.
type PolicyGate interface {
	Check(ctx context.Context, decls []*Declaration) error
}

// EventPublisher receives run timeline events.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event is a single entry in the run timeline.
type Event struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Resource  string                 `json:"resource,omitempty"`
	Type      EventType              `json:"type"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *Event) error

// Publish implements EventPublisher.
func (f PublisherFunc) Publish(ctx context.Context, event *Event) error {
	return f(ctx, event)
}
