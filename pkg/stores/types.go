package stores

import (
	"context"
	"time"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is a stored convergence run.
type Run struct {
	ID             string     `json:"id"`
	RunList        []string   `json:"run_list"`
	Status         string     `json:"status"`
	DryRun         bool       `json:"dry_run"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Summary        Summary    `json:"summary"`
	FailedResource string     `json:"failed_resource,omitempty"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Duration returns the wall time of a completed run.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Summary counts the resources of a run by outcome.
type Summary struct {
	Total    int `json:"total"`
	Changed  int `json:"changed"`
	UpToDate int `json:"up_to_date"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// ResourceResult is the stored outcome of one declaration within a run.
// Seq is the 1-based position in the run's declaration list.
type ResourceResult struct {
	RunID     string                 `json:"run_id"`
	Seq       int                    `json:"seq"`
	Kind      string                 `json:"kind"`
	Name      string                 `json:"name"`
	Recipe    string                 `json:"recipe"`
	Action    string                 `json:"action"`
	State     string                 `json:"state"`
	Changed   bool                   `json:"changed"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     *string                `json:"error,omitempty"`
	StartedAt *time.Time             `json:"started_at,omitempty"`
	Duration  time.Duration          `json:"duration"`
}

// Event represents an append-only timeline event
type Event struct {
	ID        int64                  `json:"id"`
	RunID     string                 `json:"run_id"`
	Resource  string                 `json:"resource,omitempty"`
	Type      string                 `json:"type"`
	Level     EventLevel             `json:"level"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventFilter narrows GetEvents. Zero values match everything.
type EventFilter struct {
	RunID  string
	Level  EventLevel
	Limit  int
	Offset int
}

// Store defines the interface for the run history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Resource result operations
	SaveResourceResult(ctx context.Context, result *ResourceResult) error
	ListResourceResults(ctx context.Context, runID string) ([]*ResourceResult, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
