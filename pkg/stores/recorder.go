package stores

import (
	"context"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// Recorder persists orchestrator runs and their timeline into a Store.
type Recorder struct {
	store Store
}

var (
	_ engine.RunRecorder    = (*Recorder)(nil)
	_ engine.EventPublisher = (*Recorder)(nil)
)

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordRunStarted implements engine.RunRecorder.
func (r *Recorder) RecordRunStarted(ctx context.Context, run *engine.Run) error {
	return r.store.CreateRun(ctx, FromEngineRun(run))
}

// RecordResult implements engine.RunRecorder.
func (r *Recorder) RecordResult(ctx context.Context, runID string, seq int, result *engine.ResourceResult) error {
	stored := FromEngineResult(runID, result)
	stored.Seq = seq
	return r.store.SaveResourceResult(ctx, stored)
}

// RecordRunCompleted implements engine.RunRecorder.
func (r *Recorder) RecordRunCompleted(ctx context.Context, run *engine.Run) error {
	return r.store.CompleteRun(ctx, FromEngineRun(run))
}

// Publish implements engine.EventPublisher.
func (r *Recorder) Publish(ctx context.Context, event *engine.Event) error {
	return r.store.AppendEvent(ctx, &Event{
		RunID:     event.RunID,
		Resource:  event.Resource,
		Type:      string(event.Type),
		Level:     EventLevel(event.Level),
		Message:   event.Message,
		Details:   event.Data,
		Timestamp: event.Timestamp,
	})
}

// FromEngineRun converts an orchestrator run into its stored form.
func FromEngineRun(run *engine.Run) *Run {
	stored := &Run{
		ID:             run.ID,
		RunList:        run.RunList,
		Status:         string(run.Status),
		DryRun:         run.DryRun,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		FailedResource: run.FailedResource,
		Summary: Summary{
			Total:    run.Summary.Total,
			Changed:  run.Summary.Changed,
			UpToDate: run.Summary.UpToDate,
			Failed:   run.Summary.Failed,
			Pending:  run.Summary.Pending,
		},
	}
	if run.Error != "" {
		msg := run.Error
		stored.Error = &msg
	}
	return stored
}

// FromEngineResult converts one resource result into its stored form.
func FromEngineResult(runID string, result *engine.ResourceResult) *ResourceResult {
	stored := &ResourceResult{
		RunID:    runID,
		Seq:      result.Seq,
		Kind:     string(result.Kind),
		Name:     result.Name,
		Recipe:   result.Recipe,
		Action:   string(result.Action),
		State:    string(result.State),
		Changed:  result.Changed,
		Message:  result.Message,
		Details:  result.Details,
		Duration: result.Duration,
	}
	if result.Error != "" {
		msg := result.Error
		stored.Error = &msg
	}
	if !result.StartedAt.IsZero() {
		started := result.StartedAt
		stored.StartedAt = &started
	}
	return stored
}

// ID returns the identity string of the resource, e.g. "file[/etc/docker/daemon.json]".
func (r *ResourceResult) ID() string {
	return engine.ID{Kind: engine.Kind(r.Kind), Name: r.Name}.String()
}

