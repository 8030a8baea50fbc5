package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/rancherhost/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Run is the record of one convergence run.
type Run struct {
	ID             string            `json:"id"`
	RunList        []string          `json:"run_list"`
	Status         RunStatus         `json:"status"`
	DryRun         bool              `json:"dry_run"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Results        []*ResourceResult `json:"results"`
	Summary        RunSummary        `json:"summary"`
	FailedResource string            `json:"failed_resource,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Duration returns the wall time of a completed run.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Changed returns the results that modified (or would modify) the host.
func (r *Run) Changed() []*ResourceResult {
	var out []*ResourceResult
	for _, res := range r.Results {
		if res.Changed {
			out = append(out, res)
		}
	}
	return out
}

// RunSummary counts resources by outcome.
type RunSummary struct {
	Total    int `json:"total"`
	Changed  int `json:"changed"`
	UpToDate int `json:"up_to_date"`
	Failed   int `json:"failed"`

	// Pending counts resources never reached because the run stopped early.
	Pending int `json:"pending"`
}

// ResourceResult is the outcome of one declaration within a run.
type ResourceResult struct {
	Seq       int                    `json:"seq"`
	Kind      Kind                   `json:"kind"`
	Name      string                 `json:"name"`
	Recipe    string                 `json:"recipe"`
	Action    Action                 `json:"action"`
	State     ResourceState          `json:"state"`
	Changed   bool                   `json:"changed"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
	StartedAt time.Time              `json:"started_at,omitempty"`
	Duration  time.Duration          `json:"duration"`
}

// ID returns the identity string of the resource, e.g. "file[/etc/docker/daemon.json]".
func (r *ResourceResult) ID() string {
	return ID{Kind: r.Kind, Name: r.Name}.String()
}

// Options control a single convergence run.
type Options struct {
	// DryRun asks providers to report changes without making them.
	DryRun bool

	// RunList is recorded on the run for history; the declarations passed to
	// Converge must already be compiled from it.
	RunList []string
}

// Orchestrator applies a compiled declaration list to the host, one
// resource at a time, and stops at the first failure.
type Orchestrator struct {
	registry *ProviderRegistry
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	recorder RunRecorder
	gate     PolicyGate
	events   EventPublisher
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics records run and resource metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer emits a span per run, recipe and resource.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithRecorder persists every run.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithPolicyGate checks the declaration list before anything is applied.
func WithPolicyGate(g PolicyGate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithEventPublisher receives the run timeline.
func WithEventPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// NewOrchestrator creates an orchestrator that dispatches to registry.
func NewOrchestrator(registry *ProviderRegistry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Converge applies decls in order. Pre-apply failures (missing provider,
// policy denial) return a nil run. Otherwise the returned run is complete
// and the error, if any, is the one that stopped it.
func (o *Orchestrator) Converge(ctx context.Context, decls []*Declaration, opts Options) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.registry.CheckCoverage(decls); err != nil {
		o.recordError(err)
		return nil, err
	}
	if o.gate != nil {
		if err := o.gate.Check(ctx, decls); err != nil {
			o.recordError(err)
			return nil, err
		}
	}

	run := &Run{
		ID:        uuid.New().String(),
		RunList:   opts.RunList,
		Status:    RunStatusPending,
		DryRun:    opts.DryRun,
		StartedAt: o.now(),
		Results:   make([]*ResourceResult, len(decls)),
	}
	for i, d := range decls {
		run.Results[i] = &ResourceResult{
			Seq:    i + 1,
			Kind:   d.Kind,
			Name:   d.Name,
			Recipe: d.Recipe,
			Action: d.Action,
			State:  ResourceStatePending,
		}
	}

	runLog := telemetry.NewFromZerolog(o.logger).WithRunID(run.ID).WithField("dry_run", opts.DryRun)

	var runSpan trace.Span
	if o.tracer != nil {
		ctx, runSpan = o.tracer.StartRunSpan(ctx, run.ID, opts.DryRun)
		defer runSpan.End()
		if id := telemetry.TraceID(ctx); id != "" {
			runLog = runLog.WithField("trace_id", id)
		}
	}
	ctx = runLog.WithContext(ctx)
	logger := runLog.Zerolog()

	run.Status = RunStatusRunning
	if o.recorder != nil {
		if err := o.recorder.RecordRunStarted(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("failed to record run start")
		}
	}
	o.metrics.RecordRunStarted()
	o.publish(ctx, run.ID, "", EventTypeRunStarted, fmt.Sprintf("run started with %d resources", len(decls)))
	logger.Info().Int("resources", len(decls)).Strs("run_list", opts.RunList).Msg("convergence started")

	runErr := o.applyAll(ctx, runLog, run, decls)

	completed := o.now()
	run.CompletedAt = &completed
	run.Summary = summarize(run.Results)
	switch {
	case runErr == nil:
		run.Status = RunStatusConverged
	case ctx.Err() != nil:
		run.Status = RunStatusCancelled
	default:
		run.Status = RunStatusFailed
	}
	if runErr != nil {
		run.Error = runErr.Error()
		o.recordError(runErr)
	}

	if o.recorder != nil {
		if err := o.recorder.RecordRunCompleted(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn().Err(err).Msg("failed to record run completion")
		}
	}
	o.metrics.RecordRunCompleted(string(run.Status), run.DryRun, run.Duration())

	if runSpan != nil {
		runSpan.SetAttributes(
			telemetry.AttrRunStatus.String(string(run.Status)),
			telemetry.AttrChangedCount.Int(run.Summary.Changed),
		)
	}

	event := logger.Info()
	if run.Status != RunStatusConverged {
		event = logger.Error().Err(runErr).Str("failed_resource", run.FailedResource)
		o.publish(ctx, run.ID, run.FailedResource, EventTypeRunFailed, run.Error)
		if runSpan != nil {
			telemetry.RecordError(runSpan, runErr)
		}
	} else {
		o.publish(ctx, run.ID, "", EventTypeRunCompleted, "run converged")
		if runSpan != nil {
			telemetry.RecordSuccess(runSpan)
		}
	}
	event.
		Str("status", string(run.Status)).
		Int("changed", run.Summary.Changed).
		Int("up_to_date", run.Summary.UpToDate).
		Int("pending", run.Summary.Pending).
		Dur("duration", run.Duration()).
		Msg("convergence finished")

	return run, runErr
}

// applyAll walks the declarations in order until one fails or ctx is done.
func (o *Orchestrator) applyAll(ctx context.Context, runLog *telemetry.Logger, run *Run, decls []*Declaration) error {
	logger := runLog.Zerolog()
	recipeLog := runLog
	recipeCtx := ctx
	var recipeSpan trace.Span
	currentRecipe := ""
	endRecipe := func() {
		if recipeSpan != nil {
			recipeSpan.End()
			recipeSpan = nil
		}
	}
	defer endRecipe()

	for i, d := range decls {
		if err := ctx.Err(); err != nil {
			logger.Warn().Str("next_resource", d.String()).Msg("run cancelled")
			return err
		}

		if d.Recipe != currentRecipe {
			endRecipe()
			currentRecipe = d.Recipe
			recipeLog = runLog.WithRecipe(d.Recipe)
			recipeCtx = ctx
			if o.tracer != nil {
				recipeCtx, recipeSpan = o.tracer.StartRecipeSpan(ctx, d.Recipe)
			}
			logger.Debug().Str("recipe", d.Recipe).Msg("entering recipe")
		}

		result := run.Results[i]
		if err := o.applyResource(recipeCtx, recipeLog, run.ID, d, result, run.DryRun); err != nil {
			run.FailedResource = d.String()
			if o.recorder != nil {
				if rerr := o.recorder.RecordResult(context.WithoutCancel(ctx), run.ID, result.Seq, result); rerr != nil {
					logger.Warn().Err(rerr).Msg("failed to record resource result")
				}
			}
			if recipeSpan != nil {
				telemetry.RecordError(recipeSpan, err)
			}
			return err
		}
		if o.recorder != nil {
			if err := o.recorder.RecordResult(context.WithoutCancel(ctx), run.ID, result.Seq, result); err != nil {
				logger.Warn().Err(err).Msg("failed to record resource result")
			}
		}
	}
	return nil
}

// applyResource drives one declaration through pending -> applying -> converged|failed.
// The provider finds the resource-scoped logger in its context.
func (o *Orchestrator) applyResource(
	ctx context.Context,
	recipeLog *telemetry.Logger,
	runID string,
	d *Declaration,
	result *ResourceResult,
	dryRun bool,
) error {
	scoped := recipeLog.WithResource(string(d.Kind), d.Name).WithField("action", string(d.Action))
	rlog := scoped.Zerolog()

	state, err := result.State.Transition(ResourceStateApplying)
	if err != nil {
		return err
	}
	result.State = state
	result.StartedAt = o.now()
	o.publish(ctx, runID, d.String(), EventTypeResourceApplying, fmt.Sprintf("%s %s", d.Action, d))

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.StartResourceSpan(ctx, string(d.Kind), d.Name, string(d.Action))
		defer span.End()
	}

	provider, err := o.registry.Get(d.Kind)
	var outcome *Outcome
	if err == nil {
		outcome, err = provider.Converge(scoped.WithContext(ctx), d, dryRun)
	}
	result.Duration = o.now().Sub(result.StartedAt)

	if err != nil {
		if next, terr := result.State.Transition(ResourceStateFailed); terr == nil {
			result.State = next
		}
		err = classifyApplyError(d, err)
		result.Error = err.Error()
		o.metrics.RecordResource(string(d.Kind), "failed", result.Duration)
		o.publish(ctx, runID, d.String(), EventTypeResourceFailed, result.Error)
		if span != nil {
			telemetry.RecordError(span, err)
		}
		rlog.Error().Err(err).Dur("duration", result.Duration).Msg("resource failed")
		return err
	}
	if outcome == nil {
		outcome = Unchanged("")
	}

	state, err = result.State.Transition(ResourceStateConverged)
	if err != nil {
		return err
	}
	result.State = state
	result.Changed = outcome.Changed
	result.Message = outcome.Message
	result.Details = outcome.Details

	if outcome.Changed {
		o.metrics.RecordResource(string(d.Kind), "changed", result.Duration)
		o.publish(ctx, runID, d.String(), EventTypeResourceChanged, outcome.Message)
		msg := "resource changed"
		if dryRun {
			msg = "resource would change"
		}
		rlog.Info().Str("detail", outcome.Message).Dur("duration", result.Duration).Msg(msg)
	} else {
		o.metrics.RecordResource(string(d.Kind), "up_to_date", result.Duration)
		o.publish(ctx, runID, d.String(), EventTypeResourceUpToDate, outcome.Message)
		rlog.Debug().Msg("resource up to date")
	}
	if span != nil {
		span.SetAttributes(telemetry.AttrChanged.Bool(outcome.Changed))
		telemetry.RecordSuccess(span)
	}
	return nil
}

// classifyApplyError makes sure provider errors carry the apply class and
// the resource identity.
func classifyApplyError(d *Declaration, err error) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		if ee.Resource == "" {
			ee.Resource = d.String()
		}
		if ee.Operation == "" {
			ee.Operation = string(d.Action)
		}
		return err
	}
	return NewApplyError(fmt.Sprintf("failed to %s %s", d.Action, d.Kind), err).
		WithResource(d.String()).
		WithOperation(string(d.Action))
}

func summarize(results []*ResourceResult) RunSummary {
	s := RunSummary{Total: len(results)}
	for _, r := range results {
		switch r.State {
		case ResourceStateConverged:
			if r.Changed {
				s.Changed++
			} else {
				s.UpToDate++
			}
		case ResourceStateFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

func (o *Orchestrator) recordError(err error) {
	var ee *EngineError
	if errors.As(err, &ee) {
		o.metrics.RecordError(string(ee.Class), ee.Code)
		return
	}
	o.metrics.RecordError(string(ErrorClassInternal), ErrCodeInternal)
}

// publish sends an event to the configured publisher. Publishing errors are
// logged and otherwise ignored.
func (o *Orchestrator) publish(ctx context.Context, runID, resource string, eventType EventType, message string) {
	if o.events == nil {
		return
	}
	event := &Event{
		ID:        uuid.New().String(),
		RunID:     runID,
		Resource:  resource,
		Type:      eventType,
		Level:     eventType.Severity(),
		Message:   message,
		Timestamp: o.now(),
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Debug().Err(err).Str("event", string(eventType)).Msg("failed to publish event")
	}
}
