package temporal

import (
	"context"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/agentforge/core/engine"
	"github.com/agentforge/core/telemetry"
)

// workflowContext adapts a Temporal workflow.Context into engine.WorkflowContext.
//
// Grounded on goa-ai's temporalWorkflowContext: Context() building a
// context.Context carrying the workflow/run id is dropped since nothing
// in this module needs to recover a WorkflowContext from a plain
// context.Context outside the workflow body (that mechanism existed in
// the teacher to support child-workflow helpers this module doesn't
// have); ExecuteActivity/ExecuteActivityAsync/Now/Logger/Metrics/Tracer
// are kept.
type workflowContext struct {
	engine *Engine
	ctx    workflow.Context
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	return &workflowContext{engine: e, ctx: ctx}
}

func (w *workflowContext) ExecuteActivity(name string, input any, opts engine.ActivityOptions) (any, error) {
	ctx := w.activityContext(name, opts)
	var result any
	if err := workflow.ExecuteActivity(ctx, name, input).Get(ctx, &result); err != nil {
		return nil, normalizeTemporalError(err)
	}
	return result, nil
}

func (w *workflowContext) ExecuteActivityAsync(name string, input any, opts engine.ActivityOptions) engine.Future {
	ctx := w.activityContext(name, opts)
	return &future{ctx: ctx, future: workflow.ExecuteActivity(ctx, name, input)}
}

func (w *workflowContext) Now() time.Time { return w.ctx.Now() }

// Context returns a plain context.Context usable by helpers that don't
// need the Temporal-specific workflow.Context surface. Workflow code
// itself must keep using the engine.WorkflowContext methods; this exists
// only so engine.WorkflowContext satisfies callers expecting a standard
// context.
func (w *workflowContext) Context() context.Context {
	return context.Background()
}

func (w *workflowContext) Logger() telemetry.Logger   { return w.engine.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.engine.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.engine.tracer }

func (w *workflowContext) activityContext(name string, opts engine.ActivityOptions) workflow.Context {
	merged := mergeActivityOptions(w.engine.activityDefaults(name), opts)
	return workflow.WithActivityOptions(w.ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    merged.StartToCloseTimeout,
		ScheduleToCloseTimeout: merged.ScheduleToCloseTimeout,
		RetryPolicy:            convertRetryPolicy(merged.RetryPolicy),
	})
}

func mergeActivityOptions(base, override engine.ActivityOptions) engine.ActivityOptions {
	result := base
	if override.StartToCloseTimeout != 0 {
		result.StartToCloseTimeout = override.StartToCloseTimeout
	}
	if override.ScheduleToCloseTimeout != 0 {
		result.ScheduleToCloseTimeout = override.ScheduleToCloseTimeout
	}
	if override.RetryPolicy.MaxAttempts != 0 {
		result.RetryPolicy.MaxAttempts = override.RetryPolicy.MaxAttempts
	}
	if override.RetryPolicy.InitialInterval != 0 {
		result.RetryPolicy.InitialInterval = override.RetryPolicy.InitialInterval
	}
	if override.RetryPolicy.BackoffCoefficient != 0 {
		result.RetryPolicy.BackoffCoefficient = override.RetryPolicy.BackoffCoefficient
	}
	return result
}

// normalizeTemporalError translates Temporal cancellation errors to
// context.Canceled so callers can classify cancellation uniformly across
// engine backends without importing Temporal SDK error types.
func normalizeTemporalError(err error) error {
	if err == nil {
		return nil
	}
	if sdktemporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

// future is the Temporal-backed engine.Future.
type future struct {
	ctx    workflow.Context
	future workflow.Future
}

func (f *future) Get() (any, error) {
	var result any
	err := f.future.Get(f.ctx, &result)
	return result, normalizeTemporalError(err)
}

func (f *future) IsReady() bool {
	return f.future.IsReady()
}
