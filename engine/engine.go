// Package engine defines a backend-agnostic durable-execution contract
// for running one turn-loop iteration sequence (B1-B5) as a workflow:
// register the workflow and the activities it calls, start a run, and
// get back a handle that can be waited on or cancelled.
//
// Grounded on goa-ai's runtime/agent/engine package, trimmed to the
// subset this module's single-turn-loop durability use actually needs:
// dropped are SignalChannel and child-workflow support (this runtime has
// no cross-workflow signalling or sub-agent spawning), search
// attributes/memo (nothing here queries workflows by attribute), and the
// RunStatus/ErrWorkflowNotFound query-by-id surface (WorkflowHandle.Wait
// is sufficient; nothing polls run status out of band). See DESIGN.md.
package engine

import (
	"context"
	"time"

	"github.com/agentforge/core/telemetry"
)

// Engine is a durable-execution backend. Two implementations ship with
// this module: engine/inmem (goroutine/channel-based, for tests and
// single-process deployments) and engine/temporal (go.temporal.io/sdk-
// backed, for durable multi-process deployments).
type Engine interface {
	// RegisterWorkflow makes a workflow available to StartWorkflow by
	// name. Calling RegisterWorkflow twice with the same name replaces
	// the prior definition.
	RegisterWorkflow(def WorkflowDefinition)
	// RegisterActivity makes an activity available to
	// WorkflowContext.ExecuteActivity by name, with the given default
	// options applied whenever a call site doesn't override them.
	RegisterActivity(def ActivityDefinition)
	// StartWorkflow starts a previously registered workflow and returns a
	// handle to it. The workflow body begins running asynchronously;
	// StartWorkflow does not block for it to finish.
	StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	// Close releases resources held by the engine (worker goroutines,
	// client connections). What happens to in-flight workflows depends on
	// the backend: engine/inmem cancels every outstanding run's context,
	// while engine/temporal stops its workers and closes a client it
	// created itself.
	Close() error
}

// WorkflowDefinition names a workflow function for registration.
type WorkflowDefinition struct {
	Name string
	Func WorkflowFunc
}

// WorkflowFunc is the body of a durable workflow. It receives a
// WorkflowContext bound to the engine backend running it and an input
// value matching whatever the caller passed via WorkflowStartRequest.Input,
// and returns a result value or an error.
type WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

// ActivityDefinition names an activity function for registration, along
// with the default options applied to calls that don't override them.
type ActivityDefinition struct {
	Name    string
	Func    ActivityFunc
	Options ActivityOptions
}

// ActivityFunc is a unit of non-durable work (a provider call, a tool
// dispatch) invoked from within a workflow. Activities run at-least-once;
// RetryPolicy governs how the engine retries a failing call.
type ActivityFunc func(ctx context.Context, input any) (any, error)

// ActivityOptions bounds one activity invocation.
type ActivityOptions struct {
	// StartToCloseTimeout bounds a single attempt. Zero means no
	// per-attempt deadline beyond ctx's own.
	StartToCloseTimeout time.Duration
	// ScheduleToCloseTimeout bounds the activity's entire lifetime across
	// retries. Zero means unbounded.
	ScheduleToCloseTimeout time.Duration
	RetryPolicy            RetryPolicy
}

// RetryPolicy governs activity retry backoff. A zero value applies the
// backend's own default policy.
type RetryPolicy struct {
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
}

// WorkflowContext is the durable-execution surface available inside a
// WorkflowFunc. Implementations must be safe to use exactly as a normal
// Go value within the workflow body; backends that replay workflow code
// (Temporal) are responsible for making calls through this interface
// replay-deterministic.
type WorkflowContext interface {
	// ExecuteActivity runs the named activity and blocks for its result.
	// opts overrides the activity's registered defaults field by field;
	// a zero ActivityOptions applies the registered defaults unchanged.
	ExecuteActivity(name string, input any, opts ActivityOptions) (any, error)
	// ExecuteActivityAsync starts the named activity without blocking and
	// returns a Future for its result.
	ExecuteActivityAsync(name string, input any, opts ActivityOptions) Future
	// Now returns the current time. Workflow code must call this instead
	// of time.Now so that replay (on backends that replay) stays
	// deterministic.
	Now() time.Time
	// Context returns a context.Context for activities and helpers that
	// need one. On engine/inmem it is the run's own context, cancelled by
	// WorkflowHandle.Cancel and Engine.Close; on engine/temporal it is
	// context.Background() and is never cancelled.
	Context() context.Context
	Logger() telemetry.Logger
	Metrics() telemetry.Metrics
	Tracer() telemetry.Tracer
}

// Future represents the result of an asynchronous activity call started
// via WorkflowContext.ExecuteActivityAsync.
type Future interface {
	// Get blocks until the activity completes and returns its result, or
	// the error it failed with.
	Get() (any, error)
	// IsReady reports whether Get would return immediately.
	IsReady() bool
}

// WorkflowStartRequest describes a workflow run to start.
type WorkflowStartRequest struct {
	// WorkflowName must match a WorkflowDefinition.Name previously passed
	// to Engine.RegisterWorkflow.
	WorkflowName string
	// RunID identifies the run. Backends that require run identifiers to
	// be unique per task queue (Temporal) will surface a conflict error
	// from StartWorkflow if RunID is reused while a prior run with the
	// same id is still active.
	RunID string
	// TaskQueue selects which worker pool executes the run. Ignored by
	// engine/inmem, which has no queue concept.
	TaskQueue string
	Input     any
}

// ActivityRequest is reserved for engines that expose ad hoc (outside a
// workflow body) activity execution; neither shipped backend needs it
// today, but the type exists so WorkflowContext.ExecuteActivity's shape
// has a corresponding standalone request type if a caller needs to build
// one generically.
type ActivityRequest struct {
	Name  string
	Input any
	Opts  ActivityOptions
}

// WorkflowHandle refers to a started workflow run.
type WorkflowHandle interface {
	// Wait blocks until the run completes and returns its result, or the
	// error it failed or was cancelled with.
	Wait(ctx context.Context) (any, error)
	// Cancel requests cancellation of the run. Cancellation is
	// cooperative: on engine/inmem the workflow body observes it via its
	// Context() being cancelled; on engine/temporal it surfaces as a
	// context.Canceled error from the body's activity calls.
	Cancel(ctx context.Context) error
	RunID() string
}
