// Package inmem implements engine.Engine with goroutines and channels:
// a workflow run is one goroutine, an async activity call is one
// goroutine feeding a buffered result channel, and activity retries are
// a plain loop with exponential backoff. No call crosses a process
// boundary and nothing here is replay-safe; it exists for tests and for
// single-process deployments that don't need Temporal's durability.
//
// Grounded on goa-ai's runtime/agent/engine/inmem package: the
// eng/handle/wfCtx/future struct split and the
// register-then-start flow are kept; the reflection-based assignResult
// generic-result-copy helper is dropped because this module's
// engine.WorkflowFunc and engine.ActivityFunc already traffic in `any`
// rather than generic type parameters, so no reflective copy is needed.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentforge/core/engine"
	"github.com/agentforge/core/telemetry"
)

// Engine is the in-memory engine.Engine implementation.
type Engine struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu         sync.Mutex
	workflows  map[string]engine.WorkflowDefinition
	activities map[string]engine.ActivityDefinition
	handles    map[string]*handle
}

// New constructs an in-memory Engine. logger/metrics/tracer may be nil;
// callers that pass nil get a no-op implementation (see noop.go).
func New(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if tracer == nil {
		tracer = noopTracer{}
	}
	return &Engine{
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]engine.ActivityDefinition),
		handles:    make(map[string]*handle),
	}
}

func (e *Engine) RegisterWorkflow(def engine.WorkflowDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[def.Name] = def
}

func (e *Engine) RegisterActivity(def engine.ActivityDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = def
}

func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.Lock()
	def, ok := e.workflows[req.WorkflowName]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine/inmem: workflow %q is not registered", req.WorkflowName)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{
		runID:  req.RunID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.handles[req.RunID] = h
	e.mu.Unlock()

	wfCtx := &workflowContext{engine: e, ctx: runCtx}

	go func() {
		defer close(h.done)
		result, err := def.Func(wfCtx, req.Input)
		h.result, h.err = result, err
	}()

	return h, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.handles {
		h.cancel()
	}
	return nil
}

func (e *Engine) lookupActivity(name string) (engine.ActivityDefinition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.activities[name]
	return def, ok
}

// handle is the in-memory engine.WorkflowHandle.
type handle struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
	result any
	err    error
}

func (h *handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *handle) Cancel(ctx context.Context) error {
	h.cancel()
	return nil
}

func (h *handle) RunID() string { return h.runID }

// workflowContext is the in-memory engine.WorkflowContext.
type workflowContext struct {
	engine *Engine
	ctx    context.Context
}

func (w *workflowContext) ExecuteActivity(name string, input any, opts engine.ActivityOptions) (any, error) {
	def, ok := w.engine.lookupActivity(name)
	if !ok {
		return nil, fmt.Errorf("engine/inmem: activity %q is not registered", name)
	}
	merged := mergeOptions(def.Options, opts)
	return runWithRetry(w.ctx, def.Func, input, merged)
}

func (w *workflowContext) ExecuteActivityAsync(name string, input any, opts engine.ActivityOptions) engine.Future {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result, f.err = w.ExecuteActivity(name, input, opts)
	}()
	return f
}

func (w *workflowContext) Now() time.Time { return time.Now() }

func (w *workflowContext) Context() context.Context { return w.ctx }

func (w *workflowContext) Logger() telemetry.Logger   { return w.engine.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.engine.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.engine.tracer }

// future is the in-memory engine.Future.
type future struct {
	done   chan struct{}
	result any
	err    error
}

func (f *future) Get() (any, error) {
	<-f.done
	return f.result, f.err
}

func (f *future) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func mergeOptions(base, override engine.ActivityOptions) engine.ActivityOptions {
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

// runWithRetry calls fn, retrying on error per opts.RetryPolicy with
// exponential backoff, honoring opts.StartToCloseTimeout per attempt,
// opts.ScheduleToCloseTimeout across all attempts and backoff waits, and
// ctx cancellation throughout.
func runWithRetry(ctx context.Context, fn engine.ActivityFunc, input any, opts engine.ActivityOptions) (any, error) {
	if opts.ScheduleToCloseTimeout > 0 {
		var cancelAll context.CancelFunc
		ctx, cancelAll = context.WithTimeout(ctx, opts.ScheduleToCloseTimeout)
		defer cancelAll()
	}
	maxAttempts := opts.RetryPolicy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	interval := opts.RetryPolicy.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}
	coefficient := opts.RetryPolicy.BackoffCoefficient
	if coefficient <= 0 {
		coefficient = 2
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.StartToCloseTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.StartToCloseTimeout)
		}
		result, err := fn(attemptCtx, input)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * coefficient)
	}
	return nil, lastErr
}
