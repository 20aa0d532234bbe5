// Package temporal implements engine.Engine on top of go.temporal.io/sdk,
// for deployments that need workflow state to survive process restarts.
// Each distinct WorkflowStartRequest.TaskQueue gets its own lazily
// created worker; every workflow and activity registered so far is
// registered on a queue's worker when that worker is created, and later
// registrations are added to every existing worker.
//
// Grounded on goa-ai's runtime/agent/engine/temporal package: the
// Options/workerBundle/per-queue-worker shape, the lazy client via
// client.NewLazyClient, and OTEL interceptor wiring via
// go.temporal.io/sdk/contrib/opentelemetry are kept. Dropped relative to
// the teacher: workflow-to-activity context correlation via a sync.Map
// keyed on RunID (no activity in this module needs to look up its
// caller's WorkflowContext — SignalChannel and child workflows, the
// features that needed it, are out of scope per engine.go), and query
// handlers / search attributes (nothing here queries a running workflow
// out of band). See DESIGN.md.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	sdkclient "go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"google.golang.org/grpc"

	"github.com/agentforge/core/engine"
	"github.com/agentforge/core/telemetry"
)

// ErrWorkflowAlreadyStarted is returned by StartWorkflow when
// WorkflowStartRequest.RunID names a workflow execution that Temporal
// already has running. This check is specific to this backend;
// engine/inmem does not compare RunIDs across runs.
var ErrWorkflowAlreadyStarted = errors.New("engine/temporal: workflow already started")

// Options configures Engine construction.
type Options struct {
	// Client is reused if provided. If nil, a lazy client is created from
	// HostPort/Namespace so New never blocks on a Temporal server being
	// reachable before the first workflow actually starts.
	Client    sdkclient.Client
	HostPort  string
	Namespace string

	// DefaultTaskQueue names the queue used when a
	// WorkflowStartRequest.TaskQueue is empty.
	DefaultTaskQueue string
	WorkerOptions    worker.Options

	// GRPCDialOptions is passed through to the Temporal client's gRPC
	// connection (mTLS credentials, keepalive policy, interceptors for a
	// deployment's own observability stack).
	GRPCDialOptions []grpc.DialOption

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	// DisableInstrumentation skips wiring the OpenTelemetry tracing
	// interceptor and metrics handler, for tests that don't have a
	// collector to send spans to.
	DisableInstrumentation bool
}

// Engine is the Temporal-backed engine.Engine implementation.
type Engine struct {
	client       sdkclient.Client
	closeClient  bool
	defaultQueue string
	workerOpts   worker.Options
	logger       telemetry.Logger
	metrics      telemetry.Metrics
	tracer       telemetry.Tracer

	mu          sync.Mutex
	workflows   map[string]engine.WorkflowDefinition
	activities  map[string]engine.ActivityDefinition
	workers     map[string]*workerBundle
	started     bool
}

// New constructs an Engine. DefaultTaskQueue is required.
func New(opts Options) (*Engine, error) {
	if opts.DefaultTaskQueue == "" {
		return nil, fmt.Errorf("engine/temporal: DefaultTaskQueue is required")
	}

	cl := opts.Client
	closeClient := false
	if cl == nil {
		clientOpts := sdkclient.Options{HostPort: opts.HostPort, Namespace: opts.Namespace}
		if len(opts.GRPCDialOptions) > 0 {
			clientOpts.ConnectionOptions = sdkclient.ConnectionOptions{DialOptions: opts.GRPCDialOptions}
		}
		if !opts.DisableInstrumentation {
			interceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("engine/temporal: configure tracing interceptor: %w", err)
			}
			clientOpts.Interceptors = []sdkclient.Interceptor{interceptor}
			handler, err := temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
			if err != nil {
				return nil, fmt.Errorf("engine/temporal: configure metrics handler: %w", err)
			}
			clientOpts.MetricsHandler = handler
		}
		lazy, err := sdkclient.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("engine/temporal: create lazy client: %w", err)
		}
		cl = lazy
		closeClient = true
	}

	logger, metrics, tracer := opts.Logger, opts.Metrics, opts.Tracer
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
		client:       cl,
		closeClient:  closeClient,
		defaultQueue: opts.DefaultTaskQueue,
		workerOpts:   opts.WorkerOptions,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		workflows:    make(map[string]engine.WorkflowDefinition),
		activities:   make(map[string]engine.ActivityDefinition),
		workers:      make(map[string]*workerBundle),
	}, nil
}

func (e *Engine) RegisterWorkflow(def engine.WorkflowDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[def.Name] = def
	for _, b := range e.workers {
		b.registerWorkflow(e, def)
	}
}

func (e *Engine) RegisterActivity(def engine.ActivityDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = def
	for _, b := range e.workers {
		b.registerActivity(e, def)
	}
}

// Start starts the workers for the default task queue and for every
// queue a StartWorkflow call has referenced so far. A queue first
// referenced by a StartWorkflow call after Start has its worker started
// as soon as it is created.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
	if _, err := e.workerForQueueLocked(e.defaultQueue); err != nil {
		return err
	}
	for _, b := range e.workers {
		if err := b.start(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	queue := req.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	e.mu.Lock()
	_, err := e.workerForQueueLocked(queue)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	run, err := e.client.ExecuteWorkflow(ctx, sdkclient.StartWorkflowOptions{
		ID:        req.RunID,
		TaskQueue: queue,
	}, req.WorkflowName, req.Input)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			return nil, ErrWorkflowAlreadyStarted
		}
		return nil, fmt.Errorf("engine/temporal: start workflow %q: %w", req.WorkflowName, err)
	}
	return &workflowHandle{client: e.client, run: run}, nil
}

// activityDefaults returns the registered ActivityOptions for name, or a
// zero value if it isn't registered (Temporal will then fail the
// activity call itself with a more specific "not registered" error).
func (e *Engine) activityDefaults(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activities[name].Options
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.workers {
		b.stop()
	}
	if e.closeClient {
		e.client.Close()
	}
	return nil
}

// workerForQueueLocked returns the worker bundle for queue, creating and
// registering all known workflows/activities onto it if it doesn't exist
// yet. Callers must hold e.mu.
func (e *Engine) workerForQueueLocked(queue string) (*workerBundle, error) {
	if b, ok := e.workers[queue]; ok {
		return b, nil
	}
	w := worker.New(e.client, queue, e.workerOpts)
	b := &workerBundle{queue: queue, worker: w, logger: e.logger}
	for _, def := range e.workflows {
		b.registerWorkflow(e, def)
	}
	for _, def := range e.activities {
		b.registerActivity(e, def)
	}
	e.workers[queue] = b
	if e.started {
		if err := b.start(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// workerBundle owns one Temporal worker.Worker bound to a single task
// queue.
type workerBundle struct {
	queue   string
	worker  worker.Worker
	logger  telemetry.Logger
	running bool
}

func (b *workerBundle) registerWorkflow(e *Engine, def engine.WorkflowDefinition) {
	fn := func(ctx workflow.Context, input any) (any, error) {
		wfCtx := newWorkflowContext(e, ctx)
		return def.Func(wfCtx, input)
	}
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: def.Name})
}

func (b *workerBundle) registerActivity(e *Engine, def engine.ActivityDefinition) {
	fn := func(ctx context.Context, input any) (any, error) {
		return def.Func(ctx, input)
	}
	b.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: def.Name})
}

func (b *workerBundle) start() error {
	if b.running {
		return nil
	}
	if err := b.worker.Start(); err != nil {
		return fmt.Errorf("engine/temporal: start worker for queue %q: %w", b.queue, err)
	}
	b.running = true
	return nil
}

func (b *workerBundle) stop() {
	if !b.running {
		return
	}
	b.worker.Stop()
	b.running = false
}

// workflowHandle is the Temporal-backed engine.WorkflowHandle.
type workflowHandle struct {
	client sdkclient.Client
	run    sdkclient.WorkflowRun
}

func (h *workflowHandle) Wait(ctx context.Context) (any, error) {
	var result any
	if err := h.run.Get(ctx, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

func (h *workflowHandle) RunID() string { return h.run.GetRunID() }

// convertRetryPolicy maps engine.RetryPolicy onto the SDK's retry policy
// type; a zero engine.RetryPolicy yields nil so Temporal's own default
// applies instead of an explicit empty policy.
func convertRetryPolicy(r engine.RetryPolicy) *sdktemporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	policy := &sdktemporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		//nolint:gosec // bounded by caller-supplied config, not external input.
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}
