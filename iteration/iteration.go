// Package iteration implements the iteration executor (C6): one LLM call
// plus the tool calls it produces. spec.md §4.5's step ordering —
// "prepare messages, prepare tools, call provider, fan out, dispatch,
// complete" — is taken directly from the structure of the teacher's
// handleToolTurn/runLoop step sequence in
// runtime/agent/runtime/workflow_turn.go, flattened to this module's
// simpler (non-Temporal, non-pause/confirm) synchronous call shape.
package iteration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentforge/core/events"
	"github.com/agentforge/core/loopctx"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/pipeline"
	"github.com/agentforge/core/telemetry"
	"github.com/agentforge/core/tool"
	"github.com/agentforge/core/tooldispatch"
)

// Caller issues one provider call with the prepared messages and tool
// definitions, returning the streamed delta-chunk upstream that pipeline
// consumes. Concrete adapters (Anthropic, OpenAI, Bedrock) implement
// this.
type Caller interface {
	Call(ctx context.Context, messages []message.Message, tools []tool.Definition) (pipeline.Upstream, error)
}

// Result summarizes one iteration's outcome for the turn loop driver:
// whether the provider asked for more tool calls (a non-terminal finish
// reason means another iteration follows) and whether any dispatched
// tool call failed.
type Result struct {
	FinishReason  events.FinishReason
	ToolCallCount int
	AnyToolFailed bool
}

// Executor runs one iteration.
type Executor struct {
	Caller     Caller
	Dispatcher *tooldispatch.Dispatcher
	Logger     telemetry.Logger
}

// New returns an Executor wired to caller and dispatcher.
func New(caller Caller, dispatcher *tooldispatch.Dispatcher, logger telemetry.Logger) *Executor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Executor{Caller: caller, Dispatcher: dispatcher, Logger: logger}
}

// Run executes one iteration: prepares messages from history (step 1),
// calls the provider with the prepared messages and available tools
// (steps 2-3), fans the resulting stream through a pipeline and emits
// content/thought/content-complete events as they arrive (step 4),
// dispatches every tool call the provider requested (step 5, concurrent
// since sibling calls are independent), and returns once every
// dispatched call's tool-complete has been emitted (step 6).
func (ex *Executor) Run(execCtx loopctx.ExecContext, history []message.Message, tools []tool.Definition, emit func(events.Event)) (Result, error) {
	messages := execCtx.LoopContext.PrepareMessages(history)

	upstream, err := ex.Caller.Call(execCtx, messages, tools)
	if err != nil {
		return Result{}, fmt.Errorf("iteration: provider call: %w", err)
	}

	p := pipeline.New(upstream, 64)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- p.Run(execCtx) }()

	env := events.Envelope{
		ContextID: execCtx.LoopContext.ContextID,
		TaskID:    execCtx.LoopContext.TaskID,
	}

	var toolCalls []pipeline.ToolCallOut
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for tc := range p.ToolCalls {
			toolCalls = append(toolCalls, tc)
		}
	}()

	var finishReason events.FinishReason
	wrapped := func(e events.Event) {
		if cc, ok := e.(events.ContentComplete); ok {
			finishReason = cc.FinishReason
		}
		emit(e)
	}

	if err := pipeline.EmitEvents(execCtx, p, env, wrapped); err != nil {
		return Result{}, fmt.Errorf("iteration: emit events: %w", err)
	}
	if err := <-runErrCh; err != nil {
		return Result{}, fmt.Errorf("iteration: pipeline: %w", err)
	}
	<-drainDone

	anyFailed := ex.dispatchAll(execCtx, env, toolCalls, emit)

	return Result{
		FinishReason:  finishReason,
		ToolCallCount: len(toolCalls),
		AnyToolFailed: anyFailed,
	}, nil
}

// dispatchAll runs every tool call concurrently through the dispatcher,
// since each call's lifecycle (tool-start/progress/complete) is
// independent of the others' — spec.md §4.4 only orders events within a
// single call's lifecycle, not across sibling calls.
func (ex *Executor) dispatchAll(execCtx loopctx.ExecContext, env events.Envelope, calls []pipeline.ToolCallOut, emit func(events.Event)) bool {
	if len(calls) == 0 {
		return false
	}

	var mu sync.Mutex
	var anyFailed bool
	var wg sync.WaitGroup

	// emit's caller (turnloop.Loop.Run) folds every event into a plain
	// slice with no synchronization of its own, so concurrent tool
	// dispatches must not call emit concurrently — emitMu serializes the
	// sink while Dispatcher.Dispatch itself still runs one goroutine per
	// call.
	var emitMu sync.Mutex

	for _, tc := range calls {
		wg.Add(1)
		go func(tc pipeline.ToolCallOut) {
			defer wg.Done()
			failed := false
			wrapped := func(e events.Event) {
				if c, ok := e.(events.ToolComplete); ok && !c.Success {
					failed = true
				}
				emitMu.Lock()
				emit(e)
				emitMu.Unlock()
			}
			ex.Dispatcher.Dispatch(execCtx, env, tool.Call{ID: tc.ID, Name: tc.Name, Arguments: decodeArgs(tc.Arguments)}, wrapped)
			if failed {
				mu.Lock()
				anyFailed = true
				mu.Unlock()
			}
		}(tc)
	}
	wg.Wait()

	return anyFailed
}

// decodeArgs parses a tool call's JSON-text arguments (as assembled by
// aggregate.Aggregator from streamed argument deltas) into the
// map[string]any shape tool.Call.Arguments carries. Malformed or empty
// argument text yields an empty map rather than an error — the provider
// is responsible for well-formed arguments, and a parse failure here must
// not crash dispatch.
func decodeArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}
	}
	return out
}
