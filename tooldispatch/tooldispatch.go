// Package tooldispatch resolves a tool-call to a provider and runs it
// through the start → progress* → complete lifecycle (spec.md §4.4),
// normalising provider errors. Events emitted by an agent-as-tool child
// run are not surfaced here (see tool/childagent).
// Grounded on the teacher's toolBatchExec/synthesizeToolError/
// synthesizeUnknownToolResult shapes (runtime/agent/runtime/tool_calls.go)
// and the first-match provider resolution idiom of runtime/registry/
// manager.go.
package tooldispatch

import (
	"github.com/agentforge/core/events"
	"github.com/agentforge/core/loopctx"
	"github.com/agentforge/core/telemetry"
	"github.com/agentforge/core/tool"
	"github.com/agentforge/core/toolerr"
	"github.com/agentforge/core/toolschema"
)

// Dispatcher resolves and executes tool calls against an ordered list of
// providers.
type Dispatcher struct {
	Providers []tool.Provider
	Logger    telemetry.Logger
	schema    *toolschema.Validator
}

// New returns a Dispatcher over providers. A nil logger defaults to
// telemetry.NewNoopLogger(). Every call's arguments are validated against
// its resolved provider's schema (SPEC_FULL.md A3) before execution.
func New(providers []tool.Provider, logger telemetry.Logger) *Dispatcher {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Dispatcher{Providers: providers, Logger: logger, schema: toolschema.New()}
}

// Dispatch resolves call against d.Providers and runs its full lifecycle,
// emitting events to emit in order: tool-start, zero or more tool-progress,
// then exactly one tool-complete — unless no provider matches, in which
// case it logs a warning and emits nothing, leaving the original tool-call
// event to pass through unchanged (spec.md §4.4 resolution rule).
//
// env is the envelope template (contextId/taskId/path) for events emitted
// directly by this call; execCtx derives from the iteration's LoopContext
// (spec.md §4.4) and is forwarded to the provider as its execution
// context.
func (d *Dispatcher) Dispatch(execCtx loopctx.ExecContext, env events.Envelope, call tool.Call, emit func(events.Event)) {
	provider, def, ok := tool.Resolve(execCtx, d.Providers, call.Name)
	if !ok {
		d.Logger.Warn(execCtx, "no provider for tool call; passing through unchanged", "tool", call.Name, "toolCallId", call.ID)
		return
	}

	emit(events.ToolStart{
		Envelope:   env.WithKind(events.KindToolStart),
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  call.Arguments,
	})

	progress := func(p tool.Progress) {
		emit(events.ToolProgress{Envelope: env.WithKind(events.KindToolProgress), ToolCallID: p.ToolCallID, Message: p.Message})
	}

	if err := d.schema.Validate(def.Parameters, call.Arguments); err != nil {
		emit(events.ToolComplete{
			Envelope:   env.WithKind(events.KindToolComplete),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    false,
			Error:      err.Error(),
		})
		return
	}

	result := runProvider(execCtx, provider, call, progress)

	if result.Err != nil {
		te := toolerr.FromError(result.Err)
		emit(events.ToolComplete{
			Envelope:   env.WithKind(events.KindToolComplete),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    false,
			Error:      te.Error(),
		})
		return
	}

	emit(events.ToolComplete{
		Envelope:   env.WithKind(events.KindToolComplete),
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    true,
		Result:     result.Value,
	})
}

// runProvider isolates the provider call so a Go panic inside a
// third-party Provider implementation degrades to a tool error instead of
// taking down the turn loop, mirroring the "synchronous throw" branch of
// spec.md §4.4's execution contract.
func runProvider(execCtx loopctx.ExecContext, provider tool.Provider, call tool.Call, progress func(tool.Progress)) (result tool.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = tool.Result{Err: toolerr.Errorf("tool %q panicked: %v", call.Name, r)}
		}
	}()
	return provider.ExecuteTool(execCtx, call, progress)
}
