// Package turnloop implements the turn loop (C7): the state machine
// driving repeated iterations until a terminal finish reason, a
// configured iteration cap, or (optionally) a tool failure stops it.
//
// Grounded on runtime/agent/runtime/workflow_loop.go's workflowLoop.run()
// driver, flattened per spec.md §9's redesign note from the teacher's
// Temporal-workflow recursive expansion into a plain for loop over
// Init → Iterating(n) → Finalising → Done.
package turnloop

import (
	"context"
	"fmt"

	"github.com/agentforge/core/events"
	"github.com/agentforge/core/history"
	"github.com/agentforge/core/iteration"
	"github.com/agentforge/core/loopctx"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/tool"
)

// State names the turn loop's coarse lifecycle position.
type State string

const (
	StateInit       State = "init"
	StateIterating  State = "iterating"
	StateFinalising State = "finalising"
	StateDone       State = "done"
)

// Config bounds how long a turn loop may run.
type Config struct {
	// MaxIterations caps the number of iterations before the loop
	// force-finalises, even if the provider keeps requesting tool calls.
	// Zero means unbounded.
	MaxIterations int
	// StopOnToolError ends the turn as soon as any dispatched tool call
	// fails, instead of feeding the failure back to the provider for
	// another iteration.
	StopOnToolError bool
}

// Outcome is the result of running a turn to completion.
type Outcome struct {
	FinalState     State
	History        []message.Message
	IterationCount int
	FinishReason   events.FinishReason
	// Reason explains why the loop stopped when it did not stop because
	// the provider itself returned a terminal finish reason (e.g.
	// "max-iterations", "tool-error").
	Reason string
}

// Loop drives iterations for one turn.
type Loop struct {
	Executor *iteration.Executor
	Config   Config
}

// New returns a Loop driving ex under cfg.
func New(ex *iteration.Executor, cfg Config) *Loop {
	return &Loop{Executor: ex, Config: cfg}
}

// Run drives the turn to completion: TaskCreated is emitted once at
// Init, then each Iterating(n) pass runs one iteration.Executor.Run,
// folds its events into history via history.FromEvents for the next
// pass, and checks the stop conditions below. Finalising emits
// TaskComplete with the last iteration's content and finish reason, and
// Done is reached once that has been emitted.
func (l *Loop) Run(ctx context.Context, loop loopctx.LoopContext, initialHistory []message.Message, tools []tool.Definition, emit func(events.Event)) (Outcome, error) {
	env := events.Envelope{ContextID: loop.ContextID, TaskID: loop.TaskID}
	emit(events.TaskCreated{Envelope: env.WithKind(events.KindTaskCreated)})

	hist := append([]message.Message(nil), initialHistory...)
	var lastContent string
	var lastFinish events.FinishReason
	var stopReason string
	n := 0

	for {
		n++
		if l.Config.MaxIterations > 0 && n > l.Config.MaxIterations {
			n--
			stopReason = "max-iterations"
			break
		}

		iterLoop := loop
		iterLoop.TurnNumber = n
		execCtx := loopctx.NewExecContext(ctx, iterLoop, n)

		var iterEvents []events.Event
		wrapped := func(e events.Event) {
			iterEvents = append(iterEvents, e)
			emit(e)
		}

		result, err := l.Executor.Run(execCtx, hist, tools, wrapped)
		if err != nil {
			return Outcome{FinalState: StateIterating, History: hist, IterationCount: n}, fmt.Errorf("turnloop: iteration %d: %w", n, err)
		}

		hist = append(hist, history.FromEvents(iterEvents)...)
		lastFinish = result.FinishReason
		for _, e := range iterEvents {
			if cc, ok := e.(events.ContentComplete); ok {
				lastContent = cc.Content
			}
		}

		if l.Config.StopOnToolError && result.AnyToolFailed {
			stopReason = "tool-error"
			break
		}
		if result.FinishReason.Terminal() {
			break
		}
	}

	emit(events.TaskComplete{
		Envelope:     env.WithKind(events.KindTaskComplete),
		Content:      lastContent,
		FinishReason: lastFinish,
	})

	return Outcome{
		FinalState:     StateDone,
		History:        hist,
		IterationCount: n,
		FinishReason:   lastFinish,
		Reason:         stopReason,
	}, nil
}
