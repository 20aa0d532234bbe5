// Package loopctx defines LoopContext, the immutable per-turn record
// threaded through the iteration executor and tool dispatcher.
package loopctx

import (
	"context"

	"github.com/agentforge/core/message"
	"github.com/agentforge/core/tool"
)

// SkillPrompt is one named system-role prompt contributed by a registered
// skill, included in registration order ahead of conversation history
// (spec.md §4.5 step 1).
type SkillPrompt struct {
	Name   string
	Prompt string
}

// AuthContext carries optional bearer/identity material forwarded to
// providers and tools that need it. A nil AuthContext means the turn runs
// unauthenticated.
type AuthContext struct {
	Subject string
	Token   string
}

// TraceScope identifies the parent tracing scope a turn (or a dispatched
// child execution) runs under.
type TraceScope struct {
	TraceID string
	SpanID  string
}

// LoopContext is the immutable record describing one turn. It is built
// once by the caller starting the turn loop and never mutated afterward;
// per-iteration and per-tool-call derived contexts (ExecContext) copy from
// it instead.
type LoopContext struct {
	AgentID       string
	ContextID     string
	TaskID        string
	TurnNumber    int
	SystemPrompt  string
	SkillPrompts  []SkillPrompt
	Providers     []tool.Provider
	ParentTrace   TraceScope
	Auth          *AuthContext
}

// PrepareMessages assembles the message list an iteration sends to the
// provider: the system prompt (if present, name "system-prompt"), each
// skill prompt in registration order (name = its key), then history
// verbatim (spec.md §4.5 step 1).
func (c LoopContext) PrepareMessages(history []message.Message) []message.Message {
	out := make([]message.Message, 0, len(c.SkillPrompts)+len(history)+1)
	if c.SystemPrompt != "" {
		out = append(out, message.Message{Role: message.RoleSystem, Content: c.SystemPrompt, Name: "system-prompt"})
	}
	for _, sp := range c.SkillPrompts {
		out = append(out, message.Message{Role: message.RoleSystem, Content: sp.Prompt, Name: sp.Name})
	}
	out = append(out, history...)
	return out
}

// ExecContext derives from a LoopContext for one tool call, additionally
// carrying the parent trace scope of the current iteration (spec.md
// §4.4).
type ExecContext struct {
	context.Context
	LoopContext LoopContext
	IterationN  int
	TraceScope  TraceScope
}

// NewExecContext builds an ExecContext for dispatching tool calls during
// iteration n of loop.
func NewExecContext(ctx context.Context, loop LoopContext, iterationN int) ExecContext {
	return ExecContext{
		Context:     ctx,
		LoopContext: loop,
		IterationN:  iterationN,
		TraceScope:  loop.ParentTrace,
	}
}
