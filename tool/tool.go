// Package tool defines the tool-provider capability surface: a Tool
// definition (name, description, JSON Schema parameters), the Call/Result
// shapes exchanged with a Provider, and the Provider interface itself
// ("name, getTool, listTools, executeTool" per spec.md §9's dynamic-dispatch
// note). Concrete providers (tool/mcptool, tool/childagent, and in-process
// static registrations) all implement Provider.
package tool

import (
	"context"
	"encoding/json"
)

// Definition describes one invocable tool.
//
// Parameters is a JSON Schema document (object schema) validated against a
// Call's Arguments before dispatch (SPEC_FULL.md A3); a nil Parameters
// means the tool accepts no/any arguments and is not validated.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Call is one tool invocation request, carrying the same identity the
// streaming pipeline assembled it under.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Result is the outcome of executing a Call.
//
// Exactly one of Value or Err is meaningful: a failed execution sets Err
// and leaves Value nil; dispatch never panics or returns a Go error from
// Execute for a tool-level failure — those are reported as Result{Err: ...}
// instead, so tool-complete{success:false} can be emitted without aborting
// the turn (spec.md §7).
type Result struct {
	Value any
	Err   error
}

// Progress is an optional intermediate update a Provider may emit while
// executing a long-running call, surfaced as a tool-progress event.
type Progress struct {
	ToolCallID string
	Message    string
}

// Provider is the capability interface exposed by a tool backend —
// in-process Go functions (StaticProvider), an external MCP server
// (mcptool.Provider), or another agent invoked as a tool
// (childagent.Provider). Dispatch resolves a Call to a Provider by
// first-match over an ordered list of Providers (spec.md §9).
type Provider interface {
	// Name identifies this provider for logging/telemetry; not used for
	// routing.
	Name() string

	// ListTools returns the tool definitions this provider can execute.
	ListTools(ctx context.Context) ([]Definition, error)

	// GetTool reports whether this provider can execute the named tool,
	// returning its definition.
	GetTool(ctx context.Context, name string) (Definition, bool)

	// ExecuteTool runs call and returns its result. progress, if non-nil,
	// receives zero or more Progress updates before ExecuteTool returns;
	// implementations that have nothing to report may ignore it.
	ExecuteTool(ctx context.Context, call Call, progress func(Progress)) Result
}

// Resolve returns the first provider in providers that can execute name,
// implementing the "first-match resolution" idiom of spec.md §9.
func Resolve(ctx context.Context, providers []Provider, name string) (Provider, Definition, bool) {
	for _, p := range providers {
		if def, ok := p.GetTool(ctx, name); ok {
			return p, def, true
		}
	}
	return nil, Definition{}, false
}
