// Package childagent adapts another agent's turn loop into a tool.Provider,
// implementing the "agent as tool" pattern (spec.md §4.4): invoking the
// call routes to a remote agent's own turn loop, whose final answer comes
// back as this tool's result, with the caller's taskId/path propagated so
// the child's own emitted events can be recognised as a sub-task and
// excluded from the parent's history assembly (events.Envelope.AsChild).
//
// Grounded on runtime/a2a/caller.go's Caller interface and
// runtime/a2a/httpclient/client.go's JSON-RPC-over-HTTP transport,
// narrowed from A2A's multi-skill suite mapping to one remote agent
// exposed as a single named tool.
//
// Scope cut: spec.md §4.4 says every event the child streams back MUST be
// surfaced to the caller (parentTaskId/path-stamped, excluded from C8
// history). This package only wires the taskId/path stamping and the C8
// exclusion side (AsChild, history.FromEvents) — ExecuteTool reports only
// the child's final answer, since the synchronous Caller/SendTask
// round-trip here (and httpclient's single JSON-RPC response) has no
// channel to stream intermediate child events back through; tool.Provider's
// ExecuteTool only exposes a tool.Progress callback, not a raw events.Event
// sink. A streaming Caller (SSE or JSON-RPC notifications) plus a
// corresponding Provider/Dispatcher extension to carry typed child events
// rather than Progress strings would close this gap; see DESIGN.md.
package childagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentforge/core/loopctx"
	"github.com/agentforge/core/tool"
)

// SendTaskRequest describes one agent-as-tool invocation sent to a remote
// agent.
type SendTaskRequest struct {
	// AgentID identifies the remote agent to invoke.
	AgentID string
	// ParentTaskID is the calling turn's task id, forwarded so the child's
	// own events can be tagged as a sub-task.
	ParentTaskID string
	// Path is the calling turn's scope path, with the child's own segment
	// appended by the caller before this request is built.
	Path []string
	// Arguments is the JSON-encoded tool-call arguments forwarded as the
	// child agent's input.
	Arguments json.RawMessage
}

// SendTaskResponse carries the remote agent's final answer.
type SendTaskResponse struct {
	// Content is the child agent's final turn content.
	Content string
	// FinishReason is the child turn's terminal finish reason, forwarded
	// for callers that want to distinguish a clean stop from an error or
	// length cutoff.
	FinishReason string
}

// Caller invokes a remote agent's turn loop. Implemented by transport
// adapters (httpclient.Client for JSON-RPC over HTTP).
type Caller interface {
	SendTask(ctx context.Context, req SendTaskRequest) (SendTaskResponse, error)
}

// Provider exposes one remote agent as a single named tool.
type Provider struct {
	name    string
	def     tool.Definition
	agentID string
	caller  Caller
}

// New returns a Provider that dispatches calls to def.Name against the
// remote agent identified by agentID via caller.
func New(def tool.Definition, agentID string, caller Caller) *Provider {
	return &Provider{name: "childagent:" + agentID, def: def, agentID: agentID, caller: caller}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) ListTools(context.Context) ([]tool.Definition, error) {
	return []tool.Definition{p.def}, nil
}

func (p *Provider) GetTool(_ context.Context, name string) (tool.Definition, bool) {
	if name != p.def.Name {
		return tool.Definition{}, false
	}
	return p.def, true
}

// ExecuteTool marshals call.Arguments, propagates the calling turn's
// taskId and path as the child's parent scope, and translates the child's
// final answer into a tool.Result. A child-side error becomes
// Result{Err: ...}, not a panic or aborted turn. It does not surface the
// child's own intermediate events to the caller's stream — see the scope
// cut noted in the package doc.
func (p *Provider) ExecuteTool(ctx context.Context, call tool.Call, _ func(tool.Progress)) tool.Result {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		return tool.Result{Err: fmt.Errorf("childagent: marshal arguments for %q: %w", call.Name, err)}
	}

	req := SendTaskRequest{AgentID: p.agentID, Arguments: args}
	if execCtx, ok := ctx.(loopctx.ExecContext); ok {
		req.ParentTaskID = execCtx.LoopContext.TaskID
		req.Path = append(req.Path, "agent:"+p.agentID)
	}

	resp, err := p.caller.SendTask(ctx, req)
	if err != nil {
		return tool.Result{Err: fmt.Errorf("childagent: invoke %q on agent %q: %w", call.Name, p.agentID, err)}
	}
	return tool.Result{Value: resp.Content}
}
