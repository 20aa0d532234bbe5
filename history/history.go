// Package history converts one iteration's emitted events into the
// provider-shaped messages fed to the next iteration (spec.md §4.7),
// grounded on the teacher's event-to-message reduction in
// runtime/agent/runtime/workflow_transcript.go and runtime/agent/
// transcript/ledger.go.
package history

import (
	"fmt"

	"github.com/agentforge/core/events"
	"github.com/agentforge/core/message"
)

// FromEvents reduces evts, in emission order, into the messages appended
// to history for the next iteration. Events carrying a non-empty
// ParentTaskID (sub-task/agent-as-tool child events) are ignored — only
// the parent's own tool-complete carries the child's result into history
// (spec.md §4.4, §4.7).
func FromEvents(evts []events.Event) []message.Message {
	var out []message.Message
	for _, e := range evts {
		if e.Meta().ParentTaskID != "" {
			continue
		}
		switch v := e.(type) {
		case events.ContentComplete:
			if v.Content != "" {
				out = append(out, message.Message{Role: message.RoleAssistant, Content: v.Content})
			}
			if len(v.ToolCalls) > 0 {
				calls := make([]message.ToolCall, 0, len(v.ToolCalls))
				for _, tc := range v.ToolCalls {
					calls = append(calls, message.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
				}
				out = append(out, message.Message{Role: message.RoleAssistant, Content: "", ToolCalls: calls})
			}

		case events.ToolComplete:
			content := stringifyResult(v)
			out = append(out, message.Message{
				Role:       message.RoleTool,
				Content:    content,
				Name:       v.ToolName,
				ToolCallID: v.ToolCallID,
			})

		default:
			// content-delta, thought-stream, task-lifecycle, and any other
			// kind are ignored per spec.md §4.7.
		}
	}
	return out
}

// stringifyResult renders a tool-complete's result or error as the plain
// string a tool-role history message carries.
func stringifyResult(v events.ToolComplete) string {
	if !v.Success {
		return v.Error
	}
	switch r := v.Result.(type) {
	case nil:
		return ""
	case string:
		return r
	default:
		return fmt.Sprintf("%v", r)
	}
}
