package anthropic

import (
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/core/aggregate"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/tool"
)

func mustEvent(t *testing.T, raw string) sdk.MessageStreamEventUnion {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestChunkProcessor_TextAndToolCallAndStop(t *testing.T) {
	t.Parallel()

	var got []aggregate.Chunk
	p := &chunkProcessor{emit: func(c aggregate.Chunk) bool { got = append(got, c); return true }}

	events := []string{
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"calc"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"x\":1}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":10,"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	}
	for _, raw := range events {
		require.NoError(t, p.handle(mustEvent(t, raw)))
	}

	require.Len(t, got, 4)
	require.Equal(t, "hello", got[0].Content)
	require.Equal(t, "t1", got[1].ToolCalls[0].ID)
	require.Equal(t, "calc", got[1].ToolCalls[0].Name)
	require.Equal(t, `{"x":1}`, got[2].ToolCalls[0].Arguments)
	require.Equal(t, "tool_calls", got[3].FinishReason)
	require.Equal(t, 10, got[3].Usage.PromptTokens)
	require.Equal(t, 5, got[3].Usage.CompletionTokens)
}

func TestChunkProcessor_ThinkingBlockEmitsWrappedTagOnStop(t *testing.T) {
	t.Parallel()

	var got []aggregate.Chunk
	p := &chunkProcessor{emit: func(c aggregate.Chunk) bool { got = append(got, c); return true }}

	events := []string{
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"step "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"one"}}`,
		`{"type":"content_block_stop","index":0}`,
	}
	for _, raw := range events {
		require.NoError(t, p.handle(mustEvent(t, raw)))
	}

	require.Len(t, got, 1)
	require.Equal(t, "<thinking>step one</thinking>", got[0].Content)
}

func TestMapStopReason(t *testing.T) {
	t.Parallel()
	require.Equal(t, "length", mapStopReason("max_tokens"))
	require.Equal(t, "tool_calls", mapStopReason("tool_use"))
	require.Equal(t, "stop", mapStopReason("end_turn"))
	require.Equal(t, "stop", mapStopReason("anything_else"))
}

func TestEncodeMessages_SplitsSystemFromConversation(t *testing.T) {
	t.Parallel()

	msgs := []message.Message{
		message.System("be terse"),
		message.User("hi"),
		message.Assistant("hello", message.ToolCall{ID: "c1", Name: "calc", Arguments: map[string]any{"x": 1.0}}),
		message.ToolResult("c1", "calc", "3"),
	}
	conv, system, err := encodeMessages(msgs)
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Equal(t, "be terse", system[0].Text)
	require.Len(t, conv, 3)
}

func TestEncodeMessages_RequiresAtLeastOneConversationMessage(t *testing.T) {
	t.Parallel()

	_, _, err := encodeMessages([]message.Message{message.System("x")})
	require.Error(t, err)
}

func TestEncodeTools_MarshalsSchemaExtraFields(t *testing.T) {
	t.Parallel()

	defs := []tool.Definition{
		{Name: "calc", Description: "adds numbers", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	out, err := encodeTools(defs)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestNew_RequiresClientModelAndMaxTokens(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{DefaultModel: "claude", MaxTokens: 100})
	require.Error(t, err)
}
