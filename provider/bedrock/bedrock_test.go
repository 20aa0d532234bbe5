package bedrock

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/core/aggregate"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/tool"
)

func TestChunkProcessor_TextAndToolCallAndStop(t *testing.T) {
	t.Parallel()

	var got []aggregate.Chunk
	p := &chunkProcessor{emit: func(c aggregate.Chunk) bool { got = append(got, c); return true }, nameMap: map[string]string{"calc": "calc"}}

	idx0, idx1 := int32(0), int32(1)
	events := []any{
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: &idx0,
			Delta:             &brtypes.ContentBlockDeltaMemberText{Value: "hello"},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockStart{Value: brtypes.ContentBlockStartEvent{
			ContentBlockIndex: &idx1,
			Start: &brtypes.ContentBlockStartMemberToolUse{Value: brtypes.ToolUseBlockStart{
				ToolUseId: aws.String("t1"),
				Name:      aws.String("calc"),
			}},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: &idx1,
			Delta:             &brtypes.ContentBlockDeltaMemberToolUse{Value: brtypes.ToolUseBlockDelta{Input: aws.String(`{"x":1}`)}},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockStop{Value: brtypes.ContentBlockStopEvent{ContentBlockIndex: &idx1}},
		&brtypes.ConverseStreamOutputMemberMetadata{Value: brtypes.ConverseStreamMetadataEvent{
			Usage: &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5), TotalTokens: aws.Int32(15)},
		}},
		&brtypes.ConverseStreamOutputMemberMessageStop{Value: brtypes.MessageStopEvent{StopReason: brtypes.StopReasonToolUse}},
	}
	for _, ev := range events {
		require.NoError(t, p.handle(ev))
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

func TestChunkProcessor_ReasoningBlockEmitsWrappedTagOnStop(t *testing.T) {
	t.Parallel()

	var got []aggregate.Chunk
	p := &chunkProcessor{emit: func(c aggregate.Chunk) bool { got = append(got, c); return true }}

	idx0 := int32(0)
	events := []any{
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: &idx0,
			Delta: &brtypes.ContentBlockDeltaMemberReasoningContent{
				Value: &brtypes.ReasoningContentBlockDeltaMemberText{Value: "step "},
			},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
			ContentBlockIndex: &idx0,
			Delta: &brtypes.ContentBlockDeltaMemberReasoningContent{
				Value: &brtypes.ReasoningContentBlockDeltaMemberText{Value: "one"},
			},
		}},
		&brtypes.ConverseStreamOutputMemberContentBlockStop{Value: brtypes.ContentBlockStopEvent{ContentBlockIndex: &idx0}},
	}
	for _, ev := range events {
		require.NoError(t, p.handle(ev))
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

func TestSanitizeToolName_TruncatesLongNamesWithHashSuffix(t *testing.T) {
	t.Parallel()

	long := ""
	for i := 0; i < 80; i++ {
		long += "a"
	}
	out := sanitizeToolName(long)
	require.LessOrEqual(t, len(out), 64)
	require.Contains(t, out, "_")
}

func TestSanitizeToolName_ReplacesDisallowedRunes(t *testing.T) {
	t.Parallel()
	require.Equal(t, "a_b_c", sanitizeToolName("a.b/c"))
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
	require.Len(t, conv, 3)
}

func TestEncodeMessages_RequiresAtLeastOneConversationMessage(t *testing.T) {
	t.Parallel()

	_, _, err := encodeMessages([]message.Message{message.System("x")})
	require.Error(t, err)
}

func TestEncodeTools_DetectsNameCollision(t *testing.T) {
	t.Parallel()

	defs := []tool.Definition{
		{Name: "a.b", Description: "x", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "a/b", Description: "y", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	_, _, err := encodeTools(defs)
	require.Error(t, err)
}

func TestEncodeTools_BuildsToolConfiguration(t *testing.T) {
	t.Parallel()

	defs := []tool.Definition{{Name: "calc", Description: "adds numbers", Parameters: json.RawMessage(`{"type":"object"}`)}}
	cfg, nameMap, err := encodeTools(defs)
	require.NoError(t, err)
	require.Len(t, cfg.Tools, 1)
	require.Equal(t, "calc", nameMap["calc"])
}

func TestNew_RequiresRuntimeAndModel(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{Model: "anthropic.claude-3"})
	require.Error(t, err)
}
