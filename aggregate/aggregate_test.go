package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAggregator_PureTextTurn(t *testing.T) {
	t.Parallel()

	a := New()
	a.Add(Chunk{Content: "Hello"})
	a.Add(Chunk{Content: " world", FinishReason: "stop"})

	got := a.Result()
	require.Equal(t, "Hello world", got.Content)
	require.Equal(t, "stop", got.FinishReason)
	require.Empty(t, got.ToolCalls)
}

func TestAggregator_ToolCallDeltasMergeByIndex(t *testing.T) {
	t.Parallel()

	a := New()
	a.Add(Chunk{ToolCalls: []ToolCallDelta{{Index: 0, ID: "c1", Name: "calc", Arguments: `{"x":1`}}})
	a.Add(Chunk{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `,"y":2}`}}})
	a.Add(Chunk{FinishReason: "tool_calls"})

	got := a.Result()
	require.Equal(t, "tool_calls", got.FinishReason)
	require.Len(t, got.ToolCalls, 1)
	require.Equal(t, "c1", got.ToolCalls[0].ID)
	require.Equal(t, "calc", got.ToolCalls[0].Name)
	require.Equal(t, `{"x":1,"y":2}`, got.ToolCalls[0].Arguments)
}

func TestAggregator_ToolCallsOrderedByIndex(t *testing.T) {
	t.Parallel()

	a := New()
	a.Add(Chunk{ToolCalls: []ToolCallDelta{{Index: 1, ID: "second", Name: "b"}}})
	a.Add(Chunk{ToolCalls: []ToolCallDelta{{Index: 0, ID: "first", Name: "a"}}})

	got := a.Result()
	require.Len(t, got.ToolCalls, 2)
	require.Equal(t, "first", got.ToolCalls[0].ID)
	require.Equal(t, "second", got.ToolCalls[1].ID)
}

func TestAggregator_LastNonNullFinishReasonWins(t *testing.T) {
	t.Parallel()

	a := New()
	a.Add(Chunk{Content: "a"})
	a.Add(Chunk{Content: "b", FinishReason: "tool_calls"})
	a.Add(Chunk{Content: "c"}) // no finish reason on this delta

	got := a.Result()
	require.Equal(t, "tool_calls", got.FinishReason)
}

func TestAggregator_UsageSumsIncludingDetails(t *testing.T) {
	t.Parallel()

	a := New()
	a.Add(Chunk{Usage: &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Details: map[string]int{"cache_read": 2}}})
	a.Add(Chunk{Usage: &Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4, Details: map[string]int{"cache_read": 1, "cache_write": 7}}})

	got := a.Result()
	require.Equal(t, 13, got.Usage.PromptTokens)
	require.Equal(t, 6, got.Usage.CompletionTokens)
	require.Equal(t, 19, got.Usage.TotalTokens)
	require.Equal(t, 3, got.Usage.Details["cache_read"])
	require.Equal(t, 7, got.Usage.Details["cache_write"])
}

func TestAggregator_ResetAllowsReuse(t *testing.T) {
	t.Parallel()

	a := New()
	a.Add(Chunk{Content: "stale", FinishReason: "stop"})
	a.Reset()
	a.Add(Chunk{Content: "fresh"})

	got := a.Result()
	require.Equal(t, "fresh", got.Content)
	require.Equal(t, "", got.FinishReason)
}
