package iteration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/agentforge/core/aggregate"
	"github.com/agentforge/core/events"
	"github.com/agentforge/core/loopctx"
	"github.com/agentforge/core/message"
	"github.com/agentforge/core/pipeline"
	"github.com/agentforge/core/tool"
	"github.com/agentforge/core/tooldispatch"
	"github.com/stretchr/testify/require"
)

type sliceUpstream struct {
	chunks []aggregate.Chunk
	pos    int
}

func (u *sliceUpstream) Recv(context.Context) (aggregate.Chunk, bool, error) {
	if u.pos >= len(u.chunks) {
		return aggregate.Chunk{}, false, nil
	}
	c := u.chunks[u.pos]
	u.pos++
	return c, true, nil
}

type fakeCaller struct {
	upstream pipeline.Upstream
	gotTools []tool.Definition
}

func (f *fakeCaller) Call(_ context.Context, _ []message.Message, tools []tool.Definition) (pipeline.Upstream, error) {
	f.gotTools = tools
	return f.upstream, nil
}

func newExecCtx() loopctx.ExecContext {
	loop := loopctx.LoopContext{AgentID: "agent-1", ContextID: "ctx-1", TaskID: "task-1"}
	return loopctx.NewExecContext(context.Background(), loop, 1)
}

func TestRun_PureTextIterationEmitsDeltaAndCompleteNoToolCalls(t *testing.T) {
	t.Parallel()

	up := &sliceUpstream{chunks: []aggregate.Chunk{
		{Content: "Hello", FinishReason: "stop"},
	}}
	caller := &fakeCaller{upstream: up}
	ex := New(caller, tooldispatch.New(nil, nil), nil)

	var got []events.Event
	result, err := ex.Run(newExecCtx(), nil, nil, func(e events.Event) { got = append(got, e) })

	require.NoError(t, err)
	require.Equal(t, events.FinishStop, result.FinishReason)
	require.Equal(t, 0, result.ToolCallCount)
	require.False(t, result.AnyToolFailed)

	var sawDelta, sawComplete bool
	for _, e := range got {
		switch v := e.(type) {
		case events.ContentDelta:
			sawDelta = true
			require.Equal(t, "Hello", v.Delta)
		case events.ContentComplete:
			sawComplete = true
			require.Equal(t, "Hello", v.Content)
		}
	}
	require.True(t, sawDelta)
	require.True(t, sawComplete)
}

func TestRun_ToolCallsAreDispatchedAndReportedInResult(t *testing.T) {
	t.Parallel()

	args, err := json.Marshal(map[string]any{"x": 1.0, "y": 2.0})
	require.NoError(t, err)

	up := &sliceUpstream{chunks: []aggregate.Chunk{
		{
			ToolCalls: []aggregate.ToolCallDelta{
				{Index: 0, ID: "c1", Name: "calc", Arguments: string(args)},
			},
			FinishReason: "tool_calls",
		},
	}}
	caller := &fakeCaller{upstream: up}

	calc := tool.NewStaticProvider("calc-provider")
	calc.Register(tool.Definition{Name: "calc"}, func(_ context.Context, call tool.Call, _ func(tool.Progress)) tool.Result {
		return tool.Result{Value: 3}
	})
	ex := New(caller, tooldispatch.New([]tool.Provider{calc}, nil), nil)

	var got []events.Event
	result, err := ex.Run(newExecCtx(), nil, nil, func(e events.Event) { got = append(got, e) })

	require.NoError(t, err)
	require.Equal(t, events.FinishToolCalls, result.FinishReason)
	require.Equal(t, 1, result.ToolCallCount)
	require.False(t, result.AnyToolFailed)

	var sawStart, sawComplete bool
	for _, e := range got {
		switch v := e.(type) {
		case events.ToolStart:
			sawStart = true
			require.Equal(t, "c1", v.ToolCallID)
		case events.ToolComplete:
			sawComplete = true
			require.True(t, v.Success)
			require.Equal(t, 3, v.Result)
		}
	}
	require.True(t, sawStart)
	require.True(t, sawComplete)
}

func TestRun_ToolFailureSetsAnyToolFailed(t *testing.T) {
	t.Parallel()

	up := &sliceUpstream{chunks: []aggregate.Chunk{
		{
			ToolCalls: []aggregate.ToolCallDelta{
				{Index: 0, ID: "c1", Name: "missing", Arguments: "{}"},
			},
			FinishReason: "tool_calls",
		},
	}}
	caller := &fakeCaller{upstream: up}

	empty := tool.NewStaticProvider("empty")
	ex := New(caller, tooldispatch.New([]tool.Provider{empty}, nil), nil)

	// "missing" resolves to no provider, so the dispatcher passes through
	// without emitting tool-complete; AnyToolFailed should remain false in
	// that case, distinct from an executed-but-failed call.
	result, err := ex.Run(newExecCtx(), nil, nil, func(events.Event) {})
	require.NoError(t, err)
	require.False(t, result.AnyToolFailed)

	failing := tool.NewStaticProvider("failing")
	failing.Register(tool.Definition{Name: "missing"}, func(context.Context, tool.Call, func(tool.Progress)) tool.Result {
		return tool.Result{Err: errBoom{}}
	})
	ex2 := New(caller, tooldispatch.New([]tool.Provider{failing}, nil), nil)
	up.pos = 0
	result2, err := ex2.Run(newExecCtx(), nil, nil, func(events.Event) {})
	require.NoError(t, err)
	require.True(t, result2.AnyToolFailed)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
