package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsStepsInRegistrationOrder(t *testing.T) {
	t.Parallel()

	c := New()
	var order []string
	c.Register(Step{Name: "sse", Run: func(context.Context) error { order = append(order, "sse"); return nil }})
	c.Register(Step{Name: "tools", Run: func(context.Context) error { order = append(order, "tools"); return nil }})
	c.Register(Step{Name: "buffer", Run: func(context.Context) error { order = append(order, "buffer"); return nil }})

	require.NoError(t, c.Shutdown(context.Background()))
	require.Equal(t, []string{"sse", "tools", "buffer"}, order)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	t.Parallel()

	c := New()
	calls := 0
	c.Register(Step{Name: "once", Run: func(context.Context) error { calls++; return nil }})

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	require.Equal(t, 1, calls)
}

func TestShutdown_RunsAllStepsEvenIfEarlierOneFails(t *testing.T) {
	t.Parallel()

	c := New()
	ran := map[string]bool{}
	c.Register(Step{Name: "a", Run: func(context.Context) error { ran["a"] = true; return errors.New("a failed") }})
	c.Register(Step{Name: "b", Run: func(context.Context) error { ran["b"] = true; return nil }})

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "a failed")
	require.True(t, ran["a"])
	require.True(t, ran["b"])
}

func TestShutdown_NoStepsReturnsNil(t *testing.T) {
	t.Parallel()

	c := New()
	require.NoError(t, c.Shutdown(context.Background()))
}
