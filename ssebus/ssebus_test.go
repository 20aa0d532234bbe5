package ssebus

import (
	"testing"

	"github.com/agentforge/core/events"
	"github.com/stretchr/testify/require"
)

func TestPublish_FansOutToAllSubscribersOfContext(t *testing.T) {
	t.Parallel()

	b := New(4)
	sub1 := b.Subscribe("ctx1", Filter{})
	sub2 := b.Subscribe("ctx1", Filter{})

	b.Publish("ctx1", events.ContentDelta{Delta: "hi"})

	require.Equal(t, events.ContentDelta{Delta: "hi"}, <-sub1.Events())
	require.Equal(t, events.ContentDelta{Delta: "hi"}, <-sub2.Events())
}

func TestPublish_DoesNotCrossContexts(t *testing.T) {
	t.Parallel()

	b := New(4)
	sub := b.Subscribe("ctx1", Filter{})
	b.Publish("ctx2", events.ContentDelta{Delta: "other"})

	select {
	case <-sub.Events():
		t.Fatal("subscriber of ctx1 received an event published to ctx2")
	default:
	}
}

func TestSubscription_CloseStopsDeliveryAndIsIdempotent(t *testing.T) {
	t.Parallel()

	b := New(4)
	sub := b.Subscribe("ctx1", Filter{})
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent

	b.Publish("ctx1", events.ContentDelta{Delta: "after close"})

	_, ok := <-sub.Events()
	require.False(t, ok) // channel closed, no events delivered
}

func TestFilter_IncludeKindsRestrictsDelivery(t *testing.T) {
	t.Parallel()

	b := New(4)
	sub := b.Subscribe("ctx1", Filter{IncludeKinds: []events.Kind{events.KindToolStart}})

	b.Publish("ctx1", events.ContentDelta{Delta: "filtered out"})
	b.Publish("ctx1", events.ToolStart{ToolName: "calc"})

	got := <-sub.Events()
	require.Equal(t, events.KindToolStart, got.Meta().Kind)

	select {
	case <-sub.Events():
		t.Fatal("expected only one event to pass the filter")
	default:
	}
}

func TestFilter_ExcludeKindsWinsOverIncludeKinds(t *testing.T) {
	t.Parallel()

	b := New(4)
	sub := b.Subscribe("ctx1", Filter{
		IncludeKinds: []events.Kind{events.KindToolStart, events.KindToolComplete},
		ExcludeKinds: []events.Kind{events.KindToolComplete},
	})

	b.Publish("ctx1", events.ToolStart{ToolName: "calc"})
	b.Publish("ctx1", events.ToolComplete{ToolName: "calc", Success: true})

	got := <-sub.Events()
	require.Equal(t, events.KindToolStart, got.Meta().Kind)

	select {
	case <-sub.Events():
		t.Fatal("excluded kind should not have been delivered")
	default:
	}
}

func TestPublish_FullChannelDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	b := New(1)
	sub := b.Subscribe("ctx1", Filter{})

	b.Publish("ctx1", events.ContentDelta{Delta: "1"}) // fills the buffer
	b.Publish("ctx1", events.ContentDelta{Delta: "2"}) // dropped, does not block

	require.Equal(t, int64(1), sub.Dropped())
	require.Equal(t, events.ContentDelta{Delta: "1"}, <-sub.Events())
}

func TestBusClose_ClosesAllSubscribersOfContext(t *testing.T) {
	t.Parallel()

	b := New(4)
	sub1 := b.Subscribe("ctx1", Filter{})
	sub2 := b.Subscribe("ctx1", Filter{})
	other := b.Subscribe("ctx2", Filter{})

	b.Close("ctx1")

	_, ok1 := <-sub1.Events()
	_, ok2 := <-sub2.Events()
	require.False(t, ok1)
	require.False(t, ok2)

	b.Publish("ctx2", events.ContentDelta{Delta: "still alive"})
	require.Equal(t, events.ContentDelta{Delta: "still alive"}, <-other.Events())
}
