package ringbuffer

import (
	"testing"

	"github.com/agentforge/core/events"
	"github.com/stretchr/testify/require"
)

func TestAppend_AssignsMonotonicIDsPerContext(t *testing.T) {
	t.Parallel()

	b := New(10)
	id1 := b.Append("ctx1", events.TaskCreated{})
	id2 := b.Append("ctx1", events.TaskCreated{})
	id3 := b.Append("ctx2", events.TaskCreated{})

	require.Equal(t, int64(1), id1)
	require.Equal(t, int64(2), id2)
	require.Equal(t, int64(1), id3) // separate sequence per context
}

func TestReplay_ReturnsEventsStrictlyAfterSinceID(t *testing.T) {
	t.Parallel()

	b := New(20)
	for i := 0; i < 12; i++ {
		b.Append("ctx1", events.ContentDelta{Index: i})
	}

	result := b.Replay("ctx1", 7)
	require.False(t, result.Gap)
	require.Len(t, result.Entries, 5)
	require.Equal(t, int64(8), result.Entries[0].ID)
	require.Equal(t, int64(12), result.Entries[4].ID)
}

func TestReplay_DetectsGapAfterEviction(t *testing.T) {
	t.Parallel()

	b := New(5)
	for i := 0; i < 10; i++ {
		b.Append("ctx1", events.ContentDelta{Index: i})
	}
	// capacity 5: only IDs 6-10 are retained; 1-5 were evicted.

	result := b.Replay("ctx1", 3)
	require.True(t, result.Gap)
}

func TestReplay_NoGapWhenWithinRetainedWindow(t *testing.T) {
	t.Parallel()

	b := New(5)
	for i := 0; i < 10; i++ {
		b.Append("ctx1", events.ContentDelta{Index: i})
	}

	result := b.Replay("ctx1", 8)
	require.False(t, result.Gap)
	require.Len(t, result.Entries, 2)
}

func TestAppend_EvictsOldestPastCapacity(t *testing.T) {
	t.Parallel()

	b := New(3)
	for i := 0; i < 5; i++ {
		b.Append("ctx1", events.ContentDelta{Index: i})
	}

	result := b.Replay("ctx1", 0)
	require.Len(t, result.Entries, 3)
	require.Equal(t, int64(3), result.Entries[0].ID)
	require.Equal(t, int64(5), result.Entries[2].ID)
}
