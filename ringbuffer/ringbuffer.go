// Package ringbuffer implements the default in-memory bounded append log
// (C9): per-contextId, monotonically increasing event IDs, eviction of the
// oldest entry past capacity, and gap-aware replay for SSE reconnect.
// Grounded on the teacher's runlog.Store/inmem.Store append+list pattern
// (runtime/agent/runlog/inmem/inmem.go), adapted from a cursor-paginated
// store to the simpler sinceEventId replay contract spec.md §4.8 names.
package ringbuffer

import (
	"sync"

	"github.com/agentforge/core/events"
)

// Entry is one retained (eventId, event) pair.
type Entry struct {
	ID    int64
	Event events.Event
}

// ReplayResult is the outcome of Replay: the in-order entries after
// sinceEventId, and whether a gap was detected (sinceEventId was older
// than the oldest retained entry, so some events were evicted and cannot
// be replayed).
type ReplayResult struct {
	Entries []Entry
	Gap     bool
}

// Buffer is a bounded, per-context append log. The zero value is not
// usable; construct with New.
type Buffer struct {
	capacity int

	mu       sync.Mutex
	nextID   map[string]int64
	entries  map[string][]Entry
	evicted  map[string]int64 // highest ID ever evicted per context, for gap detection
}

// New returns a Buffer retaining up to capacity events per contextId.
// capacity must be positive.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		capacity: capacity,
		nextID:   make(map[string]int64),
		entries:  make(map[string][]Entry),
		evicted:  make(map[string]int64),
	}
}

// Append assigns the next monotonically increasing ID for contextID,
// stores the event, and evicts the oldest entry if capacity is exceeded.
// It returns the assigned ID.
func (b *Buffer) Append(contextID string, event events.Event) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID[contextID] + 1
	b.nextID[contextID] = id

	entries := append(b.entries[contextID], Entry{ID: id, Event: event})
	if len(entries) > b.capacity {
		evictedCount := len(entries) - b.capacity
		if entries[evictedCount-1].ID > b.evicted[contextID] {
			b.evicted[contextID] = entries[evictedCount-1].ID
		}
		entries = append([]Entry(nil), entries[evictedCount:]...)
	}
	b.entries[contextID] = entries

	return id
}

// Replay returns every retained entry for contextID strictly after
// sinceEventId, in order. Gap is true when sinceEventId is older than (or
// equal to) the highest ID ever evicted for this context, meaning some
// events between sinceEventId and the oldest retained entry were
// permanently lost.
func (b *Buffer) Replay(contextID string, sinceEventID int64) ReplayResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	gap := sinceEventID > 0 && sinceEventID <= b.evicted[contextID]

	all := b.entries[contextID]
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if e.ID > sinceEventID {
			out = append(out, e)
		}
	}
	return ReplayResult{Entries: out, Gap: gap}
}

// Clear drops all retained state for contextID (e.g. on turn completion
// past a retention window). The next-ID counter is preserved so future
// appends keep monotonicity.
func (b *Buffer) Clear(contextID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, contextID)
}
