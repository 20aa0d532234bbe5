// Package redisbuf is an alternate C9 backend that persists the same
// bounded-append-log structure as ringbuffer in a Redis stream, so replay
// survives process restarts and works across multiple SSE-serving
// processes. It uses github.com/redis/go-redis/v9 directly in place of
// the teacher's goa.design/pulse client (see DESIGN.md for why pulse is
// dropped): pulse's own streaming primitives are themselves backed by
// Redis streams, so go-redis/v9 — already a direct teacher dependency —
// covers the same ground without Pulse's sink/consumer-group naming
// assumptions, which only make sense inside a Goa-generated service.
package redisbuf

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/agentforge/core/events"
	"github.com/agentforge/core/ringbuffer"
	"github.com/redis/go-redis/v9"
)

// Buffer persists events for one or more contexts as Redis streams keyed
// "agentcore:events:<contextId>", trimmed to an approximate maximum length
// matching ringbuffer.Buffer's in-memory eviction policy.
type Buffer struct {
	client    redis.Cmdable
	maxLen    int64
	keyPrefix string
}

// Option configures a Buffer at construction.
type Option func(*Buffer)

// WithKeyPrefix overrides the default "agentcore:events:" Redis key
// prefix.
func WithKeyPrefix(prefix string) Option {
	return func(b *Buffer) { b.keyPrefix = prefix }
}

// New returns a Buffer backed by client, retaining approximately capacity
// entries per context stream (Redis MAXLEN ~ trimming, same approximate
// semantics XADD already offers).
func New(client redis.Cmdable, capacity int, opts ...Option) *Buffer {
	b := &Buffer{client: client, maxLen: int64(capacity), keyPrefix: "agentcore:events:"}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Buffer) key(contextID string) string {
	return b.keyPrefix + contextID
}

// wireEvent is the JSON envelope persisted on the stream; concrete event
// type information is not preserved (callers replaying history only need
// the marshaled event for SSE re-delivery, not a typed Go value).
type wireEvent struct {
	Kind    events.Kind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Append persists event on contextID's stream, trimmed to ~capacity
// entries, and returns the assigned sequence number (the stream entry's
// millisecond-sequence ID packed into an int64 ordinal by
// streamIDToOrdinal, since ringbuffer.Entry.ID is an int64 ordinal, not a
// Redis stream ID).
func (b *Buffer) Append(ctx context.Context, contextID string, event events.Event) (int64, error) {
	payload, err := events.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	wire, err := json.Marshal(wireEvent{Kind: event.Meta().Kind, Payload: payload})
	if err != nil {
		return 0, fmt.Errorf("marshal wire envelope: %w", err)
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.key(contextID),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"event": wire},
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xadd: %w", err)
	}

	seq, err := streamIDToOrdinal(id)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Replay mirrors ringbuffer.Buffer.Replay: every entry for contextID
// strictly after sinceEventID, with gap detection based on whether the
// oldest retained entry's ordinal already exceeds sinceEventID+1.
func (b *Buffer) Replay(ctx context.Context, contextID string, sinceEventID int64) (ringbuffer.ReplayResult, error) {
	raw, err := b.client.XRange(ctx, b.key(contextID), "-", "+").Result()
	if err != nil {
		return ringbuffer.ReplayResult{}, fmt.Errorf("xrange: %w", err)
	}

	var out []ringbuffer.Entry
	gap := false
	for i, msg := range raw {
		ordinal, err := streamIDToOrdinal(msg.ID)
		if err != nil {
			continue
		}
		if i == 0 && sinceEventID > 0 && ordinal > sinceEventID+1 {
			gap = true
		}
		if ordinal <= sinceEventID {
			continue
		}
		rawEvent, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var we wireEvent
		if err := json.Unmarshal([]byte(rawEvent), &we); err != nil {
			continue
		}
		out = append(out, ringbuffer.Entry{ID: ordinal, Event: rawStoredEvent{kind: we.Kind, payload: we.Payload}})
	}

	return ringbuffer.ReplayResult{Entries: out, Gap: gap}, nil
}

// rawStoredEvent implements events.Event over a replayed JSON payload
// whose concrete Go type was not preserved across the Redis round-trip;
// it is sufficient for SSE re-delivery, which only re-serializes the
// payload.
type rawStoredEvent struct {
	kind    events.Kind
	payload json.RawMessage
}

func (r rawStoredEvent) Meta() events.Envelope { return events.Envelope{Kind: r.kind} }

// MarshalJSON returns the original payload verbatim, so re-emitting a
// replayed event over SSE reproduces the exact original wire bytes.
func (r rawStoredEvent) MarshalJSON() ([]byte, error) { return r.payload, nil }

// streamIDToOrdinal collapses a Redis stream entry ID ("<ms>-<seq>") into
// an int64 ordinal by shifting the millisecond part left 20 bits and
// keeping the low 20 bits of the sequence counter, so the ordinal grows
// with the ID while fewer than 2^20 entries share one millisecond; Redis
// already guarantees IDs are
// strictly increasing, so the XRANGE iteration order is authoritative and
// this ordinal is used purely for the sinceEventID comparison contract.
func streamIDToOrdinal(id string) (int64, error) {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			ms, err := strconv.ParseInt(id[:i], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse stream id %q: %w", id, err)
			}
			seq, err := strconv.ParseInt(id[i+1:], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse stream id %q: %w", id, err)
			}
			// Shift ms left to keep ordering stable for the sequence
			// counter's realistic range (Redis defaults seq to a 64-bit
			// counter per millisecond, but agentcore streams append far
			// below that rate).
			return ms<<20 | (seq & 0xFFFFF), nil
		}
	}
	return 0, fmt.Errorf("malformed stream id %q", id)
}
