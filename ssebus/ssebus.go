// Package ssebus is the SSE router (C10): a per-contextId registry of
// filtered subscribers fed by a single publisher, fanning out events
// non-blockingly so one slow SSE client cannot stall the turn loop.
// Grounded directly on runtime/agent/hooks/bus.go's Bus/Subscriber/
// Subscription fan-out pattern, generalised from one process-wide bus to
// a per-contextId registry, and on runtime/agent/stream/subscriber.go's
// StreamProfile for the include/exclude-kind filtering idiom.
package ssebus

import (
	"sync"

	"github.com/agentforge/core/events"
)

// Filter decides which events a subscriber receives. The zero value
// admits everything except internal-only kinds (mirroring the teacher's
// StreamProfile default of forwarding only client-facing hook events).
type Filter struct {
	// IncludeInternal, when false (the default), drops events whose kind
	// carries the "internal:" prefix (events.IsInternal).
	IncludeInternal bool
	// IncludeKinds, if non-empty, admits only these kinds.
	IncludeKinds []events.Kind
	// ExcludeKinds drops these kinds even if IncludeKinds would admit
	// them.
	ExcludeKinds []events.Kind
	// Predicate, if set, is applied after the kind filters; returning
	// false drops the event.
	Predicate func(events.Event) bool
}

func (f Filter) allows(e events.Event) bool {
	kind := e.Meta().Kind
	if !f.IncludeInternal && events.IsInternal(kind) {
		return false
	}
	if len(f.IncludeKinds) > 0 && !containsKind(f.IncludeKinds, kind) {
		return false
	}
	if containsKind(f.ExcludeKinds, kind) {
		return false
	}
	if f.Predicate != nil && !f.Predicate(e) {
		return false
	}
	return true
}

func containsKind(kinds []events.Kind, k events.Kind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}

// Subscription is an active registration. Close is idempotent and safe
// to call concurrently with Publish, matching hooks.Subscription's
// contract.
type Subscription interface {
	// Events is the channel events are delivered on. It is closed when
	// the subscription is closed.
	Events() <-chan events.Event
	// Dropped returns the number of events dropped for this subscriber
	// because its channel was full (backpressure).
	Dropped() int64
	Close() error
}

// Bus is a per-contextId fan-out registry of filtered subscribers.
type Bus struct {
	bufSize int

	mu   sync.RWMutex
	subs map[string]map[*subscription]*subscription
}

// New returns a Bus whose subscriber channels are buffered to bufSize
// entries; sends beyond that are dropped rather than blocking the
// publisher (spec.md's non-blocking-fan-out requirement).
func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Bus{bufSize: bufSize, subs: make(map[string]map[*subscription]*subscription)}
}

// Subscribe registers a new subscriber for contextID with the given
// filter and returns its Subscription handle.
func (b *Bus) Subscribe(contextID string, filter Filter) Subscription {
	s := &subscription{
		bus:       b,
		contextID: contextID,
		filter:    filter,
		ch:        make(chan events.Event, b.bufSize),
	}

	b.mu.Lock()
	if b.subs[contextID] == nil {
		b.subs[contextID] = make(map[*subscription]*subscription)
	}
	b.subs[contextID][s] = s
	b.mu.Unlock()

	return s
}

// Publish delivers event to every subscriber registered for contextID
// whose filter admits it. Delivery is non-blocking per subscriber: a
// full channel increments that subscriber's drop counter instead of
// blocking the caller (unlike hooks.Bus.Publish, which is synchronous
// and fail-fast — SSE subscribers must never be able to stall the turn
// loop that is publishing).
func (b *Bus) Publish(contextID string, event events.Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs[contextID]))
	for _, s := range b.subs[contextID] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.filter.allows(event) {
			continue
		}
		s.send(event)
	}
}

// Close unregisters every subscriber for contextID and closes their
// channels, used when a turn's context is torn down.
func (b *Bus) Close(contextID string) {
	b.mu.Lock()
	subs := b.subs[contextID]
	delete(b.subs, contextID)
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

type subscription struct {
	bus       *Bus
	contextID string
	filter    Filter
	ch        chan events.Event

	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int64
}

func (s *subscription) Events() <-chan events.Event { return s.ch }

func (s *subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// send delivers event non-blockingly, guarded by mu against Close closing
// s.ch concurrently — Publish and Close race on the same subscription
// without this, and a send on a closed channel panics (spec.md §7 requires
// one subscriber's delivery failure stay isolated, not abort Publish).
func (s *subscription) send(event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		s.dropped++
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.contextID]; ok {
			delete(set, s)
		}
		s.bus.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
