// Package shutdown implements the shutdown coordinator (C11): ordered,
// idempotent teardown of a turn's resources. Required by spec.md §5's
// cancellation contract even though it is not named as a standalone
// component in spec.md's table body.
//
// Grounded on the Subscription.Close idempotency pattern of
// runtime/agent/hooks/bus.go (sync.Once-guarded Close, safe to call more
// than once or concurrently) and on runtime/agent/interrupt/
// controller.go's signal-channel teardown ordering.
package shutdown

import (
	"context"
	"errors"
	"sync"
)

// Step is one unit of teardown: close SSE subscribers, cancel in-flight
// tool executions, flush a ring buffer, close a provider client, etc.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Coordinator runs registered Steps in registration order exactly once,
// regardless of how many times Shutdown is called or from how many
// goroutines.
type Coordinator struct {
	mu    sync.Mutex
	steps []Step
	once  sync.Once
	err   error
}

// New returns an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// Register appends step to the teardown sequence. Registering after
// Shutdown has already run has no effect on that run; the step is kept
// for inspection only.
func (c *Coordinator) Register(step Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step)
}

// Shutdown runs every registered step in registration order, the first
// time it is called. Later calls are no-ops that return the same result,
// mirroring Subscription.Close's idempotency contract. A step that
// returns an error does not prevent later steps from running — every
// step gets a chance to release its own resource — but all errors are
// joined into the single error Shutdown returns.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		steps := append([]Step(nil), c.steps...)
		c.mu.Unlock()

		var errs []error
		for _, s := range steps {
			if s.Run == nil {
				continue
			}
			if err := s.Run(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		c.err = errors.Join(errs...)
	})
	return c.err
}
