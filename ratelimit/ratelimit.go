// Package ratelimit implements an adaptive tokens-per-minute limiter that
// wraps an iteration.Caller, grounded on
// features/model/middleware/ratelimit.go's AdaptiveRateLimiter. Dropped
// relative to the teacher: the Pulse replicated-map cluster coordination
// (rmap.Map, globalBackoff/globalProbe, TestAndSet reconciliation) — this
// module already drops goa.design/pulse (see DESIGN.md's "Dropped teacher
// dependencies"), so the limiter here is process-local only, the same AIMD
// behavior minus the cross-process budget-sharing layer.
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/agentforge/core/message"
	"github.com/agentforge/core/pipeline"
	"github.com/agentforge/core/tool"
)

// ErrRateLimited is wrapped into the error a provider package returns when
// the provider itself reports a rate-limit condition (e.g.
// fmt.Errorf("bedrock: %w: %w", ratelimit.ErrRateLimited, err)), so the
// Limiter can recognize it with errors.Is without importing any one
// provider package.
var ErrRateLimited = errors.New("ratelimit: provider rate limited")

// Caller is the subset of iteration.Caller a Limiter wraps and exposes,
// avoiding an import of the iteration package (which would create a
// cycle, since iteration.Executor takes any iteration.Caller and this
// package's Limiter must satisfy that interface structurally).
type Caller interface {
	Call(ctx context.Context, messages []message.Message, tools []tool.Definition) (pipeline.Upstream, error)
}

// Limiter applies an AIMD-style adaptive token bucket in front of a
// Caller. It estimates the token cost of each call, blocks until the
// bucket has capacity, and halves its effective tokens-per-minute budget
// whenever the wrapped Caller reports ErrRateLimited, recovering by a
// fixed step on every successful call.
type Limiter struct {
	next Caller

	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64

	onBackoff func(newTPM float64)
	onProbe   func(newTPM float64)
}

// New wraps next with an adaptive limiter configured with an initial and
// maximum tokens-per-minute budget. When initialTPM is zero or negative,
// it defaults to a conservative 60000 TPM; when maxTPM is below
// initialTPM, it is clamped to initialTPM.
func New(next Caller, initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// OnBackoff registers a callback invoked whenever the limiter halves its
// budget in response to a rate-limit signal, for telemetry.
func (l *Limiter) OnBackoff(fn func(newTPM float64)) { l.mu.Lock(); l.onBackoff = fn; l.mu.Unlock() }

// OnProbe registers a callback invoked whenever the limiter grows its
// budget back toward maxTPM after a successful call, for telemetry.
func (l *Limiter) OnProbe(fn func(newTPM float64)) { l.mu.Lock(); l.onProbe = fn; l.mu.Unlock() }

// Call enforces the limiter before delegating to the wrapped Caller,
// implementing iteration.Caller so a Limiter can be passed anywhere a
// Caller is expected.
func (l *Limiter) Call(ctx context.Context, messages []message.Message, tools []tool.Definition) (pipeline.Upstream, error) {
	if err := l.limiter.WaitN(ctx, estimateTokens(messages)); err != nil {
		return nil, err
	}
	up, err := l.next.Call(ctx, messages, tools)
	l.observe(err)
	return up, err
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *Limiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

// estimateTokens is a cheap heuristic for the transcript's token count:
// character count over a fixed ratio plus a fixed buffer for system
// prompts and provider framing, mirroring the teacher's estimateTokens.
func estimateTokens(msgs []message.Message) int {
	charCount := 0
	for _, m := range msgs {
		charCount += len(m.Content)
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
