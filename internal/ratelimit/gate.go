// Package ratelimit guards calls to the upstream model provider with a
// process-wide adaptive token bucket.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/capitalize-ai/canvas-chat/pkg/metrics"
)

// RateLimitedError is returned when an upstream call must not proceed.
// Wait is the number of whole seconds the caller should back off.
type RateLimitedError struct {
	Wait int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", e.Wait)
}

// Signal carries rate-limit metadata observed on a provider response.
// Zero-valued fields are absent.
type Signal struct {
	RetryAfter time.Duration
	Remaining  *int
	Reset      time.Duration
}

// State is a point-in-time copy of the gate's bucket.
type State struct {
	Tokens     int
	Capacity   int
	Interval   time.Duration
	LastRefill time.Time
	RetryUntil time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// Gate is the shared token bucket. The zero value is not usable; construct
// one with NewGate and pass it explicitly to whatever calls the provider.
type Gate struct {
	mu         sync.Mutex
	now        func() time.Time
	tokens     int
	capacity   int
	interval   time.Duration
	lastRefill time.Time
	retryUntil time.Time
}

// NewGate creates a full bucket of the given capacity refilled every interval.
func NewGate(capacity int, interval time.Duration, opts ...Option) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}

	g := &Gate{
		now:      time.Now,
		capacity: capacity,
		interval: interval,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.tokens = capacity
	g.lastRefill = g.now()
	metrics.RateGateTokens.Set(float64(g.tokens))

	return g
}

// Authorize must be called immediately before each upstream call. It never
// blocks: it either consumes a token or fails with *RateLimitedError.
func (g *Gate) Authorize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if !g.retryUntil.IsZero() && now.Before(g.retryUntil) {
		metrics.RateGateDecisions.WithLabelValues("deadline").Inc()
		return &RateLimitedError{Wait: ceilSeconds(g.retryUntil.Sub(now))}
	}

	if now.Sub(g.lastRefill) >= g.interval {
		g.tokens = g.capacity
		g.lastRefill = now
	} else if g.tokens <= 0 {
		metrics.RateGateDecisions.WithLabelValues("exhausted").Inc()
		return &RateLimitedError{Wait: ceilSeconds(g.lastRefill.Add(g.interval).Sub(now))}
	}

	g.tokens--
	metrics.RateGateDecisions.WithLabelValues("allowed").Inc()
	metrics.RateGateTokens.Set(float64(g.tokens))

	return nil
}

// Observe folds provider response metadata into the bucket. A retry-after
// signal sets the hard deadline and fails the in-flight call; the token it
// already spent in Authorize is not refunded.
func (g *Gate) Observe(sig Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if sig.Remaining != nil {
		remaining := *sig.Remaining
		if remaining < 0 {
			remaining = 0
		}
		if remaining > g.capacity {
			remaining = g.capacity
		}
		g.tokens = remaining
	}

	if sig.Reset > 0 {
		// next refill happens at now+Reset
		g.lastRefill = now.Add(sig.Reset).Add(-g.interval)
	}

	metrics.RateGateTokens.Set(float64(g.tokens))

	if sig.RetryAfter > 0 {
		g.retryUntil = now.Add(sig.RetryAfter)
		metrics.RateGateDecisions.WithLabelValues("retry_after").Inc()
		return &RateLimitedError{Wait: ceilSeconds(sig.RetryAfter)}
	}

	return nil
}

// Blocked reports the remaining hard deadline, if any.
func (g *Gate) Blocked() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.retryUntil.IsZero() || !now.Before(g.retryUntil) {
		return 0, false
	}
	return g.retryUntil.Sub(now), true
}

// Snapshot returns a copy of the current state.
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return State{
		Tokens:     g.tokens,
		Capacity:   g.capacity,
		Interval:   g.interval,
		LastRefill: g.lastRefill,
		RetryUntil: g.retryUntil,
	}
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
