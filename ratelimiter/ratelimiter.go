// Package ratelimiter implements the single-endpoint token-bucket admission
// control described in spec.md §4.2. Each RPC Fallback Chain endpoint owns
// exactly one Limiter; there is no cross-endpoint sharing and no background
// refill timer — tokens are recomputed lazily on every query, the same lazy
// approach the teacher SDK's rate limiter takes to avoiding a goroutine per
// provider (opengovern-resilient-bridge/rate_limiter.go), generalized here
// from "requests remaining in a header-reported window" to a true
// continuous-refill token bucket (the pack's zJUNAIDz/go-concurrency
// rate-limiter project supplies the bucket math this package adapts, minus
// its per-client sharding, since spec.md scopes one Limiter per endpoint).
package ratelimiter

import (
	"math"
	"sync"
	"time"
)

// Config configures a Limiter at construction time.
type Config struct {
	RequestsPerSecond float64
	Burst             float64

	// Now, if set, replaces time.Now. Tests use this to drive refill math
	// deterministically.
	Now func() time.Time
}

// Limiter is a continuous-refill token bucket guarding a single endpoint.
type Limiter struct {
	mu sync.Mutex

	rps   float64
	burst float64
	now   func() time.Time

	tokens     float64
	lastRefill time.Time
}

func New(cfg Config) *Limiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		rps:        cfg.RequestsPerSecond,
		burst:      cfg.Burst,
		now:        now,
		tokens:     cfg.Burst,
		lastRefill: now(),
	}
}

// TryAcquire credits elapsed refill since the last call, then admits the
// request (decrementing one token) if at least one token is available.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// WaitTime reports how long a caller must wait before TryAcquire would
// succeed, given the bucket's state as of now. Zero if a token is already
// available.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens >= 1 {
		return 0
	}
	if l.rps <= 0 {
		return time.Duration(math.MaxInt64)
	}
	deficit := 1 - l.tokens
	ms := math.Ceil(deficit / l.rps * 1000)
	return time.Duration(ms) * time.Millisecond
}

// Reset restores the bucket to full burst capacity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.burst
	l.lastRefill = l.now()
}

// Tokens reports the current (post-refill) token count, for metrics/tests.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.tokens
}

func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		l.lastRefill = now
		return
	}
	credited := elapsed.Seconds() * l.rps
	l.tokens = math.Min(l.tokens+credited, l.burst)
	l.lastRefill = now
}
