// Package breaker implements the per-endpoint circuit breaker state machine
// of spec.md §4.3: CLOSED -> OPEN -> HALF_OPEN -> CLOSED. The state/transition
// shape is grounded on the pack's kdeps bus.CircuitBreaker (a mutex-guarded
// struct with failure/success counters and a reset timeout), generalized
// here to the richer transition table spec.md requires (a success-threshold
// gating HALF_OPEN -> CLOSED rather than a fixed half-open call quota, an
// operation timeout raced against the call, force-open/force-closed
// operator overrides, and state-change/success/failure callbacks).
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cygnus-wealth/sol-transport/transporterrors"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker at construction time.
type Config struct {
	// EndpointURL is attached to the CodeCircuitOpen error's context so a
	// caller consuming the error from multiple breakers can tell them apart.
	EndpointURL      string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	OperationTimeout time.Duration

	OnStateChange func(from, to State, reason string)
	OnSuccess     func(latency time.Duration)
	OnFailure     func(err error)

	Now    func() time.Time
	Logger *logrus.Logger
}

// Metrics is a snapshot of a Breaker's rolling counters.
type Metrics struct {
	State            State
	FailureCount     int
	SuccessCount     int
	LastStateChange  time.Time
	NextAttempt      time.Time
	RecentExecutions []time.Duration
}

const executionWindow = 100

// Breaker guards a single external dependency.
type Breaker struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time
	log *logrus.Entry

	state           State
	failureCount    int
	successCount    int
	lastStateChange time.Time
	nextAttempt     time.Time

	recent []time.Duration
}

func New(cfg Config) *Breaker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Breaker{
		cfg:             cfg,
		now:             now,
		log:             log.WithField("component", "breaker"),
		state:           Closed,
		lastStateChange: now(),
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker's rolling counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	recent := make([]time.Duration, len(b.recent))
	copy(recent, b.recent)
	return Metrics{
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		LastStateChange:  b.lastStateChange,
		NextAttempt:      b.nextAttempt,
		RecentExecutions: recent,
	}
}

// Execute runs operation under the breaker's admission rules and timeout.
// If the breaker rejects the call and fallback is non-nil, fallback's result
// is returned wrapped as a success (per spec.md §4.3 step 1); otherwise a
// CodeCircuitOpen error is returned and operation is never invoked.
func (b *Breaker) Execute(ctx context.Context, operation func(context.Context) (any, error), fallback func(context.Context) (any, error)) (any, error) {
	if !b.admit() {
		if fallback != nil {
			return fallback(ctx)
		}
		b.mu.Lock()
		next := b.nextAttempt
		b.mu.Unlock()
		return nil, transporterrors.CircuitOpen(b.cfg.EndpointURL, next.UnixMilli())
	}

	start := b.now()
	result, err := b.runWithTimeout(ctx, operation)
	elapsed := b.now().Sub(start)

	b.mu.Lock()
	b.recordExecutionLocked(elapsed)
	b.mu.Unlock()

	if err != nil {
		b.onFailure(err)
		return nil, err
	}
	b.onSuccess(elapsed)
	return result, nil
}

func (b *Breaker) runWithTimeout(ctx context.Context, operation func(context.Context) (any, error)) (any, error) {
	if b.cfg.OperationTimeout <= 0 {
		return operation(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := operation(opCtx)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-opCtx.Done():
		return nil, transporterrors.Timeout("operation exceeded breaker timeout")
	}
}

// admit applies the CLOSED/OPEN/HALF_OPEN admission table of spec.md §4.3.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Before(b.nextAttempt) {
			return false
		}
		b.transitionLocked(HalfOpen, "recovery timeout elapsed")
		b.successCount = 0
		return true
	case HalfOpen:
		return true
	default:
		return false
	}
}

func (b *Breaker) onSuccess(latency time.Duration) {
	b.mu.Lock()
	var cb func(time.Duration)
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionLocked(Closed, "success threshold reached")
			b.failureCount = 0
		}
	}
	cb = b.cfg.OnSuccess
	b.mu.Unlock()

	if cb != nil {
		cb(latency)
	}
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.tripLocked()
		}
	case HalfOpen:
		b.tripLocked()
	}
	cb := b.cfg.OnFailure
	b.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

func (b *Breaker) tripLocked() {
	b.nextAttempt = b.now().Add(b.cfg.RecoveryTimeout)
	b.transitionLocked(Open, "failure threshold reached")
}

func (b *Breaker) transitionLocked(to State, reason string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = b.now()
	b.log.WithFields(logrus.Fields{"from": from, "to": to, "reason": reason}).Info("breaker state changed")
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to, reason)
	}
}

func (b *Breaker) recordExecutionLocked(d time.Duration) {
	b.recent = append(b.recent, d)
	if len(b.recent) > executionWindow {
		b.recent = b.recent[len(b.recent)-executionWindow:]
	}
}

// ForceOpen transitions unconditionally to OPEN for observability/ops use.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextAttempt = b.now().Add(b.cfg.RecoveryTimeout)
	b.transitionLocked(Open, reason)
}

// ForceClosed transitions unconditionally to CLOSED for observability/ops use.
func (b *Breaker) ForceClosed(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.transitionLocked(Closed, reason)
}

// Reset returns the breaker to its zero (CLOSED, no counters) state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.successCount = 0
	b.transitionLocked(Closed, "reset")
}
