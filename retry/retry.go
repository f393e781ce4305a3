// Package retry implements the configurable attempt loop of spec.md §4.4:
// exponential/linear/fixed/fibonacci backoff, optional jitter, and a fixed
// plus configurable retryable-error classification. The attempt loop and its
// jitter/backoff math are grounded directly on the teacher SDK's
// RequestExecutor (opengovern-resilient-bridge/request_executor.go), which
// already does "attempt loop + exponential backoff + jitter + Retry-After
// awareness" for a single provider; this package generalizes that loop away
// from the teacher's HTTP-response-shaped retry triggers (429, 5xx) to the
// tagged transporterrors.Error taxonomy and adds the three extra backoff
// strategies spec.md requires.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cygnus-wealth/sol-transport/transporterrors"
)

type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Fixed       Strategy = "fixed"
	Fibonacci   Strategy = "fibonacci"
)

// Config configures a Policy at construction time.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	Strategy    Strategy

	// RetryableTags augments the fixed classification with extra
	// transporterrors.Code values or RPC codes the caller wants retried.
	RetryableTags []transporterrors.Code
	RetryableRPCCodes []int

	OnRetry   func(attempt int, err error, delay time.Duration)
	OnSuccess func(attempts int)
	OnFailure func(attempts int, err error)

	// Sleep and Rand are injected so tests can run the loop without
	// real time.Sleep calls and with deterministic jitter.
	Sleep func(time.Duration)
	Rand  func() float64

	Logger *logrus.Logger
}

// Policy is a configured, reusable retry loop.
type Policy struct {
	cfg   Config
	sleep func(time.Duration)
	rnd   func() float64
	log   *logrus.Entry
}

func New(cfg Config) *Policy {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Policy{cfg: cfg, sleep: sleep, rnd: rnd, log: log.WithField("component", "retry")}
}

var retryableMessagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)timeout`),
	regexp.MustCompile(`(?i)network`),
	regexp.MustCompile(`(?i)connection`),
	regexp.MustCompile(`503`),
	regexp.MustCompile(`502`),
	regexp.MustCompile(`504`),
	regexp.MustCompile(`429`),
	regexp.MustCompile(`(?i)rate.?limit`),
	regexp.MustCompile(`(?i)temporary`),
	regexp.MustCompile(`(?i)transient`),
}

var retryableRPCCodes = map[int]bool{
	-32000: true,
	-32005: true,
	-32603: true,
	429:    true,
	502:    true,
	503:    true,
	504:    true,
}

// Execute runs op up to MaxAttempts times, per spec.md §4.4's delay table and
// retryable classification. MaxAttempts == 0 returns a retry-exhausted error
// without invoking op at all.
func (p *Policy) Execute(ctx context.Context, op func(context.Context) error) error {
	if p.cfg.MaxAttempts == 0 {
		return transporterrors.New(transporterrors.CodeValidation, "retry-exhausted: max attempts is zero")
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if p.cfg.OnSuccess != nil {
				p.cfg.OnSuccess(attempt)
			}
			return nil
		}
		lastErr = err

		if !p.isRetryable(err) || attempt == p.cfg.MaxAttempts {
			if p.cfg.OnFailure != nil {
				p.cfg.OnFailure(attempt, err)
			}
			return lastErr
		}

		delay := p.delayFor(attempt)
		p.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay, "err": err}).Debug("retrying")
		if p.cfg.OnRetry != nil {
			p.cfg.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.sleep(delay)
	}
	return lastErr
}

// delayFor computes the delay applied between attempt and attempt+1, per
// spec.md §4.4's per-strategy formulas, then applies jitter if configured.
func (p *Policy) delayFor(attempt int) time.Duration {
	var d time.Duration
	switch p.cfg.Strategy {
	case Linear:
		d = time.Duration(float64(p.cfg.BaseDelay) * float64(attempt))
	case Fixed:
		d = p.cfg.BaseDelay
	case Fibonacci:
		d = time.Duration(float64(p.cfg.BaseDelay) * float64(fib(attempt)))
	case Exponential:
		fallthrough
	default:
		d = time.Duration(float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(attempt-1)))
	}
	if p.cfg.MaxDelay > 0 && d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	if p.cfg.Jitter {
		d = p.applyJitter(d)
	}
	return d
}

// applyJitter perturbs d by up to +-10%, clamped to >= 0.
func (p *Policy) applyJitter(d time.Duration) time.Duration {
	frac := (p.rnd()*2 - 1) * 0.10
	jittered := time.Duration(float64(d) * (1 + frac))
	if jittered < 0 {
		return 0
	}
	return jittered
}

// fib follows spec.md §4.4: fib(1)=1, fib(2)=2, fib(a)=fib(a-1)+fib(a-2).
func fib(a int) int {
	if a <= 1 {
		return 1
	}
	if a == 2 {
		return 2
	}
	prev, curr := 1, 2
	for i := 3; i <= a; i++ {
		prev, curr = curr, prev+curr
	}
	return curr
}

func (p *Policy) isRetryable(err error) bool {
	var te *transporterrors.Error
	if errors.As(err, &te) {
		switch te.Code {
		case transporterrors.CodeNetwork, transporterrors.CodeTimeout, transporterrors.CodeRateLimit:
			return true
		case transporterrors.CodeRPC:
			if te.RPCCode == 0 || retryableRPCCodes[te.RPCCode] {
				return true
			}
			for _, c := range p.cfg.RetryableRPCCodes {
				if c == te.RPCCode {
					return true
				}
			}
		}
		for _, tag := range p.cfg.RetryableTags {
			if tag == te.Code {
				return true
			}
		}
	}

	msg := err.Error()
	for _, re := range retryableMessagePatterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}
