package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cygnus-wealth/sol-transport/transporterrors"
)

func TestExponentialRetryScenario(t *testing.T) {
	// spec.md §8 scenario 4: N=3, D0=1000ms, m=2, jitter off. One failure
	// then success; the retry must occur at t=1000ms after the failure.
	var slept []time.Duration
	p := New(Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Strategy:    Exponential,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	})

	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return transporterrors.New(transporterrors.CodeNetwork, "boom")
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, slept, 1)
	assert.Equal(t, time.Second, slept[0])
}

func TestZeroMaxAttemptsNeverInvokesOp(t *testing.T) {
	p := New(Config{MaxAttempts: 0})
	called := false
	err := p.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestOneAttemptMeansNoRetry(t *testing.T) {
	var slept int
	p := New(Config{MaxAttempts: 1, BaseDelay: time.Millisecond, Strategy: Fixed, Sleep: func(time.Duration) { slept++ }})
	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return transporterrors.New(transporterrors.CodeNetwork, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, slept)
}

func TestNonRetryableFailsFast(t *testing.T) {
	var slept int
	p := New(Config{MaxAttempts: 5, BaseDelay: time.Millisecond, Strategy: Fixed, Sleep: func(time.Duration) { slept++ }})
	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return transporterrors.New(transporterrors.CodeValidation, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, slept)
}

func TestLinearBackoffDelays(t *testing.T) {
	var slept []time.Duration
	p := New(Config{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		Strategy:    Linear,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	})
	calls := 0
	_ = p.Execute(context.Background(), func(context.Context) error {
		calls++
		return transporterrors.New(transporterrors.CodeNetwork, "boom")
	})
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, slept)
}

func TestFibonacciBackoffDelays(t *testing.T) {
	var slept []time.Duration
	p := New(Config{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		Strategy:    Fibonacci,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	})
	calls := 0
	_ = p.Execute(context.Background(), func(context.Context) error {
		calls++
		return transporterrors.New(transporterrors.CodeNetwork, "boom")
	})
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 50 * time.Millisecond}, slept)
}

func TestMaxDelayClampsBackoff(t *testing.T) {
	var slept []time.Duration
	p := New(Config{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		Multiplier:  10,
		MaxDelay:    2 * time.Second,
		Strategy:    Exponential,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	})
	_ = p.Execute(context.Background(), func(context.Context) error {
		return transporterrors.New(transporterrors.CodeNetwork, "boom")
	})
	for _, d := range slept {
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestJitterStaysWithinTenPercent(t *testing.T) {
	p := New(Config{
		MaxAttempts: 1,
		BaseDelay:   time.Second,
		Strategy:    Fixed,
		Jitter:      true,
		Rand:        func() float64 { return 1.0 }, // max positive perturbation
	})
	d := p.delayFor(1)
	assert.InDelta(t, 1.1*float64(time.Second), float64(d), 1)
}

func TestRetryableMessageHeuristicsMatch(t *testing.T) {
	p := New(Config{})
	cases := []string{"dial tcp: connection refused", "request timeout", "503 Service Unavailable", "rate limited, try again"}
	for _, msg := range cases {
		assert.True(t, p.isRetryable(errors.New(msg)), msg)
	}
	assert.False(t, p.isRetryable(errors.New("invalid base58 public key")))
}
