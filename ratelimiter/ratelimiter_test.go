package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBurstBoundsInstantaneousConcurrency(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	l := New(Config{RequestsPerSecond: 1, Burst: 3, Now: clk.now})

	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestSmoothRefillGrantsAfterElapsedTime(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	l := New(Config{RequestsPerSecond: 10, Burst: 1, Now: clk.now})

	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())

	clk.advance(100 * time.Millisecond) // 10 rps * 0.1s = 1 token credited
	assert.True(t, l.TryAcquire())
}

func TestWaitTimeMatchesDeficit(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	l := New(Config{RequestsPerSecond: 2, Burst: 1, Now: clk.now})

	assert.True(t, l.TryAcquire())
	// tokens now 0, refill rate 2/s -> need 500ms for one token.
	assert.Equal(t, 500*time.Millisecond, l.WaitTime())
}

func TestWaitTimeZeroWhenTokenAvailable(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	l := New(Config{RequestsPerSecond: 5, Burst: 2, Now: clk.now})
	assert.Equal(t, time.Duration(0), l.WaitTime())
}

func TestResetRestoresFullBurst(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	l := New(Config{RequestsPerSecond: 1, Burst: 2, Now: clk.now})
	l.TryAcquire()
	l.TryAcquire()
	assert.False(t, l.TryAcquire())

	l.Reset()
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
}

func TestGrantedTokensNeverExceedBurstPlusRefill(t *testing.T) {
	// spec.md §8 universal invariant for rate limiters.
	clk := &manualClock{t: time.Unix(0, 0)}
	l := New(Config{RequestsPerSecond: 10, Burst: 5, Now: clk.now})

	granted := 0
	window := 2 * time.Second
	step := 10 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < window; elapsed += step {
		if l.TryAcquire() {
			granted++
		}
		clk.advance(step)
	}

	maxAllowed := 5 + int(window.Seconds()*10) + 1 // +1 slack for rounding at the boundary
	assert.LessOrEqual(t, granted, maxAllowed)
}
