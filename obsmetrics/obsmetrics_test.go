package obsmetrics

import "testing"

func TestBreakerStateValueMapping(t *testing.T) {
	cases := map[string]float64{
		"closed":    0,
		"open":      1,
		"half_open": 2,
		"bogus":     -1,
	}
	for state, want := range cases {
		if got := BreakerStateValue(state); got != want {
			t.Errorf("BreakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}
