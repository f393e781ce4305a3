package transporterrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatsCauseAndCode(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(CodeNetwork, "endpoint unreachable", cause)

	assert.Equal(t, CodeNetwork, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "network")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsCodeMatchesWrappedError(t *testing.T) {
	inner := CircuitOpen("https://rpc.example.com", 1000)
	outer := fmtWrap(inner)

	require.True(t, IsCode(outer, CodeCircuitOpen))
	require.False(t, IsCode(outer, CodeTimeout))
}

func TestWithContextMerges(t *testing.T) {
	err := New(CodeValidation, "bad public key").
		WithContext("endpoint", "https://rpc.example.com").
		WithContext("operation", "getAccountInfo")

	assert.Equal(t, "https://rpc.example.com", err.Context["endpoint"])
	assert.Equal(t, "getAccountInfo", err.Context["operation"])
}

// fmtWrap simulates a caller wrapping a *Error with extra context via %w,
// the way higher layers in this module propagate errors up the call stack.
func fmtWrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
