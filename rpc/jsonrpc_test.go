package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cygnus-wealth/sol-transport/transporterrors"
)

func TestGetSlotDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "getSlot", req.Method)
		_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`123456`)})
	}))
	defer srv.Close()

	a := NewAdapter(srv.URL)
	slot, err := a.GetSlot(context.Background(), Confirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), slot)
}

func TestRPCErrorSurfacesAsCodeRPC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params"}})
	}))
	defer srv.Close()

	a := NewAdapter(srv.URL)
	_, err := a.GetSlot(context.Background(), Confirmed)
	require.Error(t, err)
	assert.True(t, transporterrors.IsCode(err, transporterrors.CodeRPC))
}

func TestHTTP429SurfacesAsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewAdapter(srv.URL)
	_, err := a.GetSlot(context.Background(), Confirmed)
	require.Error(t, err)
	assert.True(t, transporterrors.IsCode(err, transporterrors.CodeRateLimit))
}

func TestAPIKeyHeaderApplied(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("x-api-key")
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`1`)})
	}))
	defer srv.Close()

	a := NewAdapter(srv.URL, WithAuth(AuthConfig{APIKeyHeader: "x-api-key", APIKeyValue: "secret"}))
	_, err := a.GetSlot(context.Background(), Confirmed)
	require.NoError(t, err)
	assert.Equal(t, "secret", seen)
}

func TestGetHealthUnsupportedForNonDASEndpoint(t *testing.T) {
	a := NewAdapter("https://rpc.example.com")
	err := a.GetHealth(context.Background())
	assert.ErrorIs(t, err, ErrHealthUnsupported)
}
