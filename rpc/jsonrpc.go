// jsonrpc.go implements Transport over a plain HTTP JSON-RPC 2.0 endpoint,
// the shape every production Solana-style RPC provider actually exposes.
// The request-building and response-decoding shape is grounded on the
// teacher SDK's github_adapter.go (opengovern-resilient-bridge/adapters),
// which builds an *http.Request, sets headers, reads and decodes the body
// into a normalized envelope; this generalizes that from GitHub's
// REST/GraphQL split into a single JSON-RPC POST body, and adds optional
// OAuth2 client-credentials auth (golang.org/x/oauth2, already a direct
// teacher dependency) for endpoints that gate access behind a bearer token
// rather than a static API key header.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/cygnus-wealth/sol-transport/transporterrors"
)

// AuthConfig describes how the JSON-RPC adapter authenticates to its
// endpoint. At most one of APIKeyHeader or TokenSource should be set.
type AuthConfig struct {
	APIKeyHeader string // header name, e.g. "x-api-key"
	APIKeyValue  string

	// TokenSource, when set, is used to mint a bearer token per request via
	// oauth2's client-credentials flow. Pass
	// (&clientcredentials.Config{...}).TokenSource(ctx) at construction time.
	TokenSource oauth2.TokenSource
}

// Adapter implements Transport against one HTTP JSON-RPC endpoint.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthConfig
	isDAS      bool
	log        *logrus.Entry

	idSeq uint64
}

// AdapterOption customizes an Adapter at construction time.
type AdapterOption func(*Adapter)

func WithHTTPClient(c *http.Client) AdapterOption { return func(a *Adapter) { a.httpClient = c } }
func WithAuth(auth AuthConfig) AdapterOption      { return func(a *Adapter) { a.auth = auth } }
func WithDASCapability(isDAS bool) AdapterOption  { return func(a *Adapter) { a.isDAS = isDAS } }
func WithLogger(l *logrus.Logger) AdapterOption {
	return func(a *Adapter) { a.log = l.WithField("component", "jsonrpc") }
}

func NewAdapter(baseURL string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logrus.StandardLogger().WithField("component", "jsonrpc"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Call sends a raw JSON-RPC request and returns the undecoded result field.
func (a *Adapter) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddUint64(&a.idSeq, 1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, transporterrors.New(transporterrors.CodeValidation, "encode rpc request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeNetwork, "build request", err)
	}
	req.Header.Set("content-type", "application/json")
	if err := a.applyAuth(ctx, req); err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeNetwork, "rpc transport failure", err).
			WithContext("endpoint", a.baseURL).WithContext("method", method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeNetwork, "read rpc response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, transporterrors.RateLimited("provider rate limited the request", resp.StatusCode).
			WithContext("endpoint", a.baseURL).WithContext("method", method)
	}
	if resp.StatusCode >= 500 {
		return nil, transporterrors.Wrap(transporterrors.CodeNetwork, fmt.Sprintf("server error %d", resp.StatusCode), nil).
			WithContext("endpoint", a.baseURL).WithContext("method", method)
	}
	if resp.StatusCode >= 400 {
		return nil, transporterrors.New(transporterrors.CodeValidation, fmt.Sprintf("client error %d", resp.StatusCode)).
			WithContext("endpoint", a.baseURL).WithContext("method", method)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeRPC, "decode rpc envelope", err)
	}
	if decoded.Error != nil {
		return nil, transporterrors.RPC(decoded.Error.Message, decoded.Error.Code, nil).
			WithContext("endpoint", a.baseURL).WithContext("method", method)
	}
	return decoded.Result, nil
}

func (a *Adapter) applyAuth(ctx context.Context, req *http.Request) error {
	if a.auth.APIKeyHeader != "" {
		req.Header.Set(a.auth.APIKeyHeader, a.auth.APIKeyValue)
		return nil
	}
	if a.auth.TokenSource != nil {
		tok, err := a.auth.TokenSource.Token()
		if err != nil {
			return transporterrors.Wrap(transporterrors.CodeValidation, "oauth2 token refresh failed", err)
		}
		tok.SetAuthHeader(req)
	}
	return nil
}

func (a *Adapter) GetHealth(ctx context.Context) error {
	if !a.isDAS {
		return ErrHealthUnsupported
	}
	_, err := a.Call(ctx, "getHealth", nil)
	return err
}

func (a *Adapter) GetSlot(ctx context.Context, commitment Commitment) (uint64, error) {
	raw, err := a.Call(ctx, "getSlot", []any{map[string]string{"commitment": string(commitment)}})
	if err != nil {
		return 0, err
	}
	var slot uint64
	if err := json.Unmarshal(raw, &slot); err != nil {
		return 0, transporterrors.Wrap(transporterrors.CodeRPC, "decode getSlot result", err)
	}
	return slot, nil
}

func (a *Adapter) GetLatestBlockhash(ctx context.Context, commitment Commitment) (string, error) {
	raw, err := a.Call(ctx, "getLatestBlockhash", []any{map[string]string{"commitment": string(commitment)}})
	if err != nil {
		return "", err
	}
	var wrapper struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", transporterrors.Wrap(transporterrors.CodeRPC, "decode getLatestBlockhash result", err)
	}
	return wrapper.Value.Blockhash, nil
}

func (a *Adapter) GetAccountInfo(ctx context.Context, pubkey string, commitment Commitment) (*AccountInfo, error) {
	raw, err := a.Call(ctx, "getAccountInfo", []any{pubkey, map[string]any{"commitment": string(commitment), "encoding": "base64"}})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Value *accountInfoWire `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeRPC, "decode getAccountInfo result", err)
	}
	if wrapper.Value == nil {
		return nil, transporterrors.New(transporterrors.CodeNotFound, "account not found").WithContext("pubkey", pubkey)
	}
	return wrapper.Value.toAccountInfo(), nil
}

func (a *Adapter) GetMultipleAccounts(ctx context.Context, pubkeys []string, commitment Commitment) ([]*AccountInfo, error) {
	raw, err := a.Call(ctx, "getMultipleAccounts", []any{pubkeys, map[string]any{"commitment": string(commitment), "encoding": "base64"}})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Value []*accountInfoWire `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeRPC, "decode getMultipleAccounts result", err)
	}
	out := make([]*AccountInfo, len(wrapper.Value))
	for i, w := range wrapper.Value {
		if w != nil {
			out[i] = w.toAccountInfo()
		}
	}
	return out, nil
}

func (a *Adapter) GetProgramAccounts(ctx context.Context, program string, filters []ProgramFilter, commitment Commitment) ([]ProgramAccount, error) {
	raw, err := a.Call(ctx, "getProgramAccounts", []any{program, map[string]any{
		"commitment": string(commitment),
		"encoding":   "base64",
		"filters":    encodeFilters(filters),
	}})
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Pubkey  string           `json:"pubkey"`
		Account accountInfoWire `json:"account"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeRPC, "decode getProgramAccounts result", err)
	}
	out := make([]ProgramAccount, len(entries))
	for i, e := range entries {
		out[i] = ProgramAccount{Pubkey: e.Pubkey, Account: *e.Account.toAccountInfo()}
	}
	return out, nil
}

func (a *Adapter) GetTokenAccountsByOwner(ctx context.Context, owner string, selector TokenAccountSelector, commitment Commitment) ([]TokenAccount, error) {
	filter := map[string]string{}
	if selector.Mint != "" {
		filter["mint"] = selector.Mint
	} else {
		filter["programId"] = selector.Program
	}
	raw, err := a.Call(ctx, "getTokenAccountsByOwner", []any{owner, filter, map[string]any{"commitment": string(commitment), "encoding": "base64"}})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Value []struct {
			Pubkey  string          `json:"pubkey"`
			Account accountInfoWire `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeRPC, "decode getTokenAccountsByOwner result", err)
	}
	out := make([]TokenAccount, len(wrapper.Value))
	for i, e := range wrapper.Value {
		out[i] = TokenAccount{Pubkey: e.Pubkey, Account: *e.Account.toAccountInfo()}
	}
	return out, nil
}

func (a *Adapter) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	raw, err := a.Call(ctx, "getSignatureStatuses", []any{[]string{signature}, map[string]bool{"searchTransactionHistory": true}})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Value []*struct {
			Slot               uint64  `json:"slot"`
			Confirmations      *uint64 `json:"confirmations"`
			ConfirmationStatus string  `json:"confirmationStatus"`
			Err                any     `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, transporterrors.Wrap(transporterrors.CodeRPC, "decode getSignatureStatuses result", err)
	}
	if len(wrapper.Value) == 0 || wrapper.Value[0] == nil {
		return nil, transporterrors.New(transporterrors.CodeNotFound, "signature not found").WithContext("signature", signature)
	}
	v := wrapper.Value[0]
	status := &SignatureStatus{
		Slot:              v.Slot,
		Confirmations:     v.Confirmations,
		ConfirmationLevel: Commitment(v.ConfirmationStatus),
	}
	if v.Err != nil {
		status.Err = fmt.Errorf("transaction failed: %v", v.Err)
	}
	return status, nil
}

type accountInfoWire struct {
	Owner      string `json:"owner"`
	Lamports   uint64 `json:"lamports"`
	Data       []any  `json:"data"` // [base64 string, encoding]
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

func (w *accountInfoWire) toAccountInfo() *AccountInfo {
	info := &AccountInfo{Owner: w.Owner, Lamports: w.Lamports, Executable: w.Executable, RentEpoch: w.RentEpoch}
	if len(w.Data) > 0 {
		if s, ok := w.Data[0].(string); ok {
			info.Data = []byte(s) // left base64-encoded; decoding is a domain concern out of scope (spec.md §1)
		}
	}
	return info
}

func encodeFilters(filters []ProgramFilter) []map[string]any {
	out := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.Memcmp != nil:
			out = append(out, map[string]any{"memcmp": map[string]any{"offset": f.Memcmp.Offset, "bytes": f.Memcmp.Bytes}})
		case f.DataSize != nil:
			out = append(out, map[string]any{"dataSize": *f.DataSize})
		}
	}
	return out
}
