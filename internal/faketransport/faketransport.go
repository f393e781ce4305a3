// Package faketransport provides a configurable fake rpc.Transport for
// testing the Fallback Chain, breaker, and health monitor without a live
// endpoint. It is the direct generalization of the teacher SDK's
// mock.MockAdapter (opengovern-resilient-bridge/mock/mock_adapter.go): that
// mock drove HTTP status codes (200/429) off simple counters and toggles,
// this one drives rpc.Transport method results the same way, scripted per
// call rather than simulated from request counting since the chain tests
// care about which endpoint answered, not about rate-limit header parsing.
package faketransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cygnus-wealth/sol-transport/rpc"
)

// Transport is a scriptable fake rpc.Transport. Each exported field is
// consulted by the matching method; a nil func returns an empty result (an
// empty struct pointer, a nil slice, zero, "" or JSON null) and nil error. CallCount records invocations per method name for assertions.
type Transport struct {
	mu sync.Mutex

	GetAccountInfoFunc        func(ctx context.Context, pubkey string, commitment rpc.Commitment) (*rpc.AccountInfo, error)
	GetMultipleAccountsFunc   func(ctx context.Context, pubkeys []string, commitment rpc.Commitment) ([]*rpc.AccountInfo, error)
	GetProgramAccountsFunc    func(ctx context.Context, program string, filters []rpc.ProgramFilter, commitment rpc.Commitment) ([]rpc.ProgramAccount, error)
	GetTokenAccountsByOwnerFunc func(ctx context.Context, owner string, selector rpc.TokenAccountSelector, commitment rpc.Commitment) ([]rpc.TokenAccount, error)
	GetSlotFunc               func(ctx context.Context, commitment rpc.Commitment) (uint64, error)
	GetSignatureStatusFunc    func(ctx context.Context, signature string) (*rpc.SignatureStatus, error)
	GetLatestBlockhashFunc    func(ctx context.Context, commitment rpc.Commitment) (string, error)
	GetHealthFunc             func(ctx context.Context) error
	CallFunc                  func(ctx context.Context, method string, params any) (json.RawMessage, error)

	calls map[string]int
}

// New returns a fake transport that succeeds trivially on every method until
// fields are overridden by the caller.
func New() *Transport {
	return &Transport{calls: make(map[string]int)}
}

// CallCountOf returns how many times method was invoked.
func (t *Transport) CallCountOf(method string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[method]
}

func (t *Transport) record(method string) {
	t.mu.Lock()
	t.calls[method]++
	t.mu.Unlock()
}

func (t *Transport) GetAccountInfo(ctx context.Context, pubkey string, commitment rpc.Commitment) (*rpc.AccountInfo, error) {
	t.record("GetAccountInfo")
	if t.GetAccountInfoFunc != nil {
		return t.GetAccountInfoFunc(ctx, pubkey, commitment)
	}
	return &rpc.AccountInfo{}, nil
}

func (t *Transport) GetMultipleAccounts(ctx context.Context, pubkeys []string, commitment rpc.Commitment) ([]*rpc.AccountInfo, error) {
	t.record("GetMultipleAccounts")
	if t.GetMultipleAccountsFunc != nil {
		return t.GetMultipleAccountsFunc(ctx, pubkeys, commitment)
	}
	return nil, nil
}

func (t *Transport) GetProgramAccounts(ctx context.Context, program string, filters []rpc.ProgramFilter, commitment rpc.Commitment) ([]rpc.ProgramAccount, error) {
	t.record("GetProgramAccounts")
	if t.GetProgramAccountsFunc != nil {
		return t.GetProgramAccountsFunc(ctx, program, filters, commitment)
	}
	return nil, nil
}

func (t *Transport) GetTokenAccountsByOwner(ctx context.Context, owner string, selector rpc.TokenAccountSelector, commitment rpc.Commitment) ([]rpc.TokenAccount, error) {
	t.record("GetTokenAccountsByOwner")
	if t.GetTokenAccountsByOwnerFunc != nil {
		return t.GetTokenAccountsByOwnerFunc(ctx, owner, selector, commitment)
	}
	return nil, nil
}

func (t *Transport) GetSlot(ctx context.Context, commitment rpc.Commitment) (uint64, error) {
	t.record("GetSlot")
	if t.GetSlotFunc != nil {
		return t.GetSlotFunc(ctx, commitment)
	}
	return 0, nil
}

func (t *Transport) GetSignatureStatus(ctx context.Context, signature string) (*rpc.SignatureStatus, error) {
	t.record("GetSignatureStatus")
	if t.GetSignatureStatusFunc != nil {
		return t.GetSignatureStatusFunc(ctx, signature)
	}
	return &rpc.SignatureStatus{}, nil
}

func (t *Transport) GetLatestBlockhash(ctx context.Context, commitment rpc.Commitment) (string, error) {
	t.record("GetLatestBlockhash")
	if t.GetLatestBlockhashFunc != nil {
		return t.GetLatestBlockhashFunc(ctx, commitment)
	}
	return "", nil
}

func (t *Transport) GetHealth(ctx context.Context) error {
	t.record("GetHealth")
	if t.GetHealthFunc != nil {
		return t.GetHealthFunc(ctx)
	}
	return nil
}

func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.record("Call")
	if t.CallFunc != nil {
		return t.CallFunc(ctx, method, params)
	}
	return json.RawMessage(`null`), nil
}

var _ rpc.Transport = (*Transport)(nil)
