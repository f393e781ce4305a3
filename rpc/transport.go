// Package rpc defines the external remote-endpoint interface (spec.md §6):
// the provider-agnostic read operations the RPC Fallback Chain dispatches
// through, and the streaming counterpart the Subscription Service's channel
// manager drives. This generalizes the teacher SDK's ProviderAdapter
// interface (opengovern-resilient-bridge/interfaces.go) — which exposes a
// single ExecuteRequest(*NormalizedRequest) entry point suited to arbitrary
// REST/GraphQL SaaS APIs — into the fixed, typed method set a read-only
// blockchain RPC provider actually exposes. Portfolio-domain parsing (what
// the bytes in AccountInfo.Data mean) is an external collaborator's concern,
// out of scope per spec.md §1.
package rpc

import (
	"context"
	"encoding/json"
)

// Commitment is the read-consistency level selected per call or subscription.
type Commitment string

const (
	Processed Commitment = "processed"
	Confirmed Commitment = "confirmed"
	Finalized Commitment = "finalized"
)

// AccountInfo is the provider-agnostic shape of a single on-chain account.
// Data holds the account data as the provider returned it; the JSON-RPC and
// websocket implementations in this package leave it base64-encoded (the
// text bytes, not the decoded buffer). Parsing it into a domain object (token balance, DeFi position, NFT metadata, ...) is outside
// this module's scope (spec.md §1).
type AccountInfo struct {
	Owner      string
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// ProgramAccount pairs an account with the pubkey it was found at, returned
// by GetProgramAccounts.
type ProgramAccount struct {
	Pubkey  string
	Account AccountInfo
}

// MemcmpFilter matches accounts whose data at Offset equals Bytes.
type MemcmpFilter struct {
	Offset int
	Bytes  []byte
}

// ProgramFilter is one entry in a GetProgramAccounts filter list. Exactly
// one of Memcmp or DataSize should be set.
type ProgramFilter struct {
	Memcmp   *MemcmpFilter
	DataSize *int
}

// TokenAccountSelector picks how GetTokenAccountsByOwner narrows results.
type TokenAccountSelector struct {
	Mint    string
	Program string
}

// TokenAccount pairs a token account with its pubkey.
type TokenAccount struct {
	Pubkey  string
	Account AccountInfo
}

// SignatureStatus is the confirmation state of a single transaction.
type SignatureStatus struct {
	Slot              uint64
	Confirmations     *uint64
	ConfirmationLevel Commitment
	Err               error
}

// Transport is the request/response surface every RPC endpoint must
// implement to participate in the Fallback Chain.
type Transport interface {
	GetAccountInfo(ctx context.Context, pubkey string, commitment Commitment) (*AccountInfo, error)
	GetMultipleAccounts(ctx context.Context, pubkeys []string, commitment Commitment) ([]*AccountInfo, error)
	GetProgramAccounts(ctx context.Context, program string, filters []ProgramFilter, commitment Commitment) ([]ProgramAccount, error)
	GetTokenAccountsByOwner(ctx context.Context, owner string, selector TokenAccountSelector, commitment Commitment) ([]TokenAccount, error)
	GetSlot(ctx context.Context, commitment Commitment) (uint64, error)
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (string, error)

	// GetHealth is capability-gated: DAS-capable providers answer a
	// provider-specific health query, others are probed via GetSlot
	// instead (spec.md §4.5 "Probe selection policy"). Implementations for
	// non-DAS endpoints may return ErrHealthUnsupported so the health
	// monitor falls back to GetSlot.
	GetHealth(ctx context.Context) error

	// Call is the passthrough used for DAS methods (getAsset,
	// getAssetsByOwner, ...) and any other provider-specific method this
	// interface does not model as a first-class Go method.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// ErrHealthUnsupported signals that an endpoint has no dedicated health
// query and the caller should fall back to a chain-head probe.
var ErrHealthUnsupported = newSentinel("health query not supported by this endpoint")

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

func newSentinel(msg string) error { return sentinelErr(msg) }
