// Package subscription implements the Subscription Service of spec.md §4.7
// and its Polling Fallback of §4.8: long-lived account/tokenAccount/program/
// slot/signature subscriptions carried over a single persistent streaming
// channel, with heartbeat-driven reconnect and an HTTP-polling substitute
// while the channel is down. The teacher SDK has no streaming concept at
// all — ResilientBridge is strictly request/response — so this package's
// shape is grounded instead on the rest of the retrieved pack:
// adred-codev-ws_poc's connection-lifecycle/hub style for the channel
// manager's state machine and event plumbing, and the teacher's own
// "substitutable collaborator + injected clock" idiom (already reused in
// breaker, retry, and health) for the debouncer's injected timer and the
// channel manager's injected reconnect scheduler.
package subscription

import (
	"time"

	"github.com/cygnus-wealth/sol-transport/rpc"
)

// Kind identifies which of the five subscription families an entry belongs
// to (spec.md §4.7).
type Kind int

const (
	KindAccount Kind = iota
	KindTokenAccount
	KindProgram
	KindSlot
	KindSignature
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindTokenAccount:
		return "tokenAccount"
	case KindProgram:
		return "program"
	case KindSlot:
		return "slot"
	case KindSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// AccountUpdate is delivered to account and tokenAccount subscribers.
type AccountUpdate struct {
	Pubkey string
	Info   rpc.AccountInfo
}

// ProgramUpdate is delivered to program subscribers, one call per changed
// account.
type ProgramUpdate struct {
	Pubkey  string
	Account rpc.AccountInfo
}

// SignatureUpdate is delivered exactly once to a signature subscriber.
type SignatureUpdate struct {
	Signature string
	Status    rpc.SignatureStatus
}

type AccountCallback func(AccountUpdate)
type ProgramCallback func(ProgramUpdate)
type SlotCallback func(slot uint64)
type SignatureCallback func(SignatureUpdate)

// entry is the subscription service's exclusive record for one
// subscription (spec.md §1 "Subscription entry"). The caller holds only the
// id returned by Subscribe*.
type entry struct {
	id        uint64
	kind      Kind
	createdAt time.Time

	remoteID uint64
	hasRemote bool

	accountPubkey  string
	programID      string
	programFilters []rpc.ProgramFilter
	signature      string
	commitment     rpc.Commitment

	accountCB   AccountCallback
	programCB   ProgramCallback
	slotCB      SlotCallback
	signatureCB SignatureCallback

	// Polling Fallback baseline state (spec.md §4.8).
	baselineHash        []byte
	baselineSet         map[string]struct{}
	baselineEstablished bool
}

// EndpointRef is one streaming-capable endpoint in priority order.
type EndpointRef struct {
	URL          string
	StreamingURL string
	Name         string
	Priority     int
}

// commitmentRank orders commitment levels so the Polling Fallback can decide
// whether a signature's confirmation level satisfies the configured
// commitment (spec.md §4.8 "signature: ... if confirmation level is >= the
// configured commitment").
func commitmentRank(c rpc.Commitment) int {
	switch c {
	case rpc.Processed:
		return 0
	case rpc.Confirmed:
		return 1
	case rpc.Finalized:
		return 2
	default:
		return -1
	}
}
