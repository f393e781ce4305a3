package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/cygnus-wealth/sol-transport/rpc"
)

// pollingConfig configures a pollingFallback at construction time.
type pollingConfig struct {
	Interval                time.Duration
	ChannelRecoveryInterval time.Duration
	Commitment              rpc.Commitment

	Registry *registry

	// Transport resolves the live request/response transport for whichever
	// endpoint the channel manager currently points at.
	Transport func() (rpc.Transport, bool)

	// AttemptReconnect is invoked on ChannelRecoveryInterval to retry
	// restoring the streaming channel, independent of the channel
	// manager's own exponential-backoff reconnect loop (spec.md §4.8
	// "simultaneously retries channel recovery").
	AttemptReconnect func(ctx context.Context)

	// OnSignatureDelivered, if set, is invoked after a one-shot signature
	// entry is delivered and removed, so a caller tracking subscription
	// counts stays in sync with this delivery path too (not just
	// Service.Unsubscribe and the channel-delivered path).
	OnSignatureDelivered func()

	Events chan<- Event
}

// pollingFallback implements spec.md §4.8: while the streaming channel is
// down, it periodically polls every live subscription entry over plain
// request/response and synthesizes the notifications the channel would
// otherwise have delivered.
type pollingFallback struct {
	cfg pollingConfig

	mu      sync.Mutex
	active  bool
	stop    chan struct{}
	stopped chan struct{}
}

func newPollingFallback(cfg pollingConfig) *pollingFallback {
	return &pollingFallback{cfg: cfg}
}

// Start activates the fallback. It is a no-op if already active.
func (p *pollingFallback) Start(ctx context.Context) {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return
	}
	p.active = true
	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})
	p.mu.Unlock()

	publish(p.cfg.Events, Event{Kind: PollingFallbackActivated, PollingIntervalMS: p.cfg.Interval.Milliseconds()})
	go p.loop(ctx)
}

// Stop deactivates the fallback. It is a no-op if not active.
func (p *pollingFallback) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	stop := p.stop
	stopped := p.stopped
	p.active = false
	p.mu.Unlock()

	close(stop)
	<-stopped
	publish(p.cfg.Events, Event{Kind: PollingFallbackDeactivated})
}

func (p *pollingFallback) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *pollingFallback) loop(ctx context.Context) {
	defer close(p.stopped)
	pollTicker := time.NewTicker(p.cfg.Interval)
	defer pollTicker.Stop()
	recoveryTicker := time.NewTicker(p.cfg.ChannelRecoveryInterval)
	defer recoveryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-pollTicker.C:
			p.PollOnce(ctx)
		case <-recoveryTicker.C:
			if p.cfg.AttemptReconnect != nil {
				p.cfg.AttemptReconnect(ctx)
			}
		}
	}
}

// PollOnce runs a single poll cycle over every live entry. Exported via a
// capitalized-but-package-private name so tests can drive deterministic
// cycles instead of waiting on the real ticker.
func (p *pollingFallback) PollOnce(ctx context.Context) {
	transport, ok := p.cfg.Transport()
	if !ok {
		return
	}
	for _, e := range p.cfg.Registry.all() {
		switch e.kind {
		case KindAccount, KindTokenAccount:
			p.pollAccount(ctx, transport, e)
		case KindProgram:
			p.pollProgram(ctx, transport, e)
		case KindSignature:
			p.pollSignature(ctx, transport, e)
		case KindSlot:
			p.pollSlot(ctx, transport, e)
		}
	}
}

func (p *pollingFallback) pollAccount(ctx context.Context, t rpc.Transport, e *entry) {
	info, err := t.GetAccountInfo(ctx, e.accountPubkey, e.commitment)
	if err != nil || info == nil {
		return
	}
	hash := hashAccountInfo(*info)

	if !e.baselineEstablished {
		e.baselineHash = hash
		e.baselineEstablished = true
		return
	}
	if bytesEqual(hash, e.baselineHash) {
		return
	}
	e.baselineHash = hash
	if e.accountCB != nil {
		invokeSafely(func() { e.accountCB(AccountUpdate{Pubkey: e.accountPubkey, Info: *info}) })
	}
}

func (p *pollingFallback) pollProgram(ctx context.Context, t rpc.Transport, e *entry) {
	accounts, err := t.GetProgramAccounts(ctx, e.programID, e.programFilters, e.commitment)
	if err != nil {
		return
	}
	addrs := make([]string, 0, len(accounts))
	byAddr := make(map[string]rpc.ProgramAccount, len(accounts))
	for _, pa := range accounts {
		addrs = append(addrs, pa.Pubkey)
		byAddr[pa.Pubkey] = pa
	}
	sort.Strings(addrs)

	if !e.baselineEstablished {
		e.baselineSet = toSet(addrs)
		e.baselineEstablished = true
		return
	}

	// Simplified change detection per spec.md §9: only address-set
	// membership is compared, not each account's data.
	for _, addr := range addrs {
		if _, known := e.baselineSet[addr]; known {
			continue
		}
		if e.programCB != nil {
			pa := byAddr[addr]
			invokeSafely(func() { e.programCB(ProgramUpdate{Pubkey: pa.Pubkey, Account: pa.Account}) })
		}
	}
	e.baselineSet = toSet(addrs)
}

func (p *pollingFallback) pollSignature(ctx context.Context, t rpc.Transport, e *entry) {
	status, err := t.GetSignatureStatus(ctx, e.signature)
	if err != nil || status == nil {
		return
	}
	if commitmentRank(status.ConfirmationLevel) < commitmentRank(e.commitment) {
		return
	}
	removed, ok := p.cfg.Registry.remove(e.id)
	if !ok {
		return
	}
	if p.cfg.OnSignatureDelivered != nil {
		p.cfg.OnSignatureDelivered()
	}
	if removed.signatureCB != nil {
		invokeSafely(func() { removed.signatureCB(SignatureUpdate{Signature: removed.signature, Status: *status}) })
	}
}

func (p *pollingFallback) pollSlot(ctx context.Context, t rpc.Transport, e *entry) {
	slot, err := t.GetSlot(ctx, p.cfg.Commitment)
	if err != nil {
		return
	}
	if e.slotCB != nil {
		invokeSafely(func() { e.slotCB(slot) })
	}
}

func invokeSafely(f func()) {
	defer func() { _ = recover() }()
	f()
}

func toSet(addrs []string) map[string]struct{} {
	s := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// hashAccountInfo digests an account's mutable fields so the Polling
// Fallback can detect changes without keeping the full payload around as
// the baseline (spec.md §4.8 "hash/serialize the data payload").
func hashAccountInfo(info rpc.AccountInfo) []byte {
	buf := make([]byte, 0, len(info.Data)+len(info.Owner)+16)
	buf = append(buf, info.Owner...)
	buf = appendUint64(buf, info.Lamports)
	buf = appendUint64(buf, info.RentEpoch)
	buf = append(buf, info.Data...)
	sum := blake2b.Sum256(buf)
	return sum[:]
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}
