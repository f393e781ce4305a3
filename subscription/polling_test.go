package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cygnus-wealth/sol-transport/internal/faketransport"
	"github.com/cygnus-wealth/sol-transport/rpc"
)

func newTestPolling(t *testing.T, reg *registry, transport rpc.Transport) *pollingFallback {
	t.Helper()
	events := make(chan Event, 32)
	return newPollingFallback(pollingConfig{
		Interval:                time.Minute,
		ChannelRecoveryInterval: time.Minute,
		Commitment:              rpc.Confirmed,
		Registry:                reg,
		Transport:               func() (rpc.Transport, bool) { return transport, true },
		Events:                  events,
	})
}

// TestPollingAccountChangeDetection exercises spec.md §8 scenario 7
// literally: baseline on first poll, no callback on an unchanged second
// poll, exactly one callback on the third poll once the data changes.
func TestPollingAccountChangeDetection(t *testing.T) {
	reg := newRegistry(time.Now)
	ft := faketransport.New()

	data := []byte("D1")
	ft.GetAccountInfoFunc = func(ctx context.Context, pubkey string, commitment rpc.Commitment) (*rpc.AccountInfo, error) {
		return &rpc.AccountInfo{Data: data}, nil
	}

	var calls int
	e := &entry{kind: KindAccount, accountPubkey: "abc", commitment: rpc.Confirmed, accountCB: func(u AccountUpdate) { calls++ }}
	reg.add(e)

	p := newTestPolling(t, reg, ft)

	p.PollOnce(context.Background()) // baseline
	assert.Equal(t, 0, calls)

	p.PollOnce(context.Background()) // unchanged
	assert.Equal(t, 0, calls)

	data = []byte("D2")
	p.PollOnce(context.Background()) // changed
	assert.Equal(t, 1, calls)

	p.PollOnce(context.Background()) // settled at D2, no further callback
	assert.Equal(t, 1, calls)
}

func TestPollingSignatureDeliversOnceAndRemovesEntry(t *testing.T) {
	reg := newRegistry(time.Now)
	ft := faketransport.New()
	ft.GetSignatureStatusFunc = func(ctx context.Context, signature string) (*rpc.SignatureStatus, error) {
		return &rpc.SignatureStatus{ConfirmationLevel: rpc.Finalized}, nil
	}

	var calls int
	e := &entry{kind: KindSignature, signature: "sig1", commitment: rpc.Confirmed, signatureCB: func(u SignatureUpdate) { calls++ }}
	id := reg.add(e)

	p := newTestPolling(t, reg, ft)
	p.PollOnce(context.Background())

	assert.Equal(t, 1, calls)
	_, ok := reg.get(id)
	assert.False(t, ok)

	p.PollOnce(context.Background())
	assert.Equal(t, 1, calls)
}

func TestPollingSlotDeliversUnconditionally(t *testing.T) {
	reg := newRegistry(time.Now)
	ft := faketransport.New()
	var slot uint64 = 100
	ft.GetSlotFunc = func(ctx context.Context, commitment rpc.Commitment) (uint64, error) { return slot, nil }

	var got []uint64
	e := &entry{kind: KindSlot, slotCB: func(s uint64) { got = append(got, s) }}
	reg.add(e)

	p := newTestPolling(t, reg, ft)
	p.PollOnce(context.Background())
	slot = 101
	p.PollOnce(context.Background())

	require.Len(t, got, 2)
	assert.Equal(t, []uint64{100, 101}, got)
}

func TestPollingProgramNotifiesOnlyNewAddresses(t *testing.T) {
	reg := newRegistry(time.Now)
	ft := faketransport.New()

	result := []rpc.ProgramAccount{{Pubkey: "a1", Account: rpc.AccountInfo{Data: []byte("x")}}}
	ft.GetProgramAccountsFunc = func(ctx context.Context, program string, filters []rpc.ProgramFilter, commitment rpc.Commitment) ([]rpc.ProgramAccount, error) {
		return result, nil
	}

	var notified []string
	e := &entry{kind: KindProgram, programID: "prog1", commitment: rpc.Confirmed, programCB: func(u ProgramUpdate) { notified = append(notified, u.Pubkey) }}
	reg.add(e)

	p := newTestPolling(t, reg, ft)
	p.PollOnce(context.Background()) // baseline
	assert.Empty(t, notified)

	result = append(result, rpc.ProgramAccount{Pubkey: "a2", Account: rpc.AccountInfo{Data: []byte("y")}})
	p.PollOnce(context.Background())
	assert.Equal(t, []string{"a2"}, notified)

	p.PollOnce(context.Background())
	assert.Equal(t, []string{"a2"}, notified)
}

func TestPollingSwallowsIndividualEntryErrors(t *testing.T) {
	reg := newRegistry(time.Now)
	ft := faketransport.New()
	ft.GetAccountInfoFunc = func(ctx context.Context, pubkey string, commitment rpc.Commitment) (*rpc.AccountInfo, error) {
		return nil, assertErr
	}

	e := &entry{kind: KindAccount, accountPubkey: "x", commitment: rpc.Confirmed, accountCB: func(u AccountUpdate) {}}
	reg.add(e)

	p := newTestPolling(t, reg, ft)
	assert.NotPanics(t, func() { p.PollOnce(context.Background()) })
}

var assertErr = errAccountUnavailable{}

type errAccountUnavailable struct{}

func (errAccountUnavailable) Error() string { return "account temporarily unavailable" }
