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

func newTestService(t *testing.T, dialer *faketransport.Dialer, ft *faketransport.Transport) *Service {
	t.Helper()
	cfg := Config{
		Endpoints: []EndpointRef{
			{URL: "https://e1.example.com", StreamingURL: "wss://e1.example.com", Priority: 1},
		},
		Commitment:              rpc.Confirmed,
		Dialer:                  dialer,
		Transports:              map[string]rpc.Transport{"https://e1.example.com": ft},
		HeartbeatInterval:       time.Hour,
		ReconnectBaseDelay:      time.Millisecond,
		ReconnectMaxDelay:       time.Millisecond,
		SlotDebounceWindow:      time.Millisecond,
		PollInterval:            time.Hour,
		ChannelRecoveryInterval: time.Hour,
		Schedule:                func(d time.Duration, f func()) {},
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return svc
}

func TestServiceSubscribeInstallsOnConnectedChannel(t *testing.T) {
	dialer := faketransport.NewDialer()
	ft := faketransport.New()
	svc := newTestService(t, dialer, ft)
	require.NoError(t, svc.Connect(context.Background()))

	var got AccountUpdate
	id := svc.SubscribeAccount("pubkey1", rpc.Confirmed, func(u AccountUpdate) { got = u })
	assert.Equal(t, uint64(1), id)

	e, ok := svc.registry.get(id)
	require.True(t, ok)
	assert.True(t, e.hasRemote)

	conn, _ := dialer.LastConn()
	conn.Push(rpc.Notification{Kind: rpc.AccountNotification, RemoteSubID: e.remoteID, Account: &rpc.AccountInfo{Lamports: 5}})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, uint64(5), got.Info.Lamports)
}

func TestServiceUnsubscribePreventsFutureDelivery(t *testing.T) {
	dialer := faketransport.NewDialer()
	ft := faketransport.New()
	svc := newTestService(t, dialer, ft)
	require.NoError(t, svc.Connect(context.Background()))

	var calls int
	id := svc.SubscribeAccount("pubkey1", rpc.Confirmed, func(u AccountUpdate) { calls++ })

	require.NoError(t, svc.Unsubscribe(context.Background(), id))
	_, ok := svc.registry.get(id)
	assert.False(t, ok)

	err := svc.Unsubscribe(context.Background(), id)
	assert.Error(t, err)
}

func TestServiceSignatureSubscriptionFiresAtMostOnce(t *testing.T) {
	dialer := faketransport.NewDialer()
	ft := faketransport.New()
	svc := newTestService(t, dialer, ft)
	require.NoError(t, svc.Connect(context.Background()))

	var calls int
	svc.SubscribeSignature("sig1", rpc.Confirmed, func(u SignatureUpdate) { calls++ })

	conn, _ := dialer.LastConn()
	status := rpc.SignatureStatus{ConfirmationLevel: rpc.Finalized}
	conn.Push(rpc.Notification{Kind: rpc.SignatureNotification, RemoteSubID: 1, Signature: &status})
	conn.Push(rpc.Notification{Kind: rpc.SignatureNotification, RemoteSubID: 1, Signature: &status})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, calls)
}

func TestServiceDisconnectActivatesPollingAndReconnectDeactivatesIt(t *testing.T) {
	dialer := faketransport.NewDialer()
	ft := faketransport.New()
	svc := newTestService(t, dialer, ft)
	require.NoError(t, svc.Connect(context.Background()))

	conn, _ := dialer.LastConn()
	conn.Break(assertErr)
	time.Sleep(10 * time.Millisecond)

	assert.True(t, svc.polling.IsActive())

	require.NoError(t, svc.Connect(context.Background()))
	assert.False(t, svc.polling.IsActive())
}

func TestServiceDestroyStopsEverything(t *testing.T) {
	dialer := faketransport.NewDialer()
	ft := faketransport.New()
	svc := newTestService(t, dialer, ft)
	require.NoError(t, svc.Connect(context.Background()))

	svc.Destroy()
	assert.Equal(t, StateDisconnected, svc.channel.State())
	assert.False(t, svc.polling.IsActive())
}
