package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cygnus-wealth/sol-transport/internal/faketransport"
	"github.com/cygnus-wealth/sol-transport/rpc"
)

func newTestChannelManager(t *testing.T, dialer *faketransport.Dialer, scheduled *[]func()) *channelManager {
	t.Helper()
	events := make(chan Event, 32)
	cfg := channelConfig{
		Endpoints: []EndpointRef{
			{URL: "https://e1.example.com", StreamingURL: "wss://e1.example.com", Priority: 1},
			{URL: "https://e2.example.com", StreamingURL: "wss://e2.example.com", Priority: 2},
		},
		HeartbeatInterval:  time.Hour,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  time.Minute,
		Dialer:             dialer,
		Prober:             func(ctx context.Context, ep EndpointRef) error { return nil },
		Schedule: func(d time.Duration, f func()) {
			*scheduled = append(*scheduled, f)
		},
		Rand:   func() float64 { return 0 },
		Events: events,
	}
	return newChannelManager(cfg)
}

func TestChannelConnectRefusesWhenAlreadyConnected(t *testing.T) {
	dialer := faketransport.NewDialer()
	var scheduled []func()
	cm := newTestChannelManager(t, dialer, &scheduled)

	require.NoError(t, cm.Connect(context.Background()))
	assert.Equal(t, StateConnected, cm.State())

	err := cm.Connect(context.Background())
	assert.Error(t, err)
}

func TestChannelConnectFailurePropagatesAndLeavesDisconnected(t *testing.T) {
	dialer := faketransport.NewDialer()
	dialer.DialErr = func(string) error { return errors.New("dial failed") }
	var scheduled []func()
	cm := newTestChannelManager(t, dialer, &scheduled)

	err := cm.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, cm.State())
}

func TestChannelHeartbeatFailureTriggersReconnectSchedule(t *testing.T) {
	dialer := faketransport.NewDialer()
	var scheduled []func()
	cm := newTestChannelManager(t, dialer, &scheduled)
	require.NoError(t, cm.Connect(context.Background()))

	cm.cfg.Prober = func(ctx context.Context, ep EndpointRef) error { return errors.New("probe failed") }
	cm.heartbeatTick(context.Background())

	assert.Equal(t, StateReconnecting, cm.State())
	require.Len(t, scheduled, 1)
}

func TestChannelReconnectRotatesEndpointAfterTwoAttempts(t *testing.T) {
	dialer := faketransport.NewDialer()
	var scheduled []func()
	cm := newTestChannelManager(t, dialer, &scheduled)

	cm.scheduleReconnect()
	assert.Equal(t, 0, cm.endpointIdx)
	cm.scheduleReconnect()
	assert.Equal(t, 0, cm.endpointIdx)
	cm.scheduleReconnect()
	assert.Equal(t, 1, cm.endpointIdx)
}

func TestChannelDestroyStopsReconnectAttempts(t *testing.T) {
	dialer := faketransport.NewDialer()
	var scheduled []func()
	cm := newTestChannelManager(t, dialer, &scheduled)
	require.NoError(t, cm.Connect(context.Background()))

	cm.Destroy()
	assert.Equal(t, StateDisconnected, cm.State())

	err := cm.Connect(context.Background())
	assert.Error(t, err)
}

func TestChannelResubscribeCallbackFiresOnConnect(t *testing.T) {
	dialer := faketransport.NewDialer()
	var scheduled []func()
	cm := newTestChannelManager(t, dialer, &scheduled)

	var gotConn rpc.StreamConn
	cm.cfg.OnResubscribeNeeded = func(conn rpc.StreamConn) { gotConn = conn }

	require.NoError(t, cm.Connect(context.Background()))
	assert.NotNil(t, gotConn)
}
