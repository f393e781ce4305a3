package subscription

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cygnus-wealth/sol-transport/rpc"
	"github.com/cygnus-wealth/sol-transport/transporterrors"
)

// ChannelState is one of the four states of spec.md §4.7's channel manager.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// channelConfig configures a channelManager at construction time.
type channelConfig struct {
	Endpoints          []EndpointRef
	Commitment         rpc.Commitment
	HeartbeatInterval  time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	Dialer rpc.Dialer
	Prober func(ctx context.Context, ep EndpointRef) error

	Now      func() time.Time
	Schedule func(d time.Duration, f func())
	Rand     func() float64
	Logger   *logrus.Logger

	OnNotification      func(rpc.Notification)
	OnResubscribeNeeded func(conn rpc.StreamConn)
	OnDisconnectCleanup func()
	OnConnected         func()
	Events              chan<- Event
}

// channelManager owns at most one live rpc.StreamConn at a time and drives
// the connect/heartbeat/reconnect/destroy state machine of spec.md §4.7.
// Its shape generalizes adred-codev-ws_poc's connection-lifecycle style
// (register/unregister a live connection under a lock, run supervising
// goroutines alongside it) from a server accepting inbound sockets to a
// client dialing out with its own reconnect policy.
type channelManager struct {
	cfg channelConfig
	now func() time.Time
	rnd func() float64
	log *logrus.Entry

	mu                sync.Mutex
	state             ChannelState
	conn              rpc.StreamConn
	connID            string // correlates log lines for one dial's lifetime
	endpointIdx       int
	reconnectAttempts int
	destroyed         bool
	heartbeatStop     chan struct{}
}

func newChannelManager(cfg channelConfig) *channelManager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Schedule == nil {
		cfg.Schedule = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return &channelManager{
		cfg: cfg,
		now: now,
		rnd: rnd,
		log: log.WithField("component", "channel"),
	}
}

func (c *channelManager) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *channelManager) CurrentEndpoint() EndpointRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Endpoints[c.endpointIdx]
}

// CurrentConn returns the live connection, if any.
func (c *channelManager) CurrentConn() (rpc.StreamConn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return nil, false
	}
	return c.conn, true
}

// Connect implements spec.md §4.7's Connect(): refuses if already
// (connecting|connected) or destroyed; otherwise dials the current
// endpoint, probes it as a liveness check, and on success starts the
// heartbeat and requests resubscription.
func (c *channelManager) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return transporterrors.New(transporterrors.CodeValidation, "channel manager destroyed")
	}
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return transporterrors.New(transporterrors.CodeValidation, "channel already connecting or connected")
	}
	c.state = StateConnecting
	ep := c.cfg.Endpoints[c.endpointIdx]
	c.mu.Unlock()

	conn, err := c.cfg.Dialer.Dial(ctx, ep.StreamingURL)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		publish(c.cfg.Events, Event{Kind: ChannelError, Message: err.Error()})
		return err
	}

	if c.cfg.Prober != nil {
		if err := c.cfg.Prober(ctx, ep); err != nil {
			_ = conn.Close()
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			publish(c.cfg.Events, Event{Kind: ChannelError, Message: err.Error()})
			return err
		}
	}

	connID := uuid.New().String()
	c.mu.Lock()
	c.conn = conn
	c.connID = connID
	c.state = StateConnected
	c.reconnectAttempts = 0
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"conn_id": connID, "endpoint": ep.StreamingURL}).Info("streaming channel connected")
	publish(c.cfg.Events, Event{Kind: ChannelConnected})
	if c.cfg.OnConnected != nil {
		c.cfg.OnConnected()
	}
	if c.cfg.OnResubscribeNeeded != nil {
		c.cfg.OnResubscribeNeeded(conn)
	}

	go c.heartbeatLoop(ctx, stop)
	go c.watchNotifications(conn)
	go c.watchErrors(conn)

	return nil
}

func (c *channelManager) watchNotifications(conn rpc.StreamConn) {
	if c.cfg.OnNotification == nil {
		return
	}
	for n := range conn.Notifications() {
		c.cfg.OnNotification(n)
	}
}

func (c *channelManager) watchErrors(conn rpc.StreamConn) {
	err, ok := <-conn.Errors()
	if !ok {
		return
	}
	c.handleDisconnect(err.Error())
}

func (c *channelManager) heartbeatLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.heartbeatTick(ctx)
		}
	}
}

// heartbeatTick performs one liveness probe. It is unexported; in-package
// tests call it directly to drive a tick deterministically instead of
// waiting on the real ticker.
func (c *channelManager) heartbeatTick(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	ep := c.cfg.Endpoints[c.endpointIdx]
	c.mu.Unlock()

	if c.cfg.Prober == nil {
		return
	}
	if err := c.cfg.Prober(ctx, ep); err != nil {
		c.handleDisconnect("heartbeat failed: " + err.Error())
	}
}

func (c *channelManager) handleDisconnect(reason string) {
	c.mu.Lock()
	if c.destroyed || c.state == StateDisconnected || c.state == StateReconnecting {
		c.mu.Unlock()
		return
	}
	connID := c.connID
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"conn_id": connID, "reason": reason}).Warn("streaming channel disconnected")

	if c.cfg.OnDisconnectCleanup != nil {
		c.cfg.OnDisconnectCleanup()
	}
	publish(c.cfg.Events, Event{Kind: ChannelDisconnected, Reason: reason, WasClean: false})

	c.scheduleReconnect()
}

// scheduleReconnect implements spec.md §4.7's Reconnect(): exponential
// backoff capped at maxDelay with jitter in [0, baseDelay), rotating to the
// next endpoint once the attempt counter exceeds 2 (if more than one
// endpoint is configured).
func (c *channelManager) scheduleReconnect() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	if attempts > 2 && len(c.cfg.Endpoints) > 1 {
		c.endpointIdx = (c.endpointIdx + 1) % len(c.cfg.Endpoints)
	}

	exp := attempts - 1
	if exp > 10 {
		exp = 10
	}
	delay := time.Duration(float64(c.cfg.ReconnectBaseDelay) * math.Pow(2, float64(exp)))
	if c.cfg.ReconnectMaxDelay > 0 && delay > c.cfg.ReconnectMaxDelay {
		delay = c.cfg.ReconnectMaxDelay
	}
	jitter := time.Duration(c.rnd() * float64(c.cfg.ReconnectBaseDelay))
	delay += jitter
	c.mu.Unlock()

	publish(c.cfg.Events, Event{Kind: ChannelReconnecting, Attempt: attempts, DelayMS: delay.Milliseconds()})

	c.cfg.Schedule(delay, func() {
		c.mu.Lock()
		destroyed := c.destroyed
		c.mu.Unlock()
		if destroyed {
			return
		}
		if err := c.Connect(context.Background()); err != nil {
			c.scheduleReconnect()
		}
	})
}

// Destroy permanently tears the channel manager down; further Connect and
// reconnect attempts become no-ops and no background timer survives it.
func (c *channelManager) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
}
