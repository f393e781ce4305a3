package faketransport

import (
	"context"
	"sync"

	"github.com/cygnus-wealth/sol-transport/rpc"
)

// StreamConn is a scriptable fake rpc.StreamConn. Subscribe calls return
// sequential remote ids by default; tests push synthetic notifications via
// Push and simulate a lost connection via Break.
type StreamConn struct {
	mu         sync.Mutex
	nextRemote uint64
	closed     bool

	notifications chan rpc.Notification
	errs          chan error

	SubscribeErr error
}

func NewStreamConn() *StreamConn {
	return &StreamConn{
		notifications: make(chan rpc.Notification, 64),
		errs:          make(chan error, 1),
	}
}

func (c *StreamConn) nextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextRemote++
	return c.nextRemote
}

func (c *StreamConn) SubscribeAccount(ctx context.Context, pubkey string, commitment rpc.Commitment) (uint64, error) {
	if c.SubscribeErr != nil {
		return 0, c.SubscribeErr
	}
	return c.nextID(), nil
}

func (c *StreamConn) SubscribeTokenAccount(ctx context.Context, pubkey string, commitment rpc.Commitment) (uint64, error) {
	if c.SubscribeErr != nil {
		return 0, c.SubscribeErr
	}
	return c.nextID(), nil
}

func (c *StreamConn) SubscribeProgram(ctx context.Context, program string, filters []rpc.ProgramFilter, commitment rpc.Commitment) (uint64, error) {
	if c.SubscribeErr != nil {
		return 0, c.SubscribeErr
	}
	return c.nextID(), nil
}

func (c *StreamConn) SubscribeSlot(ctx context.Context) (uint64, error) {
	if c.SubscribeErr != nil {
		return 0, c.SubscribeErr
	}
	return c.nextID(), nil
}

func (c *StreamConn) SubscribeSignature(ctx context.Context, signature string, commitment rpc.Commitment) (uint64, error) {
	if c.SubscribeErr != nil {
		return 0, c.SubscribeErr
	}
	return c.nextID(), nil
}

func (c *StreamConn) Unsubscribe(ctx context.Context, remoteID uint64, kind rpc.NotificationKind) error {
	return nil
}

func (c *StreamConn) Notifications() <-chan rpc.Notification {
	return c.notifications
}

func (c *StreamConn) Errors() <-chan error {
	return c.errs
}

func (c *StreamConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.notifications)
	return nil
}

// Push delivers a synthetic notification to whoever is draining
// Notifications().
func (c *StreamConn) Push(n rpc.Notification) {
	c.notifications <- n
}

// Break simulates an ungraceful disconnect by signalling on Errors().
func (c *StreamConn) Break(err error) {
	c.errs <- err
}

// Dialer is a scriptable fake rpc.Dialer.
type Dialer struct {
	mu    sync.Mutex
	conns []*StreamConn

	DialErr func(streamingURL string) error
	// DialFunc overrides conn construction per call when set.
	DialFunc func(ctx context.Context, streamingURL string) (rpc.StreamConn, error)
}

func NewDialer() *Dialer {
	return &Dialer{}
}

func (d *Dialer) Dial(ctx context.Context, streamingURL string) (rpc.StreamConn, error) {
	if d.DialFunc != nil {
		return d.DialFunc(ctx, streamingURL)
	}
	if d.DialErr != nil {
		if err := d.DialErr(streamingURL); err != nil {
			return nil, err
		}
	}
	conn := NewStreamConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// LastConn returns the most recently dialed connection, if any.
func (d *Dialer) LastConn() (*StreamConn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, false
	}
	return d.conns[len(d.conns)-1], true
}

var _ rpc.Dialer = (*Dialer)(nil)
var _ rpc.StreamConn = (*StreamConn)(nil)
