// stream.go defines the persistent-channel half of the external interface
// (spec.md §4.7, §6): a streaming connection supporting account/program/
// slot/signature subscribe-and-notify, which the Subscription Service's
// channel manager dials, monitors, and rebuilds on reconnect.
package rpc

import "context"

// NotificationKind tags the payload carried by a Notification.
type NotificationKind int

const (
	AccountNotification NotificationKind = iota
	ProgramNotification
	SlotNotification
	SignatureNotification
)

// Notification is one message pushed by the streaming channel, keyed by the
// remote subscription id the provider assigned when the subscribe request
// was acknowledged.
type Notification struct {
	Kind           NotificationKind
	RemoteSubID    uint64
	Account        *AccountInfo
	ProgramAccount *ProgramAccount
	Slot           uint64
	Signature      *SignatureStatus
}

// StreamConn is one live connection to a provider's streaming endpoint.
type StreamConn interface {
	SubscribeAccount(ctx context.Context, pubkey string, commitment Commitment) (remoteID uint64, err error)
	SubscribeProgram(ctx context.Context, program string, filters []ProgramFilter, commitment Commitment) (remoteID uint64, err error)
	SubscribeSlot(ctx context.Context) (remoteID uint64, err error)
	SubscribeSignature(ctx context.Context, signature string, commitment Commitment) (remoteID uint64, err error)
	SubscribeTokenAccount(ctx context.Context, pubkey string, commitment Commitment) (remoteID uint64, err error)

	Unsubscribe(ctx context.Context, remoteID uint64, kind NotificationKind) error

	// Notifications delivers every push message received on this
	// connection. It is closed when the connection is closed.
	Notifications() <-chan Notification

	// Errors delivers exactly one value when the connection is lost, then
	// is closed. This is the channel manager's liveness signal, the same
	// role client.SubscribeNewHead's returned Subscription.Err() channel
	// plays for ethclient-style websocket subscriptions.
	Errors() <-chan error

	Close() error
}

// Dialer opens a StreamConn to a streaming URL.
type Dialer interface {
	Dial(ctx context.Context, streamingURL string) (StreamConn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, streamingURL string) (StreamConn, error)

func (f DialerFunc) Dial(ctx context.Context, streamingURL string) (StreamConn, error) {
	return f(ctx, streamingURL)
}
