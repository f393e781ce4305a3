package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	transport "github.com/cygnus-wealth/sol-transport"
	"github.com/cygnus-wealth/sol-transport/obsmetrics"
	"github.com/cygnus-wealth/sol-transport/rpc"
	"github.com/cygnus-wealth/sol-transport/transporterrors"
)

// Config configures a Service at construction time (spec.md §6
// "Configuration surface — Subscription service").
type Config struct {
	Endpoints  []EndpointRef
	Commitment rpc.Commitment

	HeartbeatInterval       time.Duration
	ReconnectBaseDelay      time.Duration
	ReconnectMaxDelay       time.Duration
	SlotDebounceWindow      time.Duration
	PollInterval            time.Duration
	ChannelRecoveryInterval time.Duration

	Dialer rpc.Dialer
	// Transports supplies the request/response handle used by health
	// probes and the Polling Fallback, keyed by endpoint URL.
	Transports map[string]rpc.Transport

	Now      func() time.Time
	Schedule func(d time.Duration, f func())
	Rand     func() float64
	Logger   *logrus.Logger

	// EventBufferSize bounds the Events() channel; defaults to 64.
	EventBufferSize int

	// Metrics, if set, keeps ActiveSubscriptions in sync with the registry.
	Metrics *obsmetrics.Registry
}

func (c Config) validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("subscription config: at least one endpoint is required")
	}
	primary := c.Endpoints[0]
	for _, e := range c.Endpoints[1:] {
		if e.Priority < primary.Priority {
			primary = e
		}
	}
	if primary.URL == transport.PublicMainnetBetaURL {
		return fmt.Errorf("subscription config: %s may only be configured as a non-primary fallback endpoint", transport.PublicMainnetBetaURL)
	}
	for _, e := range c.Endpoints {
		if _, ok := c.Transports[e.URL]; !ok {
			return fmt.Errorf("subscription config: no transport supplied for endpoint %s", e.URL)
		}
	}
	return nil
}

// Service is the Subscription Service of spec.md §4.7: a registry of live
// subscriptions, a channel manager holding the single persistent streaming
// connection, a slot debouncer, and a Polling Fallback that takes over
// whenever the channel is down.
type Service struct {
	cfg      Config
	registry *registry
	debounce *slotDebouncer
	channel  *channelManager
	polling  *pollingFallback
	events   chan Event
	log      *logrus.Entry
	clock    func() time.Time
}

// New validates cfg and wires a Service. The caller must still call
// Connect to open the streaming channel.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.SlotDebounceWindow <= 0 {
		cfg.SlotDebounceWindow = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ChannelRecoveryInterval <= 0 {
		cfg.ChannelRecoveryInterval = 60 * time.Second
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 64
	}
	clock := cfg.Now
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = rpc.NewWSDialer(log)
	}

	s := &Service{
		cfg:      cfg,
		registry: newRegistry(clock),
		events:   make(chan Event, cfg.EventBufferSize),
		log:      log.WithField("component", "subscription"),
		clock:    clock,
	}
	s.debounce = newSlotDebouncer(cfg.SlotDebounceWindow, nil, s.log)

	s.channel = newChannelManager(channelConfig{
		Endpoints:           cfg.Endpoints,
		Commitment:          cfg.Commitment,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		ReconnectBaseDelay:  cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:   cfg.ReconnectMaxDelay,
		Dialer:              cfg.Dialer,
		Prober:              s.probe,
		Now:                 clock,
		Schedule:            cfg.Schedule,
		Rand:                cfg.Rand,
		Logger:              log,
		OnNotification:      s.dispatchNotification,
		OnResubscribeNeeded: s.installAll,
		OnDisconnectCleanup: s.onDisconnectCleanup,
		OnConnected:         s.onConnected,
		Events:              s.events,
	})

	s.polling = newPollingFallback(pollingConfig{
		Interval:                cfg.PollInterval,
		ChannelRecoveryInterval: cfg.ChannelRecoveryInterval,
		Commitment:              cfg.Commitment,
		Registry:                s.registry,
		Transport:               s.currentTransport,
		AttemptReconnect: func(ctx context.Context) {
			_ = s.channel.Connect(ctx)
		},
		OnSignatureDelivered: s.decActiveSubscriptions,
		Events:               s.events,
	})

	return s, nil
}

func (s *Service) probe(ctx context.Context, ep EndpointRef) error {
	t, ok := s.cfg.Transports[ep.URL]
	if !ok {
		return transporterrors.New(transporterrors.CodeValidation, "no transport for endpoint "+ep.URL)
	}
	_, err := t.GetSlot(ctx, s.cfg.Commitment)
	return err
}

func (s *Service) currentTransport() (rpc.Transport, bool) {
	ep := s.channel.CurrentEndpoint()
	t, ok := s.cfg.Transports[ep.URL]
	return t, ok
}

func (s *Service) onDisconnectCleanup() {
	s.registry.clearRemoteHandles()
	s.polling.Start(context.Background())
}

func (s *Service) onConnected() {
	s.polling.Stop()
}

func (s *Service) incActiveSubscriptions() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveSubscriptions.Inc()
	}
}

func (s *Service) decActiveSubscriptions() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveSubscriptions.Dec()
	}
}

// Connect opens the streaming channel (spec.md §4.7 Connect()).
func (s *Service) Connect(ctx context.Context) error {
	return s.channel.Connect(ctx)
}

// Destroy permanently tears the service down: the channel manager, the
// polling fallback, and the slot debouncer's timer are all stopped so no
// background work outlives Destroy (spec.md §5).
func (s *Service) Destroy() {
	s.channel.Destroy()
	s.polling.Stop()
	s.debounce.stop()
}

// Events delivers the observable events of spec.md §6.
func (s *Service) Events() <-chan Event {
	return s.events
}

// installAll re-installs every registry entry on a freshly (re)connected
// conn, discarding remote handles from the previous connection (spec.md
// §4.7 "Resubscription on reconnect").
func (s *Service) installAll(conn rpc.StreamConn) {
	ctx := context.Background()
	for _, e := range s.registry.all() {
		if err := s.installOne(ctx, conn, e); err != nil {
			s.log.WithFields(logrus.Fields{"id": e.id, "kind": e.kind, "err": err}).Warn("resubscription failed")
		}
	}
}

func (s *Service) installOne(ctx context.Context, conn rpc.StreamConn, e *entry) error {
	var remoteID uint64
	var err error
	switch e.kind {
	case KindAccount:
		remoteID, err = conn.SubscribeAccount(ctx, e.accountPubkey, e.commitment)
	case KindTokenAccount:
		remoteID, err = conn.SubscribeTokenAccount(ctx, e.accountPubkey, e.commitment)
	case KindProgram:
		remoteID, err = conn.SubscribeProgram(ctx, e.programID, e.programFilters, e.commitment)
	case KindSlot:
		remoteID, err = conn.SubscribeSlot(ctx)
	case KindSignature:
		remoteID, err = conn.SubscribeSignature(ctx, e.signature, e.commitment)
	}
	if err != nil {
		return err
	}
	s.registry.setRemote(e.id, remoteID)
	return nil
}

// dispatchNotification routes one inbound provider notification to the
// subscriber it belongs to.
func (s *Service) dispatchNotification(n rpc.Notification) {
	switch n.Kind {
	case rpc.AccountNotification:
		if e, ok := s.registry.findByRemote(n.RemoteSubID); ok && n.Account != nil {
			if e.accountCB != nil {
				invokeSafely(func() { e.accountCB(AccountUpdate{Pubkey: e.accountPubkey, Info: *n.Account}) })
			}
		}
	case rpc.ProgramNotification:
		if e, ok := s.registry.findByRemote(n.RemoteSubID); ok && n.ProgramAccount != nil {
			if e.programCB != nil {
				invokeSafely(func() {
					e.programCB(ProgramUpdate{Pubkey: n.ProgramAccount.Pubkey, Account: n.ProgramAccount.Account})
				})
			}
		}
	case rpc.SlotNotification:
		if _, ok := s.registry.findByRemote(n.RemoteSubID); ok {
			s.debounce.push(n.Slot)
		}
	case rpc.SignatureNotification:
		if e, ok := s.registry.removeByRemote(n.RemoteSubID); ok && n.Signature != nil {
			s.decActiveSubscriptions()
			if e.signatureCB != nil {
				invokeSafely(func() { e.signatureCB(SignatureUpdate{Signature: e.signature, Status: *n.Signature}) })
			}
		}
	}
}

func (s *Service) installIfConnected(e *entry) {
	conn, ok := s.channel.CurrentConn()
	if !ok {
		return
	}
	_ = s.installOne(context.Background(), conn, e)
}

// SubscribeAccount subscribes to account-data changes for pubkey.
func (s *Service) SubscribeAccount(pubkey string, commitment rpc.Commitment, cb AccountCallback) uint64 {
	e := &entry{kind: KindAccount, accountPubkey: pubkey, commitment: commitment, accountCB: cb}
	id := s.registry.add(e)
	s.incActiveSubscriptions()
	s.installIfConnected(e)
	return id
}

// SubscribeTokenAccount subscribes to token-account changes for pubkey.
func (s *Service) SubscribeTokenAccount(pubkey string, commitment rpc.Commitment, cb AccountCallback) uint64 {
	e := &entry{kind: KindTokenAccount, accountPubkey: pubkey, commitment: commitment, accountCB: cb}
	id := s.registry.add(e)
	s.incActiveSubscriptions()
	s.installIfConnected(e)
	return id
}

// SubscribeProgram subscribes to account changes under program matching
// filters.
func (s *Service) SubscribeProgram(program string, filters []rpc.ProgramFilter, commitment rpc.Commitment, cb ProgramCallback) uint64 {
	e := &entry{kind: KindProgram, programID: program, programFilters: filters, commitment: commitment, programCB: cb}
	id := s.registry.add(e)
	s.incActiveSubscriptions()
	s.installIfConnected(e)
	return id
}

// SubscribeSlot subscribes to chain-head slot notifications, delivered
// debounced (spec.md §4.7 "Slot debouncing").
func (s *Service) SubscribeSlot(cb SlotCallback) uint64 {
	e := &entry{kind: KindSlot, slotCB: cb}
	id := s.registry.add(e)
	s.incActiveSubscriptions()
	s.debounce.register(id, cb)
	s.installIfConnected(e)
	return id
}

// SubscribeSignature subscribes to a transaction signature's confirmation,
// delivered at most once (spec.md §4.7 "Signature subscriptions").
func (s *Service) SubscribeSignature(signature string, commitment rpc.Commitment, cb SignatureCallback) uint64 {
	e := &entry{kind: KindSignature, signature: signature, commitment: commitment, signatureCB: cb}
	id := s.registry.add(e)
	s.incActiveSubscriptions()
	s.installIfConnected(e)
	return id
}

// Unsubscribe removes a subscription entry. Once it returns, the
// subscription's callback will never fire again (spec.md §8).
func (s *Service) Unsubscribe(ctx context.Context, id uint64) error {
	e, ok := s.registry.remove(id)
	if !ok {
		return transporterrors.New(transporterrors.CodeNotFound, fmt.Sprintf("subscription %d not found", id))
	}
	s.decActiveSubscriptions()
	s.debounce.unregister(id)
	if e.hasRemote {
		if conn, ok := s.channel.CurrentConn(); ok {
			_ = conn.Unsubscribe(ctx, e.remoteID, kindToNotificationKind(e.kind))
		}
	}
	return nil
}

func kindToNotificationKind(k Kind) rpc.NotificationKind {
	switch k {
	case KindAccount, KindTokenAccount:
		return rpc.AccountNotification
	case KindProgram:
		return rpc.ProgramNotification
	case KindSlot:
		return rpc.SlotNotification
	case KindSignature:
		return rpc.SignatureNotification
	default:
		return rpc.AccountNotification
	}
}
