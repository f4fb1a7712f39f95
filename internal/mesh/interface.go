package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/meshctl/internal/events"
	"github.com/danmuck/meshctl/internal/nodedb"
	"github.com/danmuck/meshctl/internal/observability"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Phase is the handshake state of a session.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseAwaitingConfig
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingConfig:
		return "awaiting_config"
	case PhaseConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Option customises an Interface at construction.
type Option func(*Interface)

// WithNodeDB shares db with the session instead of a private one.
func WithNodeDB(db *nodedb.DB) Option {
	return func(s *Interface) { s.nodes = db }
}

// WithDispatcher publishes session events on d. The session starts d but
// only closes it if it created it.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(s *Interface) {
		s.events = d
		s.ownsEvents = false
	}
}

func WithDecoders(r *DecoderRegistry) Option {
	return func(s *Interface) { s.decoders = r }
}

// Interface is one radio session: it owns the handshake, the outbound queue,
// request correlation and the node database, and publishes what it learns.
//
// HandleFromRadio must be called from a single goroutine. Send and wait
// methods may be called from any other goroutine.
type Interface struct {
	cfg       session.Config
	log       zerolog.Logger
	sessionID string

	tx         *TxQueue
	ids        PacketIDGenerator
	correlator *Correlator
	waits      *WaitRegistry
	nodes      *nodedb.DB
	decoders   *DecoderRegistry
	events     *events.Dispatcher
	ownsEvents bool
	hb         heartbeat

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	phase        Phase
	configID     uint32
	connected    chan struct{}
	myInfo       *protocol.MyNodeInfo
	metadata     *protocol.DeviceMetadata
	channels     [protocol.ChannelCount]protocol.Channel
	localConfig  *protocol.Config
	moduleConfig *protocol.ModuleConfig
	closed       bool
	closeOnce    sync.Once
	closeErr     error
}

// New builds a session that writes through sender. Nothing is sent until Start.
func New(sender Sender, cfg session.Config, opts ...Option) *Interface {
	cfg = cfg.WithDefaults()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Interface{
		cfg:          cfg,
		sessionID:    id,
		log:          observability.Logger("mesh").With().Str("session", id).Logger(),
		correlator:   NewCorrelator(),
		waits:        NewWaitRegistry(),
		connected:    make(chan struct{}),
		localConfig:  &protocol.Config{},
		moduleConfig: &protocol.ModuleConfig{},
		ctx:          ctx,
		cancel:       cancel,
		ownsEvents:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.nodes == nil {
		s.nodes = nodedb.New()
	}
	if s.decoders == nil {
		s.decoders = NewDecoderRegistry()
	}
	if s.events == nil {
		s.events = events.NewDispatcher(cfg.DispatchQueueSize)
		s.ownsEvents = true
	}
	s.tx = NewTxQueue(sender, cfg.QueuePollInterval, s.log)
	return s
}

func (s *Interface) SessionID() string { return s.sessionID }

// Start begins a handshake: it seeds packet ids on first use and asks the
// device to stream its configuration under a fresh config id.
func (s *Interface) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	id := randomUint32(true)
	s.configID = id
	if s.phase == PhaseConnected {
		s.connected = make(chan struct{})
	}
	s.setPhaseLocked(PhaseAwaitingConfig)
	s.mu.Unlock()

	s.ids.SeedOnce(randomUint32(false))
	s.waits.Revive()
	s.waits.Reset(WaitConfig)
	s.events.Start()

	s.log.Info().Uint32("config_id", id).Msg("requesting device config")
	if err := s.tx.Enqueue(ctx, protocol.NewWantConfig(id)); err != nil {
		return fmt.Errorf("mesh: request config: %w", err)
	}
	return nil
}

// HandleFromRadio applies one inbound envelope.
func (s *Interface) HandleFromRadio(env *protocol.FromRadio) {
	if err := env.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed envelope")
		observability.RecordEnvelopeDropped("malformed")
		return
	}
	switch {
	case env.MyInfo != nil:
		info := *env.MyInfo
		s.mu.Lock()
		s.myInfo = &info
		s.mu.Unlock()
		s.log.Debug().Uint32("my_node_num", info.MyNodeNum).Msg("received my node info")
	case env.Metadata != nil:
		md := *env.Metadata
		s.mu.Lock()
		s.metadata = &md
		s.mu.Unlock()
	case env.NodeInfo != nil:
		s.upsertNode(nodedb.FromNodeInfo(env.NodeInfo), true)
	case env.Channel != nil:
		s.handleChannel(env.Channel)
	case env.Config != nil:
		s.mu.Lock()
		s.localConfig.Merge(env.Config)
		s.mu.Unlock()
	case env.ModuleConfig != nil:
		s.mu.Lock()
		s.moduleConfig.Merge(env.ModuleConfig)
		s.mu.Unlock()
	case env.QueueStatus != nil:
		s.tx.OnQueueStatus(env.QueueStatus)
	case env.ConfigCompleteID != nil:
		s.handleConfigComplete(*env.ConfigCompleteID)
	case env.Rebooted != nil:
		if *env.Rebooted {
			s.handleReboot()
		}
	case env.Packet != nil:
		if err := s.handlePacket(env.Packet); err != nil {
			s.log.Error().Err(err).Uint32("id", env.Packet.ID).Msg("dropping packet")
		}
	case env.LogRecord != nil:
		s.log.Debug().Str("source", env.LogRecord.Source).Msg(env.LogRecord.Message)
		s.publish(TopicLogLine, env.LogRecord.Message)
	}
}

func (s *Interface) handleChannel(ch *protocol.Channel) {
	if ch.Index < 0 || int(ch.Index) >= protocol.ChannelCount {
		s.log.Warn().Int32("index", ch.Index).Msg("ignoring channel with out of range index")
		observability.RecordEnvelopeDropped("channel_index")
		return
	}
	c := *ch
	if ch.Settings != nil {
		settings := *ch.Settings
		c.Settings = &settings
	}
	s.mu.Lock()
	s.channels[ch.Index] = c
	s.mu.Unlock()
}

func (s *Interface) handleConfigComplete(id uint32) {
	s.mu.Lock()
	if s.phase != PhaseAwaitingConfig || id != s.configID {
		phase, want := s.phase, s.configID
		s.mu.Unlock()
		s.log.Warn().Uint32("got", id).Uint32("want", want).Stringer("phase", phase).Msg("ignoring config complete")
		return
	}
	for i := range s.channels {
		s.channels[i].Index = int32(i)
	}
	s.setPhaseLocked(PhaseConnected)
	close(s.connected)
	s.mu.Unlock()

	s.log.Info().Int("nodes", s.nodes.Len()).Msg("device config complete")
	s.waits.Signal(WaitConfig)
	s.publish(TopicConnectionEstablished, nil)
	s.hb.start(s.ctx, s.heartbeatInterval, s.sendHeartbeat)
}

func (s *Interface) handleReboot() {
	s.log.Warn().Msg("device rebooted, restarting handshake")
	s.markDisconnected()
	if err := s.Start(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("restart handshake after reboot")
	}
}

// Disconnected tells the session its transport is gone. A non-nil err is
// recorded as fatal and fails every pending wait.
func (s *Interface) Disconnected(err error) {
	if err != nil {
		s.SetFailure(err)
	}
	s.markDisconnected()
}

// SetFailure records a fatal transport condition.
func (s *Interface) SetFailure(err error) {
	s.log.Error().Err(err).Msg("session failed")
	s.waits.FailAll(&FatalError{Err: err})
}

func (s *Interface) markDisconnected() {
	s.hb.stop()
	s.mu.Lock()
	was := s.phase
	if was == PhaseConnected {
		s.connected = make(chan struct{})
	}
	s.setPhaseLocked(PhaseDisconnected)
	s.mu.Unlock()
	if was == PhaseConnected {
		s.publish(TopicConnectionLost, nil)
	}
}

// Close stops the heartbeat, tells the device we are leaving and releases
// every waiter. It is safe to call more than once.
func (s *Interface) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.hb.stop()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		s.closeErr = s.tx.Enqueue(ctx, protocol.NewDisconnect())
		cancel()

		s.tx.Close()
		s.waits.FailAll(ErrSessionClosed)
		s.cancel()
		s.mu.Lock()
		s.setPhaseLocked(PhaseDisconnected)
		s.mu.Unlock()
		if s.ownsEvents {
			s.events.Close()
		}
	})
	return s.closeErr
}

func (s *Interface) setPhaseLocked(p Phase) {
	s.phase = p
	observability.SetSessionPhase(int(p))
}

func (s *Interface) heartbeatInterval() time.Duration {
	s.mu.RLock()
	secs := s.localConfig.HeartbeatSecs()
	s.mu.RUnlock()
	if secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return s.cfg.HeartbeatInterval
}

func (s *Interface) sendHeartbeat(ctx context.Context) {
	if n := s.correlator.Expire(s.cfg.ResponseHandlerTTL); n > 0 {
		s.log.Debug().Int("expired", n).Msg("dropped stale response handlers")
	}
	if err := s.tx.Enqueue(ctx, protocol.NewHeartbeat()); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("heartbeat failed")
	}
}

// Subscribe registers fn for topic and its descendants.
func (s *Interface) Subscribe(topic string, fn events.Handler) func() {
	return s.events.Subscribe(topic, fn)
}

// Flush blocks until every event published so far has been delivered.
func (s *Interface) Flush(ctx context.Context) error {
	return s.events.Flush(ctx)
}

func (s *Interface) publish(topic string, payload any) {
	if err := s.events.Publish(events.Event{Topic: topic, Payload: payload, Source: s}); err != nil {
		s.log.Debug().Err(err).Str("topic", topic).Msg("event not published")
	}
}

// WaitForConfig blocks until the current handshake completes.
func (s *Interface) WaitForConfig(ctx context.Context) error {
	if err := s.waits.Wait(ctx, WaitConfig, s.cfg.ConfigTimeout); err != nil {
		return err
	}
	if s.MyInfo() == nil {
		return fmt.Errorf("mesh: config complete without my node info: %w", ErrNoLocalNode)
	}
	return nil
}

// waitConnected blocks sends until the handshake completes, except sends to
// the local node itself.
func (s *Interface) waitConnected(ctx context.Context, dest uint32) error {
	s.mu.RLock()
	closed, info, ch := s.closed, s.myInfo, s.connected
	s.mu.RUnlock()
	if closed {
		return ErrSessionClosed
	}
	if info != nil && dest == info.MyNodeNum {
		return nil
	}
	if err := s.waits.Failure(); err != nil {
		return err
	}
	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return s.waits.Failure()
	case <-timer.C:
		return fmt.Errorf("%w: %w", ErrNotConnected, &TimeoutError{Op: "connect", Timeout: s.cfg.ConnectTimeout})
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Interface) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Interface) IsConnected() bool {
	return s.Phase() == PhaseConnected
}

// MyInfo returns a copy of the local radio identity, or nil before it arrives.
func (s *Interface) MyInfo() *protocol.MyNodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.myInfo == nil {
		return nil
	}
	info := *s.myInfo
	return &info
}

func (s *Interface) Metadata() *protocol.DeviceMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metadata == nil {
		return nil
	}
	md := *s.metadata
	return &md
}

func (s *Interface) LocalConfig() *protocol.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localConfig.Clone()
}

func (s *Interface) ModuleConfig() *protocol.ModuleConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.moduleConfig.Clone()
}

// Channels returns all channel slots in index order.
func (s *Interface) Channels() []protocol.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Channel, len(s.channels))
	copy(out, s.channels[:])
	return out
}

// NodeDB exposes the session's node database.
func (s *Interface) NodeDB() *nodedb.DB { return s.nodes }

// Decoders exposes the port decoder registry for custom registrations.
func (s *Interface) Decoders() *DecoderRegistry { return s.decoders }

// Nodes returns every known node, most recently heard first.
func (s *Interface) Nodes() []nodedb.Node { return s.nodes.All() }

// GetNode looks a node up by "^local", "^all" (both the local node), "!hex",
// a decimal node number or a stable id.
func (s *Interface) GetNode(key string) (nodedb.Node, bool) {
	num, ok := s.lookupNum(key)
	if !ok {
		return nodedb.Node{}, false
	}
	return s.nodes.ByNum(num)
}

// LocalNode returns the record of the attached radio once its identity is known.
func (s *Interface) LocalNode() (nodedb.Node, bool) {
	return s.GetNode(protocol.LocalAddr)
}

func (s *Interface) localNum() (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.myInfo == nil {
		return 0, false
	}
	return s.myInfo.MyNodeNum, true
}

func (s *Interface) upsertNode(n nodedb.Node, announce bool) {
	node, err := s.nodes.Upsert(n)
	if err != nil {
		s.log.Warn().Err(err).Uint32("num", n.Num).Msg("node update rejected")
		return
	}
	observability.SetKnownNodes(s.nodes.Len())
	if announce {
		s.publish(TopicNodeUpdated, node)
	}
}

// updateLastHeard refreshes reception metadata of the sender.
func (s *Interface) updateLastHeard(pkt *Packet) {
	_, err := s.nodes.Update(pkt.From, func(n *nodedb.Node) {
		if pkt.RxTime != 0 {
			n.LastHeard = pkt.RxTime
		}
		snr := pkt.RxSnr
		n.Snr = &snr
		hopLimit := pkt.HopLimit
		n.HopLimit = &hopLimit
	})
	if err != nil {
		s.log.Warn().Err(err).Uint32("from", pkt.From).Msg("last heard update rejected")
		return
	}
	observability.SetKnownNodes(s.nodes.Len())
}
