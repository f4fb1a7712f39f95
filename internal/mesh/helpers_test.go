package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/meshctl/internal/events"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/protocol/session"
	"github.com/danmuck/meshctl/internal/protocol/wire"
)

const (
	testLocalNum  uint32 = 0x0000abcd
	testRemoteNum uint32 = 0x12345678
)

type fakeSender struct {
	mu     sync.Mutex
	sent   []*protocol.ToRadio
	err    error
	onSend func(env *protocol.ToRadio)
}

func (f *fakeSender) SendEnvelope(ctx context.Context, env *protocol.ToRadio) error {
	f.mu.Lock()
	err, hook := f.err, f.onSend
	if err == nil {
		f.sent = append(f.sent, env)
	}
	f.mu.Unlock()
	if hook != nil {
		hook(env)
	}
	return err
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSender) all() []*protocol.ToRadio {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.ToRadio(nil), f.sent...)
}

// packets returns the ids of sent mesh packets in send order.
func (f *fakeSender) packets() []uint32 {
	var out []uint32
	for _, env := range f.all() {
		if env.IsPacket() {
			out = append(out, env.Packet.ID)
		}
	}
	return out
}

func (f *fakeSender) lastPacket(t *testing.T) *protocol.MeshPacket {
	t.Helper()
	var last *protocol.MeshPacket
	for _, env := range f.all() {
		if env.IsPacket() {
			last = env.Packet
		}
	}
	if last == nil {
		t.Fatalf("no packet sent")
	}
	return last
}

func (f *fakeSender) wantConfigIDs() []uint32 {
	var out []uint32
	for _, env := range f.all() {
		if env.WantConfigID != nil {
			out = append(out, *env.WantConfigID)
		}
	}
	return out
}

func (f *fakeSender) count(pred func(*protocol.ToRadio) bool) int {
	n := 0
	for _, env := range f.all() {
		if pred(env) {
			n++
		}
	}
	return n
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.ConfigTimeout = 200 * time.Millisecond
	cfg.AckTimeout = 200 * time.Millisecond
	cfg.ResponseTimeout = 500 * time.Millisecond
	cfg.TraceRouteTimeout = 200 * time.Millisecond
	cfg.QueuePollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 0
	return cfg
}

func newTestInterface(t *testing.T, cfg session.Config) (*Interface, *fakeSender) {
	t.Helper()
	fs := &fakeSender{}
	s := New(fs, cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s, fs
}

// connect runs a full handshake against s.
func connect(t *testing.T, s *Interface, fs *fakeSender) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ids := fs.wantConfigIDs()
	if len(ids) == 0 {
		t.Fatalf("no want_config sent")
	}
	s.HandleFromRadio(&protocol.FromRadio{MyInfo: &protocol.MyNodeInfo{MyNodeNum: testLocalNum}})
	s.HandleFromRadio(&protocol.FromRadio{ConfigCompleteID: protocol.Ptr(ids[len(ids)-1])})
	if !s.IsConnected() {
		t.Fatalf("phase = %s, want connected", s.Phase())
	}
}

func inbound(from uint32, port protocol.PortNum, payload []byte, requestID uint32) *protocol.FromRadio {
	return &protocol.FromRadio{Packet: &protocol.MeshPacket{
		From:     from,
		To:       testLocalNum,
		ID:       randomUint32(true),
		RxTime:   1700000000,
		RxSnr:    6.5,
		HopLimit: 2,
		Decoded: &protocol.Data{
			PortNum:   port,
			Payload:   payload,
			RequestID: requestID,
		},
	}}
}

func routingReply(from uint32, reason protocol.RoutingError, requestID uint32) *protocol.FromRadio {
	return inbound(from, protocol.PortRoutingApp, wire.MarshalRouting(&protocol.Routing{ErrorReason: reason}), requestID)
}

// recorder collects events for a topic.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(s *Interface, topic string) *recorder {
	r := &recorder{}
	s.Subscribe(topic, func(ev events.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) flushed(t *testing.T, s *Interface) []events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
