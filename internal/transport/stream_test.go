package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/meshctl/internal/mesh"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/protocol/frame"
	"github.com/danmuck/meshctl/internal/protocol/session"
	"github.com/danmuck/meshctl/internal/protocol/wire"
	"github.com/danmuck/meshctl/internal/testutil/testlog"
)

type recordingHandler struct {
	mu           sync.Mutex
	envs         []*protocol.FromRadio
	disconnected chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{disconnected: make(chan error, 1)}
}

func (h *recordingHandler) HandleFromRadio(env *protocol.FromRadio) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envs = append(h.envs, env)
}

func (h *recordingHandler) Disconnected(err error) {
	h.disconnected <- err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.envs)
}

func writeFromRadio(t *testing.T, conn net.Conn, env *protocol.FromRadio) {
	t.Helper()
	payload, err := wire.MarshalFromRadio(env)
	if err != nil {
		t.Errorf("marshal: %v", err)
		return
	}
	if err := frame.WriteFrame(conn, payload, frame.DefaultLimits()); err != nil {
		t.Errorf("write frame: %v", err)
	}
}

func readToRadio(t *testing.T, r *bufio.Reader) *protocol.ToRadio {
	t.Helper()
	f, err := frame.ReadFrame(r, frame.DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := wire.UnmarshalToRadio(f.Payload)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func TestStreamDeliversFramesAndSkipsNoise(t *testing.T) {
	testlog.Start(t)
	local, radio := net.Pipe()
	s := NewStream(local, time.Second)
	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx, h) }()

	go func() {
		_, _ = radio.Write([]byte("INFO boot complete\r\n"))
		_ = frame.WriteFrame(radio, []byte{0xff, 0xff}, frame.DefaultLimits())
		writeFromRadio(t, radio, &protocol.FromRadio{MyInfo: &protocol.MyNodeInfo{MyNodeNum: 42}})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.count() != 1 {
		t.Fatalf("handled %d envelopes, want 1", h.count())
	}
	if h.envs[0].MyInfo == nil || h.envs[0].MyInfo.MyNodeNum != 42 {
		t.Fatalf("envelope = %+v", h.envs[0])
	}

	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("run after cancel: %v", err)
	}
	if err := <-h.disconnected; err != nil {
		t.Fatalf("disconnected(%v), want nil for orderly stop", err)
	}
}

func TestStreamSendEnvelopeFramesPayload(t *testing.T) {
	testlog.Start(t)
	local, radio := net.Pipe()
	s := NewStream(local, time.Second)
	defer s.Close()

	errc := make(chan error, 1)
	go func() {
		if err := s.Wake(context.Background()); err != nil {
			errc <- err
			return
		}
		errc <- s.SendEnvelope(context.Background(), protocol.NewWantConfig(77))
	}()

	r := bufio.NewReader(radio)
	env := readToRadio(t, r)
	if env.WantConfigID == nil || *env.WantConfigID != 77 {
		t.Fatalf("envelope = %+v", env)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := s.SendEnvelope(context.Background(), &protocol.ToRadio{}); !errors.Is(err, protocol.ErrMalformedEnvelope) {
		t.Fatalf("empty envelope err = %v", err)
	}
}

func TestStreamPeerCloseReportsFailure(t *testing.T) {
	testlog.Start(t)
	local, radio := net.Pipe()
	s := NewStream(local, time.Second)
	h := newRecordingHandler()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background(), h) }()
	_ = radio.Close()

	select {
	case err := <-runErr:
		if err == nil {
			t.Fatalf("run returned nil after peer closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after peer closed")
	}
	if err := <-h.disconnected; err == nil {
		t.Fatalf("disconnected(nil), want failure")
	}
	if err := s.SendEnvelope(context.Background(), protocol.NewHeartbeat()); err == nil {
		t.Fatalf("send after failure succeeded")
	}
}

// fakeRadio answers the handshake and confirms each packet with a queue status.
func fakeRadio(t *testing.T, conn net.Conn, localNum uint32, packets chan<- *protocol.MeshPacket) {
	r := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(r, frame.DefaultLimits(), nil)
		if err != nil {
			return
		}
		env, err := wire.UnmarshalToRadio(f.Payload)
		if err != nil {
			t.Errorf("radio got bad envelope: %v", err)
			return
		}
		switch {
		case env.WantConfigID != nil:
			writeFromRadio(t, conn, &protocol.FromRadio{MyInfo: &protocol.MyNodeInfo{MyNodeNum: localNum}})
			writeFromRadio(t, conn, &protocol.FromRadio{NodeInfo: &protocol.NodeInfo{
				Num:  localNum,
				User: &protocol.User{ID: protocol.NodeNumToID(localNum), LongName: "bench"},
			}})
			writeFromRadio(t, conn, &protocol.FromRadio{QueueStatus: &protocol.QueueStatus{Free: 16, MaxLen: 16}})
			writeFromRadio(t, conn, &protocol.FromRadio{ConfigCompleteID: env.WantConfigID})
		case env.Packet != nil:
			packets <- env.Packet
			writeFromRadio(t, conn, &protocol.FromRadio{QueueStatus: &protocol.QueueStatus{
				Free:         16,
				MaxLen:       16,
				MeshPacketID: env.Packet.ID,
			}})
		}
	}
}

func TestSessionOverStream(t *testing.T) {
	testlog.Start(t)
	local, radio := net.Pipe()
	packets := make(chan *protocol.MeshPacket, 4)
	go fakeRadio(t, radio, 0x0badcafe, packets)

	cfg := session.DefaultConfig()
	cfg.HeartbeatInterval = 0
	stream := NewStream(local, time.Second)
	iface := mesh.New(stream, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- stream.Run(ctx, iface) }()

	if err := iface.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := iface.WaitForConfig(waitCtx); err != nil {
		t.Fatalf("wait for config: %v", err)
	}
	if n, ok := iface.LocalNode(); !ok || n.User == nil || n.User.LongName != "bench" {
		t.Fatalf("local node = %+v", n)
	}

	sent, err := iface.SendText(waitCtx, "over the wire", mesh.SendOptions{})
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	select {
	case p := <-packets:
		if p.ID != sent.ID || string(p.Decoded.Payload) != "over the wire" || p.To != protocol.BroadcastNum {
			t.Fatalf("radio received %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("radio never received the packet")
	}

	if err := iface.Close(); err != nil {
		t.Fatalf("close session: %v", err)
	}
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}
}
