package mesh

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func packetEnv(id uint32) *protocol.ToRadio {
	return &protocol.ToRadio{Packet: &protocol.MeshPacket{
		ID: id,
		To: protocol.BroadcastNum,
		Decoded: &protocol.Data{
			PortNum: protocol.PortTextMessageApp,
			Payload: []byte("x"),
		},
	}}
}

func newTestQueue(fs *fakeSender) *TxQueue {
	return NewTxQueue(fs, 10*time.Millisecond, zerolog.Nop())
}

func TestTxQueueUnconstrainedSendsInOrder(t *testing.T) {
	testlog.Start(t)
	fs := &fakeSender{}
	q := newTestQueue(fs)
	for _, id := range []uint32{1, 2, 3} {
		if err := q.Enqueue(context.Background(), packetEnv(id)); err != nil {
			t.Fatalf("enqueue %d: %v", id, err)
		}
	}
	if got := fs.packets(); !slices.Equal(got, []uint32{1, 2, 3}) {
		t.Fatalf("sent %v, want [1 2 3]", got)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", q.Len())
	}
}

func TestTxQueueBlocksUntilDeviceReportsSpace(t *testing.T) {
	testlog.Start(t)
	fs := &fakeSender{}
	q := newTestQueue(fs)
	q.OnQueueStatus(&protocol.QueueStatus{Free: 0, MaxLen: 16})

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(context.Background(), packetEnv(7)) }()

	time.Sleep(50 * time.Millisecond)
	if got := fs.packets(); len(got) != 0 {
		t.Fatalf("sent %v with no free slots", got)
	}
	select {
	case err := <-done:
		t.Fatalf("enqueue returned early: %v", err)
	default:
	}

	q.OnQueueStatus(&protocol.QueueStatus{Free: 1, MaxLen: 16, MeshPacketID: 99})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("enqueue still blocked after space reported")
	}
	if got := fs.packets(); !slices.Equal(got, []uint32{7}) {
		t.Fatalf("sent %v, want [7]", got)
	}
	if got := q.Pending(); !slices.Equal(got, []uint32{7}) {
		t.Fatalf("pending %v, want [7] awaiting confirmation", got)
	}
}

func TestTxQueueDuplicateStatusIsIdempotent(t *testing.T) {
	testlog.Start(t)
	fs := &fakeSender{}
	q := newTestQueue(fs)
	q.OnQueueStatus(&protocol.QueueStatus{Free: 1, MaxLen: 16})

	if err := q.Enqueue(context.Background(), packetEnv(10)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	confirm := &protocol.QueueStatus{Free: 1, MaxLen: 16, MeshPacketID: 10}
	q.OnQueueStatus(confirm)
	q.OnQueueStatus(confirm)

	if free, known := q.Free(); !known || free != 1 {
		t.Fatalf("free = %d known=%v, want 1 true", free, known)
	}
	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", q.Len())
	}

	if err := q.Enqueue(context.Background(), packetEnv(11)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := fs.packets(); !slices.Equal(got, []uint32{10, 11}) {
		t.Fatalf("sent %v, want [10 11] with no resend of 10", got)
	}
}

func TestTxQueueConfirmationDuringDrainDiscardsResend(t *testing.T) {
	testlog.Start(t)
	fs := &fakeSender{}
	q := newTestQueue(fs)
	fs.onSend = func(env *protocol.ToRadio) {
		if env.IsPacket() {
			q.OnQueueStatus(&protocol.QueueStatus{Free: 4, MaxLen: 16, MeshPacketID: env.Packet.ID})
		}
	}
	q.OnQueueStatus(&protocol.QueueStatus{Free: 4, MaxLen: 16})

	if err := q.Enqueue(context.Background(), packetEnv(21)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if q.Len() != 0 || len(q.Pending()) != 0 {
		t.Fatalf("pending %v after in-flight confirmation", q.Pending())
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := fs.packets(); !slices.Equal(got, []uint32{21}) {
		t.Fatalf("sent %v, want [21]", got)
	}
}

func TestTxQueueUnconfirmedPacketIsResent(t *testing.T) {
	testlog.Start(t)
	fs := &fakeSender{}
	q := newTestQueue(fs)
	q.OnQueueStatus(&protocol.QueueStatus{Free: 2, MaxLen: 16})

	if err := q.Enqueue(context.Background(), packetEnv(30)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := fs.packets(); !slices.Equal(got, []uint32{30, 30}) {
		t.Fatalf("sent %v, want [30 30]", got)
	}
	if free, _ := q.Free(); free != 0 {
		t.Fatalf("free = %d, want 0 after two optimistic claims", free)
	}
}

func TestTxQueueSendErrorRequeuesAtFront(t *testing.T) {
	testlog.Start(t)
	fs := &fakeSender{}
	q := newTestQueue(fs)
	boom := errors.New("link down")
	fs.setErr(boom)

	err := q.Enqueue(context.Background(), packetEnv(40))
	if !errors.Is(err, boom) {
		t.Fatalf("enqueue err = %v, want %v", err, boom)
	}
	if got := q.Pending(); !slices.Equal(got, []uint32{40}) {
		t.Fatalf("pending %v, want [40]", got)
	}

	fs.setErr(nil)
	if err := q.Enqueue(context.Background(), packetEnv(41)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := fs.packets(); !slices.Equal(got, []uint32{40, 41}) {
		t.Fatalf("sent %v, want [40 41]", got)
	}
}

func TestTxQueueRejectsZeroID(t *testing.T) {
	testlog.Start(t)
	q := newTestQueue(&fakeSender{})
	if err := q.Enqueue(context.Background(), packetEnv(0)); !errors.Is(err, ErrZeroPacketID) {
		t.Fatalf("err = %v, want ErrZeroPacketID", err)
	}
}

func TestTxQueueDuplicateIDReplacesInPlace(t *testing.T) {
	testlog.Start(t)
	fs := &fakeSender{}
	q := newTestQueue(fs)
	q.OnQueueStatus(&protocol.QueueStatus{Free: 0, MaxLen: 16})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = q.Enqueue(ctx, packetEnv(50))
	_ = q.Enqueue(ctx, packetEnv(51))
	replacement := packetEnv(50)
	replacement.Packet.Decoded.Payload = []byte("second")
	_ = q.Enqueue(ctx, replacement)

	if got := q.Pending(); !slices.Equal(got, []uint32{50, 51}) {
		t.Fatalf("pending %v, want [50 51]", got)
	}
	q.OnQueueStatus(&protocol.QueueStatus{Free: 1, MaxLen: 16})
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	last := fs.lastPacket(t)
	if last.ID != 50 || string(last.Decoded.Payload) != "second" {
		t.Fatalf("sent %08x %q, want replacement of 50", last.ID, last.Decoded.Payload)
	}
}

func TestTxQueueNonPacketBypassesFlowControl(t *testing.T) {
	testlog.Start(t)
	fs := &fakeSender{}
	q := newTestQueue(fs)
	q.OnQueueStatus(&protocol.QueueStatus{Free: 0, MaxLen: 16})

	blocked := make(chan error, 1)
	go func() { blocked <- q.Enqueue(context.Background(), packetEnv(60)) }()
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(context.Background(), protocol.NewHeartbeat()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("heartbeat waited on flow control")
	}
	if n := fs.count(func(env *protocol.ToRadio) bool { return env.Heartbeat != nil }); n != 1 {
		t.Fatalf("heartbeats sent = %d, want 1", n)
	}

	q.Close()
	select {
	case err := <-blocked:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("blocked enqueue err = %v, want ErrSessionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("close did not release blocked enqueue")
	}
}

func TestTxQueueWaitHonoursContext(t *testing.T) {
	testlog.Start(t)
	q := newTestQueue(&fakeSender{})
	q.OnQueueStatus(&protocol.QueueStatus{Free: 0, MaxLen: 16})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, packetEnv(70)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if got := q.Pending(); !slices.Equal(got, []uint32{70}) {
		t.Fatalf("pending %v, want [70] kept for a later drain", got)
	}
}
