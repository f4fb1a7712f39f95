package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/testutil/testlog"
)

func TestPacketIDsSkipZeroOnWrap(t *testing.T) {
	testlog.Start(t)
	var g PacketIDGenerator
	if _, err := g.Next(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("unseeded err = %v, want ErrNoSession", err)
	}
	g.Seed(0xfffffffe)
	want := []uint32{0xffffffff, 1, 2}
	for _, w := range want {
		got, err := g.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != w {
			t.Fatalf("next = %08x, want %08x", got, w)
		}
	}
	g.SeedOnce(500)
	if got, _ := g.Next(); got != 3 {
		t.Fatalf("SeedOnce reseeded a running generator: got %d", got)
	}
}

func TestPacketIDsUnique(t *testing.T) {
	testlog.Start(t)
	var g PacketIDGenerator
	g.Seed(randomUint32(false))
	seen := make(map[uint32]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := g.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if id == 0 {
			t.Fatalf("generated zero id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %08x", id)
		}
		seen[id] = struct{}{}
	}
}

func reply(port protocol.PortNum, requestID uint32, fields map[string]any) *Packet {
	return &Packet{Decoded: &DecodedData{PortNum: port, RequestID: requestID, Fields: fields}}
}

func TestCorrelatorResolve(t *testing.T) {
	testlog.Start(t)
	c := NewCorrelator()
	c.Add(9, func(*Packet) {})

	if res, _ := c.Resolve(reply(protocol.PortTextMessageApp, 0, nil)); res != Uncorrelated {
		t.Fatalf("no request id: %s", res)
	}
	ack := reply(protocol.PortRoutingApp, 9, map[string]any{"routing": &protocol.Routing{}})
	if res, fn := c.Resolve(ack); res != Acknowledged || fn != nil {
		t.Fatalf("ack: %s", res)
	}
	if c.Len() != 1 {
		t.Fatalf("ack consumed the handler")
	}
	if res, fn := c.Resolve(reply(protocol.PortPositionApp, 9, nil)); res != Replied || fn == nil {
		t.Fatalf("reply: %s", res)
	}
	if res, _ := c.Resolve(reply(protocol.PortPositionApp, 9, nil)); res != Unmatched {
		t.Fatalf("second reply: %s", res)
	}
}

func TestCorrelatorExpire(t *testing.T) {
	testlog.Start(t)
	c := NewCorrelator()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	c.Add(1, func(*Packet) {})
	now = now.Add(time.Minute)
	c.Add(2, func(*Packet) {})
	now = now.Add(30 * time.Second)

	if n := c.Expire(time.Minute); n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	if res, _ := c.Resolve(reply(protocol.PortPositionApp, 2, nil)); res != Replied {
		t.Fatalf("fresh handler expired: %s", res)
	}
}

func TestWaitRegistryResetAndFailure(t *testing.T) {
	testlog.Start(t)
	w := NewWaitRegistry()
	w.Signal(WaitPosition)
	if err := w.Wait(context.Background(), WaitPosition, time.Second); err != nil {
		t.Fatalf("signalled wait: %v", err)
	}
	w.Reset(WaitPosition)
	err := w.Wait(context.Background(), WaitPosition, 10*time.Millisecond)
	var te *TimeoutError
	if !errors.As(err, &te) || te.Op != "position" {
		t.Fatalf("err = %v, want position timeout", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background(), WaitTelemetry, 5*time.Second) }()
	time.Sleep(10 * time.Millisecond)
	w.FailAll(ErrConnectionLost)
	if err := <-done; !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("err = %v, want ErrConnectionLost", err)
	}
	if err := w.Wait(context.Background(), WaitAckNak, time.Second); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("wait after failure = %v", err)
	}
	w.Revive()
	w.SignalAck(Acknowledgment{Nak: true, Reason: protocol.RoutingErrorNoRoute})
	if err := w.Wait(context.Background(), WaitAckNak, time.Second); err != nil {
		t.Fatalf("revived wait: %v", err)
	}
	if ack := w.LastAck(); !ack.Nak || ack.Reason != protocol.RoutingErrorNoRoute {
		t.Fatalf("ack = %+v", ack)
	}
}
