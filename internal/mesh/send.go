package mesh

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/protocol/wire"
)

// SendOptions controls addressing and delivery of one outbound packet.
type SendOptions struct {
	// Destination is "^all" (the default), "^local", "!hex", a decimal node
	// number or a stable id from the node database.
	Destination  string
	WantAck      bool
	WantResponse bool
	Channel      uint32
	// HopLimit zero takes the device LoRa setting, then protocol.DefaultHopLimit.
	HopLimit uint32
	// OnResponse receives the reply correlated to this packet.
	OnResponse ResponseHandler
}

// SendText sends a UTF-8 text message.
func (s *Interface) SendText(ctx context.Context, text string, opts SendOptions) (*protocol.MeshPacket, error) {
	return s.SendData(ctx, []byte(text), protocol.PortTextMessageApp, opts)
}

// SendData sends payload on port and returns the packet handed to the queue.
// It blocks until the session is connected and the device has room.
func (s *Interface) SendData(ctx context.Context, payload []byte, port protocol.PortNum, opts SendOptions) (*protocol.MeshPacket, error) {
	if len(payload) > protocol.DataPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), protocol.DataPayloadLen)
	}
	if !port.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPort, port)
	}
	dest, err := s.resolveDestination(opts.Destination)
	if err != nil {
		return nil, err
	}
	id, err := s.ids.Next()
	if err != nil {
		return nil, err
	}
	if err := s.waitConnected(ctx, dest); err != nil {
		return nil, err
	}

	mp := &protocol.MeshPacket{
		To:       dest,
		ID:       id,
		Channel:  opts.Channel,
		WantAck:  opts.WantAck,
		HopLimit: s.hopLimit(opts.HopLimit),
		Decoded: &protocol.Data{
			PortNum:      port,
			Payload:      append([]byte(nil), payload...),
			WantResponse: opts.WantResponse,
		},
	}
	if opts.WantAck {
		s.waits.Reset(WaitAckNak)
	}
	if opts.OnResponse != nil {
		s.correlator.Add(id, opts.OnResponse)
	}
	s.log.Debug().Uint32("id", id).Uint32("to", dest).Stringer("port", port).Int("len", len(payload)).Msg("sending packet")
	if err := s.tx.Enqueue(ctx, &protocol.ToRadio{Packet: mp}); err != nil {
		s.correlator.Remove(id)
		return nil, err
	}
	sent := *mp
	return &sent, nil
}

// PositionRequest is a location in degrees and metres. Zero coordinates are
// left out of the report.
type PositionRequest struct {
	Latitude  float64
	Longitude float64
	Altitude  int32
	// Time defaults to now.
	Time time.Time
}

// SendPosition broadcasts or sends a position report. With WantResponse and
// no OnResponse the reply is tracked for WaitForPosition.
func (s *Interface) SendPosition(ctx context.Context, p PositionRequest, opts SendOptions) (*protocol.MeshPacket, error) {
	pos := &protocol.Position{}
	if p.Latitude != 0 {
		pos.LatitudeI = protocol.Ptr(int32(math.Round(p.Latitude * 1e7)))
	}
	if p.Longitude != 0 {
		pos.LongitudeI = protocol.Ptr(int32(math.Round(p.Longitude * 1e7)))
	}
	if p.Altitude != 0 {
		pos.Altitude = protocol.Ptr(p.Altitude)
	}
	t := p.Time
	if t.IsZero() {
		t = time.Now()
	}
	pos.Time = uint32(t.Unix())
	if opts.WantResponse && opts.OnResponse == nil {
		s.waits.Reset(WaitPosition)
		opts.OnResponse = s.replySignal(WaitPosition, protocol.PortPositionApp, nil)
	}
	return s.SendData(ctx, wire.MarshalPosition(pos), protocol.PortPositionApp, opts)
}

// SendTelemetry sends the local node's device metrics.
func (s *Interface) SendTelemetry(ctx context.Context, opts SendOptions) (*protocol.MeshPacket, error) {
	t := &protocol.Telemetry{Time: uint32(time.Now().Unix()), DeviceMetrics: &protocol.DeviceMetrics{}}
	if n, ok := s.LocalNode(); ok && n.DeviceMetrics != nil {
		m := *n.DeviceMetrics
		m.UptimeSeconds = nil
		t.DeviceMetrics = &m
	}
	if opts.WantResponse && opts.OnResponse == nil {
		s.waits.Reset(WaitTelemetry)
		opts.OnResponse = s.replySignal(WaitTelemetry, protocol.PortTelemetryApp, nil)
	}
	return s.SendData(ctx, wire.MarshalTelemetry(t), protocol.PortTelemetryApp, opts)
}

// SendTraceRoute asks the mesh to record the route to dest.
func (s *Interface) SendTraceRoute(ctx context.Context, dest string, hopLimit uint32, channel uint32) (*protocol.MeshPacket, error) {
	s.waits.Reset(WaitTraceRoute)
	return s.SendData(ctx, wire.MarshalRouteDiscovery(&protocol.RouteDiscovery{}), protocol.PortTracerouteApp, SendOptions{
		Destination:  dest,
		WantResponse: true,
		Channel:      channel,
		HopLimit:     hopLimit,
		OnResponse:   s.replySignal(WaitTraceRoute, protocol.PortTracerouteApp, nil),
	})
}

// SendPositionAndWait sends a position request and waits for the reply.
func (s *Interface) SendPositionAndWait(ctx context.Context, p PositionRequest, opts SendOptions) (*protocol.MeshPacket, *Packet, error) {
	replies := make(chan *Packet, 1)
	s.waits.Reset(WaitPosition)
	opts.WantResponse = true
	opts.OnResponse = s.replySignal(WaitPosition, protocol.PortPositionApp, replies)
	sent, err := s.SendPosition(ctx, p, opts)
	if err != nil {
		return nil, nil, err
	}
	reply, err := s.awaitReply(ctx, WaitPosition, sent.ID, s.cfg.ResponseTimeout, replies)
	return sent, reply, err
}

// SendTelemetryAndWait sends telemetry and waits for the remote node's report.
func (s *Interface) SendTelemetryAndWait(ctx context.Context, opts SendOptions) (*protocol.MeshPacket, *Packet, error) {
	replies := make(chan *Packet, 1)
	s.waits.Reset(WaitTelemetry)
	opts.WantResponse = true
	opts.OnResponse = s.replySignal(WaitTelemetry, protocol.PortTelemetryApp, replies)
	sent, err := s.SendTelemetry(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	reply, err := s.awaitReply(ctx, WaitTelemetry, sent.ID, s.cfg.ResponseTimeout, replies)
	return sent, reply, err
}

// SendTraceRouteAndWait runs a traceroute. The wait grows with the number of
// hops the route may take, bounded by the node count.
func (s *Interface) SendTraceRouteAndWait(ctx context.Context, dest string, hopLimit uint32, channel uint32) (*protocol.MeshPacket, *Packet, error) {
	replies := make(chan *Packet, 1)
	s.waits.Reset(WaitTraceRoute)
	sent, err := s.SendData(ctx, wire.MarshalRouteDiscovery(&protocol.RouteDiscovery{}), protocol.PortTracerouteApp, SendOptions{
		Destination:  dest,
		WantResponse: true,
		Channel:      channel,
		HopLimit:     hopLimit,
		OnResponse:   s.replySignal(WaitTraceRoute, protocol.PortTracerouteApp, replies),
	})
	if err != nil {
		return nil, nil, err
	}
	factor := min(s.nodes.Len()-1, int(sent.HopLimit))
	factor = max(factor, 0)
	timeout := s.cfg.TraceRouteTimeout * time.Duration(factor+1)
	reply, err := s.awaitReply(ctx, WaitTraceRoute, sent.ID, timeout, replies)
	return sent, reply, err
}

// WaitForAckNak blocks until the last WantAck packet is acked or rejected.
func (s *Interface) WaitForAckNak(ctx context.Context) (Acknowledgment, error) {
	if err := s.waits.Wait(ctx, WaitAckNak, s.cfg.AckTimeout); err != nil {
		return Acknowledgment{}, err
	}
	return s.waits.LastAck(), nil
}

func (s *Interface) WaitForPosition(ctx context.Context) error {
	return s.waits.Wait(ctx, WaitPosition, s.cfg.ResponseTimeout)
}

func (s *Interface) WaitForTelemetry(ctx context.Context) error {
	return s.waits.Wait(ctx, WaitTelemetry, s.cfg.ResponseTimeout)
}

func (s *Interface) WaitForTraceRoute(ctx context.Context) error {
	return s.waits.Wait(ctx, WaitTraceRoute, s.cfg.TraceRouteTimeout)
}

// replySignal builds a handler that releases kind when the reply arrives on
// port or the mesh answers with a routing error. out, when set, gets the reply.
func (s *Interface) replySignal(kind WaitKind, port protocol.PortNum, out chan<- *Packet) ResponseHandler {
	return func(pkt *Packet) {
		switch {
		case pkt.Decoded.PortNum == port:
		case pkt.Routing() != nil:
			s.log.Warn().Stringer("reason", pkt.Routing().ErrorReason).Stringer("wait", kind).Msg("request answered with routing error")
		default:
			s.log.Warn().Stringer("port", pkt.Decoded.PortNum).Stringer("wait", kind).Msg("unexpected reply port")
			return
		}
		if out != nil {
			select {
			case out <- pkt:
			default:
			}
		}
		s.waits.Signal(kind)
	}
}

func (s *Interface) awaitReply(ctx context.Context, kind WaitKind, id uint32, timeout time.Duration, replies <-chan *Packet) (*Packet, error) {
	if err := s.waits.Wait(ctx, kind, timeout); err != nil {
		s.correlator.Remove(id)
		var te *TimeoutError
		if errors.As(err, &te) {
			te.ID = id
		}
		return nil, err
	}
	select {
	case pkt := <-replies:
		if r := pkt.Routing(); r != nil && !r.IsAck() {
			return pkt, fmt.Errorf("%w: %s", ErrNak, r.ErrorReason)
		}
		return pkt, nil
	default:
		s.correlator.Remove(id)
		return nil, fmt.Errorf("mesh: %s wait released without a reply", kind)
	}
}

func (s *Interface) hopLimit(requested uint32) uint32 {
	if requested != 0 {
		return requested
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lora := s.localConfig.LoRa; lora != nil && lora.HopLimit != nil && *lora.HopLimit != 0 {
		return *lora.HopLimit
	}
	return protocol.DefaultHopLimit
}

func (s *Interface) resolveDestination(dest string) (uint32, error) {
	dest = strings.TrimSpace(dest)
	switch dest {
	case "", protocol.BroadcastAddr:
		return protocol.BroadcastNum, nil
	case protocol.LocalAddr:
		num, ok := s.localNum()
		if !ok {
			return 0, ErrNoLocalNode
		}
		return num, nil
	}
	num, ok := s.lookupNum(dest)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDestination, dest)
	}
	return num, nil
}

// lookupNum maps an address form to a node number. "^all" maps to the local
// node here, matching node lookups rather than sends.
func (s *Interface) lookupNum(key string) (uint32, bool) {
	key = strings.TrimSpace(key)
	switch {
	case key == protocol.LocalAddr || key == protocol.BroadcastAddr:
		return s.localNum()
	case strings.HasPrefix(key, "!"):
		num, err := protocol.ParseNodeID(key)
		return num, err == nil
	}
	if v, err := strconv.ParseUint(key, 10, 32); err == nil {
		return uint32(v), true
	}
	n, ok := s.nodes.ByID(key)
	if !ok {
		return 0, false
	}
	return n.Num, true
}
