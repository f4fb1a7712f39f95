package mesh

import "github.com/danmuck/meshctl/internal/protocol"

// Event topics published by the session.
const (
	TopicConnectionEstablished = "meshtastic.connection.established"
	TopicConnectionLost        = "meshtastic.connection.lost"
	TopicNodeUpdated           = "meshtastic.node.updated"
	TopicReceive               = "meshtastic.receive"
	TopicReceiveData           = TopicReceive + ".data"
	TopicLogLine               = "meshtastic.log.line"
)

// Packet is the application view of an inbound mesh packet.
type Packet struct {
	ID       uint32
	From     uint32
	To       uint32
	FromID   string
	ToID     string
	Channel  uint32
	RxTime   uint32
	RxSnr    float32
	RxRssi   int32
	HopLimit uint32
	HopStart uint32
	WantAck  bool
	ViaMQTT  bool
	Decoded  *DecodedData
	Raw      *protocol.MeshPacket
	// Topic is the event topic the packet was published under.
	Topic string
}

// DecodedData is the application payload with any structured form a decoder produced.
type DecodedData struct {
	PortNum      protocol.PortNum
	Payload      []byte
	WantResponse bool
	RequestID    uint32
	ReplyID      uint32
	Emoji        uint32
	// Text is set by text decoders when the payload is valid UTF-8.
	Text string
	// Fields maps a decoder name to its decoded payload.
	Fields map[string]any
}

func decodedField[T any](p *Packet, name string) T {
	var zero T
	if p == nil || p.Decoded == nil {
		return zero
	}
	v, ok := p.Decoded.Fields[name].(T)
	if !ok {
		return zero
	}
	return v
}

func (p *Packet) Position() *protocol.Position {
	return decodedField[*protocol.Position](p, "position")
}

func (p *Packet) User() *protocol.User {
	return decodedField[*protocol.User](p, "user")
}

func (p *Packet) Routing() *protocol.Routing {
	return decodedField[*protocol.Routing](p, "routing")
}

func (p *Packet) Telemetry() *protocol.Telemetry {
	return decodedField[*protocol.Telemetry](p, "telemetry")
}

func (p *Packet) RouteDiscovery() *protocol.RouteDiscovery {
	return decodedField[*protocol.RouteDiscovery](p, "traceroute")
}

// IsAck reports whether the packet is a routing reply with no error.
func (p *Packet) IsAck() bool {
	if p == nil || p.Decoded == nil || p.Decoded.PortNum != protocol.PortRoutingApp {
		return false
	}
	return p.Routing().IsAck()
}

func normalize(mp *protocol.MeshPacket) *Packet {
	pkt := &Packet{
		ID:       mp.ID,
		From:     mp.From,
		To:       mp.To,
		Channel:  mp.Channel,
		RxTime:   mp.RxTime,
		RxSnr:    mp.RxSnr,
		RxRssi:   mp.RxRssi,
		HopLimit: mp.HopLimit,
		HopStart: mp.HopStart,
		WantAck:  mp.WantAck,
		ViaMQTT:  mp.ViaMQTT,
		Raw:      mp,
		Topic:    TopicReceive,
	}
	if d := mp.Decoded; d != nil {
		pkt.Decoded = &DecodedData{
			PortNum:      d.PortNum,
			Payload:      d.Payload,
			WantResponse: d.WantResponse,
			RequestID:    d.RequestID,
			ReplyID:      d.ReplyID,
			Emoji:        d.Emoji,
			Fields:       make(map[string]any),
		}
	}
	return pkt
}
