package mesh

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/danmuck/meshctl/internal/nodedb"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/protocol/wire"
)

// Decoder interprets the payload of one application port.
type Decoder struct {
	// Name is the topic suffix and the key under DecodedData.Fields.
	Name string
	// Decode parses the payload. Nil leaves the payload raw.
	Decode func(payload []byte) (any, error)
	// OnReceive runs on the ingestion goroutine after Decode. It must not block.
	OnReceive func(s *Interface, pkt *Packet)
}

// DecoderRegistry maps ports to decoders.
type DecoderRegistry struct {
	mu     sync.RWMutex
	byPort map[protocol.PortNum]Decoder
}

// NewDecoderRegistry returns a registry holding the built-in decoders.
func NewDecoderRegistry() *DecoderRegistry {
	r := &DecoderRegistry{byPort: make(map[protocol.PortNum]Decoder)}
	for port, d := range builtinDecoders() {
		r.byPort[port] = d
	}
	return r
}

// Register adds or replaces the decoder for port.
func (r *DecoderRegistry) Register(port protocol.PortNum, d Decoder) error {
	if !port.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if d.Name == "" {
		return fmt.Errorf("mesh: decoder for %s needs a name", port)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPort[port] = d
	return nil
}

func (r *DecoderRegistry) Lookup(port protocol.PortNum) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byPort[port]
	return d, ok
}

// Ports lists registered ports in ascending order.
func (r *DecoderRegistry) Ports() []protocol.PortNum {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.PortNum, 0, len(r.byPort))
	for p := range r.byPort {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func decodeWith[T any](fn func([]byte) (T, error)) func([]byte) (any, error) {
	return func(b []byte) (any, error) {
		return fn(b)
	}
}

func builtinDecoders() map[protocol.PortNum]Decoder {
	return map[protocol.PortNum]Decoder{
		protocol.PortTextMessageApp:     {Name: "text", OnReceive: onTextReceive},
		protocol.PortRangeTestApp:       {Name: "rangetest", OnReceive: onTextReceive},
		protocol.PortDetectionSensorApp: {Name: "detectionsensor", OnReceive: onTextReceive},
		protocol.PortPositionApp:        {Name: "position", Decode: decodeWith(wire.UnmarshalPosition), OnReceive: onPositionReceive},
		protocol.PortNodeInfoApp:        {Name: "user", Decode: decodeWith(wire.UnmarshalUser), OnReceive: onUserReceive},
		protocol.PortRoutingApp:         {Name: "routing", Decode: decodeWith(wire.UnmarshalRouting)},
		protocol.PortTelemetryApp:       {Name: "telemetry", Decode: decodeWith(wire.UnmarshalTelemetry), OnReceive: onTelemetryReceive},
		protocol.PortTracerouteApp:      {Name: "traceroute", Decode: decodeWith(wire.UnmarshalRouteDiscovery)},
		protocol.PortAdminApp:           {Name: "admin"},
		protocol.PortRemoteHardwareApp:  {Name: "remotehw"},
		protocol.PortSimulatorApp:       {Name: "simulator"},
		protocol.PortWaypointApp:        {Name: "waypoint"},
		protocol.PortPaxcounterApp:      {Name: "paxcounter"},
		protocol.PortStoreForwardApp:    {Name: "storeforward"},
		protocol.PortNeighborInfoApp:    {Name: "neighborinfo"},
		protocol.PortMapReportApp:       {Name: "mapreport"},
	}
}

// onTextReceive fills DecodedData.Text. Invalid UTF-8 is logged and the raw
// payload is still delivered.
func onTextReceive(s *Interface, pkt *Packet) {
	if utf8.Valid(pkt.Decoded.Payload) {
		pkt.Decoded.Text = string(pkt.Decoded.Payload)
	} else {
		s.log.Error().Uint32("from", pkt.From).Uint32("id", pkt.ID).Msg("malformed utf8 in text message")
	}
	s.updateLastHeard(pkt)
}

func onPositionReceive(s *Interface, pkt *Packet) {
	pos := pkt.Position()
	if pos == nil {
		return
	}
	s.upsertNode(nodedb.Node{Num: pkt.From, Position: pos}, false)
}

func onUserReceive(s *Interface, pkt *Packet) {
	u := pkt.User()
	if u == nil {
		return
	}
	s.upsertNode(nodedb.Node{Num: pkt.From, User: u}, false)
	s.updateLastHeard(pkt)
}

func onTelemetryReceive(s *Interface, pkt *Packet) {
	t := pkt.Telemetry()
	if t == nil || t.DeviceMetrics == nil {
		return
	}
	s.upsertNode(nodedb.Node{Num: pkt.From, DeviceMetrics: t.DeviceMetrics}, false)
}
