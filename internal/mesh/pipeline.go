package mesh

import (
	"fmt"

	"github.com/danmuck/meshctl/internal/observability"
	"github.com/danmuck/meshctl/internal/protocol"
)

// handlePacket normalises an inbound packet, runs its decoder, resolves any
// pending request and publishes it. Only a self echo is dropped unpublished.
func (s *Interface) handlePacket(mp *protocol.MeshPacket) error {
	if mp.From == 0 {
		observability.RecordEnvelopeDropped("self_echo")
		return fmt.Errorf("%w: id=%08x", ErrSelfEcho, mp.ID)
	}
	pkt := normalize(mp)
	pkt.FromID = s.nodeID(mp.From)
	pkt.ToID = s.nodeID(mp.To)

	port := "ENCRYPTED"
	if pkt.Decoded != nil {
		port = pkt.Decoded.PortNum.String()
		pkt.Topic = TopicReceiveData + "." + port
		if dec, ok := s.decoders.Lookup(pkt.Decoded.PortNum); ok {
			pkt.Topic = TopicReceive + "." + dec.Name
			s.runDecoder(dec, pkt)
		}
		s.correlate(pkt)
	}
	observability.RecordPacketReceived(port)
	s.publish(pkt.Topic, pkt)
	return nil
}

func (s *Interface) runDecoder(dec Decoder, pkt *Packet) {
	if dec.Decode != nil {
		v, err := dec.Decode(pkt.Decoded.Payload)
		if err != nil {
			s.log.Warn().Err(err).Str("decoder", dec.Name).Uint32("from", pkt.From).Msg("payload decode failed")
		} else {
			pkt.Decoded.Fields[dec.Name] = v
		}
	}
	if dec.OnReceive != nil {
		dec.OnReceive(s, pkt)
	}
}

// correlate signals ack/nak waits and runs the reply handler, if any.
func (s *Interface) correlate(pkt *Packet) {
	res, fn := s.correlator.Resolve(pkt)
	switch res {
	case Uncorrelated:
		return
	case Acknowledged:
		local, ok := s.localNum()
		s.waits.SignalAck(Acknowledgment{
			Ack:       true,
			Implicit:  ok && pkt.From == local,
			RequestID: pkt.Decoded.RequestID,
		})
		return
	}
	if r := pkt.Routing(); r != nil && !r.IsAck() {
		s.waits.SignalAck(Acknowledgment{
			Nak:       true,
			Reason:    r.ErrorReason,
			RequestID: pkt.Decoded.RequestID,
		})
	}
	if res == Unmatched {
		s.log.Debug().Uint32("request_id", pkt.Decoded.RequestID).Msg("reply for unknown request")
		return
	}
	s.invokeHandler(fn, pkt)
}

func (s *Interface) invokeHandler(fn ResponseHandler, pkt *Packet) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Uint32("request_id", pkt.Decoded.RequestID).Msg("response handler panicked")
		}
	}()
	fn(pkt)
}

// nodeID renders num as a stable id. Unknown nodes yield "".
func (s *Interface) nodeID(num uint32) string {
	if num == protocol.BroadcastNum {
		return protocol.BroadcastAddr
	}
	id := s.nodes.IDOf(num)
	if id == "" {
		s.log.Debug().Uint32("num", num).Msg("node not in db")
	}
	return id
}
