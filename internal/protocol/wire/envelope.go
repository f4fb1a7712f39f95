package wire

import (
	"fmt"

	"github.com/danmuck/meshctl/internal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// FromRadio field numbers.
const (
	fromRadioID             = 1
	fromRadioPacket         = 2
	fromRadioMyInfo         = 3
	fromRadioNodeInfo       = 4
	fromRadioConfig         = 5
	fromRadioLogRecord      = 6
	fromRadioConfigComplete = 7
	fromRadioRebooted       = 8
	fromRadioModuleConfig   = 9
	fromRadioChannel        = 10
	fromRadioQueueStatus    = 11
	fromRadioMetadata       = 13
)

var messageFields = map[protowire.Number]bool{
	fromRadioPacket:       true,
	fromRadioMyInfo:       true,
	fromRadioNodeInfo:     true,
	fromRadioConfig:       true,
	fromRadioLogRecord:    true,
	fromRadioModuleConfig: true,
	fromRadioChannel:      true,
	fromRadioQueueStatus:  true,
	fromRadioMetadata:     true,
}

// ToRadio field numbers.
const (
	toRadioPacket       = 1
	toRadioWantConfigID = 3
	toRadioDisconnect   = 4
	toRadioHeartbeat    = 7
)

// MarshalToRadio validates and encodes an outbound envelope.
func MarshalToRadio(t *protocol.ToRadio) ([]byte, error) {
	if t == nil {
		return nil, ErrNilMessage
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var e encoder
	switch {
	case t.Packet != nil:
		e.message(toRadioPacket, MarshalMeshPacket(t.Packet))
	case t.WantConfigID != nil:
		e.optVarint(toRadioWantConfigID, uint64(*t.WantConfigID))
	case t.Disconnect != nil:
		e.optBool(toRadioDisconnect, *t.Disconnect)
	case t.Heartbeat != nil:
		e.message(toRadioHeartbeat, nil)
	}
	return e.b, nil
}

// UnmarshalToRadio decodes an outbound envelope. It is used by radio simulators and tests.
func UnmarshalToRadio(b []byte) (*protocol.ToRadio, error) {
	t := &protocol.ToRadio{}
	err := decodeEach("to radio", b, func(f field) error {
		var err error
		switch f.num {
		case toRadioPacket:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			t.Packet, err = UnmarshalMeshPacket(f.data)
		case toRadioWantConfigID:
			var v uint32
			if v, err = f.uint32(); err == nil {
				t.WantConfigID = &v
			}
		case toRadioDisconnect:
			var v bool
			if v, err = f.bool(); err == nil {
				t.Disconnect = &v
			}
		case toRadioHeartbeat:
			if err = f.want(protowire.BytesType); err == nil {
				t.Heartbeat = &protocol.Heartbeat{}
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrMalformedEnvelope, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MarshalFromRadio encodes an inbound envelope. It is used by radio simulators and tests.
func MarshalFromRadio(f *protocol.FromRadio) ([]byte, error) {
	if f == nil {
		return nil, ErrNilMessage
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var e encoder
	e.varint(fromRadioID, uint64(f.ID))
	switch {
	case f.Packet != nil:
		e.message(fromRadioPacket, MarshalMeshPacket(f.Packet))
	case f.MyInfo != nil:
		e.message(fromRadioMyInfo, MarshalMyNodeInfo(f.MyInfo))
	case f.NodeInfo != nil:
		e.message(fromRadioNodeInfo, MarshalNodeInfo(f.NodeInfo))
	case f.Config != nil:
		e.message(fromRadioConfig, MarshalConfig(f.Config))
	case f.LogRecord != nil:
		e.message(fromRadioLogRecord, MarshalLogRecord(f.LogRecord))
	case f.ConfigCompleteID != nil:
		e.optVarint(fromRadioConfigComplete, uint64(*f.ConfigCompleteID))
	case f.Rebooted != nil:
		e.optBool(fromRadioRebooted, *f.Rebooted)
	case f.ModuleConfig != nil:
		e.message(fromRadioModuleConfig, MarshalModuleConfig(f.ModuleConfig))
	case f.Channel != nil:
		e.message(fromRadioChannel, MarshalChannel(f.Channel))
	case f.QueueStatus != nil:
		e.message(fromRadioQueueStatus, MarshalQueueStatus(f.QueueStatus))
	case f.Metadata != nil:
		e.message(fromRadioMetadata, MarshalDeviceMetadata(f.Metadata))
	}
	return e.b, nil
}

// UnmarshalFromRadio decodes an inbound envelope. Unknown fields are skipped; an
// envelope with no recognised variant is rejected with protocol.ErrEmptyEnvelope.
func UnmarshalFromRadio(b []byte) (*protocol.FromRadio, error) {
	out := &protocol.FromRadio{}
	err := decodeEach("from radio", b, func(f field) error {
		var err error
		if messageFields[f.num] {
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
		}
		switch f.num {
		case fromRadioID:
			return setUint32(&out.ID, f)
		case fromRadioPacket:
			out.Packet, err = UnmarshalMeshPacket(f.data)
		case fromRadioMyInfo:
			out.MyInfo, err = UnmarshalMyNodeInfo(f.data)
		case fromRadioNodeInfo:
			out.NodeInfo, err = UnmarshalNodeInfo(f.data)
		case fromRadioConfig:
			out.Config, err = UnmarshalConfig(f.data)
		case fromRadioLogRecord:
			out.LogRecord, err = UnmarshalLogRecord(f.data)
		case fromRadioConfigComplete:
			var v uint32
			if v, err = f.uint32(); err == nil {
				out.ConfigCompleteID = &v
			}
		case fromRadioRebooted:
			var v bool
			if v, err = f.bool(); err == nil {
				out.Rebooted = &v
			}
		case fromRadioModuleConfig:
			out.ModuleConfig, err = UnmarshalModuleConfig(f.data)
		case fromRadioChannel:
			out.Channel, err = UnmarshalChannel(f.data)
		case fromRadioQueueStatus:
			out.QueueStatus, err = UnmarshalQueueStatus(f.data)
		case fromRadioMetadata:
			out.Metadata, err = UnmarshalDeviceMetadata(f.data)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrMalformedEnvelope, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
