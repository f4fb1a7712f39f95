package wire

import (
	"fmt"

	"github.com/danmuck/meshctl/internal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// decodeEach parses b and hands every field to fn, wrapping errors with the message name.
func decodeEach(name string, b []byte, fn func(f field) error) error {
	fields, err := parseFields(b)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, f := range fields {
		if err := fn(f); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func setUint32(dst *uint32, f field) (err error) {
	*dst, err = f.uint32()
	return err
}

func setFixed32(dst *uint32, f field) (err error) {
	*dst, err = f.fixed32()
	return err
}

func setBool(dst *bool, f field) (err error) {
	*dst, err = f.bool()
	return err
}

func optUint32(dst **uint32, f field) error {
	v, err := f.uint32()
	if err == nil {
		*dst = &v
	}
	return err
}

func optInt32(dst **int32, f field) error {
	v, err := f.int32()
	if err == nil {
		*dst = &v
	}
	return err
}

func optSfixed32(dst **int32, f field) error {
	v, err := f.sfixed32()
	if err == nil {
		*dst = &v
	}
	return err
}

func optFloat32(dst **float32, f field) error {
	v, err := f.float32()
	if err == nil {
		*dst = &v
	}
	return err
}

// MarshalData encodes the decoded payload container of a mesh packet.
func MarshalData(d *protocol.Data) []byte {
	if d == nil {
		return nil
	}
	var e encoder
	e.varint(1, uint64(d.PortNum))
	e.bytes(2, d.Payload)
	e.bool(3, d.WantResponse)
	e.fixed32(4, d.Dest)
	e.fixed32(5, d.Source)
	e.fixed32(6, d.RequestID)
	e.fixed32(7, d.ReplyID)
	e.fixed32(8, d.Emoji)
	return e.b
}

func UnmarshalData(b []byte) (*protocol.Data, error) {
	d := &protocol.Data{}
	err := decodeEach("data", b, func(f field) error {
		switch f.num {
		case 1:
			v, err := f.uint32()
			d.PortNum = protocol.PortNum(v)
			return err
		case 2:
			var err error
			d.Payload, err = f.bytes()
			return err
		case 3:
			return setBool(&d.WantResponse, f)
		case 4:
			return setFixed32(&d.Dest, f)
		case 5:
			return setFixed32(&d.Source, f)
		case 6:
			return setFixed32(&d.RequestID, f)
		case 7:
			return setFixed32(&d.ReplyID, f)
		case 8:
			return setFixed32(&d.Emoji, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// MarshalMeshPacket encodes a mesh packet. Decoded takes precedence over Encrypted.
func MarshalMeshPacket(p *protocol.MeshPacket) []byte {
	if p == nil {
		return nil
	}
	var e encoder
	e.fixed32(1, p.From)
	e.fixed32(2, p.To)
	e.varint(3, uint64(p.Channel))
	if p.Decoded != nil {
		e.message(4, MarshalData(p.Decoded))
	} else {
		e.bytes(5, p.Encrypted)
	}
	e.fixed32(6, p.ID)
	e.fixed32(7, p.RxTime)
	e.float32(8, p.RxSnr)
	e.varint(9, uint64(p.HopLimit))
	e.bool(10, p.WantAck)
	e.varint(11, uint64(p.Priority))
	e.int32(12, p.RxRssi)
	e.bool(14, p.ViaMQTT)
	e.varint(15, uint64(p.HopStart))
	return e.b
}

func UnmarshalMeshPacket(b []byte) (*protocol.MeshPacket, error) {
	p := &protocol.MeshPacket{}
	err := decodeEach("mesh packet", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			return setFixed32(&p.From, f)
		case 2:
			return setFixed32(&p.To, f)
		case 3:
			return setUint32(&p.Channel, f)
		case 4:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			p.Decoded, err = UnmarshalData(f.data)
		case 5:
			p.Encrypted, err = f.bytes()
		case 6:
			return setFixed32(&p.ID, f)
		case 7:
			return setFixed32(&p.RxTime, f)
		case 8:
			p.RxSnr, err = f.float32()
		case 9:
			return setUint32(&p.HopLimit, f)
		case 10:
			return setBool(&p.WantAck, f)
		case 11:
			return setUint32(&p.Priority, f)
		case 12:
			p.RxRssi, err = f.int32()
		case 14:
			return setBool(&p.ViaMQTT, f)
		case 15:
			return setUint32(&p.HopStart, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func MarshalUser(u *protocol.User) []byte {
	if u == nil {
		return nil
	}
	var e encoder
	e.string(1, u.ID)
	e.string(2, u.LongName)
	e.string(3, u.ShortName)
	e.bytes(4, u.MacAddr)
	e.varint(5, uint64(u.HwModel))
	e.bool(6, u.IsLicensed)
	e.varint(7, uint64(u.Role))
	return e.b
}

func UnmarshalUser(b []byte) (*protocol.User, error) {
	u := &protocol.User{}
	err := decodeEach("user", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			u.ID, err = f.string()
		case 2:
			u.LongName, err = f.string()
		case 3:
			u.ShortName, err = f.string()
		case 4:
			u.MacAddr, err = f.bytes()
		case 5:
			var v uint32
			v, err = f.uint32()
			u.HwModel = protocol.HardwareModel(v)
		case 6:
			return setBool(&u.IsLicensed, f)
		case 7:
			var v uint32
			v, err = f.uint32()
			u.Role = protocol.Role(v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func MarshalPosition(p *protocol.Position) []byte {
	if p == nil {
		return nil
	}
	var e encoder
	if p.LatitudeI != nil {
		e.optFixed32(1, uint32(*p.LatitudeI))
	}
	if p.LongitudeI != nil {
		e.optFixed32(2, uint32(*p.LongitudeI))
	}
	if p.Altitude != nil {
		e.optVarint(3, uint64(int64(*p.Altitude)))
	}
	e.fixed32(4, p.Time)
	if p.GroundSpeed != nil {
		e.optVarint(15, uint64(*p.GroundSpeed))
	}
	e.varint(19, uint64(p.SatsInView))
	e.varint(23, uint64(p.PrecisionBits))
	return e.b
}

func UnmarshalPosition(b []byte) (*protocol.Position, error) {
	p := &protocol.Position{}
	err := decodeEach("position", b, func(f field) error {
		switch f.num {
		case 1:
			return optSfixed32(&p.LatitudeI, f)
		case 2:
			return optSfixed32(&p.LongitudeI, f)
		case 3:
			return optInt32(&p.Altitude, f)
		case 4:
			return setFixed32(&p.Time, f)
		case 15:
			return optUint32(&p.GroundSpeed, f)
		case 19:
			return setUint32(&p.SatsInView, f)
		case 23:
			return setUint32(&p.PrecisionBits, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func MarshalDeviceMetrics(m *protocol.DeviceMetrics) []byte {
	if m == nil {
		return nil
	}
	var e encoder
	if m.BatteryLevel != nil {
		e.optVarint(1, uint64(*m.BatteryLevel))
	}
	if m.Voltage != nil {
		e.optFloat32(2, *m.Voltage)
	}
	if m.ChannelUtilization != nil {
		e.optFloat32(3, *m.ChannelUtilization)
	}
	if m.AirUtilTx != nil {
		e.optFloat32(4, *m.AirUtilTx)
	}
	if m.UptimeSeconds != nil {
		e.optVarint(5, uint64(*m.UptimeSeconds))
	}
	return e.b
}

func UnmarshalDeviceMetrics(b []byte) (*protocol.DeviceMetrics, error) {
	m := &protocol.DeviceMetrics{}
	err := decodeEach("device metrics", b, func(f field) error {
		switch f.num {
		case 1:
			return optUint32(&m.BatteryLevel, f)
		case 2:
			return optFloat32(&m.Voltage, f)
		case 3:
			return optFloat32(&m.ChannelUtilization, f)
		case 4:
			return optFloat32(&m.AirUtilTx, f)
		case 5:
			return optUint32(&m.UptimeSeconds, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func MarshalEnvironmentMetrics(m *protocol.EnvironmentMetrics) []byte {
	if m == nil {
		return nil
	}
	var e encoder
	if m.Temperature != nil {
		e.optFloat32(1, *m.Temperature)
	}
	if m.RelativeHumidity != nil {
		e.optFloat32(2, *m.RelativeHumidity)
	}
	if m.BarometricPressure != nil {
		e.optFloat32(3, *m.BarometricPressure)
	}
	return e.b
}

func UnmarshalEnvironmentMetrics(b []byte) (*protocol.EnvironmentMetrics, error) {
	m := &protocol.EnvironmentMetrics{}
	err := decodeEach("environment metrics", b, func(f field) error {
		switch f.num {
		case 1:
			return optFloat32(&m.Temperature, f)
		case 2:
			return optFloat32(&m.RelativeHumidity, f)
		case 3:
			return optFloat32(&m.BarometricPressure, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func MarshalTelemetry(t *protocol.Telemetry) []byte {
	if t == nil {
		return nil
	}
	var e encoder
	e.fixed32(1, t.Time)
	if t.DeviceMetrics != nil {
		e.message(2, MarshalDeviceMetrics(t.DeviceMetrics))
	}
	if t.EnvironmentMetrics != nil {
		e.message(3, MarshalEnvironmentMetrics(t.EnvironmentMetrics))
	}
	return e.b
}

func UnmarshalTelemetry(b []byte) (*protocol.Telemetry, error) {
	t := &protocol.Telemetry{}
	err := decodeEach("telemetry", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			return setFixed32(&t.Time, f)
		case 2:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			t.DeviceMetrics, err = UnmarshalDeviceMetrics(f.data)
		case 3:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			t.EnvironmentMetrics, err = UnmarshalEnvironmentMetrics(f.data)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func MarshalRouteDiscovery(r *protocol.RouteDiscovery) []byte {
	if r == nil {
		return nil
	}
	var e encoder
	e.packedFixed32(1, r.Route)
	e.packedInt32(2, r.SnrTowards)
	e.packedFixed32(3, r.RouteBack)
	e.packedInt32(4, r.SnrBack)
	return e.b
}

func UnmarshalRouteDiscovery(b []byte) (*protocol.RouteDiscovery, error) {
	r := &protocol.RouteDiscovery{}
	err := decodeEach("route discovery", b, func(f field) error {
		switch f.num {
		case 1:
			vs, err := f.packedFixed32()
			r.Route = append(r.Route, vs...)
			return err
		case 2:
			vs, err := f.packedInt32()
			r.SnrTowards = append(r.SnrTowards, vs...)
			return err
		case 3:
			vs, err := f.packedFixed32()
			r.RouteBack = append(r.RouteBack, vs...)
			return err
		case 4:
			vs, err := f.packedInt32()
			r.SnrBack = append(r.SnrBack, vs...)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalRouting encodes a routing reply. error_reason is always written for a
// bare reply so an ack is distinguishable from an empty payload.
func MarshalRouting(r *protocol.Routing) []byte {
	if r == nil {
		return nil
	}
	var e encoder
	switch {
	case r.RouteRequest != nil:
		e.message(1, MarshalRouteDiscovery(r.RouteRequest))
	case r.RouteReply != nil:
		e.message(2, MarshalRouteDiscovery(r.RouteReply))
	default:
		e.optVarint(3, uint64(r.ErrorReason))
	}
	return e.b
}

func UnmarshalRouting(b []byte) (*protocol.Routing, error) {
	r := &protocol.Routing{}
	err := decodeEach("routing", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			r.RouteRequest, err = UnmarshalRouteDiscovery(f.data)
		case 2:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			r.RouteReply, err = UnmarshalRouteDiscovery(f.data)
		case 3:
			var v uint32
			v, err = f.uint32()
			r.ErrorReason = protocol.RoutingError(v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func MarshalQueueStatus(q *protocol.QueueStatus) []byte {
	if q == nil {
		return nil
	}
	var e encoder
	e.int32(1, q.Res)
	e.varint(2, uint64(q.Free))
	e.varint(3, uint64(q.MaxLen))
	e.varint(4, uint64(q.MeshPacketID))
	return e.b
}

func UnmarshalQueueStatus(b []byte) (*protocol.QueueStatus, error) {
	q := &protocol.QueueStatus{}
	err := decodeEach("queue status", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			q.Res, err = f.int32()
		case 2:
			return setUint32(&q.Free, f)
		case 3:
			return setUint32(&q.MaxLen, f)
		case 4:
			return setUint32(&q.MeshPacketID, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func MarshalMyNodeInfo(m *protocol.MyNodeInfo) []byte {
	if m == nil {
		return nil
	}
	var e encoder
	e.varint(1, uint64(m.MyNodeNum))
	e.varint(8, uint64(m.RebootCount))
	e.varint(11, uint64(m.MinAppVersion))
	return e.b
}

func UnmarshalMyNodeInfo(b []byte) (*protocol.MyNodeInfo, error) {
	m := &protocol.MyNodeInfo{}
	err := decodeEach("my node info", b, func(f field) error {
		switch f.num {
		case 1:
			return setUint32(&m.MyNodeNum, f)
		case 8:
			return setUint32(&m.RebootCount, f)
		case 11:
			return setUint32(&m.MinAppVersion, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func MarshalDeviceMetadata(m *protocol.DeviceMetadata) []byte {
	if m == nil {
		return nil
	}
	var e encoder
	e.string(1, m.FirmwareVersion)
	e.varint(2, uint64(m.DeviceStateVersion))
	e.bool(3, m.CanShutdown)
	e.bool(4, m.HasWifi)
	e.bool(5, m.HasBluetooth)
	e.bool(6, m.HasEthernet)
	e.varint(7, uint64(m.Role))
	e.varint(8, uint64(m.PositionFlags))
	e.varint(9, uint64(m.HwModel))
	e.bool(10, m.HasRemoteHardware)
	return e.b
}

func UnmarshalDeviceMetadata(b []byte) (*protocol.DeviceMetadata, error) {
	m := &protocol.DeviceMetadata{}
	err := decodeEach("device metadata", b, func(f field) error {
		var err error
		var v uint32
		switch f.num {
		case 1:
			m.FirmwareVersion, err = f.string()
		case 2:
			return setUint32(&m.DeviceStateVersion, f)
		case 3:
			return setBool(&m.CanShutdown, f)
		case 4:
			return setBool(&m.HasWifi, f)
		case 5:
			return setBool(&m.HasBluetooth, f)
		case 6:
			return setBool(&m.HasEthernet, f)
		case 7:
			v, err = f.uint32()
			m.Role = protocol.Role(v)
		case 8:
			return setUint32(&m.PositionFlags, f)
		case 9:
			v, err = f.uint32()
			m.HwModel = protocol.HardwareModel(v)
		case 10:
			return setBool(&m.HasRemoteHardware, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func MarshalNodeInfo(n *protocol.NodeInfo) []byte {
	if n == nil {
		return nil
	}
	var e encoder
	e.varint(1, uint64(n.Num))
	if n.User != nil {
		e.message(2, MarshalUser(n.User))
	}
	if n.Position != nil {
		e.message(3, MarshalPosition(n.Position))
	}
	if n.Snr != nil {
		e.optFloat32(4, *n.Snr)
	}
	e.fixed32(5, n.LastHeard)
	if n.DeviceMetrics != nil {
		e.message(6, MarshalDeviceMetrics(n.DeviceMetrics))
	}
	e.varint(7, uint64(n.Channel))
	e.bool(8, n.ViaMQTT)
	if n.HopsAway != nil {
		e.optVarint(9, uint64(*n.HopsAway))
	}
	e.bool(10, n.IsFavorite)
	return e.b
}

func UnmarshalNodeInfo(b []byte) (*protocol.NodeInfo, error) {
	n := &protocol.NodeInfo{}
	err := decodeEach("node info", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			return setUint32(&n.Num, f)
		case 2:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			n.User, err = UnmarshalUser(f.data)
		case 3:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			n.Position, err = UnmarshalPosition(f.data)
		case 4:
			return optFloat32(&n.Snr, f)
		case 5:
			return setFixed32(&n.LastHeard, f)
		case 6:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			n.DeviceMetrics, err = UnmarshalDeviceMetrics(f.data)
		case 7:
			return setUint32(&n.Channel, f)
		case 8:
			return setBool(&n.ViaMQTT, f)
		case 9:
			return optUint32(&n.HopsAway, f)
		case 10:
			return setBool(&n.IsFavorite, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func MarshalChannel(c *protocol.Channel) []byte {
	if c == nil {
		return nil
	}
	var e encoder
	e.int32(1, c.Index)
	if c.Settings != nil {
		s := c.Settings
		var se encoder
		se.bytes(2, s.Psk)
		se.string(3, s.Name)
		se.fixed32(4, s.ID)
		se.bool(5, s.UplinkEnabled)
		se.bool(6, s.DownlinkEnabled)
		e.message(2, se.b)
	}
	e.varint(3, uint64(c.Role))
	return e.b
}

func UnmarshalChannel(b []byte) (*protocol.Channel, error) {
	c := &protocol.Channel{}
	err := decodeEach("channel", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			c.Index, err = f.int32()
		case 2:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			c.Settings, err = unmarshalChannelSettings(f.data)
		case 3:
			var v uint32
			v, err = f.uint32()
			c.Role = protocol.ChannelRole(v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func unmarshalChannelSettings(b []byte) (*protocol.ChannelSettings, error) {
	s := &protocol.ChannelSettings{}
	err := decodeEach("channel settings", b, func(f field) error {
		var err error
		switch f.num {
		case 2:
			s.Psk, err = f.bytes()
		case 3:
			s.Name, err = f.string()
		case 4:
			return setFixed32(&s.ID, f)
		case 5:
			return setBool(&s.UplinkEnabled, f)
		case 6:
			return setBool(&s.DownlinkEnabled, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func MarshalLogRecord(l *protocol.LogRecord) []byte {
	if l == nil {
		return nil
	}
	var e encoder
	e.string(1, l.Message)
	e.fixed32(2, l.Time)
	e.string(3, l.Source)
	e.varint(4, uint64(l.Level))
	return e.b
}

func UnmarshalLogRecord(b []byte) (*protocol.LogRecord, error) {
	l := &protocol.LogRecord{}
	err := decodeEach("log record", b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			l.Message, err = f.string()
		case 2:
			return setFixed32(&l.Time, f)
		case 3:
			l.Source, err = f.string()
		case 4:
			return setUint32(&l.Level, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}
