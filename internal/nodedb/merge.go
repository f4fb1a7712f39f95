package nodedb

import (
	"bytes"

	"github.com/danmuck/meshctl/internal/protocol"
)

func (n *Node) merge(in Node) {
	if in.ID != "" {
		n.ID = in.ID
	}
	if in.User != nil {
		if n.User == nil {
			n.User = &protocol.User{}
		}
		mergeUser(n.User, in.User)
	}
	if in.Position != nil {
		if n.Position == nil {
			n.Position = &protocol.Position{}
		}
		mergePosition(n.Position, in.Position)
	}
	if in.DeviceMetrics != nil {
		if n.DeviceMetrics == nil {
			n.DeviceMetrics = &protocol.DeviceMetrics{}
		}
		mergeDeviceMetrics(n.DeviceMetrics, in.DeviceMetrics)
	}
	setPtr(&n.Snr, in.Snr)
	if in.LastHeard != 0 {
		n.LastHeard = in.LastHeard
	}
	setPtr(&n.HopsAway, in.HopsAway)
	setPtr(&n.HopLimit, in.HopLimit)
	setPtr(&n.Channel, in.Channel)
	setPtr(&n.IsFavorite, in.IsFavorite)
	setPtr(&n.ViaMQTT, in.ViaMQTT)
}

func setPtr[T any](dst **T, src *T) {
	if src == nil {
		return
	}
	v := *src
	*dst = &v
}

func mergeUser(dst, src *protocol.User) {
	if src.ID != "" {
		dst.ID = src.ID
	}
	if src.LongName != "" {
		dst.LongName = src.LongName
	}
	if src.ShortName != "" {
		dst.ShortName = src.ShortName
	}
	if len(src.MacAddr) > 0 {
		dst.MacAddr = bytes.Clone(src.MacAddr)
	}
	if src.HwModel != 0 {
		dst.HwModel = src.HwModel
	}
	if src.IsLicensed {
		dst.IsLicensed = true
	}
	if src.Role != protocol.RoleClient {
		dst.Role = src.Role
	}
}

func mergePosition(dst, src *protocol.Position) {
	setPtr(&dst.LatitudeI, src.LatitudeI)
	setPtr(&dst.LongitudeI, src.LongitudeI)
	setPtr(&dst.Altitude, src.Altitude)
	setPtr(&dst.GroundSpeed, src.GroundSpeed)
	if src.Time != 0 {
		dst.Time = src.Time
	}
	if src.SatsInView != 0 {
		dst.SatsInView = src.SatsInView
	}
	if src.PrecisionBits != 0 {
		dst.PrecisionBits = src.PrecisionBits
	}
}

func mergeDeviceMetrics(dst, src *protocol.DeviceMetrics) {
	setPtr(&dst.BatteryLevel, src.BatteryLevel)
	setPtr(&dst.Voltage, src.Voltage)
	setPtr(&dst.ChannelUtilization, src.ChannelUtilization)
	setPtr(&dst.AirUtilTx, src.AirUtilTx)
	setPtr(&dst.UptimeSeconds, src.UptimeSeconds)
}

func (n *Node) clone() Node {
	out := Node{Num: n.Num, ID: n.ID, LastHeard: n.LastHeard}
	if n.User != nil {
		u := *n.User
		u.MacAddr = bytes.Clone(n.User.MacAddr)
		out.User = &u
	}
	if n.Position != nil {
		out.Position = &protocol.Position{}
		mergePosition(out.Position, n.Position)
	}
	if n.DeviceMetrics != nil {
		out.DeviceMetrics = &protocol.DeviceMetrics{}
		mergeDeviceMetrics(out.DeviceMetrics, n.DeviceMetrics)
	}
	setPtr(&out.Snr, n.Snr)
	setPtr(&out.HopsAway, n.HopsAway)
	setPtr(&out.HopLimit, n.HopLimit)
	setPtr(&out.Channel, n.Channel)
	setPtr(&out.IsFavorite, n.IsFavorite)
	setPtr(&out.ViaMQTT, n.ViaMQTT)
	return out
}
