package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// PortNum selects the application handling a packet payload, analogous to an IP port.
type PortNum uint32

const (
	PortUnknownApp               PortNum = 0
	PortTextMessageApp           PortNum = 1
	PortRemoteHardwareApp        PortNum = 2
	PortPositionApp              PortNum = 3
	PortNodeInfoApp              PortNum = 4
	PortRoutingApp               PortNum = 5
	PortAdminApp                 PortNum = 6
	PortTextMessageCompressedApp PortNum = 7
	PortWaypointApp              PortNum = 8
	PortAudioApp                 PortNum = 9
	PortDetectionSensorApp       PortNum = 10
	PortReplyApp                 PortNum = 32
	PortIPTunnelApp              PortNum = 33
	PortPaxcounterApp            PortNum = 34
	PortSerialApp                PortNum = 64
	PortStoreForwardApp          PortNum = 65
	PortRangeTestApp             PortNum = 66
	PortTelemetryApp             PortNum = 67
	PortZPSApp                   PortNum = 68
	PortSimulatorApp             PortNum = 69
	PortTracerouteApp            PortNum = 70
	PortNeighborInfoApp          PortNum = 71
	PortAtakPlugin               PortNum = 72
	PortMapReportApp             PortNum = 73
	PortPrivateApp               PortNum = 256
	PortAtakForwarder            PortNum = 257
	PortMax                      PortNum = 511
)

var portNames = map[PortNum]string{
	PortUnknownApp:               "UNKNOWN_APP",
	PortTextMessageApp:           "TEXT_MESSAGE_APP",
	PortRemoteHardwareApp:        "REMOTE_HARDWARE_APP",
	PortPositionApp:              "POSITION_APP",
	PortNodeInfoApp:              "NODEINFO_APP",
	PortRoutingApp:               "ROUTING_APP",
	PortAdminApp:                 "ADMIN_APP",
	PortTextMessageCompressedApp: "TEXT_MESSAGE_COMPRESSED_APP",
	PortWaypointApp:              "WAYPOINT_APP",
	PortAudioApp:                 "AUDIO_APP",
	PortDetectionSensorApp:       "DETECTION_SENSOR_APP",
	PortReplyApp:                 "REPLY_APP",
	PortIPTunnelApp:              "IP_TUNNEL_APP",
	PortPaxcounterApp:            "PAXCOUNTER_APP",
	PortSerialApp:                "SERIAL_APP",
	PortStoreForwardApp:          "STORE_FORWARD_APP",
	PortRangeTestApp:             "RANGE_TEST_APP",
	PortTelemetryApp:             "TELEMETRY_APP",
	PortZPSApp:                   "ZPS_APP",
	PortSimulatorApp:             "SIMULATOR_APP",
	PortTracerouteApp:            "TRACEROUTE_APP",
	PortNeighborInfoApp:          "NEIGHBORINFO_APP",
	PortAtakPlugin:               "ATAK_PLUGIN",
	PortMapReportApp:             "MAP_REPORT_APP",
	PortPrivateApp:               "PRIVATE_APP",
	PortAtakForwarder:            "ATAK_FORWARDER",
	PortMax:                      "MAX",
}

func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return strconv.FormatUint(uint64(p), 10)
}

// Valid reports whether p may be used on an outbound packet.
func (p PortNum) Valid() bool {
	return p != PortUnknownApp && p <= PortMax
}

// ParsePortNum accepts either a well-known name ("TEXT_MESSAGE_APP") or a decimal number.
func ParsePortNum(raw string) (PortNum, error) {
	raw = strings.TrimSpace(raw)
	upper := strings.ToUpper(raw)
	for port, name := range portNames {
		if name == upper {
			return port, nil
		}
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || PortNum(v) > PortMax {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPortNum, raw)
	}
	return PortNum(v), nil
}
