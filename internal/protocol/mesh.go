package protocol

// HardwareModel identifies radio hardware. Zero means unset.
type HardwareModel uint32

// Role is the device role advertised in user and config records.
type Role uint32

const (
	RoleClient     Role = 0
	RoleClientMute Role = 1
	RoleRouter     Role = 2
	RoleRepeater   Role = 4
	RoleTracker    Role = 5
	RoleSensor     Role = 6
)

// RoutingError is the error_reason carried by a routing reply. RoutingErrorNone marks an ack.
type RoutingError uint32

const (
	RoutingErrorNone          RoutingError = 0
	RoutingErrorNoRoute       RoutingError = 1
	RoutingErrorGotNak        RoutingError = 2
	RoutingErrorTimeout       RoutingError = 3
	RoutingErrorNoInterface   RoutingError = 4
	RoutingErrorMaxRetransmit RoutingError = 5
	RoutingErrorNoChannel     RoutingError = 6
	RoutingErrorTooLarge      RoutingError = 7
	RoutingErrorNoResponse    RoutingError = 8
	RoutingErrorDutyCycle     RoutingError = 9
	RoutingErrorBadRequest    RoutingError = 32
	RoutingErrorNotAuthorized RoutingError = 33
)

var routingErrorNames = map[RoutingError]string{
	RoutingErrorNone:          "NONE",
	RoutingErrorNoRoute:       "NO_ROUTE",
	RoutingErrorGotNak:        "GOT_NAK",
	RoutingErrorTimeout:       "TIMEOUT",
	RoutingErrorNoInterface:   "NO_INTERFACE",
	RoutingErrorMaxRetransmit: "MAX_RETRANSMIT",
	RoutingErrorNoChannel:     "NO_CHANNEL",
	RoutingErrorTooLarge:      "TOO_LARGE",
	RoutingErrorNoResponse:    "NO_RESPONSE",
	RoutingErrorDutyCycle:     "DUTY_CYCLE_LIMIT",
	RoutingErrorBadRequest:    "BAD_REQUEST",
	RoutingErrorNotAuthorized: "NOT_AUTHORIZED",
}

func (e RoutingError) String() string {
	if name, ok := routingErrorNames[e]; ok {
		return name
	}
	return "UNKNOWN"
}

// ChannelRole marks a channel slot as disabled, primary or secondary.
type ChannelRole uint32

const (
	ChannelRoleDisabled  ChannelRole = 0
	ChannelRolePrimary   ChannelRole = 1
	ChannelRoleSecondary ChannelRole = 2
)

func (r ChannelRole) String() string {
	switch r {
	case ChannelRoleDisabled:
		return "DISABLED"
	case ChannelRolePrimary:
		return "PRIMARY"
	case ChannelRoleSecondary:
		return "SECONDARY"
	default:
		return "UNKNOWN"
	}
}

// MeshPacket is a packet travelling over the mesh, in either direction.
type MeshPacket struct {
	From      uint32
	To        uint32
	Channel   uint32
	ID        uint32
	RxTime    uint32
	RxSnr     float32
	RxRssi    int32
	HopLimit  uint32
	HopStart  uint32
	WantAck   bool
	ViaMQTT   bool
	Priority  uint32
	Decoded   *Data
	Encrypted []byte
}

// Data is the decoded application payload container of a MeshPacket.
type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
	Emoji        uint32
}

// User is the identity record a node broadcasts about itself.
type User struct {
	ID         string
	LongName   string
	ShortName  string
	MacAddr    []byte
	HwModel    HardwareModel
	IsLicensed bool
	Role       Role
}

// Position is a node location report. Coordinates are fixed point, 1e-7 degrees.
type Position struct {
	LatitudeI     *int32
	LongitudeI    *int32
	Altitude      *int32
	Time          uint32
	GroundSpeed   *uint32
	SatsInView    uint32
	PrecisionBits uint32
}

// Latitude returns the latitude in degrees, if known.
func (p *Position) Latitude() (float64, bool) {
	if p == nil || p.LatitudeI == nil {
		return 0, false
	}
	return float64(*p.LatitudeI) * 1e-7, true
}

// Longitude returns the longitude in degrees, if known.
func (p *Position) Longitude() (float64, bool) {
	if p == nil || p.LongitudeI == nil {
		return 0, false
	}
	return float64(*p.LongitudeI) * 1e-7, true
}

// DeviceMetrics is the device health portion of a telemetry report.
type DeviceMetrics struct {
	BatteryLevel       *uint32
	Voltage            *float32
	ChannelUtilization *float32
	AirUtilTx          *float32
	UptimeSeconds      *uint32
}

// EnvironmentMetrics is the sensor portion of a telemetry report.
type EnvironmentMetrics struct {
	Temperature        *float32
	RelativeHumidity   *float32
	BarometricPressure *float32
}

// Telemetry carries exactly one metrics group in practice.
type Telemetry struct {
	Time               uint32
	DeviceMetrics      *DeviceMetrics
	EnvironmentMetrics *EnvironmentMetrics
}

// RouteDiscovery is the traceroute payload, accumulated hop by hop.
type RouteDiscovery struct {
	Route      []uint32
	SnrTowards []int32
	RouteBack  []uint32
	SnrBack    []int32
}

// Routing is the routing-layer reply. A reply with ErrorReason none and no route is an ack.
type Routing struct {
	RouteRequest *RouteDiscovery
	RouteReply   *RouteDiscovery
	ErrorReason  RoutingError
}

// IsAck reports whether the routing reply is a plain delivery acknowledgment.
func (r *Routing) IsAck() bool {
	return r != nil && r.ErrorReason == RoutingErrorNone
}

// QueueStatus is the device-reported outbound buffer state.
type QueueStatus struct {
	Res          int32
	Free         uint32
	MaxLen       uint32
	MeshPacketID uint32
}

// MyNodeInfo identifies the locally attached radio.
type MyNodeInfo struct {
	MyNodeNum     uint32
	RebootCount   uint32
	MinAppVersion uint32
}

// DeviceMetadata describes firmware and capabilities of the local radio.
type DeviceMetadata struct {
	FirmwareVersion    string
	DeviceStateVersion uint32
	CanShutdown        bool
	HasWifi            bool
	HasBluetooth       bool
	HasEthernet        bool
	Role               Role
	PositionFlags      uint32
	HwModel            HardwareModel
	HasRemoteHardware  bool
}

// NodeInfo is the device's node database record for one mesh participant.
type NodeInfo struct {
	Num           uint32
	User          *User
	Position      *Position
	Snr           *float32
	LastHeard     uint32
	DeviceMetrics *DeviceMetrics
	Channel       uint32
	ViaMQTT       bool
	HopsAway      *uint32
	IsFavorite    bool
}

// ChannelSettings are the radio parameters of one channel slot.
type ChannelSettings struct {
	Psk             []byte
	Name            string
	ID              uint32
	UplinkEnabled   bool
	DownlinkEnabled bool
}

// Channel is one of the ChannelCount slots on the local radio.
type Channel struct {
	Index    int32
	Settings *ChannelSettings
	Role     ChannelRole
}

// LogRecord is a firmware log line forwarded over the link.
type LogRecord struct {
	Message string
	Time    uint32
	Source  string
	Level   uint32
}

// Heartbeat is the empty keep-alive message sent to the radio.
type Heartbeat struct{}
