package protocol

import "reflect"

// Config is the local radio configuration. The device streams it one section at a
// time; every field is optional and a nil field means "not reported".
type Config struct {
	Device    *DeviceConfig    `pb:"1"`
	Position  *PositionConfig  `pb:"2"`
	Power     *PowerConfig     `pb:"3"`
	Network   *NetworkConfig   `pb:"4"`
	Display   *DisplayConfig   `pb:"5"`
	LoRa      *LoRaConfig      `pb:"6"`
	Bluetooth *BluetoothConfig `pb:"7"`
}

type DeviceConfig struct {
	Role                  *Role   `pb:"1"`
	SerialEnabled         *bool   `pb:"2"`
	DebugLogEnabled       *bool   `pb:"3"`
	RebroadcastMode       *uint32 `pb:"6"`
	NodeInfoBroadcastSecs *uint32 `pb:"7"`
	IsManaged             *bool   `pb:"9"`
	Tzdef                 *string `pb:"11"`
}

type PositionConfig struct {
	PositionBroadcastSecs         *uint32 `pb:"1"`
	PositionBroadcastSmartEnabled *bool   `pb:"2"`
	FixedPosition                 *bool   `pb:"3"`
	GpsEnabled                    *bool   `pb:"4"`
	GpsUpdateInterval             *uint32 `pb:"5"`
}

type PowerConfig struct {
	IsPowerSaving              *bool   `pb:"1"`
	OnBatteryShutdownAfterSecs *uint32 `pb:"2"`
	WaitBluetoothSecs          *uint32 `pb:"4"`
	SdsSecs                    *uint32 `pb:"6"`
	LsSecs                     *uint32 `pb:"7"`
	MinWakeSecs                *uint32 `pb:"8"`
}

type NetworkConfig struct {
	WifiEnabled *bool   `pb:"1"`
	WifiSSID    *string `pb:"3"`
	WifiPSK     *string `pb:"4"`
	NtpServer   *string `pb:"5"`
	EthEnabled  *bool   `pb:"6"`
}

type DisplayConfig struct {
	ScreenOnSecs           *uint32 `pb:"1"`
	AutoScreenCarouselSecs *uint32 `pb:"3"`
	FlipScreen             *bool   `pb:"5"`
}

type LoRaConfig struct {
	UsePreset    *bool   `pb:"1"`
	ModemPreset  *uint32 `pb:"2"`
	Bandwidth    *uint32 `pb:"3"`
	SpreadFactor *uint32 `pb:"4"`
	CodingRate   *uint32 `pb:"5"`
	Region       *uint32 `pb:"7"`
	HopLimit     *uint32 `pb:"8"`
	TxEnabled    *bool   `pb:"9"`
	TxPower      *int32  `pb:"10"`
	ChannelNum   *uint32 `pb:"11"`
}

type BluetoothConfig struct {
	Enabled  *bool   `pb:"1"`
	Mode     *uint32 `pb:"2"`
	FixedPin *uint32 `pb:"3"`
}

// ModuleConfig is the optional-module configuration, streamed like Config.
type ModuleConfig struct {
	MQTT         *MQTTConfig         `pb:"1"`
	Serial       *SerialConfig       `pb:"2"`
	StoreForward *StoreForwardConfig `pb:"4"`
	RangeTest    *RangeTestConfig    `pb:"5"`
	Telemetry    *TelemetryConfig    `pb:"6"`
	NeighborInfo *NeighborInfoConfig `pb:"10"`
}

type MQTTConfig struct {
	Enabled           *bool   `pb:"1"`
	Address           *string `pb:"2"`
	Username          *string `pb:"3"`
	Password          *string `pb:"4"`
	EncryptionEnabled *bool   `pb:"5"`
	JSONEnabled       *bool   `pb:"6"`
	TLSEnabled        *bool   `pb:"7"`
	Root              *string `pb:"8"`
}

type SerialConfig struct {
	Enabled *bool   `pb:"1"`
	Echo    *bool   `pb:"2"`
	Rxd     *uint32 `pb:"3"`
	Txd     *uint32 `pb:"4"`
	Baud    *uint32 `pb:"5"`
	Timeout *uint32 `pb:"6"`
	Mode    *uint32 `pb:"7"`
}

type StoreForwardConfig struct {
	Enabled             *bool   `pb:"1"`
	Heartbeat           *bool   `pb:"2"`
	Records             *uint32 `pb:"3"`
	HistoryReturnMax    *uint32 `pb:"4"`
	HistoryReturnWindow *uint32 `pb:"5"`
}

type RangeTestConfig struct {
	Enabled *bool   `pb:"1"`
	Sender  *uint32 `pb:"2"`
	Save    *bool   `pb:"3"`
}

type TelemetryConfig struct {
	DeviceUpdateInterval          *uint32 `pb:"1"`
	EnvironmentUpdateInterval     *uint32 `pb:"2"`
	EnvironmentMeasurementEnabled *bool   `pb:"3"`
	EnvironmentScreenEnabled      *bool   `pb:"4"`
}

type NeighborInfoConfig struct {
	Enabled        *bool   `pb:"1"`
	UpdateInterval *uint32 `pb:"2"`
}

// Merge copies every reported field of src into c, leaving absent fields untouched.
func (c *Config) Merge(src *Config) {
	if c == nil || src == nil {
		return
	}
	mergeSections(reflect.ValueOf(c).Elem(), reflect.ValueOf(src).Elem())
}

// Clone returns a deep copy so callers can read it without holding the session lock.
func (c *Config) Clone() *Config {
	out := &Config{}
	out.Merge(c)
	return out
}

// Merge copies every reported field of src into m, leaving absent fields untouched.
func (m *ModuleConfig) Merge(src *ModuleConfig) {
	if m == nil || src == nil {
		return
	}
	mergeSections(reflect.ValueOf(m).Elem(), reflect.ValueOf(src).Elem())
}

// Clone returns a deep copy.
func (m *ModuleConfig) Clone() *ModuleConfig {
	out := &ModuleConfig{}
	out.Merge(m)
	return out
}

// mergeSections walks a struct of *Section pointers, allocating missing
// sections in dst and copying each non-nil leaf pointer value.
func mergeSections(dst, src reflect.Value) {
	for i := 0; i < src.NumField(); i++ {
		sf := src.Field(i)
		if sf.IsNil() {
			continue
		}
		df := dst.Field(i)
		if df.IsNil() {
			df.Set(reflect.New(sf.Type().Elem()))
		}
		mergeLeaves(df.Elem(), sf.Elem())
	}
}

func mergeLeaves(dst, src reflect.Value) {
	for i := 0; i < src.NumField(); i++ {
		sf := src.Field(i)
		if sf.IsNil() {
			continue
		}
		v := reflect.New(sf.Type().Elem())
		v.Elem().Set(sf.Elem())
		dst.Field(i).Set(v)
	}
}

// HeartbeatSecs is the keep-alive period the device expects, derived from its
// light-sleep interval. Zero means the device did not report one.
func (c *Config) HeartbeatSecs() uint32 {
	if c == nil || c.Power == nil || c.Power.LsSecs == nil {
		return 0
	}
	return *c.Power.LsSecs / 2
}
