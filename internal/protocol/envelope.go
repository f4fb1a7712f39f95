package protocol

import (
	"fmt"
	"strings"
)

// Variant names the populated field of an envelope.
type Variant string

const (
	VariantNone           Variant = ""
	VariantMyInfo         Variant = "my_info"
	VariantMetadata       Variant = "metadata"
	VariantNodeInfo       Variant = "node_info"
	VariantChannel        Variant = "channel"
	VariantConfig         Variant = "config"
	VariantModuleConfig   Variant = "module_config"
	VariantQueueStatus    Variant = "queue_status"
	VariantConfigComplete Variant = "config_complete_id"
	VariantRebooted       Variant = "rebooted"
	VariantPacket         Variant = "packet"
	VariantLogRecord      Variant = "log_record"
	VariantWantConfig     Variant = "want_config_id"
	VariantDisconnect     Variant = "disconnect"
	VariantHeartbeat      Variant = "heartbeat"
)

// FromRadio is an inbound envelope. Exactly one variant field is set on a valid envelope.
type FromRadio struct {
	ID               uint32
	MyInfo           *MyNodeInfo
	Metadata         *DeviceMetadata
	NodeInfo         *NodeInfo
	Channel          *Channel
	Config           *Config
	ModuleConfig     *ModuleConfig
	QueueStatus      *QueueStatus
	ConfigCompleteID *uint32
	Rebooted         *bool
	Packet           *MeshPacket
	LogRecord        *LogRecord
}

func (f *FromRadio) variants() []Variant {
	var out []Variant
	add := func(set bool, v Variant) {
		if set {
			out = append(out, v)
		}
	}
	add(f.MyInfo != nil, VariantMyInfo)
	add(f.Metadata != nil, VariantMetadata)
	add(f.NodeInfo != nil, VariantNodeInfo)
	add(f.Channel != nil, VariantChannel)
	add(f.Config != nil, VariantConfig)
	add(f.ModuleConfig != nil, VariantModuleConfig)
	add(f.QueueStatus != nil, VariantQueueStatus)
	add(f.ConfigCompleteID != nil, VariantConfigComplete)
	add(f.Rebooted != nil, VariantRebooted)
	add(f.Packet != nil, VariantPacket)
	add(f.LogRecord != nil, VariantLogRecord)
	return out
}

// Variant returns the populated variant, or VariantNone when zero or several are set.
func (f *FromRadio) Variant() Variant {
	if f == nil {
		return VariantNone
	}
	vs := f.variants()
	if len(vs) != 1 {
		return VariantNone
	}
	return vs[0]
}

// Validate rejects envelopes with zero or multiple populated variants.
func (f *FromRadio) Validate() error {
	if f == nil {
		return ErrEmptyEnvelope
	}
	return validateVariants(f.variants())
}

// ToRadio is an outbound envelope.
type ToRadio struct {
	Packet       *MeshPacket
	WantConfigID *uint32
	Disconnect   *bool
	Heartbeat    *Heartbeat
}

func (t *ToRadio) variants() []Variant {
	var out []Variant
	if t.Packet != nil {
		out = append(out, VariantPacket)
	}
	if t.WantConfigID != nil {
		out = append(out, VariantWantConfig)
	}
	if t.Disconnect != nil {
		out = append(out, VariantDisconnect)
	}
	if t.Heartbeat != nil {
		out = append(out, VariantHeartbeat)
	}
	return out
}

// Variant returns the populated variant, or VariantNone when zero or several are set.
func (t *ToRadio) Variant() Variant {
	if t == nil {
		return VariantNone
	}
	vs := t.variants()
	if len(vs) != 1 {
		return VariantNone
	}
	return vs[0]
}

// Validate rejects envelopes with zero or multiple populated variants.
func (t *ToRadio) Validate() error {
	if t == nil {
		return ErrEmptyEnvelope
	}
	return validateVariants(t.variants())
}

// IsPacket reports whether the envelope carries a mesh packet and so is subject to flow control.
func (t *ToRadio) IsPacket() bool {
	return t != nil && t.Packet != nil
}

func validateVariants(vs []Variant) error {
	switch len(vs) {
	case 0:
		return ErrEmptyEnvelope
	case 1:
		return nil
	default:
		names := make([]string, 0, len(vs))
		for _, v := range vs {
			names = append(names, string(v))
		}
		return fmt.Errorf("%w: multiple variants set: %s", ErrMalformedEnvelope, strings.Join(names, ","))
	}
}

// NewWantConfig builds the handshake request envelope.
func NewWantConfig(id uint32) *ToRadio {
	return &ToRadio{WantConfigID: Ptr(id)}
}

// NewDisconnect builds the link teardown notice.
func NewDisconnect() *ToRadio {
	return &ToRadio{Disconnect: Ptr(true)}
}

// NewHeartbeat builds a keep-alive envelope.
func NewHeartbeat() *ToRadio {
	return &ToRadio{Heartbeat: &Heartbeat{}}
}
