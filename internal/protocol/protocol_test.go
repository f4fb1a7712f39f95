package protocol

import (
	"errors"
	"testing"
)

func TestFromRadioValidateSingleVariant(t *testing.T) {
	env := &FromRadio{QueueStatus: &QueueStatus{Free: 4, MaxLen: 16}}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if env.Variant() != VariantQueueStatus {
		t.Fatalf("unexpected variant: %q", env.Variant())
	}
}

func TestFromRadioValidateRejectsEmptyAndMultiple(t *testing.T) {
	if err := (&FromRadio{}).Validate(); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope for empty, got %v", err)
	}
	env := &FromRadio{MyInfo: &MyNodeInfo{MyNodeNum: 1}, Rebooted: Ptr(true)}
	if err := env.Validate(); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope for multiple, got %v", err)
	}
	if env.Variant() != VariantNone {
		t.Fatalf("multi-variant envelope should report none, got %q", env.Variant())
	}
}

func TestToRadioConstructors(t *testing.T) {
	if v := NewWantConfig(7).Variant(); v != VariantWantConfig {
		t.Fatalf("want_config variant=%q", v)
	}
	if v := NewDisconnect().Variant(); v != VariantDisconnect {
		t.Fatalf("disconnect variant=%q", v)
	}
	if NewHeartbeat().IsPacket() {
		t.Fatalf("heartbeat must not be a packet")
	}
	if !(&ToRadio{Packet: &MeshPacket{ID: 1}}).IsPacket() {
		t.Fatalf("packet envelope should report IsPacket")
	}
}

func TestConfigMergeKeepsAbsentFields(t *testing.T) {
	cfg := &Config{}
	cfg.Merge(&Config{Power: &PowerConfig{LsSecs: Ptr(uint32(300)), IsPowerSaving: Ptr(true)}})
	cfg.Merge(&Config{Power: &PowerConfig{SdsSecs: Ptr(uint32(60))}})
	cfg.Merge(&Config{LoRa: &LoRaConfig{HopLimit: Ptr(uint32(5))}})

	if cfg.Power.LsSecs == nil || *cfg.Power.LsSecs != 300 {
		t.Fatalf("ls_secs lost: %+v", cfg.Power)
	}
	if cfg.Power.IsPowerSaving == nil || !*cfg.Power.IsPowerSaving {
		t.Fatalf("is_power_saving lost: %+v", cfg.Power)
	}
	if cfg.Power.SdsSecs == nil || *cfg.Power.SdsSecs != 60 {
		t.Fatalf("sds_secs not merged: %+v", cfg.Power)
	}
	if cfg.LoRa == nil || *cfg.LoRa.HopLimit != 5 {
		t.Fatalf("lora section not merged: %+v", cfg.LoRa)
	}
	if got := cfg.HeartbeatSecs(); got != 150 {
		t.Fatalf("heartbeat secs=%d", got)
	}
}

func TestConfigCloneIsDeep(t *testing.T) {
	cfg := &Config{Device: &DeviceConfig{SerialEnabled: Ptr(true)}}
	clone := cfg.Clone()
	*clone.Device.SerialEnabled = false
	if !*cfg.Device.SerialEnabled {
		t.Fatalf("clone shares leaf pointers with original")
	}
}

func TestModuleConfigMerge(t *testing.T) {
	mc := &ModuleConfig{}
	mc.Merge(&ModuleConfig{MQTT: &MQTTConfig{Enabled: Ptr(true), Address: Ptr("mqtt.local")}})
	mc.Merge(&ModuleConfig{MQTT: &MQTTConfig{Root: Ptr("msh")}})
	if *mc.MQTT.Address != "mqtt.local" || *mc.MQTT.Root != "msh" || !*mc.MQTT.Enabled {
		t.Fatalf("unexpected mqtt section: %+v", mc.MQTT)
	}
}

func TestNodeIDHelpers(t *testing.T) {
	if got := NodeNumToID(0x0a1b2c3d); got != "!0a1b2c3d" {
		t.Fatalf("node id=%q", got)
	}
	if got := NodeNumToID(BroadcastNum); got != BroadcastAddr {
		t.Fatalf("broadcast id=%q", got)
	}
	num, err := ParseNodeID("!0a1b2c3d")
	if err != nil || num != 0x0a1b2c3d {
		t.Fatalf("parse node id: num=%x err=%v", num, err)
	}
	if _, err := ParseNodeID("abc"); !errors.Is(err, ErrInvalidNodeID) {
		t.Fatalf("expected ErrInvalidNodeID, got %v", err)
	}
}

func TestParsePortNum(t *testing.T) {
	p, err := ParsePortNum("text_message_app")
	if err != nil || p != PortTextMessageApp {
		t.Fatalf("parse by name: p=%v err=%v", p, err)
	}
	p, err = ParsePortNum("256")
	if err != nil || p != PortPrivateApp {
		t.Fatalf("parse by number: p=%v err=%v", p, err)
	}
	if _, err := ParsePortNum("9999"); !errors.Is(err, ErrUnknownPortNum) {
		t.Fatalf("expected ErrUnknownPortNum, got %v", err)
	}
	if PortUnknownApp.Valid() {
		t.Fatalf("unknown port must not be valid for sends")
	}
	if PortNum(300).String() != "300" {
		t.Fatalf("unnamed port string=%q", PortNum(300).String())
	}
}
