// Package config loads the meshctl TOML file. Only keys present in the file
// override the defaults, so a partial file is valid.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/meshctl/internal/logging"
	"github.com/danmuck/meshctl/internal/protocol/session"
)

const DefaultPath = "meshctl.toml"

type Config struct {
	// Name labels this client in logs and request metrics.
	Name string
	// Radio is the host[:port] of a network-attached radio.
	Radio       string
	LogLevel    string
	StatusAddr  string
	CorsOrigins []string
	Session     session.Config
}

func Default() Config {
	return Config{
		Name:        "meshctl",
		LogLevel:    "info",
		StatusAddr:  "127.0.0.1:9443",
		CorsOrigins: []string{"http://localhost:3000"},
		Session:     session.DefaultConfig(),
	}
}

type fileConfig struct {
	Name     string      `toml:"name"`
	Radio    string      `toml:"radio"`
	LogLevel string      `toml:"log_level"`
	Status   statusFile  `toml:"status"`
	Session  sessionFile `toml:"session"`
}

type statusFile struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type sessionFile struct {
	DialTimeout        string `toml:"dial_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	ConnectTimeout     string `toml:"connect_timeout"`
	ConfigTimeout      string `toml:"config_timeout"`
	AckTimeout         string `toml:"ack_timeout"`
	ResponseTimeout    string `toml:"response_timeout"`
	TraceRouteTimeout  string `toml:"traceroute_timeout"`
	ResponseHandlerTTL string `toml:"response_handler_ttl"`
	QueuePollInterval  string `toml:"queue_poll_interval"`
	HeartbeatInterval  string `toml:"heartbeat_interval"`
	DispatchQueueSize  int    `toml:"dispatch_queue_size"`
	MaxDialAttempts    int    `toml:"max_dial_attempts"`
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("radio") {
		cfg.Radio = strings.TrimSpace(raw.Radio)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("status", "addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.Status.Addr)
	}
	if meta.IsDefined("status", "cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.Status.CorsOrigins)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"dial_timeout", raw.Session.DialTimeout, &cfg.Session.DialTimeout},
		{"write_timeout", raw.Session.WriteTimeout, &cfg.Session.WriteTimeout},
		{"connect_timeout", raw.Session.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"config_timeout", raw.Session.ConfigTimeout, &cfg.Session.ConfigTimeout},
		{"ack_timeout", raw.Session.AckTimeout, &cfg.Session.AckTimeout},
		{"response_timeout", raw.Session.ResponseTimeout, &cfg.Session.ResponseTimeout},
		{"traceroute_timeout", raw.Session.TraceRouteTimeout, &cfg.Session.TraceRouteTimeout},
		{"response_handler_ttl", raw.Session.ResponseHandlerTTL, &cfg.Session.ResponseHandlerTTL},
		{"queue_poll_interval", raw.Session.QueuePollInterval, &cfg.Session.QueuePollInterval},
		{"heartbeat_interval", raw.Session.HeartbeatInterval, &cfg.Session.HeartbeatInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "dispatch_queue_size") {
		cfg.Session.DispatchQueueSize = raw.Session.DispatchQueueSize
	}
	if meta.IsDefined("session", "max_dial_attempts") {
		cfg.Session.Backoff.MaxAttempts = raw.Session.MaxDialAttempts
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(cfg.StatusAddr) == "" {
		return fmt.Errorf("status.addr is required")
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	s := cfg.Session
	for key, d := range map[string]time.Duration{
		"dial_timeout":         s.DialTimeout,
		"write_timeout":        s.WriteTimeout,
		"connect_timeout":      s.ConnectTimeout,
		"config_timeout":       s.ConfigTimeout,
		"ack_timeout":          s.AckTimeout,
		"response_timeout":     s.ResponseTimeout,
		"traceroute_timeout":   s.TraceRouteTimeout,
		"response_handler_ttl": s.ResponseHandlerTTL,
		"queue_poll_interval":  s.QueuePollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("session.%s must be positive", key)
		}
	}
	if s.HeartbeatInterval < 0 {
		return fmt.Errorf("session.heartbeat_interval must not be negative")
	}
	if s.DispatchQueueSize <= 0 {
		return fmt.Errorf("session.dispatch_queue_size must be positive")
	}
	if s.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("session.max_dial_attempts must not be negative")
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
