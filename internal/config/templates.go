package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# meshctl configuration. Every key is optional; missing keys keep their defaults.
# Durations use Go syntax ("500ms", "30s", "5m"). heartbeat_interval = "0s"
# disables the fallback heartbeat when the radio reports no light-sleep period.

`

// Template renders cfg as a config file.
func Template(cfg Config) (string, error) {
	body, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return templateHeader + string(body), nil
}

// WriteTemplate writes the default config to path, refusing to replace an
// existing file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(Default())
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(cfg Config) fileConfig {
	s := cfg.Session
	return fileConfig{
		Name:     cfg.Name,
		Radio:    cfg.Radio,
		LogLevel: cfg.LogLevel,
		Status: statusFile{
			Addr:        cfg.StatusAddr,
			CorsOrigins: cfg.CorsOrigins,
		},
		Session: sessionFile{
			DialTimeout:        s.DialTimeout.String(),
			WriteTimeout:       s.WriteTimeout.String(),
			ConnectTimeout:     s.ConnectTimeout.String(),
			ConfigTimeout:      s.ConfigTimeout.String(),
			AckTimeout:         s.AckTimeout.String(),
			ResponseTimeout:    s.ResponseTimeout.String(),
			TraceRouteTimeout:  s.TraceRouteTimeout.String(),
			ResponseHandlerTTL: s.ResponseHandlerTTL.String(),
			QueuePollInterval:  s.QueuePollInterval.String(),
			HeartbeatInterval:  s.HeartbeatInterval.String(),
			DispatchQueueSize:  s.DispatchQueueSize,
			MaxDialAttempts:    s.Backoff.MaxAttempts,
		},
	}
}
