package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	// MaxAttempts bounds dial retries. Zero means retry until the context ends.
	MaxAttempts int
}

// Config defines link and session timing for one radio connection.
type Config struct {
	// DialTimeout bounds a single transport connect attempt.
	DialTimeout time.Duration
	// WriteTimeout bounds a single envelope write.
	WriteTimeout time.Duration
	// ConnectTimeout is how long a send blocks waiting for the handshake to finish.
	ConnectTimeout time.Duration
	// ConfigTimeout bounds WaitForConfig.
	ConfigTimeout time.Duration
	// AckTimeout bounds WaitForAckNak.
	AckTimeout time.Duration
	// ResponseTimeout bounds typed reply waits (position, telemetry).
	ResponseTimeout time.Duration
	// TraceRouteTimeout is the per-hop budget of a traceroute wait.
	TraceRouteTimeout time.Duration
	// ResponseHandlerTTL ages out reply handlers whose request was never answered.
	ResponseHandlerTTL time.Duration
	// QueuePollInterval is the recheck period while the device reports no free slots.
	QueuePollInterval time.Duration
	// HeartbeatInterval applies when the device did not report a light-sleep period.
	// Zero disables the fallback.
	HeartbeatInterval time.Duration
	// DispatchQueueSize is the event worker backlog.
	DispatchQueueSize int
	Backoff           BackoffConfig
}

// DefaultConfig returns the defaults used by the CLI and tests.
func DefaultConfig() Config {
	return Config{
		DialTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ConnectTimeout:     30 * time.Second,
		ConfigTimeout:      30 * time.Second,
		AckTimeout:         20 * time.Second,
		ResponseTimeout:    20 * time.Second,
		TraceRouteTimeout:  20 * time.Second,
		ResponseHandlerTTL: 10 * time.Minute,
		QueuePollInterval:  500 * time.Millisecond,
		HeartbeatInterval:  5 * time.Minute,
		DispatchQueueSize:  256,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every unset field from DefaultConfig. HeartbeatInterval is
// left alone since zero is meaningful.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ConfigTimeout <= 0 {
		c.ConfigTimeout = d.ConfigTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.TraceRouteTimeout <= 0 {
		c.TraceRouteTimeout = d.TraceRouteTimeout
	}
	if c.ResponseHandlerTTL <= 0 {
		c.ResponseHandlerTTL = d.ResponseHandlerTTL
	}
	if c.QueuePollInterval <= 0 {
		c.QueuePollInterval = d.QueuePollInterval
	}
	if c.DispatchQueueSize <= 0 {
		c.DispatchQueueSize = d.DispatchQueueSize
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
