package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/meshctl/internal/testutil/testlog"
)

func TestBackoffGrowsToMaxDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	want := map[int]time.Duration{
		1:  250 * time.Millisecond,
		2:  500 * time.Millisecond,
		3:  time.Second,
		6:  5 * time.Second,
		40: 5 * time.Second,
	}
	for attempt, w := range want {
		got, ok := cfg.Next(attempt, nil)
		if !ok || got != w {
			t.Fatalf("attempt %d got=%v ok=%v want=%v", attempt, got, ok, w)
		}
	}
}

func TestBackoffJitterStaysUnderMaxDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	if got, _ := cfg.Next(3, rng); got < 500*time.Millisecond || got > 1500*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
	for i := 0; i < 50; i++ {
		if got, _ := cfg.Next(10, rng); got > cfg.MaxDelay {
			t.Fatalf("jittered delay %v over max %v", got, cfg.MaxDelay)
		}
	}
}

func TestBackoffStopsAtMaxAttempts(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 3}
	if _, ok := cfg.Next(2, nil); !ok {
		t.Fatalf("attempt 2 of 3 should retry")
	}
	if _, ok := cfg.Next(3, nil); ok {
		t.Fatalf("attempt 3 of 3 should give up")
	}
	if _, ok := (BackoffConfig{}).Next(1000, nil); !ok {
		t.Fatalf("zero max attempts should retry forever")
	}
}

func TestWithDefaultsFillsUnsetFields(t *testing.T) {
	testlog.Start(t)
	cfg := Config{AckTimeout: time.Second}.WithDefaults()
	d := DefaultConfig()
	if cfg.AckTimeout != time.Second {
		t.Fatalf("explicit ack timeout overwritten: %v", cfg.AckTimeout)
	}
	if cfg.ConnectTimeout != d.ConnectTimeout || cfg.QueuePollInterval != d.QueuePollInterval {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.HeartbeatInterval != 0 {
		t.Fatalf("zero heartbeat fallback should stay disabled, got %v", cfg.HeartbeatInterval)
	}
	if cfg.Backoff.InitialDelay != d.Backoff.InitialDelay || cfg.DispatchQueueSize != d.DispatchQueueSize {
		t.Fatalf("backoff/dispatch defaults not applied: %+v", cfg)
	}
}
