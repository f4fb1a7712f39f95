package transport

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/danmuck/meshctl/internal/observability"
	"github.com/danmuck/meshctl/internal/protocol/session"
)

// DefaultTCPPort is where network-attached radios expose the stream API.
const DefaultTCPPort = "4403"

// DialTCP connects to a radio at addr, retrying with backoff until it answers,
// ctx ends or cfg.Backoff.MaxAttempts is reached. A bare host gets DefaultTCPPort.
func DialTCP(ctx context.Context, addr string, cfg session.Config) (*Stream, error) {
	cfg = cfg.WithDefaults()
	addr = withDefaultPort(addr)
	logger := observability.Logger("transport")
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.DialTimeout}

	var attempt int
	for {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			logger.Info().Str("addr", addr).Int("attempt", attempt).Msg("connected to radio")
			return NewStream(conn, cfg.WriteTimeout), nil
		}
		logger.Warn().Err(err).Str("addr", addr).Int("attempt", attempt).Msg("dial failed")
		delay, retry := cfg.Backoff.Next(attempt, rng)
		if !retry {
			return nil, err
		}
		if err := sleepBackoff(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleepBackoff(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withDefaultPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), DefaultTCPPort)
}
