package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/meshctl/internal/config"
	"github.com/danmuck/meshctl/internal/mesh"
	"github.com/danmuck/meshctl/internal/observability"
	"github.com/danmuck/meshctl/internal/transport"
	"github.com/rs/zerolog"
)

var errNoRadio = errors.New("no radio address: pass --radio or set radio in the config file")

// radioSession is a connected session with its read loop running.
type radioSession struct {
	iface  *mesh.Interface
	stream *transport.Stream
	log    zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// openSession dials the radio, wakes it and completes the handshake.
func openSession(ctx context.Context, cfg config.Config, opts ...mesh.Option) (*radioSession, error) {
	if cfg.Radio == "" {
		return nil, errNoRadio
	}
	stream, err := transport.DialTCP(ctx, cfg.Radio, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Radio, err)
	}
	if err := stream.Wake(ctx); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("wake radio: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &radioSession{
		iface:  mesh.New(stream, cfg.Session, opts...),
		stream: stream,
		log:    observability.Logger("meshctl"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(rs.done)
		rs.runErr = stream.Run(runCtx, rs.iface)
	}()

	if err := rs.iface.Start(ctx); err != nil {
		rs.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := rs.iface.WaitForConfig(ctx); err != nil {
		rs.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	rs.log.Info().
		Str("session", rs.iface.SessionID()).
		Str("node", localID(rs.iface)).
		Int("nodes", len(rs.iface.Nodes())).
		Msg("session ready")
	return rs, nil
}

// Done is closed when the read loop exits; Err then reports why.
func (rs *radioSession) Done() <-chan struct{} { return rs.done }

func (rs *radioSession) Err() error {
	select {
	case <-rs.done:
		return rs.runErr
	default:
		return nil
	}
}

// Close disconnects politely and waits for the read loop.
func (rs *radioSession) Close() {
	if err := rs.iface.Close(); err != nil {
		rs.log.Debug().Err(err).Msg("session close")
	}
	rs.cancel()
	<-rs.done
}
