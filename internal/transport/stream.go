// Package transport moves envelopes between a session and a radio over a byte
// stream. It owns framing, the envelope codec and the read loop; the session
// never sees bytes.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/meshctl/internal/observability"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/danmuck/meshctl/internal/protocol/frame"
	"github.com/danmuck/meshctl/internal/protocol/wire"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("transport: closed")

// Handler receives everything the read loop produces.
type Handler interface {
	HandleFromRadio(env *protocol.FromRadio)
	Disconnected(err error)
}

// Transport is the outbound half a session writes through.
type Transport interface {
	SendEnvelope(ctx context.Context, env *protocol.ToRadio) error
	Close() error
}

// wakeLen start bytes let a sleeping serial radio resynchronise before the first frame.
const wakeLen = 32

// Stream frames envelopes over any io.ReadWriteCloser.
type Stream struct {
	rwc          io.ReadWriteCloser
	limits       frame.Limits
	writeTimeout time.Duration
	log          zerolog.Logger

	wmu       sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewStream(rwc io.ReadWriteCloser, writeTimeout time.Duration) *Stream {
	return &Stream{
		rwc:          rwc,
		limits:       frame.DefaultLimits(),
		writeTimeout: writeTimeout,
		log:          observability.Logger("transport"),
		closed:       make(chan struct{}),
	}
}

// SendEnvelope encodes and writes one framed envelope. Writes are serialised.
func (s *Stream) SendEnvelope(ctx context.Context, env *protocol.ToRadio) error {
	payload, err := wire.MarshalToRadio(env)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, payload, s.limits); err != nil {
		return err
	}
	return s.write(ctx, buf.Bytes())
}

// Wake writes a run of start bytes that no frame can begin with, so a radio
// waking from sleep discards partial input.
func (s *Stream) Wake(ctx context.Context) error {
	return s.write(ctx, bytes.Repeat([]byte{frame.Start2}, wakeLen))
}

func (s *Stream) write(ctx context.Context, b []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if conn, ok := s.rwc.(net.Conn); ok {
		_ = conn.SetWriteDeadline(s.deadline(ctx))
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := s.rwc.Write(b); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (s *Stream) deadline(ctx context.Context) time.Time {
	var d time.Time
	if s.writeTimeout > 0 {
		d = time.Now().Add(s.writeTimeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// Run reads frames until ctx ends, Close is called or the stream fails, handing
// each decoded envelope to h on this goroutine. h.Disconnected is always called
// once on the way out, with nil for an orderly stop.
func (s *Stream) Run(ctx context.Context, h Handler) error {
	var g errgroup.Group
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return s.readLoop(h)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
		return nil
	})
	err := g.Wait()
	if s.isClosed() {
		err = nil
	} else {
		_ = s.Close()
	}
	h.Disconnected(err)
	return err
}

func (s *Stream) readLoop(h Handler) error {
	r := bufio.NewReader(s.rwc)
	console := &consoleLog{log: s.log}
	for {
		f, err := frame.ReadFrame(r, s.limits, console.add)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("transport: %w", io.ErrUnexpectedEOF)
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		env, err := wire.UnmarshalFromRadio(f.Payload)
		if err != nil {
			s.log.Warn().Err(err).Int("len", len(f.Payload)).Msg("dropping undecodable envelope")
			observability.RecordEnvelopeDropped("decode")
			continue
		}
		h.HandleFromRadio(env)
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// consoleLog collects bytes outside frames into firmware console lines.
type consoleLog struct {
	log  zerolog.Logger
	line []byte
}

const maxConsoleLine = 1024

func (c *consoleLog) add(b byte) {
	switch {
	case b == '\n':
		c.flush()
	case b == '\r':
	case len(c.line) >= maxConsoleLine:
		c.flush()
		c.line = append(c.line, b)
	default:
		c.line = append(c.line, b)
	}
}

func (c *consoleLog) flush() {
	if len(c.line) == 0 {
		return
	}
	c.log.Debug().Str("line", string(c.line)).Msg("device console")
	c.line = c.line[:0]
}
