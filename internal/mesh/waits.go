package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/meshctl/internal/observability"
	"github.com/danmuck/meshctl/internal/protocol"
)

// WaitKind names one blocking condition.
type WaitKind int

const (
	WaitAckNak WaitKind = iota
	WaitPosition
	WaitTelemetry
	WaitTraceRoute
	WaitConfig
	waitKinds
)

func (k WaitKind) String() string {
	switch k {
	case WaitAckNak:
		return "ack_nak"
	case WaitPosition:
		return "position"
	case WaitTelemetry:
		return "telemetry"
	case WaitTraceRoute:
		return "traceroute"
	case WaitConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Acknowledgment is the outcome recorded for the last ack/nak wait.
type Acknowledgment struct {
	Ack bool
	Nak bool
	// Implicit is set when the ack came from our own radio: it heard a
	// neighbour rebroadcast the packet but no destination confirmed it.
	Implicit bool
	Reason   protocol.RoutingError
	// RequestID is the packet the ack or nak refers to.
	RequestID uint32
}

// WaitRegistry holds one latch per WaitKind. Signal opens a latch, Reset closes it
// again, and Wait blocks until it opens, the timeout fires, or the registry fails.
type WaitRegistry struct {
	mu      sync.Mutex
	latches [waitKinds]chan struct{}
	set     [waitKinds]bool
	ack     Acknowledgment
	failure error
	failed  chan struct{}
}

func NewWaitRegistry() *WaitRegistry {
	w := &WaitRegistry{failed: make(chan struct{})}
	for i := range w.latches {
		w.latches[i] = make(chan struct{})
	}
	return w
}

// Reset clears kind before a new request so a stale signal cannot satisfy it.
func (w *WaitRegistry) Reset(kind WaitKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.set[kind] {
		w.latches[kind] = make(chan struct{})
		w.set[kind] = false
	}
	if kind == WaitAckNak {
		w.ack = Acknowledgment{}
	}
}

func (w *WaitRegistry) Signal(kind WaitKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signalLocked(kind)
}

func (w *WaitRegistry) signalLocked(kind WaitKind) {
	if !w.set[kind] {
		w.set[kind] = true
		close(w.latches[kind])
	}
}

// SignalAck records an ack/nak outcome and releases the ack/nak waiter.
func (w *WaitRegistry) SignalAck(ack Acknowledgment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ack = ack
	w.signalLocked(WaitAckNak)
}

// LastAck returns the outcome recorded by the most recent SignalAck.
func (w *WaitRegistry) LastAck() Acknowledgment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ack
}

func (w *WaitRegistry) IsSet(kind WaitKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.set[kind]
}

// Wait blocks until kind is signalled. It must not be called from the goroutine
// that delivers inbound envelopes, since that goroutine is the only one able to
// signal it.
func (w *WaitRegistry) Wait(ctx context.Context, kind WaitKind, timeout time.Duration) (err error) {
	defer func() { observability.RecordWait(kind.String(), err) }()
	w.mu.Lock()
	if w.failure != nil {
		err := w.failure
		w.mu.Unlock()
		return err
	}
	if w.set[kind] {
		w.mu.Unlock()
		return nil
	}
	latch, failed := w.latches[kind], w.failed
	w.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-latch:
		return nil
	case <-failed:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.failure
	case <-timer.C:
		return &TimeoutError{Op: kind.String(), Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailAll makes every current and future Wait return err until Revive.
func (w *WaitRegistry) FailAll(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failure != nil {
		return
	}
	w.failure = err
	close(w.failed)
}

// Failure returns the recorded failure, if any.
func (w *WaitRegistry) Failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}

// Revive clears a recorded failure for a new session.
func (w *WaitRegistry) Revive() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failure == nil {
		return
	}
	w.failure = nil
	w.failed = make(chan struct{})
}
