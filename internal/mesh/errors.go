package mesh

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected        = errors.New("mesh: not connected")
	ErrNoSession           = errors.New("mesh: no session started")
	ErrSessionClosed       = errors.New("mesh: session closed")
	ErrTimeout             = errors.New("mesh: timed out")
	ErrPayloadTooLarge     = errors.New("mesh: payload too large")
	ErrInvalidPort         = errors.New("mesh: invalid port number")
	ErrUnknownDestination  = errors.New("mesh: unknown destination")
	ErrSelfEcho            = errors.New("mesh: device echoed our own packet")
	ErrZeroPacketID        = errors.New("mesh: packet id must be non-zero")
	ErrConnectionLost      = errors.New("mesh: connection lost")
	ErrNoLocalNode         = errors.New("mesh: local node not known yet")
	ErrUnsupportedEnvelope = errors.New("mesh: unsupported envelope")
	ErrNak                 = errors.New("mesh: request rejected by the mesh")
)

// TimeoutError reports which wait expired. It matches ErrTimeout with errors.Is.
type TimeoutError struct {
	Op      string
	ID      uint32
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("mesh: timed out waiting for %s (id=%08x) after %s", e.Op, e.ID, e.Timeout)
	}
	return fmt.Sprintf("mesh: timed out waiting for %s after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// FatalError is an unrecoverable transport condition recorded on the session.
// Every wait fails with it until a new handshake starts.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "mesh: fatal session failure: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
