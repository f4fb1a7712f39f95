package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")
	ErrEmptyEnvelope     = fmt.Errorf("%w: no variant set", ErrMalformedEnvelope)
	ErrInvalidNodeID     = errors.New("protocol: invalid node id")
	ErrUnknownPortNum    = errors.New("protocol: unknown port number")
)
