package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// BroadcastNum addresses every node on the mesh. It is never a node database key.
	BroadcastNum uint32 = 0xFFFFFFFF
	// BroadcastAddr is the string alias for BroadcastNum.
	BroadcastAddr = "^all"
	// LocalAddr is the string alias for the locally attached radio.
	LocalAddr = "^local"

	// DataPayloadLen is the largest application payload the radio accepts.
	DataPayloadLen = 233
	// ChannelCount is the fixed number of channel slots a device exposes.
	ChannelCount = 8
	// DefaultHopLimit is applied to outbound packets when the caller leaves it unset.
	DefaultHopLimit uint32 = 3
)

// NodeNumToID renders a node number as its canonical stable id form ("!0a1b2c3d").
func NodeNumToID(num uint32) string {
	if num == BroadcastNum {
		return BroadcastAddr
	}
	return fmt.Sprintf("!%08x", num)
}

// ParseNodeID parses the "!hex" id form without consulting any node database.
func ParseNodeID(id string) (uint32, error) {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, "!") || len(id) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
	v, err := strconv.ParseUint(id[1:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, id, err)
	}
	return uint32(v), nil
}

// Ptr returns a pointer to v. Optional envelope fields are pointers.
func Ptr[T any](v T) *T {
	return &v
}
