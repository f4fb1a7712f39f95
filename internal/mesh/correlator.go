package mesh

import (
	"sync"
	"time"
)

// Result is the outcome of matching an inbound packet against pending requests.
type Result int

const (
	// Uncorrelated packets carry no request id.
	Uncorrelated Result = iota
	// Acknowledged is a pure routing ack. Any pending handler is kept for the real reply.
	Acknowledged
	// Replied means a pending handler was popped and must be invoked.
	Replied
	// Unmatched replies reference a request id nobody is waiting for.
	Unmatched
)

func (r Result) String() string {
	switch r {
	case Acknowledged:
		return "acknowledged"
	case Replied:
		return "replied"
	case Unmatched:
		return "unmatched"
	default:
		return "uncorrelated"
	}
}

// ResponseHandler receives the reply to one request.
type ResponseHandler func(*Packet)

type pendingResponse struct {
	fn    ResponseHandler
	added time.Time
}

// Correlator maps request ids to one-shot reply handlers.
type Correlator struct {
	mu       sync.Mutex
	handlers map[uint32]pendingResponse
	now      func() time.Time
}

func NewCorrelator() *Correlator {
	return &Correlator{
		handlers: make(map[uint32]pendingResponse),
		now:      time.Now,
	}
}

// Add registers fn for requestID. A later Add for the same id replaces it.
func (c *Correlator) Add(requestID uint32, fn ResponseHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[requestID] = pendingResponse{fn: fn, added: c.now()}
}

// Remove drops the handler for requestID, if any.
func (c *Correlator) Remove(requestID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, requestID)
}

// Resolve classifies pkt. The handler is returned, already removed, only for Replied.
func (c *Correlator) Resolve(pkt *Packet) (Result, ResponseHandler) {
	if pkt == nil || pkt.Decoded == nil || pkt.Decoded.RequestID == 0 {
		return Uncorrelated, nil
	}
	if pkt.IsAck() {
		return Acknowledged, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.handlers[pkt.Decoded.RequestID]
	if !ok {
		return Unmatched, nil
	}
	delete(c.handlers, pkt.Decoded.RequestID)
	return Replied, p.fn
}

// Expire drops handlers registered more than ttl ago and returns how many were dropped.
func (c *Correlator) Expire(ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-ttl)
	n := 0
	for id, p := range c.handlers {
		if p.added.Before(cutoff) {
			delete(c.handlers, id)
			n++
		}
	}
	return n
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}
