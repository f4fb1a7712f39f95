package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/meshctl/internal/observability"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/rs/zerolog"
)

// Sender writes one envelope to the radio link.
type Sender interface {
	SendEnvelope(ctx context.Context, env *protocol.ToRadio) error
}

// TxQueue holds outbound mesh packets until the device reports room for them.
//
// Entries are keyed by packet id in insertion order. A nil envelope is a
// tombstone: the device confirmed that id while it was not in the queue, most
// likely while it sat in a drain pass's resend buffer. Until the first queue
// status arrives the device capacity is unknown and packets are sent as they
// come; afterwards each sent packet is re-queued until the device confirms it.
type TxQueue struct {
	send Sender
	poll time.Duration
	log  zerolog.Logger

	drainMu sync.Mutex

	mu      sync.Mutex
	order   []uint32
	entries map[uint32]*protocol.ToRadio
	free    uint32
	maxLen  uint32
	known   bool

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

type txEntry struct {
	id  uint32
	env *protocol.ToRadio
}

func NewTxQueue(send Sender, poll time.Duration, logger zerolog.Logger) *TxQueue {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &TxQueue{
		send:    send,
		poll:    poll,
		log:     logger,
		entries: make(map[uint32]*protocol.ToRadio),
		wake:    make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

// Enqueue sends env. Mesh packets go through the flow-controlled queue and
// Enqueue returns once the queue has drained as far as capacity allows, which
// may mean waiting for the device. Other envelopes are written at once.
func (q *TxQueue) Enqueue(ctx context.Context, env *protocol.ToRadio) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case <-q.closed:
		return ErrSessionClosed
	default:
	}
	if !env.IsPacket() {
		err := q.send.SendEnvelope(ctx, env)
		if drainErr := q.drain(ctx, false); err == nil {
			err = drainErr
		}
		return err
	}
	id := env.Packet.ID
	if id == 0 {
		return ErrZeroPacketID
	}
	q.mu.Lock()
	q.putLocked(id, env)
	q.publishLocked()
	q.mu.Unlock()
	return q.drain(ctx, true)
}

// Drain sends whatever fits without waiting for capacity. Used by the heartbeat.
func (q *TxQueue) Drain(ctx context.Context) error {
	return q.drain(ctx, false)
}

// OnQueueStatus applies a device queue report. Free is taken as absolute, so a
// repeated report changes nothing.
func (q *TxQueue) OnQueueStatus(st *protocol.QueueStatus) {
	if st == nil {
		return
	}
	q.mu.Lock()
	q.free = st.Free
	q.maxLen = st.MaxLen
	q.known = true
	switch {
	case st.Res != 0:
		q.log.Warn().Int32("res", st.Res).Uint32("id", st.MeshPacketID).Msg("device rejected queued packet")
	case st.MeshPacketID == 0:
	default:
		if env, ok := q.entries[st.MeshPacketID]; ok {
			if env != nil {
				q.removeLocked(st.MeshPacketID)
			}
		} else {
			q.putLocked(st.MeshPacketID, nil)
		}
	}
	q.publishLocked()
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close releases any drain waiting for capacity.
func (q *TxQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Len counts live entries, excluding tombstones.
func (q *TxQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, env := range q.entries {
		if env != nil {
			n++
		}
	}
	return n
}

// Pending lists live packet ids in send order.
func (q *TxQueue) Pending() []uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uint32, 0, len(q.order))
	for _, id := range q.order {
		if q.entries[id] != nil {
			out = append(out, id)
		}
	}
	return out
}

// Free returns the device's free slot count and whether it has reported one.
func (q *TxQueue) Free() (uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.free, q.known
}

func (q *TxQueue) drain(ctx context.Context, block bool) error {
	if block {
		q.drainMu.Lock()
	} else if !q.drainMu.TryLock() {
		return nil
	}
	defer q.drainMu.Unlock()

	var resent []txEntry
	confirmed := make(map[uint32]struct{})
	defer func() { q.reconcile(resent, confirmed) }()
	for {
		q.mu.Lock()
		q.dropLeadingTombstonesLocked(confirmed)
		if len(q.order) == 0 {
			q.mu.Unlock()
			return nil
		}
		if q.known && q.free == 0 {
			q.mu.Unlock()
			if !block {
				return nil
			}
			if err := q.waitForSpace(ctx); err != nil {
				return err
			}
			continue
		}
		id := q.order[0]
		env := q.entries[id]
		q.removeLocked(id)
		constrained := q.known
		if constrained {
			q.free--
		}
		q.publishLocked()
		q.mu.Unlock()

		if err := q.send.SendEnvelope(ctx, env); err != nil {
			q.mu.Lock()
			if _, ok := q.entries[id]; !ok {
				q.order = append([]uint32{id}, q.order...)
				q.entries[id] = env
			}
			q.publishLocked()
			q.mu.Unlock()
			return fmt.Errorf("mesh: send packet %08x: %w", id, err)
		}
		port := protocol.PortUnknownApp
		if env.Packet.Decoded != nil {
			port = env.Packet.Decoded.PortNum
		}
		observability.RecordPacketSent(port.String())
		if constrained {
			resent = append(resent, txEntry{id: id, env: env})
		}
	}
}

// reconcile puts sent packets back to await confirmation, except those the
// device confirmed while they were out of the queue.
func (q *TxQueue) reconcile(resent []txEntry, confirmed map[uint32]struct{}) {
	if len(resent) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range resent {
		cur, ok := q.entries[e.id]
		_, seen := confirmed[e.id]
		switch {
		case seen && !ok:
			q.log.Debug().Uint32("id", e.id).Msg("packet confirmed during drain")
		case ok && cur == nil:
			q.removeLocked(e.id)
			q.log.Debug().Uint32("id", e.id).Msg("packet confirmed during drain")
		case ok:
			// re-enqueued by the caller while in flight; the newer envelope wins
		default:
			q.putLocked(e.id, e.env)
		}
	}
	q.publishLocked()
}

func (q *TxQueue) waitForSpace(ctx context.Context) error {
	q.log.Debug().Dur("poll", q.poll).Msg("waiting for free space in tx queue")
	timer := time.NewTimer(q.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrSessionClosed
	case <-q.wake:
		return nil
	case <-timer.C:
		return nil
	}
}

func (q *TxQueue) putLocked(id uint32, env *protocol.ToRadio) {
	if _, ok := q.entries[id]; !ok {
		q.order = append(q.order, id)
	}
	q.entries[id] = env
}

func (q *TxQueue) removeLocked(id uint32) {
	if _, ok := q.entries[id]; !ok {
		return
	}
	delete(q.entries, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// dropLeadingTombstonesLocked discards tombstones at the head of the queue,
// noting their ids so a packet still in the resend buffer is not re-queued.
func (q *TxQueue) dropLeadingTombstonesLocked(confirmed map[uint32]struct{}) {
	for len(q.order) > 0 && q.entries[q.order[0]] == nil {
		confirmed[q.order[0]] = struct{}{}
		delete(q.entries, q.order[0])
		q.order = q.order[1:]
	}
}

func (q *TxQueue) publishLocked() {
	live := 0
	for _, env := range q.entries {
		if env != nil {
			live++
		}
	}
	observability.SetTxQueue(live, q.free, q.known)
}
