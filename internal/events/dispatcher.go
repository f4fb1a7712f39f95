// Package events delivers session events to subscribers on a dedicated worker so
// the ingestion path never waits on application callbacks.
//
// Topics are dotted paths. A subscriber to "meshtastic.receive" also receives
// "meshtastic.receive.text" and every other descendant.
package events

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/danmuck/meshctl/internal/observability"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("events: dispatcher closed")

// Event is one published record. Source is the publishing session.
type Event struct {
	Topic   string
	Payload any
	Source  any

	barrier chan struct{}
}

type Handler func(Event)

type subscription struct {
	id    uint64
	topic string
	fn    Handler
}

// Dispatcher queues events without bound and hands them to subscribers in
// publish order from a single goroutine.
type Dispatcher struct {
	mu      sync.Mutex
	subs    []subscription
	nextID  uint64
	queue   []Event
	warnAt  int
	started bool
	closed  bool

	log       zerolog.Logger
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher returns a stopped dispatcher. backlogWarn is the queue depth at
// which a warning is logged.
func NewDispatcher(backlogWarn int) *Dispatcher {
	return &Dispatcher{
		warnAt: backlogWarn,
		log:    observability.Logger("events"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. Events published before Start are held until then.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// Subscribe registers fn for topic and its descendants. An empty topic matches
// everything. The returned func removes the subscription.
func (d *Dispatcher) Subscribe(topic string, fn Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, topic: topic, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues ev and returns immediately.
func (d *Dispatcher) Publish(ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.queue = append(d.queue, ev)
	if d.warnAt > 0 && len(d.queue) == d.warnAt {
		d.log.Warn().Int("depth", len(d.queue)).Msg("event backlog growing; a subscriber is slow")
	}
	observability.SetEventBacklog(len(d.queue))
	d.signal()
	return nil
}

// Flush blocks until every event published before the call has been delivered.
func (d *Dispatcher) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if err := d.Publish(Event{barrier: barrier}); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, delivers what is already queued, then stops the worker.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		started := d.started
		d.signal()
		d.mu.Unlock()
		if started {
			<-d.done
		}
	})
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		ev := d.queue[0]
		d.queue[0] = Event{}
		d.queue = d.queue[1:]
		observability.SetEventBacklog(len(d.queue))
		var targets []Handler
		if ev.barrier == nil {
			for _, s := range d.subs {
				if Matches(s.topic, ev.Topic) {
					targets = append(targets, s.fn)
				}
			}
		}
		d.mu.Unlock()

		if ev.barrier != nil {
			close(ev.barrier)
			continue
		}
		observability.RecordEvent(ev.Topic)
		for _, fn := range targets {
			d.deliver(fn, ev)
		}
	}
}

func (d *Dispatcher) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordSubscriberPanic(ev.Topic)
			d.log.Error().Str("topic", ev.Topic).Interface("panic", r).Msg("event subscriber panicked")
		}
	}()
	fn(ev)
}

// Matches reports whether a subscription to sub receives topic.
func Matches(sub, topic string) bool {
	if sub == "" || sub == topic {
		return true
	}
	return strings.HasPrefix(topic, sub) && topic[len(sub)] == '.'
}
