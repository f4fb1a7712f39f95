package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/meshctl/internal/testutil/testlog"
)

func flush(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestMatches(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		sub, topic string
		want       bool
	}{
		{"meshtastic.receive", "meshtastic.receive", true},
		{"meshtastic.receive", "meshtastic.receive.text", true},
		{"meshtastic.receive", "meshtastic.receive.data.TEXT_MESSAGE_APP", true},
		{"meshtastic.receive", "meshtastic.receiver", false},
		{"meshtastic.receive.text", "meshtastic.receive", false},
		{"", "anything", true},
	}
	for _, c := range cases {
		if got := Matches(c.sub, c.topic); got != c.want {
			t.Fatalf("Matches(%q,%q) got=%v want=%v", c.sub, c.topic, got, c.want)
		}
	}
}

func TestHierarchicalDeliveryInOrder(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(0)
	d.Start()
	defer d.Close()

	var mu sync.Mutex
	var parent, child []string
	d.Subscribe("meshtastic.receive", func(ev Event) {
		mu.Lock()
		parent = append(parent, ev.Topic)
		mu.Unlock()
	})
	d.Subscribe("meshtastic.receive.text", func(ev Event) {
		mu.Lock()
		child = append(child, ev.Payload.(string))
		mu.Unlock()
	})
	for _, ev := range []Event{
		{Topic: "meshtastic.receive.text", Payload: "one"},
		{Topic: "meshtastic.receive.position", Payload: "pos"},
		{Topic: "meshtastic.receive.text", Payload: "two"},
		{Topic: "meshtastic.node.updated", Payload: "node"},
	} {
		if err := d.Publish(ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	flush(t, d)

	mu.Lock()
	defer mu.Unlock()
	if len(parent) != 3 || parent[1] != "meshtastic.receive.position" {
		t.Fatalf("parent subscriber got %v", parent)
	}
	if len(child) != 2 || child[0] != "one" || child[1] != "two" {
		t.Fatalf("child subscriber got %v", child)
	}
}

func TestSubscriberPanicDoesNotStopWorker(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(0)
	d.Start()
	defer d.Close()

	got := make(chan string, 2)
	d.Subscribe("t", func(ev Event) {
		if ev.Payload == "boom" {
			panic("subscriber failure")
		}
		got <- ev.Payload.(string)
	})
	_ = d.Publish(Event{Topic: "t", Payload: "boom"})
	_ = d.Publish(Event{Topic: "t", Payload: "after"})
	flush(t, d)
	select {
	case v := <-got:
		if v != "after" {
			t.Fatalf("unexpected payload %q", v)
		}
	default:
		t.Fatalf("event after panic was not delivered")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(4)
	d.Start()
	defer d.Close()

	release := make(chan struct{})
	d.Subscribe("slow", func(Event) { <-release })
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := d.Publish(Event{Topic: "slow"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatalf("publish stalled behind slow subscriber")
	}
	close(release)
	flush(t, d)
}

func TestUnsubscribeAndCloseDrains(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher(0)
	var mu sync.Mutex
	count := 0
	unsub := d.Subscribe("", func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	_ = d.Publish(Event{Topic: "queued.before.start"})
	d.Start()
	flush(t, d)
	unsub()
	_ = d.Publish(Event{Topic: "ignored"})
	d.Close()
	if err := d.Publish(Event{Topic: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}
