package mesh

import (
	"context"
	"sync"
	"time"
)

// heartbeat runs beat immediately and then every interval(), re-read after each
// beat since the device may report a new sleep period mid-session. A
// non-positive interval stops the loop.
type heartbeat struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *heartbeat) start(parent context.Context, interval func() time.Duration, beat func(context.Context)) {
	h.stop()
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	h.mu.Lock()
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		for {
			beat(ctx)
			d := interval()
			if d <= 0 {
				return
			}
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// stop cancels the loop and waits for an in-flight beat to finish. It must
// not be called from inside beat.
func (h *heartbeat) stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
