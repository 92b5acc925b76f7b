// Package inbox implements the per-instance signal inbox: two capacity-one
// slots (first-answer, next-answer) that asynchronous deliveries fill and
// the orchestrator awaits without busy-polling.
package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mpetrov/colloquy/pkg/api"
)

// ErrAwaitTimeout is returned by Await when the configured wait bound
// elapses before a signal fills the slot.
var ErrAwaitTimeout = errors.New("timed out waiting for signal")

// Inbox routes delivered values into slots. The first accepted signal in an
// instance's lifetime fills the first-answer slot; every later one fills
// next-answer. A delivery to a slot that is already filled is dropped, so a
// redelivered duplicate never corrupts the next question's context.
//
// Deliveries and awaits may come from different goroutines; an Await
// suspends (it does not poll) until a value is present.
type Inbox struct {
	mu        sync.Mutex
	delivered int
	values    map[api.Slot]string
	filled    map[api.Slot]bool
	notify    chan struct{}
}

func New() *Inbox {
	return &Inbox{
		values: make(map[api.Slot]string),
		filled: make(map[api.Slot]bool),
		notify: make(chan struct{}),
	}
}

// Prime records that n signals were already consumed from history, so the
// next live delivery routes to the correct slot after a replay.
func (b *Inbox) Prime(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered += n
}

// Deliver routes value to its slot. It returns the slot it targeted and
// whether the value was accepted; false means the slot was already filled
// and the repeat was ignored.
func (b *Inbox) Deliver(value string) (api.Slot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot := api.SlotNextAnswer
	if b.delivered == 0 {
		slot = api.SlotFirstAnswer
	}
	if b.filled[slot] {
		return slot, false
	}

	b.values[slot] = value
	b.filled[slot] = true
	b.delivered++

	// Broadcast by closing the current notify channel.
	close(b.notify)
	b.notify = make(chan struct{})
	return slot, true
}

// Await blocks until slot holds a value, then consumes and returns it.
// timeout of zero waits indefinitely. Cancellation of ctx interrupts the
// wait with ctx.Err.
func (b *Inbox) Await(ctx context.Context, slot api.Slot, timeout time.Duration) (string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		b.mu.Lock()
		if b.filled[slot] {
			value := b.values[slot]
			delete(b.values, slot)
			b.filled[slot] = false
			b.mu.Unlock()
			return value, nil
		}
		ch := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", ErrAwaitTimeout
		case <-ch:
		}
	}
}
