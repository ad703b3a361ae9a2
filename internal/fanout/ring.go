// ABOUTME: Bounded drop-oldest receiver buffer for room subscribers
// ABOUTME: Slow consumers lose the oldest events and get told how many

package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AlexStMEfan/chatplatphorm/internal/event"
)

// DefaultReceiverCapacity is the number of events a subscriber can fall
// behind before the oldest are overwritten.
const DefaultReceiverCapacity = 256

// ErrReceiverClosed is returned by Recv after the receiver has been closed
// and its remaining events drained.
var ErrReceiverClosed = errors.New("receiver closed")

// ErrSlowConsumer matches any LagError via errors.Is.
var ErrSlowConsumer = errors.New("slow consumer")

// LagError reports how many events a receiver lost to overflow. It is
// returned once per overflow episode; the next Recv resumes with the oldest
// retained event.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("slow consumer: missed %d events", e.Missed)
}

func (e *LagError) Is(target error) bool {
	return target == ErrSlowConsumer
}

// Receiver is a single subscriber's buffered view of a room's event stream.
// Push never blocks: when the buffer is full the oldest event is overwritten
// and the loss is surfaced to the reader as a LagError. One goroutine reads,
// any number push.
type Receiver struct {
	mu     sync.Mutex
	buf    []*event.ChatEvent
	start  int
	count  int
	missed uint64
	closed bool
	notify chan struct{}
}

// newReceiver creates a receiver with the given buffer capacity.
func newReceiver(capacity int) *Receiver {
	if capacity <= 0 {
		capacity = DefaultReceiverCapacity
	}
	return &Receiver{
		buf:    make([]*event.ChatEvent, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends an event, overwriting the oldest if the buffer is full.
// Returns false if the receiver is closed.
func (r *Receiver) Push(ev *event.ChatEvent) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}

	if r.count == len(r.buf) {
		// Full: drop the oldest to make room
		r.buf[r.start] = nil
		r.start = (r.start + 1) % len(r.buf)
		r.count--
		r.missed++
	}

	r.buf[(r.start+r.count)%len(r.buf)] = ev
	r.count++
	r.mu.Unlock()

	// Wake the reader if it is waiting
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

// Recv returns the next event. If events were lost since the last call it
// returns a LagError first and clears the loss counter; the following call
// delivers the oldest retained event. Blocks until an event arrives, the
// context is cancelled, or the receiver is closed.
func (r *Receiver) Recv(ctx context.Context) (*event.ChatEvent, error) {
	for {
		r.mu.Lock()
		if r.missed > 0 {
			n := r.missed
			r.missed = 0
			r.mu.Unlock()
			return nil, &LagError{Missed: n}
		}
		if r.count > 0 {
			ev := r.buf[r.start]
			r.buf[r.start] = nil
			r.start = (r.start + 1) % len(r.buf)
			r.count--
			r.mu.Unlock()
			return ev, nil
		}
		if r.closed {
			r.mu.Unlock()
			return nil, ErrReceiverClosed
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.notify:
		}
	}
}

// Len returns the number of buffered events.
func (r *Receiver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close marks the receiver closed. Buffered events remain readable; once
// drained, Recv returns ErrReceiverClosed. Safe to call multiple times.
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	// Wake a blocked reader so it observes the closed state. The notify
	// channel is never closed because Push may still race a send into it.
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
