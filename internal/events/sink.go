// Package events implements the Event Sink (spec.md §4.5): a per-session
// bounded queue that fans typed events out to the UI, dropping low-priority
// output chunks under backpressure while guaranteeing delivery of
// lifecycle events.
package events

import (
	"context"
	"sync/atomic"

	"github.com/haasonsaas/opsconduit/pkg/protocol"
)

// Capacity is the default per-session bounded queue size (spec.md §4.5).
const Capacity = 256

// highPriorityBuffer sizes the lane that must never silently drop an event.
const highPriorityBuffer = 32

// Sink is a two-lane, backpressure-aware event queue. ResponseChunk and
// CommandOutput events (partial model text, streamed command output) are
// droppable under load; every other event kind is delivered even if that
// means blocking the emitting goroutine until the consumer catches up or
// the context is cancelled.
type Sink struct {
	highPri chan protocol.Event
	lowPri  chan protocol.Event
	merged  chan protocol.Event
	dropped uint64
	closed  uint32
}

// New creates a Sink with the given total queue capacity and returns the
// channel the caller should range over to forward events to the UI.
func New(capacity int) (*Sink, <-chan protocol.Event) {
	if capacity <= 0 {
		capacity = Capacity
	}
	s := &Sink{
		highPri: make(chan protocol.Event, highPriorityBuffer),
		lowPri:  make(chan protocol.Event, capacity),
		merged:  make(chan protocol.Event, capacity),
	}
	go s.mergeLoop()
	return s, s.merged
}

func (s *Sink) mergeLoop() {
	defer close(s.merged)
	for {
		select {
		case e, ok := <-s.highPri:
			if ok {
				s.merged <- e
				continue
			}
			for e := range s.lowPri {
				s.merged <- e
			}
			return
		default:
		}

		select {
		case e, ok := <-s.highPri:
			if ok {
				s.merged <- e
			} else {
				for e := range s.lowPri {
					s.merged <- e
				}
				return
			}
		case e, ok := <-s.lowPri:
			if ok {
				s.merged <- e
			}
		}
	}
}

func isDroppable(t protocol.EventType) bool {
	switch t {
	case protocol.EventResponseChunk, protocol.EventCommandOutput:
		return true
	default:
		return false
	}
}

// Emit sends e through the appropriate lane. Droppable events are dropped
// (and counted) if the low-priority lane is full; everything else blocks
// until there is room or ctx is done, at which point one last non-blocking
// attempt is made so a QueryCompleted emitted right at cancellation still
// has a chance to land.
func (s *Sink) Emit(ctx context.Context, e protocol.Event) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	if isDroppable(e.Kind()) {
		select {
		case s.lowPri <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
		return
	}
	select {
	case s.highPri <- e:
	case <-ctx.Done():
		select {
		case s.highPri <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// DroppedCount returns the number of droppable events discarded so far.
func (s *Sink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close stops the sink and closes the output channel. No further Emit
// calls may be made after Close.
func (s *Sink) Close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	close(s.highPri)
	close(s.lowPri)
}
