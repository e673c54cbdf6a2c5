package engine

import (
	"sync"

	"github.com/roach88/orchestra/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeDispatch runs a queued node execution's step.
	EventTypeDispatch EventType = iota + 1
	// EventTypeAdvise computes and executes advice for a terminal transition.
	EventTypeAdvise
)

func (t EventType) String() string {
	switch t {
	case EventTypeDispatch:
		return "dispatch"
	case EventTypeAdvise:
		return "advise"
	default:
		return "unknown"
	}
}

// Event is one unit of engine work. Every event is stamped with a seq from
// the engine's logical clock when enqueued.
type Event struct {
	Type            EventType
	Seq             int64
	NodeExecutionID string
	Advise          *ir.AdviseEvent
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so handlers can enqueue follow-on work without
// blocking on the workers that drain it.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the worker loops.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)
	q.notify()
	return true
}

// notify signals availability without blocking; the buffer of 1 coalesces
// signals. Caller holds q.mu.
func (q *eventQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if the queue is empty.
//
// With several workers sharing one coalesced signal, a worker that takes an
// event while more remain re-signals so another worker wakes up.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Nil out the slot so the array does not retain the event's pointers.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
		if !q.closed {
			q.notify()
		}
	}

	return e, true
}

// Wait returns a channel that signals when events may be available. The
// channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// drained reports whether the queue is closed and empty.
func (q *eventQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
