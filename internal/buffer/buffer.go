package buffer

import (
	"sync"
	"time"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

const (
	// DefaultMaxQueue caps the in-memory queue; oldest events are dropped
	// past this point rather than growing without bound
	DefaultMaxQueue = 5000
	// DefaultDrainInterval is how often the engine drains the queue
	DefaultDrainInterval = 5 * time.Second
	// DefaultDrainMax bounds one drained batch
	DefaultDrainMax = 500
)

// Queue accumulates raw events and releases them in bounded, order-preserving
// batches. Urgent event types additionally wake the drain loop immediately so
// session-critical transitions (page visits, video play/pause) are not stuck
// behind the timer.
type Queue struct {
	mu       sync.Mutex
	events   []types.Event
	maxQueue int
	tabSeq   map[string]int64 // per-tab monotonic sequence counters
	urgent   chan struct{}
	dropped  int
}

// New creates an event queue. maxQueue <= 0 uses DefaultMaxQueue.
func New(maxQueue int) *Queue {
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueue
	}
	return &Queue{
		maxQueue: maxQueue,
		tabSeq:   make(map[string]int64),
		urgent:   make(chan struct{}, 1),
	}
}

// Push stamps the event with its per-tab sequence id and appends it to the
// queue. Returns the stamped event.
func (q *Queue) Push(e types.Event) types.Event {
	q.mu.Lock()

	q.tabSeq[e.TabID]++
	e.SequenceID = q.tabSeq[e.TabID]

	q.events = append(q.events, e)
	if len(q.events) > q.maxQueue {
		over := len(q.events) - q.maxQueue
		q.events = q.events[over:]
		q.dropped += over
		logging.Warn("buffer", "queue full, dropped %d oldest events (total dropped: %d)", over, q.dropped)
	}
	urgent := e.Type.IsUrgent()
	q.mu.Unlock()

	if urgent {
		select {
		case q.urgent <- struct{}{}:
		default: // a wakeup is already pending
		}
	}
	return e
}

// Drain removes and returns up to max events in arrival order, leaving the
// remainder queued. max <= 0 drains everything.
func (q *Queue) Drain(max int) []types.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	batch := make([]types.Event, n)
	copy(batch, q.events[:n])
	q.events = q.events[n:]
	return batch
}

// Requeue puts a failed batch back at the front of the queue so the next
// cycle retries it. Order relative to newer events is preserved.
func (q *Queue) Requeue(batch []types.Event) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(batch, q.events...)
}

// Urgent returns the wakeup channel for the drain loop
func (q *Queue) Urgent() <-chan struct{} {
	return q.urgent
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// DropTab discards the sequence counter for a closed tab
func (q *Queue) DropTab(tabID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tabSeq, tabID)
}
