package shim

import (
	"context"
	"sync"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
)

// indicationQueue is an unbounded FIFO between the socket listener and the
// event sink. Pushing never blocks, so command replies keep flowing while
// the sink is applying back-pressure.
type indicationQueue struct {
	events []bluetooth.Event
	ready  chan struct{}

	mu sync.Mutex
}

func newIndicationQueue() *indicationQueue {
	return &indicationQueue{ready: make(chan struct{}, 1)}
}

// push appends an event to the queue.
func (q *indicationQueue) push(ev bluetooth.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop removes the oldest event, waiting until one is queued or ctx is done.
func (q *indicationQueue) pop(ctx context.Context) (bluetooth.Event, bool) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events[0] = bluetooth.Event{}
			q.events = q.events[1:]
			q.mu.Unlock()

			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return bluetooth.Event{}, false
		}
	}
}

// len returns the number of queued events.
func (q *indicationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.events)
}

// forward delivers queued events to the sink in order until ctx is done.
// The sink may block, which only holds back later indications.
func forward(ctx context.Context, q *indicationQueue, sink bluetooth.EventSink) {
	for {
		ev, ok := q.pop(ctx)
		if !ok {
			return
		}

		sink(ev)
	}
}
