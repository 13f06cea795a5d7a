package handsfree

import (
	"context"
	"sync"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/sirupsen/logrus"
)

// Channel is the bounded, ordered hand-off between the radio stack's callback
// goroutine and the controller loop.
//
// Publish blocks while the buffer is full, so an accepted event is never dropped.
// Events are consumed in the order their Publish calls completed.
type Channel struct {
	events chan bluetooth.Event
	done   chan struct{}
	once   sync.Once
}

// NewChannel returns a channel that buffers up to capacity events.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = 1
	}

	return &Channel{
		events: make(chan bluetooth.Event, capacity),
		done:   make(chan struct{}),
	}
}

// Publish enqueues an event, blocking until there is room, the context is
// done, or the channel is closed.
func (c *Channel) Publish(ctx context.Context, ev bluetooth.Event) error {
	select {
	case <-c.done:
		return errorkinds.ErrChannelClosed
	default:
	}

	select {
	case c.events <- ev:
		return nil

	case <-c.done:
		return errorkinds.ErrChannelClosed

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume blocks until an event is available and returns it.
func (c *Channel) Consume(ctx context.Context) (bluetooth.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil

	case <-c.done:
		return bluetooth.Event{}, errorkinds.ErrChannelClosed

	case <-ctx.Done():
		return bluetooth.Event{}, ctx.Err()
	}
}

// Close releases every blocked publisher. Events published afterwards are refused.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Len returns the number of buffered events.
func (c *Channel) Len() int {
	return len(c.events)
}

// Cap returns the capacity of the channel.
func (c *Channel) Cap() int {
	return cap(c.events)
}

// Sink returns an event sink for registration with a radio stack.
// Indications that arrive after the channel is closed are logged and discarded.
func (c *Channel) Sink(log *logrus.Entry) bluetooth.EventSink {
	return func(ev bluetooth.Event) {
		if err := c.Publish(context.Background(), ev); err != nil && log != nil {
			log.WithField("event", ev.String()).Debug("indication arrived after the session ended")
		}
	}
}
