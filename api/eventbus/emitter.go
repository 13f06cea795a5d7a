package eventbus

import (
	"sync"

	"github.com/cskr/pubsub/v2"
)

// DefaultCapacity is the per-subscriber buffer of the default handler.
const DefaultCapacity = 16

// nilEventHandler represents a disabled event handler.
type nilEventHandler struct{}

// defaultEventHandler represents a pubsub-backed event handler.
type defaultEventHandler struct {
	*pubsub.PubSub[uint, any]
}

// EventPublisher represents an interface that provides an event publisher.
type EventPublisher interface {
	// Publish publishes an event to the event stream.
	// It must not block the caller.
	Publish(id uint, name string, data any)
}

// EventSubscriber represents an interface that provides an event subscriber.
type EventSubscriber interface {
	// Subscribe subscribes to an event from the event stream.
	Subscribe(id uint, name string) SubscriberID
}

// EventHandler represents an interface that provides an event publisher and subscriber.
type EventHandler interface {
	EventPublisher
	EventSubscriber
}

// Bus dispatches observability events to a replaceable handler.
// A nil *Bus is valid and discards every event.
type Bus struct {
	p EventPublisher
	s EventSubscriber

	mu sync.RWMutex
}

// New returns a bus backed by the default handler.
func New() *Bus {
	b := &Bus{}
	b.RegisterEventHandler(DefaultHandler(DefaultCapacity))

	return b
}

// RegisterEventHandler replaces the event handler.
func (b *Bus) RegisterEventHandler(eh EventHandler) {
	if eh == nil {
		return
	}

	b.RegisterEventHandlers(eh, eh)
}

// RegisterEventHandlers registers the event publisher and subscriber separately.
// Passing nil disables the corresponding side.
func (b *Bus) RegisterEventHandlers(p EventPublisher, s EventSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p == nil {
		p = &nilEventHandler{}
	}
	if s == nil {
		s = &nilEventHandler{}
	}

	b.p = p
	b.s = s
}

// DisableEvents unregisters the event handler.
func (b *Bus) DisableEvents() {
	b.RegisterEventHandler(&nilEventHandler{})
}

// Publish calls the registered publisher handler.
func (b *Bus) Publish(id EventID, data any) {
	if b == nil || id == nil {
		return
	}

	b.mu.RLock()
	p := b.p
	b.mu.RUnlock()

	if p != nil {
		p.Publish(id.Value(), id.String(), data)
	}
}

// Subscribe calls the registered subscriber handler.
func (b *Bus) Subscribe(id EventID) SubscriberID {
	if b == nil || id == nil {
		return (&nilEventHandler{}).Subscribe(0, "")
	}

	b.mu.RLock()
	s := b.s
	b.mu.RUnlock()

	if s == nil {
		return (&nilEventHandler{}).Subscribe(0, "")
	}

	return s.Subscribe(id.Value(), id.String())
}

// DefaultHandler returns a pubsub handler with the given per-subscriber capacity.
// Events are dropped for subscribers whose buffer is full.
func DefaultHandler(capacity int) *defaultEventHandler {
	return &defaultEventHandler{PubSub: pubsub.New[uint, any](capacity)}
}

// NilHandler returns a disabled event handler.
func NilHandler() *nilEventHandler {
	return &nilEventHandler{}
}

// Publish publishes an event to the event stream.
func (d *defaultEventHandler) Publish(id uint, _ string, data any) {
	d.TryPub(data, id)
}

// Subscribe subscribes to an event from the event stream.
func (d *defaultEventHandler) Subscribe(id uint, _ string) SubscriberID {
	ch := d.Sub(id)
	return SubscriberID{
		C:      ch,
		active: true,
		unsub: func() {
			go d.Unsub(ch, id)
		},
	}
}

// Publish does not do anything.
func (n *nilEventHandler) Publish(uint, string, any) {
}

// Subscribe does not do anything.
func (n *nilEventHandler) Subscribe(uint, string) SubscriberID {
	ch := make(chan any)
	close(ch)
	return SubscriberID{C: ch}
}
