package saga

import (
	"context"
	"sync"
)

// Dispatcher hands an event to the transport. Send is fire-and-forget: delivery
// failures are handled at the dispatcher boundary and never reach the caller.
type Dispatcher interface {
	Send(ctx context.Context, event Event, topic Topic)
}

// Delivery is one recorded send.
type Delivery struct {
	Topic Topic
	Event Event
}

type subscriber func(context.Context, Event)

// MemoryDispatcher keeps every send in order and optionally fans out to
// in-process subscribers.
type MemoryDispatcher struct {
	mu          sync.Mutex
	deliveries  []Delivery
	subscribers map[Topic][]subscriber
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{subscribers: make(map[Topic][]subscriber)}
}

// Subscribe registers fn for topic. Subscribers run synchronously inside Send.
func (d *MemoryDispatcher) Subscribe(topic Topic, fn func(context.Context, Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[topic] = append(d.subscribers[topic], fn)
}

func (d *MemoryDispatcher) Send(ctx context.Context, event Event, topic Topic) {
	d.mu.Lock()
	d.deliveries = append(d.deliveries, Delivery{Topic: topic, Event: event.Clone()})
	subs := append([]subscriber(nil), d.subscribers[topic]...)
	d.mu.Unlock()

	for _, fn := range subs {
		fn(ctx, event.Clone())
	}
}

// Sent returns the destination sequence.
func (d *MemoryDispatcher) Sent() []Topic {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Topic, len(d.deliveries))
	for i, del := range d.deliveries {
		out[i] = del.Topic
	}
	return out
}

func (d *MemoryDispatcher) Deliveries() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Delivery(nil), d.deliveries...)
}

// Last returns the most recent delivery on topic.
func (d *MemoryDispatcher) Last(topic Topic) (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.deliveries) - 1; i >= 0; i-- {
		if d.deliveries[i].Topic == topic {
			return d.deliveries[i].Event, true
		}
	}
	return Event{}, false
}

func (d *MemoryDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = nil
}
