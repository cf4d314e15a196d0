// Package subscribe is the C6 component: an in-process live
// subscription bus. Ingestion publishes decoded events into it in
// steady-state tailing only; readers subscribe with a filter and
// drain a bounded channel at their own pace. Publishing never blocks
// on a slow or absent reader.
package subscribe

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/cairoindex/chainindexer/pkg/model"
)

// DefaultChannelCapacity is the default buffer size of a subscriber's
// channel.
const DefaultChannelCapacity = 100

type subscription struct {
	filter model.SubscriptionFilter
	ch     chan *model.DecodedEvent
}

// Bus is a thread-safe registry of live subscriptions, matched and
// delivered best-effort against every published event.
type Bus struct {
	mu           sync.RWMutex
	subs         map[string]*subscription
	capacity     int
	published    atomic.Uint64
	droppedTotal atomic.Uint64
}

// New returns an empty Bus. capacity is the channel buffer size given
// to every new subscription; pass 0 to use DefaultChannelCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Bus{
		subs:     make(map[string]*subscription),
		capacity: capacity,
	}
}

// Subscribe registers filter and returns its subscription id and the
// channel to receive matching events on. Callers must eventually call
// Unsubscribe with the returned id, or the subscription (and its
// channel) leaks for the life of the Bus.
func (b *Bus) Subscribe(filter model.SubscriptionFilter) (string, <-chan *model.DecodedEvent) {
	id := uuid.NewString()
	sub := &subscription{
		filter: filter,
		ch:     make(chan *model.DecodedEvent, b.capacity),
	}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel. It is a
// no-op if id is unknown (already unsubscribed, or never existed).
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Count returns the number of live subscriptions.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers event to every subscription whose filter matches
// it. Delivery is best-effort and at-most-once per subscriber: a
// subscriber whose channel is full has the event dropped for it rather
// than blocking the publisher, since publish is always called from the
// ingestion hot path and must never stall on a slow reader.
func (b *Bus) Publish(event *model.DecodedEvent) {
	b.published.Inc()

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.Matches(event) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		select {
		case sub.ch <- event:
		default:
			b.droppedTotal.Inc()
		}
	}
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	Subscriptions int    `json:"subscriptions"`
	Published     uint64 `json:"published_total"`
	Dropped       uint64 `json:"dropped_total"`
}

// Stats returns a snapshot of the bus's counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Subscriptions: b.Count(),
		Published:     b.published.Load(),
		Dropped:       b.droppedTotal.Load(),
	}
}
