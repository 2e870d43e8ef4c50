// Package presence tracks online/offline/attached state for sessions and
// machines and lets callers block until a transition, without tight
// polling and without lost wakeups.
package presence

import "sync"

// Kind distinguishes presence transitions.
type Kind int

const (
	// KindOnline means the remote process registered itself.
	KindOnline Kind = iota + 1
	// KindOffline means the remote process terminated or the external
	// disconnect signal fired. Liveness is push-driven; there is no
	// timeout-based sweep in here.
	KindOffline
	// KindAttached means the transport channel for this specific id is
	// ready to receive messages. Observably later than KindOnline;
	// sending before it loses messages into a void.
	KindAttached
)

// Event is one presence transition for one id.
type Event struct {
	ID   string
	Kind Kind
}

// Bus is a topic-keyed publish/subscribe registry, topic = session or
// machine id. Publish never blocks: each subscriber gets a buffered
// channel and events beyond its buffer are dropped. Waiters re-check
// tracked state after subscribing, so a dropped event delays a wakeup at
// worst.
//
// Thread-safety: all methods are safe for concurrent use.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Event
}

const subscriberBuffer = 8

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers interest in a topic. The returned cancel func is
// idempotent and must run on every exit path - success, timeout, and
// external cancellation - or the subscriber leaks.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[topic] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[topic]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(b.subs, topic)
				}
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of its id.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs[ev.ID]))
	for sub := range b.subs[ev.ID] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of subscribers for a topic.
// Used by tests to verify cleanup on every wait exit path.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
