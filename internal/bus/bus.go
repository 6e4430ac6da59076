package bus

import (
	"strings"
	"sync"
)

// Bus is the in-process dispatcher between the push channel, the sync
// engine and any UI layer. Subscriptions filter by kind prefix, so one
// subscription to "push.typing_" covers both typing lifecycle events and a
// subscription to "message." covers the whole send/upsert family.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers evt to every subscriber whose namespace is a prefix of
// evt.Kind. Delivery never blocks: a subscriber whose buffer is full misses
// the event rather than stalling the dispatch path.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber buffer full, drop.
			}
		}
	}
}

// Subscribe registers a prefix subscription with a buffer of bufSize and
// returns the receive channel plus its unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Group collects unsubscribe functions so a component holding several
// subscriptions can tear all of them down with a single call. Close is
// idempotent; a closed group silently discards further Adds after running
// them, so reconnect paths cannot leak duplicate registrations.
type Group struct {
	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// Add registers an unsubscribe function with the group. If the group is
// already closed the function runs immediately.
func (g *Group) Add(unsub func()) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		unsub()
		return
	}
	g.unsubs = append(g.unsubs, unsub)
	g.mu.Unlock()
}

// Close runs every registered unsubscribe function exactly once.
func (g *Group) Close() {
	g.mu.Lock()
	unsubs := g.unsubs
	g.unsubs = nil
	g.closed = true
	g.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}
