package progress

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// dropThreshold is how many consecutive full-backlog publishes a
// subscriber tolerates before the bus unsubscribes it. A subscriber
// that can't keep up is worse than a subscriber that misses a burst of
// events, since it otherwise holds a growing goroutine's attention.
const dropThreshold = 5

// subscriber is a single registered listener. missed is an atomic
// counter because publish updates it outside the bus lock, so
// concurrent publishers may touch it at the same time.
type subscriber struct {
	id     string
	ch     chan Event
	missed atomic.Int32
}

// Bus is the in-process pub/sub hub. Publishers never block: a full
// subscriber backlog is dropped, not waited on.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	backlog     int
}

// NewBus builds a Bus whose subscriber channels buffer up to backlog
// events each.
func NewBus(backlog int) *Bus {
	if backlog <= 0 {
		backlog = 64
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		backlog:     backlog,
	}
}

// Subscribe registers a new listener and returns its event channel and
// an unsubscribe function. The channel is closed once unsubscribe runs
// or ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	sub := &subscriber{id: uuid.NewString(), ch: make(chan Event, b.backlog)}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	unsubscribe := func() { b.remove(sub.id) }

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish satisfies pkg/store.ProgressPublisher and every other caller
// that just wants to fire a typed payload under a named event.
func (b *Bus) Publish(ctx context.Context, event string, payload any) {
	b.publish(Event{Type: EventType(event), Payload: payload})
}

func (b *Bus) publish(event Event) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	var stale []string
	for _, sub := range targets {
		select {
		case sub.ch <- event:
			sub.missed.Store(0)
		default:
			if sub.missed.Add(1) >= dropThreshold {
				stale = append(stale, sub.id)
			}
		}
	}

	for _, id := range stale {
		b.remove(id)
	}
}
