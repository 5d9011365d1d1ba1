// Package events provides the in-process event bus used to fan out job and
// transcoder state changes to subscribers such as the admin dashboard.
package events

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/logger"
)

// DefaultQueueCapacity bounds each subscriber queue. On overflow the oldest
// element is dropped before the new one is enqueued.
const DefaultQueueCapacity = 20

// EventBus fans events out to subscribers. Publish never blocks, so it is
// safe to call from scheduler callbacks and progress monitors.
type EventBus interface {
	Publish(ev Event)
	Subscribe(filter Filter) *Subscription
	Unsubscribe(id string) error
	Subscriptions() int
	Close()
}

// Subscription is one subscriber's view of the bus. Events arrive on C in
// publication order (per source); Drops counts overflow losses.
type Subscription struct {
	ID     string
	Filter Filter
	C      chan Event

	mu    sync.Mutex
	drops int64
}

// Drops returns how many events this subscriber lost to queue overflow.
func (s *Subscription) Drops() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

type eventBus struct {
	mu            sync.Mutex
	subscriptions map[string]*Subscription
	queueCapacity int
	closed        bool
}

// NewEventBus creates a bus with the given per-subscriber queue capacity.
// A capacity of zero uses DefaultQueueCapacity.
func NewEventBus(queueCapacity int) EventBus {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &eventBus{
		subscriptions: make(map[string]*Subscription),
		queueCapacity: queueCapacity,
	}
}

// Publish delivers the event to every matching subscriber without blocking.
// A full subscriber queue sheds its oldest element first.
func (b *eventBus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = generateEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, sub := range b.subscriptions {
		if !sub.Filter.Matches(ev) {
			continue
		}
		for {
			select {
			case sub.C <- ev:
			default:
				// Queue full: drop the oldest and retry.
				select {
				case <-sub.C:
					sub.mu.Lock()
					sub.drops++
					sub.mu.Unlock()
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe registers a new subscriber with its own bounded queue.
func (b *eventBus) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		ID:     "sub-" + generateEventID(),
		Filter: filter,
		C:      make(chan Event, b.queueCapacity),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subscriptions[sub.ID] = sub
	logger.Debug("Event subscription created: %s", sub.ID)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *eventBus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscriptions[id]
	if !ok {
		return fmt.Errorf("subscription not found: %s", id)
	}
	delete(b.subscriptions, id)
	close(sub.C)
	return nil
}

// Subscriptions returns the number of active subscribers.
func (b *eventBus) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

// Close shuts the bus down and closes every subscriber channel.
func (b *eventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscriptions {
		delete(b.subscriptions, id)
		close(sub.C)
	}
}

var (
	globalBus   EventBus
	globalBusMu sync.RWMutex
)

// SetGlobalEventBus registers the process-wide bus.
func SetGlobalEventBus(bus EventBus) {
	globalBusMu.Lock()
	defer globalBusMu.Unlock()
	globalBus = bus
}

// GetGlobalEventBus returns the process-wide bus, creating a default one on
// first use so modules can publish before the server finishes wiring.
func GetGlobalEventBus() EventBus {
	globalBusMu.RLock()
	if globalBus != nil {
		defer globalBusMu.RUnlock()
		return globalBus
	}
	globalBusMu.RUnlock()

	globalBusMu.Lock()
	defer globalBusMu.Unlock()
	if globalBus == nil {
		globalBus = NewEventBus(DefaultQueueCapacity)
	}
	return globalBus
}

func generateEventID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(bytes))
}
