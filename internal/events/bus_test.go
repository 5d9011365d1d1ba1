package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	sub := bus.Subscribe(Filter{Types: []EventType{EventJobState}})

	bus.Publish(Event{Type: EventJobState, Source: "test"})
	bus.Publish(Event{Type: EventScanStarted, Source: "test"})

	select {
	case ev := <-sub.C:
		assert.Equal(t, EventJobState, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}

	// The scan event must not have matched.
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event delivered: %s", ev.Type)
	default:
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	bus.Publish(Event{Type: EventScanCompleted, Source: "scanner"})

	select {
	case ev := <-sub.C:
		assert.Equal(t, EventScanCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	bus := NewEventBus(2)
	defer bus.Close()

	sub := bus.Subscribe(Filter{})

	bus.Publish(Event{ID: "first", Type: EventJobState, Source: "test"})
	bus.Publish(Event{ID: "second", Type: EventJobState, Source: "test"})
	bus.Publish(Event{ID: "third", Type: EventJobState, Source: "test"})

	assert.Equal(t, int64(1), sub.Drops())

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, "second", first.ID)
	assert.Equal(t, "third", second.ID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	require.NoError(t, bus.Unsubscribe(sub.ID))

	_, open := <-sub.C
	assert.False(t, open)
	assert.Error(t, bus.Unsubscribe(sub.ID))
	assert.Equal(t, 0, bus.Subscriptions())
}

func TestPublishAfterCloseIsSafe(t *testing.T) {
	bus := NewEventBus(10)
	sub := bus.Subscribe(Filter{})
	bus.Close()

	bus.Publish(Event{Type: EventJobState, Source: "test"})

	_, open := <-sub.C
	assert.False(t, open)
}

func TestFilterSources(t *testing.T) {
	f := Filter{Sources: []string{"scanner"}}
	assert.True(t, f.Matches(Event{Type: EventScanStarted, Source: "scanner"}))
	assert.False(t, f.Matches(Event{Type: EventScanStarted, Source: "transcoder"}))
}
