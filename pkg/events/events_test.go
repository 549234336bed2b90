package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventStarted, Message: "one"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventStarted, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestPublishFansOutToMultipleSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	subA := b.Subscribe()
	subB := b.Subscribe()
	defer b.Unsubscribe(subA)
	defer b.Unsubscribe(subB)

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventReady})

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventReady, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("event was not delivered to all subscribers")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{Type: EventStopped})

	_, ok := <-sub
	assert.False(t, ok, "subscriber channel should be closed after Unsubscribe")
}
