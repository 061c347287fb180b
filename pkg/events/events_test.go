package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventTaskLaunched, AgentID: "agent-1"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case e := <-sub:
			assert.Equal(t, EventTaskLaunched, e.Type)
			assert.Equal(t, "agent-1", e.AgentID)
			assert.False(t, e.Timestamp.IsZero(), "publish stamps the event")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	stalled := b.Subscribe() // never read from
	fast := b.Subscribe()

	for i := 0; i < 40; i++ {
		b.Publish(&Event{Type: EventOfferDeclined, AgentID: "agent-1"})
	}

	received := 0
	deadline := time.After(time.Second)
	for received < 40 {
		select {
		case <-fast:
			received += 1
		case <-deadline:
			t.Fatalf("fast subscriber stalled after %d events", received)
		}
	}
	require.LessOrEqual(t, len(stalled), cap(stalled))
}
