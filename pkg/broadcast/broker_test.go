package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhinehart514/hivesync/pkg/types"
)

func receiveOne(t *testing.T, sub Subscriber) *types.BroadcastMessage {
	t.Helper()
	select {
	case msg := <-sub:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
		return nil
	}
}

func TestBrokerDeliversToAllSubscriber(t *testing.T) {
	broker := NewBroker(10)
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()

	broker.Publish(&types.BroadcastMessage{ID: "m1", Channel: "tool:demo:updates"})

	msg := receiveOne(t, sub)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "tool:demo:updates", msg.Channel)
}

func TestBrokerFiltersByChannel(t *testing.T) {
	broker := NewBroker(10)
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe("tool:demo:updates")

	broker.Publish(&types.BroadcastMessage{ID: "other", Channel: "tool:other:updates"})
	broker.Publish(&types.BroadcastMessage{ID: "mine", Channel: "tool:demo:updates"})

	msg := receiveOne(t, sub)
	assert.Equal(t, "mine", msg.ID)
}

func TestBrokerMultiChannelSubscription(t *testing.T) {
	broker := NewBroker(10)
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe("tool:demo:updates", "space:s1:tools")

	broker.Publish(&types.BroadcastMessage{ID: "m1", Channel: "space:s1:tools"})
	broker.Publish(&types.BroadcastMessage{ID: "m2", Channel: "deployment:d1:updates"})
	broker.Publish(&types.BroadcastMessage{ID: "m3", Channel: "tool:demo:updates"})

	first := receiveOne(t, sub)
	second := receiveOne(t, sub)
	assert.Equal(t, "m1", first.ID)
	assert.Equal(t, "m3", second.ID)
}

func TestBrokerStampsTimestamp(t *testing.T) {
	broker := NewBroker(10)
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()

	broker.Publish(&types.BroadcastMessage{ID: "m1", Channel: "tool:demo:updates"})

	msg := receiveOne(t, sub)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestBrokerUnsubscribe(t *testing.T) {
	broker := NewBroker(10)
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	require.Equal(t, 1, broker.SubscriberCount())

	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open, "unsubscribed channel should be closed")

	// A second Unsubscribe must be a no-op, not a double close.
	broker.Unsubscribe(sub)
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker(10)
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and later messages are skipped.
	slow := broker.Subscribe()
	fast := broker.Subscribe()

	for i := 0; i < 60; i++ {
		broker.Publish(&types.BroadcastMessage{ID: "m", Channel: "tool:demo:updates"})
	}

	// The fast subscriber still receives messages.
	receiveOne(t, fast)
	assert.Equal(t, 2, broker.SubscriberCount())
	_ = slow
}
