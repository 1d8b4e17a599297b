package broadcast

import (
	"sync"
	"time"

	"github.com/rhinehart514/hivesync/pkg/types"
)

// Subscriber is a channel that receives broadcast messages
type Subscriber chan *types.BroadcastMessage

// Broker manages in-process subscriptions and message distribution
type Broker struct {
	subscribers map[Subscriber]map[string]bool
	mu          sync.RWMutex
	messageCh   chan *types.BroadcastMessage
	stopCh      chan struct{}
}

// NewBroker creates a new broadcast broker. bufferSize bounds the number of
// messages queued for distribution; values <= 0 fall back to 100.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Broker{
		subscribers: make(map[Subscriber]map[string]bool),
		messageCh:   make(chan *types.BroadcastMessage, bufferSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel. Called with no
// arguments the subscriber receives every message; otherwise it receives only
// messages published to one of the named channels.
func (b *Broker) Subscribe(channels ...string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber

	var filter map[string]bool
	if len(channels) > 0 {
		filter = make(map[string]bool, len(channels))
		for _, ch := range channels {
			filter[ch] = true
		}
	}

	b.subscribers[sub] = filter
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues a message for distribution to matching subscribers
func (b *Broker) Publish(msg *types.BroadcastMessage) {
	// Set timestamp if not set
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case b.messageCh <- msg:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case msg := <-b.messageCh:
			b.distribute(msg)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) distribute(msg *types.BroadcastMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subscribers {
		if filter != nil && !filter[msg.Channel] {
			continue
		}
		select {
		case sub <- msg:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
