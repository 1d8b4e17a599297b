package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// envelope wraps a bridged message with the origin instance ID so every
// instance can drop the copies of its own publishes.
type envelope struct {
	Origin  string                  `json:"origin"`
	Message *types.BroadcastMessage `json:"message"`
}

// RedisBridge replicates broadcast messages between instances over Redis
// pub/sub. Local messages are forwarded to Redis; messages received from
// other instances are fed into the local broker.
type RedisBridge struct {
	client   *redis.Client
	broker   *Broker
	prefix   string
	originID string
	pubsub   *redis.PubSub
}

// NewRedisBridge creates a bridge over the given client. prefix namespaces
// the Redis channels so several deployments can share one Redis.
func NewRedisBridge(client *redis.Client, broker *Broker, prefix string) *RedisBridge {
	return &RedisBridge{
		client:   client,
		broker:   broker,
		prefix:   prefix,
		originID: uuid.New().String(),
	}
}

// Publish forwards a local broadcast message to Redis.
func (rb *RedisBridge) Publish(ctx context.Context, msg *types.BroadcastMessage) error {
	payload, err := json.Marshal(envelope{Origin: rb.originID, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode broadcast envelope: %w", err)
	}
	return rb.client.Publish(ctx, rb.prefix+msg.Channel, payload).Err()
}

// Start subscribes to the bridged channels and begins feeding remote
// messages into the local broker.
func (rb *RedisBridge) Start(ctx context.Context) {
	rb.pubsub = rb.client.PSubscribe(ctx, rb.prefix+"*")
	go rb.run()
}

// Stop closes the subscription, which ends the feed loop.
func (rb *RedisBridge) Stop() {
	if rb.pubsub != nil {
		_ = rb.pubsub.Close()
	}
}

func (rb *RedisBridge) run() {
	for msg := range rb.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Error(fmt.Sprintf("Failed to decode bridged broadcast: %v", err))
			continue
		}
		if env.Origin == rb.originID || env.Message == nil {
			continue
		}
		rb.broker.Publish(env.Message)
	}
}
