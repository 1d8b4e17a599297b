package broadcast

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// Publisher forwards broadcast messages to an external transport such as a
// Redis channel. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, msg *types.BroadcastMessage) error
}

// Fanout reduces applied update events to per-channel broadcast messages,
// persists them to the outbox, and distributes them through the local broker
// and the bridge when one is configured.
type Fanout struct {
	store  storage.Store
	broker *Broker
	bridge Publisher
}

// NewFanout creates a fanout. bridge may be nil for single-instance runs.
func NewFanout(store storage.Store, broker *Broker, bridge Publisher) *Fanout {
	return &Fanout{
		store:  store,
		broker: broker,
		bridge: bridge,
	}
}

// Dispatch fans an applied event out to its broadcast channels. The update is
// already committed when Dispatch runs, so delivery is fire-and-forget:
// outbox and bridge failures are logged and never propagate to the caller.
func (f *Fanout) Dispatch(ctx context.Context, event *types.UpdateEvent) {
	for _, channel := range event.BroadcastChannels {
		scope := ChannelScope(channel)
		msg := ReduceEvent(event, channel)

		if err := f.store.AppendBroadcast(ctx, msg); err != nil {
			metrics.BroadcastFailures.WithLabelValues(scope).Inc()
			log.Error(fmt.Sprintf("Failed to persist broadcast for channel %s: %v", channel, err))
		}

		f.broker.Publish(msg)
		metrics.BroadcastsSent.WithLabelValues(scope).Inc()

		if f.bridge != nil {
			if err := f.bridge.Publish(ctx, msg); err != nil {
				metrics.BroadcastFailures.WithLabelValues(scope).Inc()
				log.Error(fmt.Sprintf("Failed to bridge broadcast for channel %s: %v", channel, err))
			}
		}
	}
}

// ReduceEvent builds the compact message published to a single channel for an
// applied update event. Delivery bookkeeping starts empty and fills in as
// recipients acknowledge.
func ReduceEvent(event *types.UpdateEvent, channel string) *types.BroadcastMessage {
	return &types.BroadcastMessage{
		ID:             uuid.New().String(),
		Channel:        channel,
		UpdateEventID:  event.ID,
		Key:            event.Key,
		UpdateType:     event.UpdateType,
		Timestamp:      event.Timestamp,
		SequenceNumber: event.SequenceNumber,
		EventData:      event.EventData,
		Delivery: types.DeliveryState{
			Sent:      []string{},
			Delivered: []string{},
			Read:      []string{},
			Failed:    []string{},
		},
	}
}
