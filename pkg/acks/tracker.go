package acks

import (
	"context"
	"fmt"
	"time"

	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// DefaultDeadline is how long recipients have to acknowledge an update when
// the event carries no expiry of its own.
const DefaultDeadline = time.Hour

// Tracker records which recipients of an ack-required update have confirmed
// receipt.
type Tracker struct {
	store storage.Store
}

// NewTracker creates a new acknowledgment tracker
func NewTracker(store storage.Store) *Tracker {
	return &Tracker{store: store}
}

// Register creates the tracking record for an ack-required event. The
// deadline is the event's expiry when present, DefaultDeadline out otherwise.
func (t *Tracker) Register(ctx context.Context, event *types.UpdateEvent) (*types.AckTracking, error) {
	deadline := time.Now().Add(DefaultDeadline)
	if event.ExpiresAt != nil {
		deadline = *event.ExpiresAt
	}

	required := event.AffectedUsers
	if required == nil {
		required = []string{}
	}

	tracking := &types.AckTracking{
		UpdateEventID: event.ID,
		Key:           event.Key,
		RequiredAcks:  required,
		ReceivedAcks:  []string{},
		AckDeadline:   deadline,
		Status:        types.AckPending,
	}

	if err := t.store.PutAckTracking(ctx, tracking); err != nil {
		return nil, fmt.Errorf("failed to store ack tracking: %w", err)
	}
	return tracking, nil
}

// Record marks userID's acknowledgment of an update. Recording the same user
// twice is a no-op. The tracker transitions to complete once every required
// user has acknowledged; expired trackers keep collecting acks but never
// complete.
func (t *Tracker) Record(ctx context.Context, updateEventID, userID string) (*types.AckTracking, error) {
	tracking, err := t.store.GetAckTracking(ctx, updateEventID)
	if err != nil {
		return nil, err
	}

	if !containsUser(tracking.ReceivedAcks, userID) {
		tracking.ReceivedAcks = append(tracking.ReceivedAcks, userID)
	}

	if tracking.Status == types.AckPending && containsAll(tracking.ReceivedAcks, tracking.RequiredAcks) {
		tracking.Status = types.AckComplete
	}

	if err := t.store.PutAckTracking(ctx, tracking); err != nil {
		return nil, fmt.Errorf("failed to store ack tracking: %w", err)
	}

	metrics.AcksRecorded.Inc()
	return tracking, nil
}

// Get returns the tracking record for an update event
func (t *Tracker) Get(ctx context.Context, updateEventID string) (*types.AckTracking, error) {
	return t.store.GetAckTracking(ctx, updateEventID)
}

func containsUser(users []string, userID string) bool {
	for _, u := range users {
		if u == userID {
			return true
		}
	}
	return false
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !containsUser(have, w) {
			return false
		}
	}
	return true
}
