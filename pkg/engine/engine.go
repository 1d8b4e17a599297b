package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rhinehart514/hivesync/pkg/acks"
	"github.com/rhinehart514/hivesync/pkg/broadcast"
	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// ErrInvalidInput marks request validation failures detected before any
// store mutation. Callers test with errors.Is; the API layer maps it to the
// invalid_input error code.
var ErrInvalidInput = errors.New("invalid input")

// maxSequenceRetries bounds how often an operation rereads the snapshot and
// retries after losing the sequence race to a concurrent writer on the same
// key. Every lost round means another writer committed, so the bound is only
// reachable under sustained contention on one key.
const maxSequenceRetries = 16

// DefaultExpiry is the acknowledgment window applied when a submit request
// names no expiresInMinutes of its own.
const DefaultExpiry = 60 * time.Minute

// ConnectionCounter reports the live streaming connections attached to a
// key. Implemented by the stream registry; nil is allowed, in which case
// summaries fall back to the snapshot's stored connection list.
type ConnectionCounter interface {
	ActiveConnections(key types.ToolStateKey) []string
}

// Notifier pushes user-facing notifications about an applied update.
// Notification delivery is an external collaborator: failures are logged and
// swallowed, never surfaced to the submitting caller.
type Notifier interface {
	Notify(ctx context.Context, event *types.UpdateEvent, users []string) error
}

// Config wires an Engine's collaborators.
type Config struct {
	Store       storage.Store
	Fanout      *broadcast.Fanout
	Tracker     *acks.Tracker
	Connections ConnectionCounter // optional
	Notifier    Notifier          // optional
}

// Engine orchestrates tool-state synchronization: it sequences and applies
// update events, reconciles divergent client states, serves update history,
// and drives the secondary effects (broadcast fan-out, notification,
// acknowledgment tracking) of every accepted write. All snapshot and event
// mutation flows through the store's AppendUpdate compare-and-set so version
// stamping stays centralized and race-free.
type Engine struct {
	store       storage.Store
	fanout      *broadcast.Fanout
	tracker     *acks.Tracker
	connections ConnectionCounter
	notifier    Notifier
}

// New creates an Engine from its wired collaborators.
func New(cfg Config) *Engine {
	return &Engine{
		store:       cfg.Store,
		fanout:      cfg.Fanout,
		tracker:     cfg.Tracker,
		connections: cfg.Connections,
		notifier:    cfg.Notifier,
	}
}

// nextSequence allocates the sequence number the next update on a key must
// carry: 1 for a fresh key, version+1 otherwise. The read-then-compute is
// only safe inside the store's compare-and-set; callers retry on
// ErrVersionConflict.
func nextSequence(snapshot *types.StateSnapshot) int64 {
	if snapshot == nil {
		return 1
	}
	return snapshot.Version + 1
}

// applySnapshot materializes the snapshot that results from applying event
// on top of previous. The new state fully replaces the old one when the
// event carries one; version, update time and authorship always advance.
// previous == nil constructs the key's first snapshot.
func applySnapshot(previous *types.StateSnapshot, event *types.UpdateEvent) *types.StateSnapshot {
	snapshot := &types.StateSnapshot{
		Key:               event.Key,
		CurrentState:      map[string]any{},
		ActiveConnections: []string{},
		PendingUpdates:    []*types.UpdateEvent{},
		Metadata: types.SnapshotMetadata{
			CreatedAt: event.Timestamp,
		},
	}
	if previous != nil {
		snapshot.CurrentState = previous.CurrentState
		snapshot.ActiveConnections = previous.ActiveConnections
		snapshot.PendingUpdates = previous.PendingUpdates
		snapshot.Metadata.CreatedAt = previous.Metadata.CreatedAt
		snapshot.Metadata.ConflictResolution = previous.Metadata.ConflictResolution
	}

	if event.EventData.NewState != nil {
		snapshot.CurrentState = event.EventData.NewState
	}

	snapshot.Version = event.SequenceNumber
	snapshot.LastUpdate = event.Timestamp
	snapshot.Metadata.UpdatedBy = event.UserID
	snapshot.Metadata.SyncStatus = types.SyncStatusSynced
	return snapshot
}

// getSnapshot reads the current snapshot for a key, mapping "not found" to
// nil so callers treat a fresh key uniformly.
func (e *Engine) getSnapshot(ctx context.Context, key types.ToolStateKey) (*types.StateSnapshot, error) {
	snapshot, err := e.store.GetSnapshot(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// apply sequences event against the key's current snapshot and writes both
// through the store's compare-and-set. When a concurrent writer takes the
// sequence first the snapshot is reread and the whole allocation retried.
// The event's ChangedFields are computed from the stored state unless the
// caller provided them.
func (e *Engine) apply(ctx context.Context, event *types.UpdateEvent) (*types.StateSnapshot, error) {
	callerFields := event.EventData.ChangedFields

	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		current, err := e.getSnapshot(ctx, event.Key)
		if err != nil {
			return nil, err
		}

		event.SequenceNumber = nextSequence(current)
		if event.EventData.NewState != nil && len(callerFields) == 0 {
			var previousState map[string]any
			if current != nil {
				previousState = current.CurrentState
			}
			event.EventData.ChangedFields = diffFields(previousState, event.EventData.NewState)
		}

		snapshot := applySnapshot(current, event)
		err = e.store.AppendUpdate(ctx, event, snapshot)
		if errors.Is(err, storage.ErrVersionConflict) {
			metrics.SequenceConflicts.Inc()
			log.Logger.Debug().
				Str("state_key", event.Key.String()).
				Int64("sequence", event.SequenceNumber).
				Msg("lost sequence race, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.UpdatesApplied.WithLabelValues(string(event.UpdateType)).Inc()
		return snapshot, nil
	}

	return nil, fmt.Errorf("update %s lost the sequence race on %s %d times",
		event.ID, event.Key, maxSequenceRetries)
}

// dispatch runs the secondary effects of an accepted update: broadcast
// fan-out, user notification, and acknowledgment registration. The update is
// already committed when dispatch runs, so failures here are logged and
// swallowed; the caller's write stays successful.
func (e *Engine) dispatch(ctx context.Context, event *types.UpdateEvent) {
	e.fanout.Dispatch(ctx, event)

	if e.notifier != nil && len(event.AffectedUsers) > 0 {
		if err := e.notifier.Notify(ctx, event, event.AffectedUsers); err != nil {
			log.Error(fmt.Sprintf("Failed to notify users for update %s: %v", event.ID, err))
		}
	}

	if event.RequiresAck {
		if _, err := e.tracker.Register(ctx, event); err != nil {
			log.Error(fmt.Sprintf("Failed to register ack tracking for update %s: %v", event.ID, err))
		}
	}
}
