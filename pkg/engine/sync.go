package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rhinehart514/hivesync/pkg/broadcast"
	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// Sync outcome labels returned in SyncResult.SyncResult.
const (
	SyncResultClientStateAccepted = "client_state_accepted"
	SyncResultSuccessful          = "sync_successful"
	SyncResultConflictResolved    = "conflict_resolved"
)

// SyncRequest carries a client's reconciliation attempt: the full state it
// believes is current and the server version that state was based on.
type SyncRequest struct {
	ToolID             string
	DeploymentID       string
	UserID             string
	ClientVersion      int64
	ClientState        map[string]any
	ConflictResolution types.ConflictStrategy
	ForceMerge         bool
}

func (r *SyncRequest) validate() error {
	if r.ToolID == "" {
		return fmt.Errorf("%w: toolId is required", ErrInvalidInput)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if r.ClientState == nil {
		return fmt.Errorf("%w: clientState is required", ErrInvalidInput)
	}
	if r.ClientVersion < 0 {
		return fmt.Errorf("%w: clientVersion must not be negative", ErrInvalidInput)
	}
	return nil
}

// SyncResult reports how a reconciliation request was settled and the
// authoritative state and version the client should adopt.
type SyncResult struct {
	SyncResult    string               `json:"syncResult"`
	ServerVersion int64                `json:"serverVersion"`
	ServerState   map[string]any       `json:"serverState"`
	Conflicts     []ConflictDescriptor `json:"conflicts"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Sync reconciles a client's state against the server's snapshot. Three
// outcomes: a fresh key adopts the client state at version 1; a client that
// is current writes its state as the next version; a divergent (or
// force-merged) client goes through conflict resolution. The decision is
// made against one snapshot read and rerun from scratch whenever a
// concurrent writer invalidates it.
func (e *Engine) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	key := types.ToolStateKey{ToolID: req.ToolID, DeploymentID: req.DeploymentID}

	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		result, err := e.syncOnce(ctx, key, req)
		if errors.Is(err, storage.ErrVersionConflict) {
			metrics.SequenceConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.SyncRequests.WithLabelValues(result.SyncResult).Inc()
		return result, nil
	}

	return nil, fmt.Errorf("sync on %s lost the sequence race %d times", key, maxSequenceRetries)
}

// syncOnce performs one decision round against a single snapshot read. Any
// ErrVersionConflict from the write means the read went stale and the caller
// must rerun the decision.
func (e *Engine) syncOnce(ctx context.Context, key types.ToolStateKey, req SyncRequest) (*SyncResult, error) {
	current, err := e.getSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}

	switch {
	case current == nil:
		return e.bootstrapSync(ctx, key, req)
	case req.ClientVersion == current.Version && !req.ForceMerge:
		return e.fastForwardSync(ctx, current, req)
	default:
		return e.resolveSync(ctx, current, req)
	}
}

// bootstrapSync adopts the client's state as a key's first version. The
// client's claimed version is irrelevant: the first accepted write is always
// sequence 1.
func (e *Engine) bootstrapSync(ctx context.Context, key types.ToolStateKey, req SyncRequest) (*SyncResult, error) {
	event := newSyncEvent(key, req.UserID, types.UpdateStateChange, types.EventData{
		NewState:      req.ClientState,
		ChangedFields: diffFields(nil, req.ClientState),
	}, 1)

	snapshot := applySnapshot(nil, event)
	if err := e.store.AppendUpdate(ctx, event, snapshot); err != nil {
		return nil, err
	}
	e.dispatch(ctx, event)

	return &SyncResult{
		SyncResult:    SyncResultClientStateAccepted,
		ServerVersion: event.SequenceNumber,
		ServerState:   req.ClientState,
		Conflicts:     []ConflictDescriptor{},
		Timestamp:     event.Timestamp,
	}, nil
}

// fastForwardSync writes the state of a client that was current at decision
// time as the key's next version.
func (e *Engine) fastForwardSync(ctx context.Context, current *types.StateSnapshot, req SyncRequest) (*SyncResult, error) {
	event := newSyncEvent(current.Key, req.UserID, types.UpdateStateChange, types.EventData{
		PreviousState: current.CurrentState,
		NewState:      req.ClientState,
		ChangedFields: diffFields(current.CurrentState, req.ClientState),
	}, current.Version+1)

	snapshot := applySnapshot(current, event)
	if err := e.store.AppendUpdate(ctx, event, snapshot); err != nil {
		return nil, err
	}
	e.dispatch(ctx, event)

	return &SyncResult{
		SyncResult:    SyncResultSuccessful,
		ServerVersion: event.SequenceNumber,
		ServerState:   req.ClientState,
		Conflicts:     []ConflictDescriptor{},
		Timestamp:     event.Timestamp,
	}, nil
}

// resolveSync settles a divergent (or force-merged) sync under the requested
// strategy and writes the resolution as a synthetic configuration_change
// event at the next sequence. Only the last resolution is recorded on the
// snapshot; earlier ones are visible in the event log alone.
func (e *Engine) resolveSync(ctx context.Context, current *types.StateSnapshot, req SyncRequest) (*SyncResult, error) {
	resolved, strategy := resolveState(current.CurrentState, req.ClientState, req.ConflictResolution)
	conflicts := describeConflicts(current.CurrentState, req.ClientState, resolved)

	event := newSyncEvent(current.Key, req.UserID, types.UpdateConfigurationChange, types.EventData{
		PreviousState: current.CurrentState,
		NewState:      resolved,
		ChangedFields: diffFields(current.CurrentState, resolved),
		Metadata: map[string]any{
			"conflictResolution": string(strategy),
			"clientVersion":      req.ClientVersion,
			"serverVersion":      current.Version,
		},
	}, current.Version+1)

	snapshot := applySnapshot(current, event)
	snapshot.Metadata.ConflictResolution = strategy
	if err := e.store.AppendUpdate(ctx, event, snapshot); err != nil {
		return nil, err
	}
	e.dispatch(ctx, event)

	metrics.ConflictsResolved.WithLabelValues(string(strategy)).Inc()
	log.Logger.Info().
		Str("state_key", current.Key.String()).
		Str("strategy", string(strategy)).
		Int64("client_version", req.ClientVersion).
		Int64("server_version", current.Version).
		Int("conflicts", len(conflicts)).
		Msg("conflict resolved")

	return &SyncResult{
		SyncResult:    SyncResultConflictResolved,
		ServerVersion: event.SequenceNumber,
		ServerState:   resolved,
		Conflicts:     conflicts,
		Timestamp:     event.Timestamp,
	}, nil
}

// newSyncEvent builds the synthetic event a sync operation writes through
// the normal snapshot-update path. Sync events never require acks and fan
// out to the key's own channels only.
func newSyncEvent(key types.ToolStateKey, userID string, updateType types.UpdateType, data types.EventData, seq int64) *types.UpdateEvent {
	return &types.UpdateEvent{
		ID:                uuid.New().String(),
		Key:               key,
		UserID:            userID,
		UpdateType:        updateType,
		EventData:         data,
		AffectedUsers:     []string{},
		Timestamp:         time.Now().UTC(),
		SequenceNumber:    seq,
		BroadcastChannels: broadcast.ChannelsFor(key, "", false),
	}
}
