package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rhinehart514/hivesync/pkg/broadcast"
	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/metrics"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// SubmitRequest describes one state update submitted by an authenticated
// caller. BroadcastToSpace defaults to true and ExpiresInMinutes to 60 when
// unset.
type SubmitRequest struct {
	ToolID           string
	DeploymentID     string
	SpaceID          string
	UserID           string
	UpdateType       types.UpdateType
	EventData        types.EventData
	TargetUsers      []string
	BroadcastToSpace *bool
	RequiresAck      bool
	ExpiresInMinutes int
}

func (r *SubmitRequest) validate() error {
	if r.ToolID == "" {
		return fmt.Errorf("%w: toolId is required", ErrInvalidInput)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if r.UpdateType == "" {
		return fmt.Errorf("%w: updateType is required", ErrInvalidInput)
	}
	if !r.UpdateType.Valid() {
		return fmt.Errorf("%w: unknown updateType %q", ErrInvalidInput, r.UpdateType)
	}
	if r.EventData.NewState == nil && r.EventData.PreviousState == nil &&
		len(r.EventData.ChangedFields) == 0 && r.EventData.Metadata == nil {
		return fmt.Errorf("%w: eventData is required", ErrInvalidInput)
	}
	if r.ExpiresInMinutes < 0 {
		return fmt.Errorf("%w: expiresInMinutes must not be negative", ErrInvalidInput)
	}
	return nil
}

// SubmitResult is the caller-visible outcome of an accepted update.
type SubmitResult struct {
	ID             string           `json:"id"`
	ToolID         string           `json:"toolId"`
	UpdateType     types.UpdateType `json:"updateType"`
	SequenceNumber int64            `json:"sequenceNumber"`
	AffectedUsers  int              `json:"affectedUsers"`
	Timestamp      time.Time        `json:"timestamp"`
}

// SubmitUpdate validates the request, sequences and persists a new update
// event for its key, and fires the secondary effects. Validation failures
// return before any store mutation; a store failure on the primary write is
// surfaced with nothing written.
func (e *Engine) SubmitUpdate(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.UpdateDuration)

	key := types.ToolStateKey{ToolID: req.ToolID, DeploymentID: req.DeploymentID}

	broadcastToSpace := true
	if req.BroadcastToSpace != nil {
		broadcastToSpace = *req.BroadcastToSpace
	}

	expiresIn := time.Duration(req.ExpiresInMinutes) * time.Minute
	if expiresIn == 0 {
		expiresIn = DefaultExpiry
	}

	targets := req.TargetUsers
	if targets == nil {
		targets = []string{}
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	event := &types.UpdateEvent{
		ID:                uuid.New().String(),
		Key:               key,
		UserID:            req.UserID,
		UpdateType:        req.UpdateType,
		EventData:         req.EventData,
		AffectedUsers:     targets,
		Timestamp:         now,
		BroadcastChannels: broadcast.ChannelsFor(key, req.SpaceID, broadcastToSpace),
		RequiresAck:       req.RequiresAck,
		ExpiresAt:         &expiresAt,
	}

	if _, err := e.apply(ctx, event); err != nil {
		return nil, err
	}

	log.Logger.Debug().
		Str("state_key", key.String()).
		Str("event_id", event.ID).
		Int64("sequence", event.SequenceNumber).
		Str("update_type", string(event.UpdateType)).
		Msg("update applied")

	e.dispatch(ctx, event)

	return &SubmitResult{
		ID:             event.ID,
		ToolID:         req.ToolID,
		UpdateType:     event.UpdateType,
		SequenceNumber: event.SequenceNumber,
		AffectedUsers:  len(event.AffectedUsers),
		Timestamp:      event.Timestamp,
	}, nil
}
