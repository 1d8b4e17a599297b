package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

const (
	// DefaultHistoryLimit applies when a history request carries no limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps how many events one history request may return.
	MaxHistoryLimit = 100
)

// HistoryRequest selects a window of a key's update log.
type HistoryRequest struct {
	ToolID       string
	DeploymentID string
	Since        time.Time
	Limit        int
}

// SyncStatusSummary reports how current a key's snapshot is alongside its
// history.
type SyncStatusSummary struct {
	Status            types.SyncStatus `json:"status"`
	LastSync          *time.Time       `json:"lastSync,omitempty"`
	Version           int64            `json:"version"`
	PendingUpdates    int              `json:"pendingUpdates"`
	ActiveConnections int              `json:"activeConnections"`
}

// HistoryResult is a page of update events in timestamp order plus the
// snapshot they roll up to. HasMore signals that the window was truncated at
// the requested limit.
type HistoryResult struct {
	Events     []*types.UpdateEvent `json:"events"`
	Snapshot   *types.StateSnapshot `json:"snapshot,omitempty"`
	SyncStatus *SyncStatusSummary   `json:"syncStatus"`
	HasMore    bool                 `json:"hasMore"`
}

// History returns a key's update events since a timestamp, oldest first,
// along with the current snapshot and a sync status summary. A key with no
// history yields an empty page, not an error.
func (e *Engine) History(ctx context.Context, req HistoryRequest) (*HistoryResult, error) {
	if req.ToolID == "" {
		return nil, fmt.Errorf("%w: toolId is required", ErrInvalidInput)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	key := types.ToolStateKey{ToolID: req.ToolID, DeploymentID: req.DeploymentID}

	// Fetch one past the limit to learn whether the window was truncated.
	events, err := e.store.ListUpdates(ctx, key, req.Since, limit+1)
	if err != nil {
		return nil, err
	}
	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	snapshot, err := e.getSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}

	return &HistoryResult{
		Events:     events,
		Snapshot:   snapshot,
		SyncStatus: e.summarize(key, snapshot),
		HasMore:    hasMore,
	}, nil
}

// Snapshot returns the current snapshot for a key, or storage.ErrNotFound
// when the key has never been written.
func (e *Engine) Snapshot(ctx context.Context, key types.ToolStateKey) (*types.StateSnapshot, error) {
	return e.store.GetSnapshot(ctx, key)
}

// Status returns the sync status summary for a key. Unknown keys summarize
// as pending at version 0.
func (e *Engine) Status(ctx context.Context, key types.ToolStateKey) (*SyncStatusSummary, error) {
	snapshot, err := e.getSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.summarize(key, snapshot), nil
}

// summarize folds a snapshot and the live connection registry into the
// status view handed back with history responses.
func (e *Engine) summarize(key types.ToolStateKey, snapshot *types.StateSnapshot) *SyncStatusSummary {
	summary := &SyncStatusSummary{Status: types.SyncStatusPending}
	if snapshot != nil {
		lastSync := snapshot.LastUpdate
		summary.Status = snapshot.Metadata.SyncStatus
		summary.LastSync = &lastSync
		summary.Version = snapshot.Version
		summary.PendingUpdates = len(snapshot.PendingUpdates)
	}
	if e.connections != nil {
		summary.ActiveConnections = len(e.connections.ActiveConnections(key))
	}
	return summary
}

// CleanupRequest names what to delete: one event by ID, or every event for a
// key older than a cutoff.
type CleanupRequest struct {
	ToolID       string
	DeploymentID string
	EventID      string
	OlderThan    *time.Time
}

// CleanupResult reports how many events a cleanup removed.
type CleanupResult struct {
	Deleted int `json:"deleted"`
}

// Cleanup deletes update events. Snapshots are never touched: history
// trimming must not change any key's current state or version.
func (e *Engine) Cleanup(ctx context.Context, req CleanupRequest) (*CleanupResult, error) {
	if req.ToolID == "" {
		return nil, fmt.Errorf("%w: toolId is required", ErrInvalidInput)
	}

	if req.EventID != "" {
		event, err := e.store.GetUpdate(ctx, req.EventID)
		if err != nil {
			return nil, err
		}
		if event.Key.ToolID != req.ToolID {
			return nil, fmt.Errorf("update %s: %w", req.EventID, storage.ErrNotFound)
		}
		if err := e.store.DeleteUpdate(ctx, req.EventID); err != nil {
			return nil, err
		}
		return &CleanupResult{Deleted: 1}, nil
	}

	if req.OlderThan == nil {
		return nil, fmt.Errorf("%w: either an update id or olderThan is required", ErrInvalidInput)
	}
	key := types.ToolStateKey{ToolID: req.ToolID, DeploymentID: req.DeploymentID}
	deleted, err := e.store.DeleteUpdatesBefore(ctx, key, *req.OlderThan)
	if err != nil {
		return nil, err
	}
	return &CleanupResult{Deleted: deleted}, nil
}

// RecordAck records userID's acknowledgment of an update that required one.
// The update must belong to the named tool.
func (e *Engine) RecordAck(ctx context.Context, toolID, updateEventID, userID string) (*types.AckTracking, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if err := e.checkAckOwnership(ctx, toolID, updateEventID); err != nil {
		return nil, err
	}
	return e.tracker.Record(ctx, updateEventID, userID)
}

// AckStatus returns the acknowledgment tracking record for an update under
// the named tool.
func (e *Engine) AckStatus(ctx context.Context, toolID, updateEventID string) (*types.AckTracking, error) {
	if err := e.checkAckOwnership(ctx, toolID, updateEventID); err != nil {
		return nil, err
	}
	return e.tracker.Get(ctx, updateEventID)
}

// checkAckOwnership hides tracking records that exist under a different tool
// than the one named in the request.
func (e *Engine) checkAckOwnership(ctx context.Context, toolID, updateEventID string) error {
	if toolID == "" {
		return fmt.Errorf("%w: toolId is required", ErrInvalidInput)
	}
	if updateEventID == "" {
		return fmt.Errorf("%w: update id is required", ErrInvalidInput)
	}
	tracking, err := e.tracker.Get(ctx, updateEventID)
	if err != nil {
		return err
	}
	if tracking.Key.ToolID != toolID {
		return fmt.Errorf("update %s: %w", updateEventID, storage.ErrNotFound)
	}
	return nil
}
