package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rhinehart514/hivesync/pkg/types"
)

var (
	// ErrNotFound is returned when a snapshot, event or tracking record
	// does not exist. Callers test with errors.Is.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by AppendUpdate when the stored
	// snapshot version no longer matches the event's expected predecessor.
	// The engine re-reads and retries on this error.
	ErrVersionConflict = errors.New("version conflict")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Stats summarizes store contents for the metrics collector.
type Stats struct {
	Snapshots         int
	Events            int
	PendingAcks       int
	BroadcastMessages int
}

// Store defines the interface for synchronization state storage.
// Implemented by BoltStore (embedded) and PostgresStore.
type Store interface {
	// Snapshots
	GetSnapshot(ctx context.Context, key types.ToolStateKey) (*types.StateSnapshot, error)

	// AppendUpdate atomically appends an update event to its key's log and
	// replaces the key's snapshot, but only if the stored snapshot version
	// equals event.SequenceNumber-1 (or no snapshot exists and the event
	// carries sequence 1). On any mismatch it writes nothing and returns
	// ErrVersionConflict.
	AppendUpdate(ctx context.Context, event *types.UpdateEvent, snapshot *types.StateSnapshot) error

	// Update events
	GetUpdate(ctx context.Context, id string) (*types.UpdateEvent, error)
	ListUpdates(ctx context.Context, key types.ToolStateKey, since time.Time, limit int) ([]*types.UpdateEvent, error)
	ListUpdatesAfter(ctx context.Context, key types.ToolStateKey, afterSeq int64, limit int) ([]*types.UpdateEvent, error)
	DeleteUpdate(ctx context.Context, id string) error
	DeleteUpdatesBefore(ctx context.Context, key types.ToolStateKey, olderThan time.Time) (int, error)

	// Acknowledgment tracking
	PutAckTracking(ctx context.Context, tracking *types.AckTracking) error
	GetAckTracking(ctx context.Context, updateEventID string) (*types.AckTracking, error)
	ListPendingAcks(ctx context.Context, deadlineBefore time.Time) ([]*types.AckTracking, error)

	// Broadcast outbox
	AppendBroadcast(ctx context.Context, msg *types.BroadcastMessage) error
	ListBroadcasts(ctx context.Context, channel string, limit int) ([]*types.BroadcastMessage, error)

	// Utility
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
