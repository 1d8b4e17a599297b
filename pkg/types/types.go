package types

import (
	"strings"
	"time"
)

// ToolStateKey identifies one synchronized state document. Tool state is
// tracked per tool, optionally narrowed to a single deployment of that tool.
type ToolStateKey struct {
	ToolID       string `json:"toolId"`
	DeploymentID string `json:"deploymentId,omitempty"`
}

// String renders the storage form of the key: "toolId" or
// "toolId:deploymentId". Tool and deployment IDs must not contain ':'.
func (k ToolStateKey) String() string {
	if k.DeploymentID == "" {
		return k.ToolID
	}
	return k.ToolID + ":" + k.DeploymentID
}

// ParseKey is the inverse of ToolStateKey.String.
func ParseKey(s string) ToolStateKey {
	toolID, deploymentID, _ := strings.Cut(s, ":")
	return ToolStateKey{ToolID: toolID, DeploymentID: deploymentID}
}

// UpdateType classifies what kind of change an update event carries.
type UpdateType string

const (
	UpdateStateChange         UpdateType = "state_change"
	UpdateValueUpdate         UpdateType = "value_update"
	UpdateConfigurationChange UpdateType = "configuration_change"
	UpdateDeploymentUpdate    UpdateType = "deployment_update"
	UpdateExecutionResult     UpdateType = "execution_result"
	UpdateError               UpdateType = "error"
	UpdateStatusChange        UpdateType = "status_change"
)

// Valid reports whether t is one of the recognized update types.
func (t UpdateType) Valid() bool {
	switch t {
	case UpdateStateChange, UpdateValueUpdate, UpdateConfigurationChange,
		UpdateDeploymentUpdate, UpdateExecutionResult, UpdateError, UpdateStatusChange:
		return true
	}
	return false
}

// SyncStatus describes how current a snapshot is relative to its writers.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// ConflictStrategy selects how divergent client and server states are
// reconciled. Unrecognized strategies fall back to ConflictLatestWins.
type ConflictStrategy string

const (
	ConflictLatestWins ConflictStrategy = "latest_wins"
	ConflictClientWins ConflictStrategy = "client_wins"
	ConflictMerge      ConflictStrategy = "merge"

	// Recorded in snapshot metadata, not selectable as strategies.
	ConflictManual    ConflictStrategy = "manual"
	ConflictAutomatic ConflictStrategy = "automatic"
)

// SnapshotMetadata carries bookkeeping about a snapshot's lifecycle.
type SnapshotMetadata struct {
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedBy          string           `json:"updatedBy"`
	SyncStatus         SyncStatus       `json:"syncStatus"`
	ConflictResolution ConflictStrategy `json:"conflictResolution,omitempty"`
}

// StateSnapshot is the authoritative current state for one key. The engine
// treats CurrentState as an opaque JSON document; Version always equals the
// sequence number of the last applied update event.
type StateSnapshot struct {
	Key               ToolStateKey     `json:"key"`
	CurrentState      map[string]any   `json:"currentState"`
	Version           int64            `json:"version"`
	LastUpdate        time.Time        `json:"lastUpdate"`
	ActiveConnections []string         `json:"activeConnections"`
	PendingUpdates    []*UpdateEvent   `json:"pendingUpdates"`
	Metadata          SnapshotMetadata `json:"metadata"`
}

// EventData is the payload of an update event: the state transition it
// caused plus free-form metadata.
type EventData struct {
	PreviousState map[string]any `json:"previousState,omitempty"`
	NewState      map[string]any `json:"newState,omitempty"`
	ChangedFields []string       `json:"changedFields,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// UpdateEvent is one entry in a key's append-only update log.
// SequenceNumber is strictly increasing per key and assigned at write time.
type UpdateEvent struct {
	ID                string       `json:"id"`
	Key               ToolStateKey `json:"key"`
	UserID            string       `json:"userId"`
	UpdateType        UpdateType   `json:"updateType"`
	EventData         EventData    `json:"eventData"`
	AffectedUsers     []string     `json:"affectedUsers"`
	Timestamp         time.Time    `json:"timestamp"`
	SequenceNumber    int64        `json:"sequenceNumber"`
	BroadcastChannels []string     `json:"broadcastChannels"`
	RequiresAck       bool         `json:"requiresAck"`
	ExpiresAt         *time.Time   `json:"expiresAt,omitempty"`
}

// Expired reports whether the event's acknowledgment window has passed.
func (e *UpdateEvent) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// AckStatus is the lifecycle state of an acknowledgment tracking record.
type AckStatus string

const (
	AckPending  AckStatus = "pending"
	AckComplete AckStatus = "complete"
	AckExpired  AckStatus = "expired"
)

// AckTracking records which recipients of an update requiring acknowledgment
// have confirmed receipt.
type AckTracking struct {
	UpdateEventID string       `json:"updateEventId"`
	Key           ToolStateKey `json:"key"`
	RequiredAcks  []string     `json:"requiredAcks"`
	ReceivedAcks  []string     `json:"receivedAcks"`
	AckDeadline   time.Time    `json:"ackDeadline"`
	Status        AckStatus    `json:"status"`
}

// DeliveryState tracks per-recipient delivery progress for a broadcast
// message and how many redelivery attempts have been made.
type DeliveryState struct {
	Sent       []string `json:"sent"`
	Delivered  []string `json:"delivered"`
	Read       []string `json:"read"`
	Failed     []string `json:"failed"`
	RetryCount int      `json:"retryCount"`
}

// BroadcastMessage is the reduced view of an update event that is fanned out
// to one subscription channel, plus its delivery bookkeeping.
type BroadcastMessage struct {
	ID             string        `json:"id"`
	Channel        string        `json:"channel"`
	UpdateEventID  string        `json:"updateEventId"`
	Key            ToolStateKey  `json:"key"`
	UpdateType     UpdateType    `json:"updateType"`
	Timestamp      time.Time     `json:"timestamp"`
	SequenceNumber int64         `json:"sequenceNumber"`
	EventData      EventData     `json:"eventData"`
	Delivery       DeliveryState `json:"delivery"`
}

// ElementKey builds the element-scoped key form used inside tool state
// documents ("elementId:name"). State payloads are opaque to the engine, but
// tools store shared counters, shared collections and per-user values under
// keys of this shape, and full-document replacement preserves them as-is.
func ElementKey(elementID, name string) string {
	return elementID + ":" + name
}

// SplitElementKey is the inverse of ElementKey. ok is false when the key
// carries no element prefix.
func SplitElementKey(key string) (elementID, name string, ok bool) {
	return strings.Cut(key, ":")
}
