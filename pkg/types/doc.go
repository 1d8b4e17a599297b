/*
Package types defines the core data structures used throughout HiveSync.

This package contains all fundamental types that represent HiveSync's domain
model: tool state keys, state snapshots, update events, acknowledgment
tracking records and broadcast messages. These types are used by all other
packages for persistence, API communication and synchronization logic.

# Architecture

The types package is the foundation of HiveSync's data model. It defines:

  - State identity (ToolStateKey: tool, optional deployment)
  - Authoritative state documents (StateSnapshot)
  - The append-only change history (UpdateEvent, EventData)
  - Acknowledgment bookkeeping (AckTracking)
  - Fan-out payloads (BroadcastMessage, DeliveryState)
  - Enumerations for update types, sync status, conflict strategies
    and acknowledgment status

All types are designed to be:
  - Serializable (JSON, camelCase wire tags)
  - Opaque about payloads (CurrentState/NewState are raw JSON documents)
  - Self-documenting (clear field names and comments)
  - Dependency-free (no imports beyond the standard library)

# Core Types

State identity:
  - ToolStateKey: (toolId, deploymentId?) pair; String()/ParseKey convert
    to and from the "toolId:deploymentId" storage form

State documents:
  - StateSnapshot: current state for one key, including version,
    last-update time, connection/pending bookkeeping and metadata
  - SnapshotMetadata: creation time, last writer, sync status and the
    conflict strategy that produced the current state (if any)

Change history:
  - UpdateEvent: one log entry with a per-key strictly increasing
    SequenceNumber assigned at write time
  - EventData: previous/new state, changed field names, free metadata
  - UpdateType: state_change, value_update, configuration_change,
    deployment_update, execution_result, error, status_change

Acknowledgments:
  - AckTracking: required vs received acknowledgers, deadline and status
  - AckStatus: pending, complete, expired

Broadcast:
  - BroadcastMessage: reduced event view scoped to one channel
  - DeliveryState: sent/delivered/read/failed recipient lists plus a
    retry counter

# Usage

Building a key and an event:

	key := types.ToolStateKey{ToolID: "tool-1", DeploymentID: "dep-9"}

	event := &types.UpdateEvent{
		ID:         uuid.NewString(),
		Key:        key,
		UserID:     "user-42",
		UpdateType: types.UpdateValueUpdate,
		EventData: types.EventData{
			NewState:      map[string]any{"count": 6},
			ChangedFields: []string{"count"},
		},
		Timestamp:      time.Now(),
		SequenceNumber: 4,
	}

# Invariants

The central invariant of the data model:

	snapshot.Version == SequenceNumber of the last applied UpdateEvent

Sequence numbers per key start at 1 and increase by exactly 1 per applied
event. Applying an event replaces the snapshot's CurrentState wholesale;
the engine never deep-merges on the write path (merging is a conflict
resolution strategy, not an apply step).

# State Payload Conventions

CurrentState is an opaque JSON document, but the tools written on top of
HiveSync follow a tri-layer layout inside it: shared counters, shared
collections and per-user values, all stored under element-scoped keys of
the "elementId:name" form produced by ElementKey. The engine preserves
those structures byte-for-byte because state replacement is always
whole-document.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type SyncStatus string
	  const (
	      SyncStatusSynced  SyncStatus = "synced"
	      SyncStatusPending SyncStatus = "pending"
	  )

Optional Fields:

	Optional values use pointers or omitempty:
	  - *time.Time ExpiresAt: nil = never expires
	  - DeploymentID "": key covers the whole tool

# Integration Points

This package integrates with:

  - pkg/storage: persists all types as JSON documents
  - pkg/engine: assigns sequence numbers and applies events to snapshots
  - pkg/broadcast: reduces events to BroadcastMessage per channel
  - pkg/acks: maintains AckTracking lifecycles
  - pkg/stream: serializes events into state_update frames
  - pkg/api: binds requests/responses to and from these types

# Thread Safety

All types in this package are plain data:
  - Read-safe: can be read concurrently from multiple goroutines
  - Write-unsafe: mutations must be synchronized by callers

The storage layer hands out fresh unmarshaled instances, so two callers
never share a snapshot unless they arrange to.

# See Also

  - pkg/storage for persistence layout
  - pkg/engine for sequencing and conflict resolution
  - pkg/broadcast for channel derivation
*/
package types
