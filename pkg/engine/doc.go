/*
Package engine sequences, applies, and reconciles tool state updates.

The engine package is the write path of state synchronization. Every state
change, whether submitted as an incremental update or as a full client sync,
flows through the engine: it allocates the next sequence number for the key,
derives the new authoritative snapshot, commits both atomically, and then
hands the applied event to the delivery side.

# Architecture

	┌──────────────────────── UPDATE ENGINE ────────────────────────┐
	│                                                                 │
	│  SubmitUpdate / Sync                                            │
	│        │                                                        │
	│  ┌─────▼──────────────────────────────────────────┐            │
	│  │            Sequencing Loop                      │            │
	│  │  1. Read current snapshot (version N)           │            │
	│  │  2. Stamp event with sequence N+1               │            │
	│  │  3. Derive next snapshot from the event         │            │
	│  │  4. AppendUpdate (compare-and-swap on N)        │            │
	│  │  5. On version conflict: re-read and retry      │            │
	│  └─────┬──────────────────────────────────────────┘            │
	│        │ committed                                              │
	│  ┌─────▼──────────────────────────────────────────┐            │
	│  │            Dispatch (fire-and-forget)           │            │
	│  │  - broadcast.Fanout: channel delivery           │            │
	│  │  - Notifier: per-user notification              │            │
	│  │  - acks.Tracker: register required acks         │            │
	│  └────────────────────────────────────────────────┘            │
	└─────────────────────────────────────────────────────────────┘

# Sequencing

Sequence numbers are allocated optimistically. The engine reads the current
snapshot, stamps the event with version+1, and asks the store to commit both
only if the stored version is still what it read. Concurrent writers to the
same key race; exactly one wins each round and the losers re-read and retry
with fresh sequence numbers, up to five rounds. Two invariants hold at all
times:

  - Per-key sequence numbers are strictly increasing with no duplicates.
  - A snapshot's Version always equals the sequence number of the last
    applied event.

The snapshot write is never skipped or deferred: an event without its
snapshot, or a snapshot ahead of its log, cannot occur.

# Conflict Resolution

Sync reconciles a client that has been editing offline. Three outcomes:

  - client_state_accepted: the key had no state; the client's document
    becomes version 1 regardless of the version the client claimed.
  - sync_successful: the client was already at the server's version; its
    document is written as the next version.
  - conflict_resolved: the client diverged (or forced a merge). The
    requested strategy picks the winner and the resolution is written as a
    configuration_change event recording both versions.

Strategies: latest_wins keeps the server document (the snapshot already
holds the newest applied write; the stale client's attempt survives only
on the log), client_wins takes the client document unconditionally, merge
unions the top level with client values overriding. Unknown strategies
fall back to latest_wins. Descriptors for each contested field are
returned to the caller; for nested objects they include the dot-joined
paths that differ.

# Usage

Wiring an engine:

	eng := engine.New(engine.Config{
		Store:   store,
		Fanout:  fanout,
		Tracker: tracker,
	})

Submitting an update:

	result, err := eng.SubmitUpdate(ctx, engine.SubmitRequest{
		ToolID:     "tool-1",
		UserID:     "user-1",
		UpdateType: types.UpdateValueUpdate,
		EventData:  types.EventData{NewState: map[string]any{"count": 2}},
	})

Reconciling a client:

	result, err := eng.Sync(ctx, engine.SyncRequest{
		ToolID:        "tool-1",
		UserID:        "user-1",
		ClientVersion: 4,
		ClientState:   clientDoc,
	})

# Delivery Semantics

Commit and delivery are deliberately decoupled. Once AppendUpdate succeeds
the update is durable and the caller's request has succeeded; broadcast,
notification, and ack registration failures are logged and counted but never
propagated. Clients that miss a broadcast recover through the update log.

# Integration Points

This package integrates with:

  - pkg/storage: atomic event+snapshot commit, history reads, cleanup
  - pkg/broadcast: fan-out of applied events to subscription channels
  - pkg/acks: tracking for updates that require acknowledgment
  - pkg/stream: supplies the live connection counts in status summaries
  - pkg/api: translates HTTP requests into engine calls

# See Also

  - pkg/storage for the AppendUpdate compare-and-swap contract
  - pkg/broadcast for channel naming and delivery guarantees
  - pkg/acks for the acknowledgment lifecycle
*/
package engine
