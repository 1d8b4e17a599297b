/*
Package storage provides persistent state storage for HiveSync.

The storage package defines the Store interface over snapshots, update
events, acknowledgment tracking and the broadcast outbox, with two
implementations: BoltStore (embedded BoltDB, the default) and PostgresStore
(PostgreSQL via pgx). All records are stored as JSON documents; the handful
of columns or bucket keys pulled out of the documents exist only for
ordering, lookup and the version compare-and-set.

# Architecture

	┌───────────────────── STORAGE LAYER ─────────────────────┐
	│                                                           │
	│  ┌─────────────────────────────────────────────┐        │
	│  │              Store interface                 │        │
	│  │  GetSnapshot / AppendUpdate / ListUpdates    │        │
	│  │  Get/Delete Update / Ack tracking / Outbox   │        │
	│  └───────────┬────────────────────┬────────────┘        │
	│              │                    │                       │
	│  ┌───────────▼──────────┐  ┌─────▼──────────────┐       │
	│  │      BoltStore        │  │   PostgresStore    │       │
	│  │  hivesync.db          │  │  pgxpool           │       │
	│  │                       │  │                    │       │
	│  │  snapshots            │  │  tool_snapshots    │       │
	│  │  events/<key>/<seq>   │  │  update_events     │       │
	│  │  event_index          │  │  (id UNIQUE)       │       │
	│  │  acks                 │  │  ack_tracking      │       │
	│  │  broadcasts/<channel> │  │  broadcast_outbox  │       │
	│  └───────────────────────┘  └────────────────────┘       │
	└───────────────────────────────────────────────────────┘

# The AppendUpdate Contract

AppendUpdate is the only write path for snapshots and events, and it is
atomic: inside one transaction it

 1. verifies the stored snapshot version equals event.SequenceNumber-1
    (or that no snapshot exists and the event carries sequence 1),
 2. appends the event to the key's log,
 3. indexes the event by ID,
 4. replaces the snapshot.

Any version mismatch aborts the whole transaction with ErrVersionConflict
and the store is left untouched. Concurrent writers to the same key
therefore serialize: exactly one wins each sequence number and the losers
retry against the fresh snapshot. Per-key sequences are strictly
increasing with no gaps.

# Storage Layout

BoltDB:
  - snapshots: key string → snapshot JSON
  - events: nested bucket per key; 8-byte big-endian sequence → event JSON,
    so cursor scans return log order
  - event_index: event ID → {key, seq} pointer
  - acks: update event ID → tracking JSON
  - broadcasts: nested bucket per channel; bolt NextSequence → message JSON

PostgreSQL:
  - tool_snapshots(key PK, version, doc)
  - update_events(key, seq, PK(key,seq), id UNIQUE, created_at, doc)
  - ack_tracking(update_event_id PK, status, ack_deadline, doc)
  - broadcast_outbox(channel, seq BIGSERIAL, doc)

The version check is an INSERT ... ON CONFLICT DO NOTHING for sequence 1
and a version-guarded UPDATE otherwise, both inside one transaction.

# Usage

	store, err := storage.NewBoltStore("/var/lib/hivesync")
	if err != nil {
		return err
	}
	defer store.Close()

	snapshot, err := store.GetSnapshot(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		// first write for this key
	}

	err = store.AppendUpdate(ctx, event, next)
	if errors.Is(err, storage.ErrVersionConflict) {
		// re-read the snapshot and retry with a fresh sequence
	}

# Error Semantics

  - ErrNotFound: snapshot, event or tracking record does not exist;
    always wrapped with the identifier, test with errors.Is
  - ErrVersionConflict: AppendUpdate lost a per-key race; retryable
  - anything else: the store itself failed and the operation must be
    treated as not applied

# Integration Points

  - pkg/engine: drives AppendUpdate inside its sequencing retry loop
  - pkg/broadcast: appends fan-out messages to the outbox
  - pkg/acks: persists and sweeps tracking records
  - pkg/stream: polls ListUpdates/GetSnapshot (read-only)
  - pkg/metrics: samples Stats into gauges

# Performance Characteristics

BoltDB:
  - One write transaction at a time process-wide; reads are concurrent
  - AppendUpdate cost is dominated by the fsync, ~1-5ms on SSDs
  - Cursor range scans over a key's log are sequential page reads

PostgreSQL:
  - Concurrency scales with the pool; per-key writes serialize on the
    snapshot row via the version-guarded UPDATE
  - The id UNIQUE index doubles as the event lookup path

# See Also

  - pkg/engine for the retry loop built on ErrVersionConflict
  - pkg/types for the stored document shapes
*/
package storage
