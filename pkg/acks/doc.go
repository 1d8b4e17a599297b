/*
Package acks tracks acknowledgments for updates that require them.

Some updates matter enough that the publisher needs to know every affected
user saw them. When an update event carries RequiresAck, the engine registers
a tracking record here; recipients acknowledge through the API; a background
sweeper expires records whose deadline passes before every required user has
confirmed.

# Lifecycle

	              Register (event committed, RequiresAck)
	                 │
	                 ▼
	             ┌─────────┐   all required users acked    ┌──────────┐
	             │ pending │ ──────────────────────────────▶│ complete │
	             └─────────┘                                └──────────┘
	                 │
	                 │ deadline passed (sweeper)
	                 ▼
	             ┌─────────┐
	             │ expired │
	             └─────────┘

Acks are idempotent: recording the same user twice changes nothing. Users
outside the required set may acknowledge; their acks are recorded but do not
count toward completion. An expired tracker keeps accepting acks for audit
purposes but never transitions to complete.

# Core Components

Tracker:
  - Register creates the tracking record when an event commits
  - Record marks one user's acknowledgment
  - Deadline comes from the event's expiry, DefaultDeadline otherwise

Sweeper:
  - Ticker loop in the style of the other background workers
  - Each pass lists pending trackers past their deadline and marks them
    expired
  - Started and stopped with the server lifecycle

# Usage

	tracker := acks.NewTracker(store)

	sweeper := acks.NewSweeper(store, time.Minute)
	sweeper.Start()
	defer sweeper.Stop()

	tracking, err := tracker.Record(ctx, eventID, "user-1")

# Integration Points

This package integrates with:

  - pkg/engine: registers trackers after commit, serves ack API calls
  - pkg/storage: persistence for tracking records and the deadline index
  - pkg/metrics: counts recorded and expired acknowledgments

# See Also

  - pkg/engine for when registration happens
  - pkg/storage for ListPendingAcks, the sweeper's work queue
*/
package acks
