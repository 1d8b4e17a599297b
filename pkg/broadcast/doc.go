/*
Package broadcast fans applied update events out to subscription channels.

The broadcast package implements the delivery side of state synchronization:
it reduces each applied update event to a compact per-channel message,
persists those messages to the outbox, distributes them to in-process
subscribers through a broker, and optionally replicates them across server
instances over Redis pub/sub.

# Architecture

	┌──────────────────── BROADCAST FAN-OUT ───────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │                 Fanout                      │          │
	│  │  - Input: applied UpdateEvent               │          │
	│  │  - One BroadcastMessage per channel         │          │
	│  │  - Fire-and-forget (failures logged)        │          │
	│  └──────┬───────────────┬──────────────┬──────┘          │
	│         │               │              │                  │
	│  ┌──────▼──────┐ ┌──────▼──────┐ ┌────▼─────────┐       │
	│  │   Outbox    │ │   Broker    │ │ RedisBridge  │       │
	│  │  (storage)  │ │ (in-process)│ │  (optional)  │       │
	│  └─────────────┘ └──────┬──────┘ └────┬─────────┘       │
	│                         │              │                  │
	│  ┌──────────────────────▼──────────────▼───────┐        │
	│  │             Subscribers                      │        │
	│  │                                              │        │
	│  │  Message Channel (buffer: configurable)     │        │
	│  │       ↓                                      │        │
	│  │  Distribution Loop                           │        │
	│  │       ↓                                      │        │
	│  │  Subscriber Channels (buffer: 50 each,      │        │
	│  │  filtered by channel name)                   │        │
	│  └──────────────────────────────────────────────┘        │
	└────────────────────────────────────────────────────────┘

# Channel Naming

Every update is published to one or more named channels:

	tool:{toolId}:updates            always
	deployment:{deploymentId}:updates when the key carries a deployment
	space:{spaceId}:tools             when a space is named and space
	                                  fan-out was requested

ChannelsFor computes the set for a given key; the result is recorded on the
update event itself so replays and audits see exactly where a change went.

# Core Components

Fanout:
  - Entry point called by the engine after an update commits
  - ReduceEvent builds the per-channel message
  - Persists to the outbox, publishes locally, forwards to the bridge
  - Never returns an error: the update is already committed, so
    delivery failures are logged and counted, not propagated

Broker:
  - Central in-process message bus
  - Subscribe() with no arguments receives everything
  - Subscribe("tool:abc:updates", ...) filters by channel name
  - Non-blocking publish (buffered channel)
  - Full subscriber buffers skip (no blocking)
  - Graceful shutdown via stop channel

RedisBridge:
  - Optional cross-instance replication over Redis pub/sub
  - Wraps messages in an envelope carrying the origin instance ID
  - PSubscribes to the whole prefix and drops self-originated copies
  - Remote messages are fed into the local broker unchanged

BroadcastMessage:
  - ID: identity of this fan-out copy (not the event ID)
  - Channel: the channel this copy was published to
  - UpdateEventID / Key / SequenceNumber: provenance
  - EventData: the state transition payload
  - Delivery: per-recipient bookkeeping, starts empty

# Usage

Creating and starting the broker:

	import "github.com/rhinehart514/hivesync/pkg/broadcast"

	broker := broadcast.NewBroker(100)
	broker.Start()
	defer broker.Stop()

Subscribing to a tool's updates:

	sub := broker.Subscribe(broadcast.ToolChannel("tool-1"))
	defer broker.Unsubscribe(sub)

	go func() {
		for msg := range sub {
			fmt.Printf("seq %d on %s\n", msg.SequenceNumber, msg.Channel)
		}
	}()

Fanning out an applied event:

	fanout := broadcast.NewFanout(store, broker, nil)
	fanout.Dispatch(ctx, event)

Bridging instances over Redis:

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	bridge := broadcast.NewRedisBridge(client, broker, "hivesync:")
	bridge.Start(ctx)
	defer bridge.Stop()

	fanout := broadcast.NewFanout(store, broker, bridge)

# Delivery Semantics

Fan-out is fire-and-forget. By the time Dispatch runs, the update event and
snapshot are committed; nothing that happens during delivery may fail the
client's request. Concretely:

  - Outbox write failure: logged, counted, local delivery still attempted
  - Bridge publish failure: logged, counted, local delivery unaffected
  - Slow subscriber: its buffer fills and it misses messages; other
    subscribers are unaffected

Subscribers needing gapless delivery reconcile against the update log
(ListUpdatesAfter) rather than relying on the broker alone. The live stream
endpoint does exactly that: broker for latency, log polling for completeness.

# Integration Points

This package integrates with:

  - pkg/engine: Calls Dispatch after committing each update
  - pkg/stream: Subscribes for low-latency frame delivery
  - pkg/storage: Persists the outbox (AppendBroadcast, ListBroadcasts)
  - pkg/metrics: Counts sent and failed broadcasts by channel scope
  - Redis: Optional pub/sub transport between instances

# Performance Characteristics

Publishing:
  - Local publish: < 1µs (channel send)
  - Non-blocking: never waits for subscribers
  - Redis publish: one round trip per channel copy

Delivery:
  - Per subscriber: ~500ns to 1µs
  - Buffer: 50 messages per subscriber
  - Overflow: slow subscribers skip messages

# See Also

  - pkg/engine for when Dispatch is invoked
  - pkg/stream for the consuming live delivery channel
  - pkg/storage for outbox layout
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package broadcast
