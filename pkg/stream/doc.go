/*
Package stream serves live per-connection delivery of state updates.

A client that wants to follow a tool's state opens a Channel. The channel
emits a connected frame, then heartbeats on one interval and state updates
discovered by surveying the update log on another. A broker subscription
shortcuts the wait: the moment fan-out publishes on one of the key's
channels, the survey runs instead of waiting out the poll tick.

# Architecture

	┌──────────────────── DELIVERY CHANNEL ────────────────────┐
	│                                                            │
	│  Open(key, userID)                                         │
	│     │  register in Registry, subscribe to broker           │
	│     ▼                                                      │
	│  ┌──────────────────────────────────────────────┐         │
	│  │                 run loop                      │         │
	│  │                                               │         │
	│  │  emit connected ── once, first                │         │
	│  │  heartbeat ticker ──▶ heartbeat frame         │         │
	│  │  poll ticker ───────▶ survey()                │         │
	│  │  broker delivery ──▶ survey() immediately     │         │
	│  │  ctx canceled ─────▶ return                   │         │
	│  └──────────────────────────────────────────────┘         │
	│                                                            │
	│  survey(): ListUpdates(trailing window)                    │
	│    - skip self-authored and already-seen events            │
	│    - emit state_update per remaining event                 │
	│    - snapshot moved past the window? one snapshot frame    │
	└──────────────────────────────────────────────────────────┘

# Delivery Guarantees

This is deliberately a survey, not a transactional subscription. Poll
windows overlap, so boundary duplicates are possible; the bounded seen-set
absorbs them in the common case. Events can also be missed outright (long GC
pause, clock skew, trimmed history); the snapshot watch converts a miss into
one catch-up frame carrying the full authoritative state, so a consumer's
final state is always right even when intermediate events were skipped.

Frames are dropped rather than buffered without bound when a consumer stalls.
Consumers needing every event page through the history endpoint instead.

# Frames

	{"type":"connected","connectionId":"…","toolId":"…","deploymentId":"…","timestamp":"…"}
	{"type":"heartbeat","timestamp":"…"}
	{"type":"state_update","event":{…},"timestamp":"…"}
	{"type":"state_update","snapshot":{…},"timestamp":"…"}

The NDJSON and websocket transports in pkg/api both serialize this shape,
one frame per line or message.

# Registry

The Registry counts live connections per key for this process. It caps the
total (stream.maxConnections) and feeds the activeConnections figure in sync
status summaries. It is intentionally process-local; a fleet-wide count
would need external coordination and the summary is advisory.

# Usage

	registry := stream.NewRegistry(1000)
	streamer := stream.NewStreamer(store, broker, registry, 2*time.Second, 30*time.Second)

	ch, err := streamer.Open(ctx, key, "user-1")
	if err != nil {
		return err
	}
	defer ch.Close()

	for frame := range ch.Frames() {
		// write frame to the client
	}

# Integration Points

This package integrates with:

  - pkg/api: NDJSON and websocket handlers consume Frames()
  - pkg/broadcast: broker subscription provides the low-latency trigger
  - pkg/storage: the update log and snapshot reads behind survey
  - pkg/engine: Registry implements its ConnectionCounter
  - pkg/metrics: active stream gauge and per-type frame counters

# See Also

  - pkg/broadcast for what triggers the immediate survey
  - pkg/api for transport details
*/
package stream
