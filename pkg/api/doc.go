/*
Package api exposes the synchronization engine over HTTP.

One gin router serves the REST operations, the NDJSON live stream, the
websocket stream, and the operational endpoints. Handlers hold no domain
logic: they bind requests, check permissions, call the engine or streamer,
and translate errors into the stable error taxonomy.

# Architecture

	┌─────────────────────── HTTP SERVER ────────────────────────┐
	│                                                              │
	│  recovery ─▶ observe (metrics+log)                           │
	│      │                                                       │
	│      ├── /health /ready /metrics        (no auth)            │
	│      │                                                       │
	│      └── /v1 ─▶ authenticate ─▶ rateLimit                    │
	│             │                                                │
	│             └── /tools/:toolId                               │
	│                   POST   /updates              submit        │
	│                   GET    /updates              history¹      │
	│                   DELETE /updates?olderThan=…  cleanup       │
	│                   DELETE /updates/:updateId    cleanup       │
	│                   POST   /updates/:updateId/ack              │
	│                   GET    /updates/:updateId/ack              │
	│                   POST   /sync                 reconcile     │
	│                   GET    /snapshot                           │
	│                   GET    /stream/ws            websocket     │
	│                                                              │
	│  ¹ "Accept: application/x-ndjson" turns the history route    │
	│    into a live NDJSON stream (deploymentId required).        │
	└──────────────────────────────────────────────────────────────┘

# Error Taxonomy

Every error response is

	{"error":{"code":"<code>","message":"<message>"}}

with codes unauthorized (401), forbidden (403), invalid_input (400),
not_found (404), rate_limited (429) and internal_error (500). Internal
errors never leak their cause into the body; the cause is logged.

# Authentication

The auth middleware resolves a caller identity before any handler work. A
bearer token is verified by the configured auth.Provider. Without a token,
X-User-ID names the caller when AllowUserHeader is on; otherwise the
provider decides what an absent token means (the development provider
accepts it, the JWT provider rejects it). Permission checks run before any
store mutation, so a denied request has no partial effect.

# Streaming

Both live transports serialize stream.Frame values, one JSON document per
NDJSON line or websocket message. The HTTP server sets no write timeout so
streams can outlive ordinary requests; shutdown cancels their request
contexts, which closes every open channel.

# Usage

	server := api.NewServer(api.Config{
		Engine:   eng,
		Streamer: streamer,
		Store:    store,
	})
	go func() {
		if err := server.Start(":8080"); err != nil {
			log.Fatal(err.Error())
		}
	}()
	...
	server.Stop(ctx)

# Integration Points

This package integrates with:

  - pkg/engine: every REST operation is one engine call
  - pkg/stream: NDJSON and websocket handlers drain Channel.Frames()
  - pkg/auth: identity resolution and permission checks
  - pkg/metrics: request counters, latency histograms, /metrics endpoint
  - pkg/storage: readiness probe and error classification

# See Also

  - pkg/client for the Go client of this API
  - pkg/stream for frame semantics and delivery guarantees
*/
package api
