/*
Package metrics provides Prometheus metrics collection and exposition for HiveSync.

The metrics package defines and registers all HiveSync metrics using the Prometheus
client library, providing observability into state volume, update throughput,
conflict resolution, broadcast fan-out, and API latency. Metrics are exposed via
HTTP endpoint for scraping by Prometheus servers.

# Architecture

HiveSync's metrics system follows Prometheus best practices with instrumentation
across all components:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  State: Snapshots, events, acks, outbox     │          │
	│  │  Engine: Applied updates, conflicts, syncs  │          │
	│  │  Broadcast: Sent, failures by scope         │          │
	│  │  Stream: Active channels, frames            │          │
	│  │  API: Request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Collector                      │          │
	│  │  - Samples storage.Stats every 15s          │          │
	│  │  - Sets state gauges                        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Collector:
  - Background goroutine sampling storage counts
  - 15 second interval, immediate collect on start
  - Sets the state gauges (snapshots, events, acks, outbox)

Component Registry:
  - SetComponent records per-component health (broadcast, redis, storage)
  - Collector reports storage health on every sample
  - Readiness endpoint folds the registry into its checks

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

State Metrics:

hivesync_snapshots_total:
  - Type: Gauge
  - Description: Total number of tool state snapshots
  - Example: hivesync_snapshots_total 42

hivesync_update_events_total:
  - Type: Gauge
  - Description: Total number of stored update events
  - Example: hivesync_update_events_total 1543

hivesync_acks_pending:
  - Type: Gauge
  - Description: Acknowledgment trackers still waiting on required users
  - Example: hivesync_acks_pending 3

hivesync_broadcast_outbox_messages:
  - Type: Gauge
  - Description: Broadcast messages retained in the outbox
  - Example: hivesync_broadcast_outbox_messages 210

Engine Metrics:

hivesync_updates_applied_total{update_type}:
  - Type: Counter
  - Description: Updates applied by type (state_change, configuration_change, ...)
  - Example: hivesync_updates_applied_total{update_type="state_change"} 1200

hivesync_update_duration_seconds:
  - Type: Histogram
  - Description: Time to sequence and persist an update
  - Buckets: Default Prometheus buckets

hivesync_sequence_conflicts_total:
  - Type: Counter
  - Description: Sequence allocation retries caused by concurrent writers
  - Example: hivesync_sequence_conflicts_total 17

hivesync_conflicts_resolved_total{strategy}:
  - Type: Counter
  - Description: Sync conflicts resolved by strategy (latest_wins, client_wins, merge)
  - Example: hivesync_conflicts_resolved_total{strategy="latest_wins"} 9

hivesync_sync_requests_total{result}:
  - Type: Counter
  - Description: Reconciliation requests by outcome
  - Values: client_state_accepted, sync_successful, conflict_resolved
  - Example: hivesync_sync_requests_total{result="sync_successful"} 88

Broadcast Metrics:

hivesync_broadcasts_sent_total{scope}:
  - Type: Counter
  - Description: Broadcast messages fanned out by channel scope (tool, deployment, space)
  - Example: hivesync_broadcasts_sent_total{scope="tool"} 1200

hivesync_broadcast_failures_total{scope}:
  - Type: Counter
  - Description: Broadcast deliveries that failed by channel scope
  - Example: hivesync_broadcast_failures_total{scope="space"} 2

Ack Metrics:

hivesync_acks_recorded_total:
  - Type: Counter
  - Description: Acknowledgments recorded across all trackers

hivesync_acks_expired_total:
  - Type: Counter
  - Description: Trackers expired past their deadline by the sweeper

Stream Metrics:

hivesync_streams_active:
  - Type: Gauge
  - Description: Live delivery channels currently open
  - Example: hivesync_streams_active 12

hivesync_stream_frames_total{type}:
  - Type: Counter
  - Description: Frames written to live streams by type (connected, update, heartbeat)
  - Example: hivesync_stream_frames_total{type="heartbeat"} 4400

API Metrics:

hivesync_api_requests_total{method, status}:
  - Type: Counter
  - Description: API requests by method and status
  - Example: hivesync_api_requests_total{method="SubmitUpdate",status="200"} 100

hivesync_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration in seconds
  - Buckets: 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10

# Usage

Updating Counter Metrics:

	import "github.com/rhinehart514/hivesync/pkg/metrics"

	// Increment by 1
	metrics.UpdatesApplied.WithLabelValues("state_change").Inc()
	metrics.SequenceConflicts.Inc()

Recording Histogram Observations:

	// Direct observation
	metrics.UpdateDuration.Observe(0.012)

	// Using Timer helper
	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.UpdateDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "SubmitUpdate")

Running the Collector:

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	// Expose metrics endpoint
	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/engine: Records applied updates, conflicts, and sync outcomes
  - pkg/broadcast: Tracks fan-out volume and failures
  - pkg/acks: Counts recorded and expired acknowledgments
  - pkg/stream: Reports active channels and frame counts
  - pkg/api: Instruments request count and duration, serves /health and /ready
  - pkg/storage: Sampled by the Collector for state gauges
  - Prometheus: Scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Avoid high-cardinality labels (tool IDs, user IDs, event IDs)
  - Keep label count low (< 3 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Automatically calculates elapsed time
  - Supports both simple and vector histograms

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Negligible impact on the update hot path

Collector Overhead:
  - One storage.Stats call per interval
  - Bolt: bucket stats, no row scans
  - Postgres: four COUNT subselects per sample

# Monitoring

Prometheus Queries (PromQL):

Update Throughput:
  - Apply rate: rate(hivesync_updates_applied_total[1m])
  - p95 apply latency: histogram_quantile(0.95, hivesync_update_duration_seconds_bucket)
  - Contention: rate(hivesync_sequence_conflicts_total[5m])

Conflict Health:
  - Resolution rate: rate(hivesync_conflicts_resolved_total[5m])
  - Forced merges: hivesync_conflicts_resolved_total{strategy="merge"}

Delivery Health:
  - Broadcast failures: rate(hivesync_broadcast_failures_total[5m])
  - Open streams: hivesync_streams_active
  - Stale acks: hivesync_acks_pending

API Performance:
  - Request rate: rate(hivesync_api_requests_total[1m])
  - Error rate: rate(hivesync_api_requests_total{status=~"5.."}[1m])
  - p99 latency: histogram_quantile(0.99, hivesync_api_request_duration_seconds_bucket)

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
