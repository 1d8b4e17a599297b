package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// State metrics
	SnapshotsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivesync_snapshots_total",
			Help: "Total number of tool state snapshots",
		},
	)

	EventsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivesync_update_events_total",
			Help: "Total number of stored update events",
		},
	)

	AcksPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivesync_acks_pending",
			Help: "Number of acknowledgment trackers still waiting on required users",
		},
	)

	OutboxMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivesync_broadcast_outbox_messages",
			Help: "Total number of broadcast messages retained in the outbox",
		},
	)

	// Engine metrics
	UpdatesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivesync_updates_applied_total",
			Help: "Total number of updates applied by update type",
		},
		[]string{"update_type"},
	)

	UpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hivesync_update_duration_seconds",
			Help:    "Time taken to sequence and persist an update in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SequenceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hivesync_sequence_conflicts_total",
			Help: "Total number of sequence allocation retries caused by concurrent writers",
		},
	)

	ConflictsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivesync_conflicts_resolved_total",
			Help: "Total number of sync conflicts resolved by strategy",
		},
		[]string{"strategy"},
	)

	SyncRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivesync_sync_requests_total",
			Help: "Total number of state reconciliation requests by outcome",
		},
		[]string{"result"},
	)

	// Broadcast metrics
	BroadcastsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivesync_broadcasts_sent_total",
			Help: "Total number of broadcast messages fanned out by channel scope",
		},
		[]string{"scope"},
	)

	BroadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivesync_broadcast_failures_total",
			Help: "Total number of broadcast deliveries that failed by channel scope",
		},
		[]string{"scope"},
	)

	// Ack metrics
	AcksRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hivesync_acks_recorded_total",
			Help: "Total number of acknowledgments recorded",
		},
	)

	AcksExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hivesync_acks_expired_total",
			Help: "Total number of acknowledgment trackers expired past their deadline",
		},
	)

	// Stream metrics
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivesync_streams_active",
			Help: "Number of live delivery channels currently open",
		},
	)

	StreamFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivesync_stream_frames_total",
			Help: "Total number of frames written to live streams by frame type",
		},
		[]string{"type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivesync_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hivesync_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(AcksPending)
	prometheus.MustRegister(OutboxMessages)
	prometheus.MustRegister(UpdatesApplied)
	prometheus.MustRegister(UpdateDuration)
	prometheus.MustRegister(SequenceConflicts)
	prometheus.MustRegister(ConflictsResolved)
	prometheus.MustRegister(SyncRequests)
	prometheus.MustRegister(BroadcastsSent)
	prometheus.MustRegister(BroadcastFailures)
	prometheus.MustRegister(AcksRecorded)
	prometheus.MustRegister(AcksExpired)
	prometheus.MustRegister(StreamsActive)
	prometheus.MustRegister(StreamFrames)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
