package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intouch_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intouch_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// RelationOperations counts relationship engine calls by operation and outcome.
	RelationOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intouch_relation_operations_total",
		Help: "Relationship operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// ChatOperations counts chat engine calls by operation and outcome.
	ChatOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intouch_chat_operations_total",
		Help: "Chat operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// MessagesSaved counts persisted chat messages by type.
	MessagesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intouch_messages_saved_total",
		Help: "Total number of chat messages persisted",
	}, []string{"message_type"})

	// WebSocketConnectionsTotal is the gauge of open WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intouch_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketEventsTotal counts WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intouch_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intouch_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"component", "reason"})

	// UploadBytes records the size of stored blobs by kind.
	UploadBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intouch_upload_bytes",
		Help:    "Size of stored uploads in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	}, []string{"kind"})
)

// Outcome labels an operation result for the operation counters.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
