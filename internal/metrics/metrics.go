package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "location_sync_queue_depth",
			Help: "Number of operations waiting in a durable queue slot",
		},
		[]string{"queue"},
	)

	QueuePersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_sync_queue_persistence_errors_total",
			Help: "Queue mutations that could not be written to durable storage",
		},
		[]string{"op"},
	)

	// Dispatcher
	SubmitOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_sync_submit_outcomes_total",
			Help: "Write outcomes returned to callers",
		},
		[]string{"method", "outcome"}, // outcome: sent, queued, rejected, error
	)

	DrainRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_sync_drain_runs_total",
			Help: "Drain cycles by how they ended",
		},
		[]string{"result"}, // emptied, stopped_on_failure, cancelled, skipped
	)

	DrainedOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_sync_drained_operations_total",
			Help: "Queued operations delivered or dead-lettered during drains",
		},
		[]string{"result"}, // sent, dead_lettered
	)

	// Transport
	TransportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_sync_transport_requests_total",
			Help: "Backend requests by operation and result",
		},
		[]string{"op", "result"}, // result: success, transient, rejected
	)

	TransportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "location_sync_transport_duration_seconds",
			Help:    "Backend request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "location_sync_circuit_breaker_state",
			Help: "Transport circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Connectivity
	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "location_sync_connectivity_online",
			Help: "1 when the connectivity monitor reports online",
		},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_sync_connectivity_transitions_total",
			Help: "Observed connectivity transitions",
		},
		[]string{"to"},
	)

	// Cache
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "location_sync_cache_entries",
			Help: "Samples held by the local read cache",
		},
	)
)
