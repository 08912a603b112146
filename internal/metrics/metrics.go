package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_queries_total",
			Help: "Merged reading queries by outcome.",
		},
		[]string{"outcome"},
	)
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensor_query_duration_seconds",
			Help:    "Merge engine latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"window"},
	)
	SkippedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_skipped_rows_total",
			Help: "Stored rows skipped while merging.",
		},
		[]string{"source", "reason"},
	)

	CollectorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_collector_runs_total",
			Help: "Collector runs by outcome (ok, error, skipped).",
		},
		[]string{"collector", "outcome"},
	)
	CollectedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_collected_rows_total",
			Help: "Rows appended to the reading store.",
		},
		[]string{"source"},
	)
	CollectorBackoff = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensor_collector_backoff_seconds",
			Help: "Current backoff applied to a failing collector.",
		},
		[]string{"collector"},
	)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensor_vendor_circuit_state",
			Help: "Vendor circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"vendor"},
	)
	MirrorPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_mirror_publishes_total",
			Help: "Readings mirrored to MQTT by outcome.",
		},
		[]string{"outcome"},
	)
)
