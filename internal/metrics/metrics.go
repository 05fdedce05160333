// Package metrics registers Prometheus metrics for the rebuild job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Name constants for metrics labels.
const (
	labelCollection = "collection"
	labelIndex      = "index"
	labelPhase      = "phase"
	labelMethod     = "method"
	labelEndpoint   = "endpoint"
	labelStatusCode = "status_code"
)

var (
	// StatusServer request response time in seconds.
	RequestHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mongoreindex_request_duration_seconds",
		Help:    "StatusServer request response time in seconds",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
	}, []string{labelMethod, labelEndpoint, labelStatusCode})

	// Time spent in each CSC phase.
	PhaseHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mongoreindex_phase_duration_seconds",
		Help:    "Time spent in each Cover-Swap-Cleanup phase",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{labelCollection, labelPhase})

	// Total number of retryable-error retries issued.
	RetryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mongoreindex_retry_count_total",
		Help: "Total number of retries issued for a retryable Mongo error",
	}, []string{labelCollection, labelIndex})

	// Total number of indexes that reached the failed terminal phase.
	FailedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mongoreindex_index_failed_count_total",
		Help: "Total number of indexes that ended a run in the failed phase",
	}, []string{labelCollection, labelIndex})

	// Bytes reclaimed per collection by the compaction stage.
	ReclaimedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mongoreindex_storage_reclaimed_bytes",
		Help: "storageSize bytes reclaimed by the compaction stage",
	}, []string{labelCollection})

	// Total number of orphaned temp indexes classified by the reconciler,
	// partitioned by outcome.
	OrphanCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mongoreindex_orphan_classified_count_total",
		Help: "Total number of orphaned _cover_temp indexes classified by the reconciler",
	}, []string{"outcome"})
)
