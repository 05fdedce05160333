package metrics

import (
	"time"

	"github.com/mongoreindex/mongoreindex"
)

// Recorder adapts the package-level Prometheus vectors to
// orchestrator.MetricsRecorder.
type Recorder struct{}

// ObservePhase records how long a single phase transition took.
func (Recorder) ObservePhase(collection, index string, phase mongoreindex.Phase, d time.Duration) {
	PhaseHistogram.WithLabelValues(collection, string(phase)).Observe(d.Seconds())
}

// IncFailed records an index reaching the terminal failed phase.
func (Recorder) IncFailed(collection, index string) {
	FailedCounter.WithLabelValues(collection, index).Inc()
}

// IncRetry records a single retryable-error retry.
func (Recorder) IncRetry(collection, index string) {
	RetryCounter.WithLabelValues(collection, index).Inc()
}
