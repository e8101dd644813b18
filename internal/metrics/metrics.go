// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	unitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_units_total",
			Help: "Total fetch unit executions, labeled by unit and status.",
		},
		[]string{"unit", "status"},
	)

	unitFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_unit_failures_total",
			Help: "Total failed unit executions, labeled by classified error type.",
		},
		[]string{"unit", "error_type"},
	)

	recordsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_published_total",
			Help: "Total raw records handed to the broker or spill, labeled by unit.",
		},
		[]string{"unit"},
	)

	spillWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_spill_writes_total",
			Help: "Total records spilled to the local fallback directory.",
		},
	)

	normalizeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_normalize_outcomes_total",
			Help: "Normalization outcomes, labeled by result (stored or skip reason).",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Histogram of pipeline run durations, labeled by run type.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"run_type"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUnit records one unit execution.
func ObserveUnit(unit, status string) {
	unitsTotal.WithLabelValues(unit, status).Inc()
}

// ObserveUnitFailure records one classified unit failure.
func ObserveUnitFailure(unit, errorType string) {
	unitFailuresTotal.WithLabelValues(unit, errorType).Inc()
}

// ObserveRecordsPublished adds n to the per-unit published counter.
func ObserveRecordsPublished(unit string, n int) {
	if n > 0 {
		recordsPublishedTotal.WithLabelValues(unit).Add(float64(n))
	}
}

// ObserveSpillWrite counts one fallback spill write.
func ObserveSpillWrite() {
	spillWritesTotal.Inc()
}

// ObserveNormalizeOutcome counts one normalization outcome
// ("stored" or a skip reason).
func ObserveNormalizeOutcome(outcome string) {
	normalizeOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveRunDuration records the duration of a finished pipeline run.
func ObserveRunDuration(runType string, d time.Duration) {
	runDurationSeconds.WithLabelValues(runType).Observe(d.Seconds())
}
