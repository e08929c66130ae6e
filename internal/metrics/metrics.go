package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts control-loop invocations by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scaledown",
			Name:      "runs_total",
			Help:      "Total scale-down invocations grouped by outcome",
		},
		[]string{"outcome"},
	)

	// Candidates tracks the idle candidates found by the last invocation.
	Candidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scaledown",
			Name:      "candidates",
			Help:      "Idle nodes selected by the most recent invocation",
		},
	)

	// RemovalsTotal counts removal requests by result (submitted, failed).
	RemovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scaledown",
			Name:      "removals_total",
			Help:      "Node removal requests grouped by result",
		},
		[]string{"result"},
	)

	// SkippedTotal counts targets skipped because of their power state.
	SkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scaledown",
			Name:      "skipped_total",
			Help:      "Targets skipped because their power state is transitional or unknown",
		},
		[]string{"power_state"},
	)

	// SweepRemovedTotal counts stopped or deallocated nodes removed by the sweep.
	SweepRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scaledown",
			Name:      "sweep_removed_total",
			Help:      "Stopped or deallocated nodes removed by the sweep",
		},
	)

	// RunDuration tracks control-loop invocation time.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scaledown",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete scale-down invocation",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

// RecordRun records one finished invocation.
func RecordRun(outcome string, candidates int, elapsed time.Duration) {
	RunsTotal.WithLabelValues(outcome).Inc()
	Candidates.Set(float64(candidates))
	RunDuration.Observe(elapsed.Seconds())
}

// RecordRemovals records the per-node results of one fan-out.
func RecordRemovals(submitted, failed int) {
	if submitted > 0 {
		RemovalsTotal.WithLabelValues("submitted").Add(float64(submitted))
	}
	if failed > 0 {
		RemovalsTotal.WithLabelValues("failed").Add(float64(failed))
	}
}
