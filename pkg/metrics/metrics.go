// Package metrics 定义了服务暴露给 Prometheus 的指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Router decision outcomes.
const (
	OutcomeCacheHit   = "cache_hit"
	OutcomeClassified = "classified"
	OutcomeFallback   = "fallback"
)

var (
	RouterDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_router_decisions_total",
			Help: "Table router decisions by outcome.",
		},
		[]string{"outcome"},
	)
	ClassificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_classification_failures_total",
			Help: "Table classification calls that fell back to the full schema.",
		},
		[]string{"reason"},
	)
	DescriptionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_description_failures_total",
			Help: "Table description generations that failed and used empty descriptions.",
		},
	)
	completionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbchat_completion_latency_ms",
			Help:    "Completion service latency in milliseconds by call purpose.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"purpose"},
	)
	SnapshotBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_snapshot_builds_total",
			Help: "Snapshot builds by final status.",
		},
		[]string{"status"},
	)
	snapshotBuildDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_snapshot_build_duration_ms",
			Help:    "Snapshot build duration in milliseconds.",
			Buckets: []float64{100, 500, 1000, 5000, 15000, 60000, 300000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		RouterDecisions,
		ClassificationFailures,
		DescriptionFailures,
		completionLatencyMs,
		SnapshotBuilds,
		snapshotBuildDurationMs,
	)
}

func ObserveRouterDecision(outcome string) {
	RouterDecisions.WithLabelValues(outcome).Inc()
}

func IncrementClassificationFailure(reason string) {
	ClassificationFailures.WithLabelValues(reason).Inc()
}

func IncrementDescriptionFailure() {
	DescriptionFailures.Inc()
}

func ObserveCompletion(purpose string, elapsed time.Duration) {
	completionLatencyMs.WithLabelValues(purpose).Observe(float64(elapsed.Milliseconds()))
}

func ObserveSnapshotBuild(status string, elapsed time.Duration) {
	SnapshotBuilds.WithLabelValues(status).Inc()
	snapshotBuildDurationMs.Observe(float64(elapsed.Milliseconds()))
}
