// Package metrics exposes Prometheus counters/histograms for the
// orchestrator's five loops, grounded on the teacher's
// github.com/prometheus/client_golang dependency and per-controller metrics
// package family (pkg/controllers/metrics/*), without the node/pod-specific
// metric definitions that have no analogue here.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ReconcileTotal counts reconcile loop iterations per outcome.
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deployctl",
		Subsystem: "controller",
		Name:      "reconcile_total",
		Help:      "Total reconcile loop iterations, by resulting status.",
	}, []string{"status"})

	// LoopDuration observes how long each controller loop tick took.
	LoopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deployctl",
		Subsystem: "controller",
		Name:      "loop_duration_seconds",
		Help:      "Duration of a single controller loop tick.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"loop"})

	// ActivationsTotal counts successful blue/green activations (spec §4.6).
	ActivationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deployctl",
		Subsystem: "controller",
		Name:      "activations_total",
		Help:      "Total times a deployment was atomically marked active.",
	})
)

func init() {
	prometheus.MustRegister(ReconcileTotal, LoopDuration, ActivationsTotal)
}
