package benchmark

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	iterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p11bench_iterations_total",
			Help: "Number of measured iterations completed",
		},
		[]string{"variant"},
	)
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p11bench_outcomes_total",
			Help: "Number of runs by outcome",
		},
		[]string{"variant", "outcome"},
	)
	iterationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "p11bench_iteration_seconds",
			Help:    "Latency of the measured operation",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 20),
		},
		[]string{"variant"},
	)
)
