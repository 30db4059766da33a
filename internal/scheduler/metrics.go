package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pageemu",
		Name:      "sessions_live",
		Help:      "Number of emulated sessions counted against the ceiling.",
	})
	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pageemu",
		Name:      "admission_queue_depth",
		Help:      "Requests waiting in per-user admission queues.",
	})
	metricAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageemu",
		Name:      "admissions_total",
		Help:      "Admission decisions by result (started, queued, drained, rejected).",
	}, []string{"result"})
	metricNavigations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pageemu",
		Name:      "navigations_total",
		Help:      "Page navigations performed by emulated sessions.",
	})
	metricEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageemu",
		Name:      "evictions_total",
		Help:      "Sessions torn down by reason (idle, failure, shutdown).",
	}, []string{"reason"})
	metricRunFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pageemu",
		Name:      "run_failures_total",
		Help:      "Navigation or callback runs that failed or timed out.",
	})
	metricTeardownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pageemu",
		Name:      "teardown_errors_total",
		Help:      "Teardown steps that failed by stage (read, persist, close).",
	}, []string{"stage"})
	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pageemu",
		Name:      "run_duration_seconds",
		Help:      "Duration of navigation plus callback runs.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)
