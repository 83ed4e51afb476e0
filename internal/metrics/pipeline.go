package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and indexing pipeline metrics.
var (
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailvec",
			Name:      "searches_total",
			Help:      "Total number of search requests",
		},
		[]string{"status"},
	)

	RerankTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailvec",
			Name:      "rerank_total",
			Help:      "Rerank invocations by outcome",
		},
		[]string{"status"}, // "ok" / "error" / "skipped"
	)

	ReconcileDeletionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailvec",
			Name:      "reconcile_deletions_total",
			Help:      "Vector entries scheduled for deletion after read-time drift detection",
		},
	)

	QueueJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailvec",
			Name:      "queue_jobs_total",
			Help:      "Embedding queue jobs by outcome",
		},
		[]string{"outcome"}, // "processed" / "skipped" / "retried" / "dropped"
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailvec",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the ready queue",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers search and queue metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(RerankTotal)
	prometheus.MustRegister(ReconcileDeletionsTotal)
	prometheus.MustRegister(QueueJobsTotal)
	prometheus.MustRegister(QueueDepth)
	pipelineMetricsRegistered = true
}
