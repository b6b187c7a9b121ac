// Package metrics holds the Prometheus collectors for analysis jobs, task
// extraction and revision snapshots.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stream_note"

var (
	// jobOutcomes counts finalized analysis runs.
	// Labels: outcome (done, pending, retry, failed, abandoned)
	jobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "jobs_total",
		Help:      "Analysis job runs by outcome",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "job_duration_seconds",
		Help:      "Wall time of one claimed analysis run",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	blocksAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "blocks_analyzed_total",
		Help:      "Blocks marked analyzed",
	})

	tasksExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "tasks_extracted_total",
		Help:      "Tasks written from extraction replies",
	})

	// extractCalls counts LLM calls made by the extractor.
	// Labels: status (ok, retry, error)
	extractCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extractor",
		Name:      "calls_total",
		Help:      "LLM extraction calls by status",
	}, []string{"status"})

	extractLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "extractor",
		Name:      "call_duration_seconds",
		Help:      "LLM extraction call latency",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
	})

	// revisionsCreated counts snapshots written.
	// Labels: reason (auto_save, pre_destructive, restore, pre_restore)
	revisionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "revision",
		Name:      "created_total",
		Help:      "Revisions created by reason",
	}, []string{"reason"})
)

// RecordJob records the outcome and duration of one analysis run.
func RecordJob(outcome string, seconds float64) {
	jobOutcomes.WithLabelValues(outcome).Inc()
	jobDuration.Observe(seconds)
}

// RecordBlock records one analyzed block and the tasks written for it.
func RecordBlock(tasks int) {
	blocksAnalyzed.Inc()
	tasksExtracted.Add(float64(tasks))
}

// RecordExtractCall records one LLM call.
func RecordExtractCall(status string, seconds float64) {
	extractCalls.WithLabelValues(status).Inc()
	extractLatency.Observe(seconds)
}

// RecordRevision records a created revision.
func RecordRevision(reason string) {
	revisionsCreated.WithLabelValues(reason).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
