// Package metrics exposes Prometheus counters for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks pipeline activity. Counters only increase; scrape them at
// /metrics.
type Metrics struct {
	JobsDispatched    *prometheus.CounterVec
	JobsCompleted     prometheus.Counter
	JobsFailed        prometheus.Counter
	CallbackQuestions prometheus.Counter
	TreeRowsInserted  prometheus.Counter
}

// New creates the pipeline metrics and registers them on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "palms_jobs_dispatched_total",
			Help: "Jobs dispatched to the external worker, by input type.",
		}, []string{"type"}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "palms_jobs_completed_total",
			Help: "Jobs closed out in a success/completed status.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "palms_jobs_failed_total",
			Help: "Jobs closed out in an error/failed status.",
		}),
		CallbackQuestions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "palms_callback_questions_total",
			Help: "Per-question results persisted from worker callbacks.",
		}),
		TreeRowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "palms_tree_rows_inserted_total",
			Help: "Replicated question rows written by the tree inserter.",
		}),
	}

	reg.MustRegister(m.JobsDispatched, m.JobsCompleted, m.JobsFailed,
		m.CallbackQuestions, m.TreeRowsInserted)
	return m
}
