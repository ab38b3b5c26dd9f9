package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/gtrunner/internal/model"
)

var (
	campaignsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gtrunner_campaigns_started_total",
			Help: "Total number of campaigns started.",
		},
	)

	campaignsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtrunner_campaigns_finished_total",
			Help: "Total number of campaigns finished, by final status.",
		},
		[]string{"status"},
	)

	resultsImported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gtrunner_results_imported_total",
			Help: "Total number of results imported from trace files.",
		},
	)

	tracesPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtrunner_trace_files_pruned_total",
			Help: "Total number of trace files touched by retention sweeps.",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(campaignsStarted)
	prometheus.MustRegister(campaignsFinished)
	prometheus.MustRegister(resultsImported)
	prometheus.MustRegister(tracesPruned)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	campaignsFinished.WithLabelValues(model.StatusDone)
	campaignsFinished.WithLabelValues(model.StatusFailed)
	tracesPruned.WithLabelValues("deleted")
	tracesPruned.WithLabelValues("compacted")
}
