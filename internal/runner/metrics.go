package runner

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/gtrunner/internal/model"
)

var (
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gtrunner_active_workers",
			Help: "Number of currently running worker processes.",
		},
	)

	workerRuntime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gtrunner_worker_runtime_seconds",
			Help:    "Wall clock runtime of worker processes, in seconds.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	traceBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gtrunner_trace_bytes_total",
			Help: "Total bytes of worker output written to trace files.",
		},
	)

	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtrunner_worker_results_total",
			Help: "Total number of test case results extracted from worker output.",
		},
		[]string{"verdict"},
	)
)

func init() {
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(workerRuntime)
	prometheus.MustRegister(traceBytesTotal)
	prometheus.MustRegister(resultsTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, v := range []string{
		model.VerdictPass, model.VerdictSkip, model.VerdictFail,
		model.VerdictCrash, model.VerdictChecker, model.VerdictError,
	} {
		resultsTotal.WithLabelValues(v)
	}
}
