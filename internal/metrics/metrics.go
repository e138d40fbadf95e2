// Package metrics holds the process-wide prometheus collectors for checkpool.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

var (
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpool_runs_started_total",
		Help: "Check runs started by the orchestrator",
	})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkpool_runs_finished_total",
		Help: "Check runs finished, by outcome",
	}, []string{"outcome"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkpool_run_duration_seconds",
		Help:    "Wall time of completed check runs",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	FilesParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpool_files_parsed_total",
		Help: "Files parsed by the program builder",
	})

	RegisterHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpool_register_hits_total",
		Help: "Parsed handles served from the file register",
	})

	StyleChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpool_style_checks_total",
		Help: "Files run through the style engine",
	})

	StyleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpool_style_cache_hits_total",
		Help: "Files whose cached style results were reported again",
	})

	WorkerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkpool_worker_exits_total",
		Help: "Worker processes that exited, by whether the exit was expected",
	}, []string{"expected"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkpool_phase_duration_seconds",
		Help:    "Per-worker duration of check phases, as reported back to the orchestrator",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"phase"})

	DiscardedReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpool_discarded_replies_total",
		Help: "Worker replies dropped because their token was no longer live",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
