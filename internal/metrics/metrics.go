// Package metrics exposes Prometheus collectors for the archival pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

var (
	archivesTotal        *prometheus.CounterVec
	transitionsTotal     *prometheus.CounterVec
	fetchDurationSeconds prometheus.Histogram
	fetchRetriesTotal    prometheus.Counter
	jobsDiscardedTotal   prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		archivesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkradar_archives_total",
				Help: "Archival attempts reaching a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		transitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkradar_transitions_total",
				Help: "State machine transitions written, labeled by target state.",
			},
			[]string{"to_state"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linkradar_fetch_duration_seconds",
				Help:    "Histogram of successful page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkradar_fetch_retries_total",
				Help: "Transient fetch failures that triggered a retry.",
			},
		)

		jobsDiscardedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkradar_jobs_discarded_total",
				Help: "Archival jobs dropped because their records were gone.",
			},
		)
	})
}

// ObserveTerminal counts an archive reaching a terminal state.
func ObserveTerminal(state archive.State) {
	if archivesTotal == nil {
		return
	}
	archivesTotal.WithLabelValues(string(state)).Inc()
}

// ObserveTransition counts a written transition.
func ObserveTransition(to archive.State) {
	if transitionsTotal == nil {
		return
	}
	transitionsTotal.WithLabelValues(string(to)).Inc()
}

// ObserveFetchDuration records the latency of a completed fetch.
func ObserveFetchDuration(d time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.Observe(d.Seconds())
}

// ObserveRetry counts a scheduled retry after a transient failure.
func ObserveRetry() {
	if fetchRetriesTotal == nil {
		return
	}
	fetchRetriesTotal.Inc()
}

// ObserveDiscard counts a job dropped for a missing record.
func ObserveDiscard() {
	if jobsDiscardedTotal == nil {
		return
	}
	jobsDiscardedTotal.Inc()
}
