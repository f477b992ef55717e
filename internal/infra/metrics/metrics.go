// Package metrics exposes Prometheus metrics for the session engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PrefetchTotal counts AI prefetch pipelines by outcome.
	PrefetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turntable_prefetch_total",
			Help: "AI prefetch pipelines by outcome",
		},
		[]string{"outcome"},
	)
	// PrefetchDuration observes how long a prefetch pipeline runs.
	PrefetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turntable_prefetch_duration_seconds",
			Help:    "Duration of AI prefetch pipelines",
			Buckets: prometheus.DefBuckets,
		},
	)
	// MatchConfidence observes the confidence of accepted catalog matches.
	MatchConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turntable_match_confidence",
			Help:    "Confidence score of accepted catalog matches",
			Buckets: []float64{100, 125, 150, 175, 200},
		},
	)
	// TracksStarted counts tracks started by who picked them.
	TracksStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turntable_tracks_started_total",
			Help: "Tracks started, by selector",
		},
		[]string{"selected_by"},
	)
	// PollErrors counts failed player polls.
	PollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turntable_poll_errors_total",
			Help: "Failed currently-playing polls",
		},
	)
)

func init() {
	prometheus.MustRegister(PrefetchTotal, PrefetchDuration, MatchConfidence, TracksStarted, PollErrors)
}

// Handler returns the HTTP handler serving the metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
