package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/emandor/sketchguess/internal/providers"
)

// Registry is exposed on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ProviderAttempts, ProviderDuration, GuessTotal, GuessCacheHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ProviderAttempts counts provider calls by outcome.
var ProviderAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sketchguess_provider_attempts_total",
		Help: "Provider calls by outcome",
	},
	[]string{"provider", "outcome"}, // ok | error
)

var ProviderDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sketchguess_provider_duration_seconds",
		Help:    "Provider call latency in seconds",
		Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32, 64},
	},
	[]string{"provider"},
)

// GuessTotal counts guess requests by final status.
var GuessTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sketchguess_guess_total",
		Help: "Guess requests by final status",
	},
	[]string{"status"}, // ok | exhausted | client_error | error
)

var GuessCacheHits = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sketchguess_guess_cache_hits_total",
		Help: "Guesses answered from cache",
	},
)

// Observer feeds strategy attempts into the provider metrics.
type Observer struct{}

func (Observer) Attempt(p providers.SourceName, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ProviderAttempts.WithLabelValues(string(p), outcome).Inc()
	ProviderDuration.WithLabelValues(string(p)).Observe(d.Seconds())
}
