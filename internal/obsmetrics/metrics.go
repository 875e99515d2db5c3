// Package obsmetrics exposes the pipeline's Prometheus metrics, grounded on
// the teacher's internal/interfaces/http MetricsRegistry: a struct of
// pre-declared vectors registered once at construction, which the
// orchestrator updates directly through the exported fields.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this service publishes.
type Registry struct {
	StageDuration    *prometheus.HistogramVec
	StageOutcomes    *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheQuarantines *prometheus.CounterVec
	RESTPagesFetched *prometheus.CounterVec
	RESTRetries      *prometheus.CounterVec
	CircuitState     *prometheus.GaugeVec
	RateLimiterWait  *prometheus.HistogramVec
	UnresolvedRanges prometheus.Counter
}

// New builds and registers a Registry against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry across table-driven subtests.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "klinefcp_stage_duration_seconds",
				Help:    "Duration of each FCP stage (CACHE, VISION, REST).",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		StageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinefcp_stage_outcomes_total",
				Help: "FCP stage completions by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klinefcp_cache_hits_total",
			Help: "Day-files served directly from the local cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klinefcp_cache_misses_total",
			Help: "Day-files absent from the local cache.",
		}),
		CacheQuarantines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinefcp_cache_quarantines_total",
				Help: "Cache day-files moved to quarantine after a checksum mismatch.",
			},
			[]string{"provider", "symbol"},
		),
		RESTPagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinefcp_rest_pages_fetched_total",
				Help: "REST pages fetched by provider.",
			},
			[]string{"provider"},
		),
		RESTRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klinefcp_rest_retries_total",
				Help: "REST page fetches that required a retry.",
			},
			[]string{"provider", "reason"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "klinefcp_circuit_state",
				Help: "Circuit breaker state by provider (0=closed, 1=half-open, 2=open).",
			},
			[]string{"provider"},
		),
		RateLimiterWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "klinefcp_rate_limiter_wait_seconds",
				Help:    "Time spent blocked on a provider's rate limiter.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"provider"},
		),
		UnresolvedRanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klinefcp_unresolved_ranges_total",
			Help: "Requested ranges accepted as permanently missing after REST exhaustion.",
		}),
	}

	reg.MustRegister(
		r.StageDuration,
		r.StageOutcomes,
		r.CacheHits,
		r.CacheMisses,
		r.CacheQuarantines,
		r.RESTPagesFetched,
		r.RESTRetries,
		r.CircuitState,
		r.RateLimiterWait,
		r.UnresolvedRanges,
	)
	return r
}

// Handler returns the Prometheus scrape handler for /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// CircuitStateValue maps gobreaker's textual states onto the gauge's
// numeric encoding.
func CircuitStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default: // closed
		return 0
	}
}
