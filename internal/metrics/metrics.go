package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecommendationCacheLookups counts cache reads by tier and result (hit, miss, error).
	RecommendationCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_cache_lookups_total",
			Help: "Recommendation cache reads by tier and result",
		},
		[]string{"tier", "result"},
	)

	RecommendationCacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_cache_writes_total",
			Help: "Recommendation cache writes by tier and result",
		},
		[]string{"tier", "result"},
	)

	// RecommendationFallbacks counts tier downgrades, e.g. personalized -> default.
	RecommendationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommendation_fallbacks_total",
			Help: "Recommendation tier fallbacks",
		},
		[]string{"from", "to", "reason"},
	)

	RecommendationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommendation_duration_seconds",
			Help:    "Time to serve a recommendation request by tier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	SearchQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_provider_queries_total",
			Help: "Search provider queries by result (success, failure, rejected)",
		},
		[]string{"result"},
	)

	SearchQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_provider_query_duration_seconds",
			Help:    "Search provider query latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SignalExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interest_signal_extractions_total",
			Help: "Interest signal extractions by source (chats, clicks) and result",
		},
		[]string{"source", "result"},
	)

	RedirectResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redirect_resolutions_total",
			Help: "Redirect token resolutions by result (resolved, not_found, log_failed)",
		},
		[]string{"result"},
	)

	RedirectTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redirect_tokens_issued_total",
			Help: "Redirect tokens created",
		},
	)
)
