package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_session_transitions_total",
			Help: "Lifecycle transitions by target state",
		},
		[]string{"operation", "state"},
	)

	LoginOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_login_outcomes_total",
			Help: "Authentication attempts by outcome",
		},
		[]string{"outcome"},
	)

	RiskVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_risk_verdicts_total",
			Help: "Risk evaluations by verdict",
		},
		[]string{"verdict"},
	)

	ProfileMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_profile_mutations_total",
			Help: "Profile mutations by operation and result",
		},
		[]string{"operation", "result"},
	)

	DiscardedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_session_discarded_total",
			Help: "Cached sessions discarded during resume",
		},
	)
)
