package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusly_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fusly_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	mappingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusly_mappings_created_total",
			Help: "Shorten results by kind (random, vanity, existing).",
		},
		[]string{"kind"},
	)

	resolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusly_resolves_total",
			Help: "Resolve outcomes.",
		},
		[]string{"outcome"},
	)

	VisitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusly_visit_record_failures_total",
		Help: "Visits that could not be recorded.",
	})

	codeCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusly_code_collisions_total",
		Help: "Random code candidates that were already taken.",
	})
)

// Shorten outcomes.
const (
	KindRandom   = "random"
	KindVanity   = "vanity"
	KindExisting = "existing"
)

// Resolve outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeDeleted     = "deleted"
	OutcomeUnavailable = "unavailable"
)

func RecordShorten(kind string) { mappingsCreated.WithLabelValues(kind).Inc() }

func RecordResolve(outcome string) { resolves.WithLabelValues(outcome).Inc() }

func RecordVisitFailure() { VisitFailures.Inc() }

func RecordCollision() { codeCollisions.Inc() }
