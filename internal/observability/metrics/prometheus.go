// Package metrics provides Prometheus metrics for the review services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-rxreview/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	SessionsCreated       prometheus.Counter
	SessionsActive        prometheus.Gauge
	SessionsEvicted       prometheus.Counter
	AIRequests            *prometheus.CounterVec
	AIRequestDuration     prometheus.Histogram
	SuggestionsNormalized prometheus.Counter
	SuggestionsDropped    prometheus.Counter
	StaleResponses        prometheus.Counter
	DocumentsComposed     prometheus.Counter
	DocumentsExported     *prometheus.CounterVec
	RateLimited           prometheus.Counter
	AuditEventsPublished  prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates the metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "review_sessions_created_total",
			Help: "Total review sessions created",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "review_sessions_active",
			Help: "Review sessions currently held in memory",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "review_sessions_evicted_total",
			Help: "Idle review sessions evicted",
		}),
		AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "AI prescription requests by outcome",
		}, []string{"outcome"}),
		AIRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI prescription request latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60},
		}),
		SuggestionsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suggestions_normalized_total",
			Help: "Suggestions produced by the normalizer",
		}),
		SuggestionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suggestions_dropped_total",
			Help: "Response items dropped during normalization",
		}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ai_stale_responses_total",
			Help: "AI responses discarded because a newer request began",
		}),
		DocumentsComposed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_composed_total",
			Help: "Documents composed from approved items",
		}),
		DocumentsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "documents_exported_total",
			Help: "Document exports by outcome",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		AuditEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_published_total",
			Help: "Audit events relayed from the outbox",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.SessionsCreated,
		m.SessionsActive,
		m.SessionsEvicted,
		m.AIRequests,
		m.AIRequestDuration,
		m.SuggestionsNormalized,
		m.SuggestionsDropped,
		m.StaleResponses,
		m.DocumentsComposed,
		m.DocumentsExported,
		m.RateLimited,
		m.AuditEventsPublished,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveBreaker records a circuit breaker transition; it fits
// circuitbreaker.Config.OnStateChange
func (m *Metrics) ObserveBreaker(name string, to circuitbreaker.State) {
	var v float64
	switch to {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
