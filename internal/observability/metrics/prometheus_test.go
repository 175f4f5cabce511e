package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxreview/pkg/circuitbreaker"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionsCreated.Inc()
	m.AIRequests.WithLabelValues("ok").Inc()
	m.DocumentsComposed.Add(3)

	out := scrape(t, reg)
	assert.Contains(t, out, "review_sessions_created_total 1")
	assert.Contains(t, out, `ai_requests_total{outcome="ok"} 1`)
	assert.Contains(t, out, "documents_composed_total 3")

	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestObserveBreaker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBreaker("ai", circuitbreaker.StateOpen)
	assert.Contains(t, scrape(t, reg), `circuit_breaker_state{name="ai"} 1`)

	m.ObserveBreaker("ai", circuitbreaker.StateHalfOpen)
	assert.Contains(t, scrape(t, reg), `circuit_breaker_state{name="ai"} 2`)

	m.ObserveBreaker("ai", circuitbreaker.StateClosed)
	assert.Contains(t, scrape(t, reg), `circuit_breaker_state{name="ai"} 0`)
}
