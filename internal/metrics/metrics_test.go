package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.ObserveRequest("/api/:table", "GET", "200", 0.01)
	m.ObserveRequest("/api/:table", "GET", "200", 0.02)
	m.CacheResult("products", "hit")
	m.ClientConnected("products")
	m.ClientConnected("products")
	m.ClientDisconnected("products")
	m.Broadcast("products", "queued")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/api/:table", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookup.WithLabelValues("products", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSClients.WithLabelValues("products")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tablegate_http_requests_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("r", "GET", "200", 1)
		m.CacheResult("t", "miss")
		m.ClientConnected("t")
		m.ClientDisconnected("t")
		m.Broadcast("t", "dropped")
	})
}
