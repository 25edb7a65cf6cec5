// Package metrics holds the Prometheus collectors shared by the HTTP, cache
// and WebSocket layers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a private registry plus the collectors registered on it. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests    *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	CacheLookup *prometheus.CounterVec
	WSClients   *prometheus.GaugeVec
	WSMessages  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablegate",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tablegate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		CacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablegate",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by table and result (hit, miss, error).",
		}, []string{"table", "result"}),
		WSClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tablegate",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket subscribers by table.",
		}, []string{"table"}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablegate",
			Name:      "websocket_broadcast_messages_total",
			Help:      "Broadcast deliveries by table and outcome (queued, dropped).",
		}, []string{"table", "outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.Latency, m.CacheLookup, m.WSClients, m.WSMessages,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, status).Inc()
	m.Latency.WithLabelValues(route, method).Observe(seconds)
}

func (m *Metrics) CacheResult(table, result string) {
	if m == nil {
		return
	}
	m.CacheLookup.WithLabelValues(table, result).Inc()
}

func (m *Metrics) ClientConnected(table string) {
	if m == nil {
		return
	}
	m.WSClients.WithLabelValues(table).Inc()
}

func (m *Metrics) ClientDisconnected(table string) {
	if m == nil {
		return
	}
	m.WSClients.WithLabelValues(table).Dec()
}

func (m *Metrics) Broadcast(table, outcome string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(table, outcome).Inc()
}
