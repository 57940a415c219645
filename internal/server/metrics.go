package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	activeUsers prometheus.GaugeFunc
	events      *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	dropped     prometheus.Counter
}

func newMetrics(presence *PresenceTable) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gochat_connections",
			Help: "Open WebSocket connections, authenticated or not.",
		}),
		activeUsers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gochat_active_users",
			Help: "Identities in the presence table.",
		}, func() float64 { return float64(presence.Len()) }),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_events_total",
			Help: "Inbound client events by name.",
		}, []string{"event"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gochat_store_errors_total",
			Help: "Message store failures by operation.",
		}, []string{"op"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gochat_dropped_events_total",
			Help: "Inbound events discarded by the per-connection rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.connections,
		m.activeUsers,
		m.events,
		m.storeErrors,
		m.dropped,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
