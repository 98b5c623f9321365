package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the pipeline's prometheus instruments. One instance is
// built per process and threaded through the container, never registered
// globally, so tests can construct their own registries.
type Metrics struct {
	registry *prometheus.Registry

	CollectionRuns    *prometheus.CounterVec
	CollectionRecords *prometheus.CounterVec
	ChangeEvents      *prometheus.CounterVec
	ActiveSources     prometheus.Gauge
	ConnectedClients  prometheus.Gauge
	BroadcastsTotal   prometheus.Counter
	HealthScore       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		CollectionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casewatch",
			Name:      "collection_runs_total",
			Help:      "Collection runs by source and outcome",
		}, []string{"source", "outcome"}),
		CollectionRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casewatch",
			Name:      "collection_records_total",
			Help:      "Raw records collected by source",
		}, []string{"source"}),
		ChangeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casewatch",
			Name:      "change_events_total",
			Help:      "Change events emitted by type",
		}, []string{"type"}),
		ActiveSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "casewatch",
			Name:      "active_sources",
			Help:      "Sources currently healthy and scheduled",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "casewatch",
			Name:      "realtime_clients",
			Help:      "Connected websocket clients",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casewatch",
			Name:      "realtime_broadcasts_total",
			Help:      "Room deliveries performed",
		}),
		HealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "casewatch",
			Name:      "health_score",
			Help:      "Weighted overall health score, 0-100",
		}),
	}

	reg.MustRegister(
		m.CollectionRuns,
		m.CollectionRecords,
		m.ChangeEvents,
		m.ActiveSources,
		m.ConnectedClients,
		m.BroadcastsTotal,
		m.HealthScore,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
