// Package metrics exposes the Prometheus instrumentation for the sync
// server: connection and room gauges, per-op counters, and will firings.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Manager struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	SyncOps           *prometheus.CounterVec
	WillsFired        prometheus.Counter

	rooms   prometheus.GaugeFunc
	entries prometheus.GaugeFunc
}

// StatsSource supplies point-in-time store sizes for the gauges.
type StatsSource interface {
	Stats() (rooms, entries int)
}

func NewManager(src StatsSource) *Manager {
	m := &Manager{
		registry: prometheus.NewRegistry(),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fadechat_active_connections",
			Help: "Currently open sync websocket connections.",
		}),
		SyncOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fadechat_sync_ops_total",
			Help: "Sync operations processed, by op.",
		}, []string{"op"}),
		WillsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fadechat_wills_fired_total",
			Help: "Last-will actions executed on abrupt disconnects.",
		}),
	}

	m.rooms = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fadechat_rooms",
		Help: "Rooms currently stored.",
	}, func() float64 {
		rooms, _ := src.Stats()
		return float64(rooms)
	})
	m.entries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fadechat_store_entries",
		Help: "Entries currently stored across all rooms.",
	}, func() float64 {
		_, entries := src.Stats()
		return float64(entries)
	})

	m.registry.MustRegister(
		m.ActiveConnections,
		m.SyncOps,
		m.WillsFired,
		m.rooms,
		m.entries,
	)
	return m
}

func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
