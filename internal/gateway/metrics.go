package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes gateway counters on the registry served at /metrics.
type Metrics struct {
	connections   prometheus.Gauge
	subscriptions prometheus.Gauge
	broadcasts    *prometheus.CounterVec
	forcedCloses  prometheus.Counter
}

// NewMetrics registers the gateway metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fms_timer_connections",
			Help: "Live timer control connections.",
		}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fms_timer_subscriptions",
			Help: "Live (timer, topic) group memberships.",
		}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fms_timer_broadcasts_total",
			Help: "Snapshot messages published per topic.",
		}, []string{"topic"}),
		forcedCloses: factory.NewCounter(prometheus.CounterOpts{
			Name: "fms_timer_forced_closes_total",
			Help: "Connections closed with the do-not-reopen code.",
		}),
	}
}
