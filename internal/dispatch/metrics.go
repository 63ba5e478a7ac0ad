package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks dispatcher and gateway activity.
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	opLatency         *prometheus.HistogramVec
	opErrors          *prometheus.CounterVec
	unknownActions    prometheus.Counter
	deliveryFailures  prometheus.Counter
}

// NewMetrics registers dispatcher metrics on reg, falling back to the
// default registerer when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_connections_active",
			Help: "Current number of live transport connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_connections_total",
			Help: "Total connections accepted since start.",
		}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_dispatch_latency_seconds",
			Help:    "Latency for handling dispatcher operations.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"op"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_dispatch_errors_total",
			Help: "Dispatcher operation failures grouped by code.",
		}, []string{"code"}),
		unknownActions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_unknown_actions_total",
			Help: "Inbound message frames carrying an unrecognized action.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_delivery_failures_total",
			Help: "Per-handle push failures absorbed by the delivery gate.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.opLatency,
		m.opErrors,
		m.unknownActions,
		m.deliveryFailures,
	)
	return m
}

// ConnectionOpened records a new live connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

// ConnectionClosed records a connection teardown.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) observeLatency(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.opLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func (m *Metrics) recordError(code string) {
	if m == nil {
		return
	}
	m.opErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) recordUnknownAction() {
	if m == nil {
		return
	}
	m.unknownActions.Inc()
}

func (m *Metrics) recordDeliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}
