package wsapi

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the WebSocket API Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Connections      prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	Disconnects      *prometheus.CounterVec
	Backpressure     *prometheus.CounterVec

	// Mirrors for the JSON metrics endpoint.
	received atomic.Int64
	sent     atomic.Int64
}

// MetricsSnapshot is the JSON view of Metrics.
type MetricsSnapshot struct {
	MessagesReceived int64 `json:"messages_received"`
	MessagesSent     int64 `json:"messages_sent"`
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "openpeerpower_websocket_connections",
			Help: "Number of authenticated WebSocket connections",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "openpeerpower_websocket_messages_received_total",
			Help: "Total number of command frames received",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "openpeerpower_websocket_messages_sent_total",
			Help: "Total number of frames written to clients",
		}),
		Disconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openpeerpower_websocket_disconnects_total",
				Help: "Authenticated connections closed, by reason",
			},
			[]string{"reason"},
		),
		Backpressure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openpeerpower_websocket_backpressure_closes_total",
				Help: "Connections closed for not reading fast enough, by limit",
			},
			[]string{"limit"},
		),
	}
}

// Snapshot returns the counters for the JSON metrics endpoint.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		MessagesReceived: m.received.Load(),
		MessagesSent:     m.sent.Load(),
	}
}

func (m *Metrics) connected() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) disconnected(reason string) {
	if m != nil {
		m.Connections.Dec()
		m.Disconnects.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) messageReceived() {
	if m != nil {
		m.MessagesReceived.Inc()
		m.received.Add(1)
	}
}

func (m *Metrics) messageSent() {
	if m != nil {
		m.MessagesSent.Inc()
		m.sent.Add(1)
	}
}

func (m *Metrics) backpressure(limit string) {
	if m != nil {
		m.Backpressure.WithLabelValues(limit).Inc()
	}
}
