// Package metrics holds the Prometheus instruments for the MLLP listener.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional metrics dependency without branching at every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hl7gateway"

// Metrics holds Prometheus metrics for the listener and its sessions
type Metrics struct {
	listenerUp        prometheus.Gauge
	connectionsTotal  prometheus.Counter
	activeSessions    prometheus.Gauge
	bytesReceived     prometheus.Counter
	messagesTotal     *prometheus.CounterVec
	frameErrors       *prometheus.CounterVec
	connectionErrors  prometheus.Counter
	processingLatency prometheus.Histogram
}

// New creates the metrics and registers them with reg. A nil registerer
// returns nil metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		listenerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "up",
			Help:      "1 while the MLLP listener is accepting connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connections_total",
			Help:      "Total accepted TCP connections",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "active_sessions",
			Help:      "Connections currently being handled",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from clients",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Messages acknowledged, by message type and ack code",
		}, []string{"message_type", "ack_code"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frame_errors_total",
			Help:      "Frames that failed below the HL7 layer",
		}, []string{"reason"}),
		connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connection_errors_total",
			Help:      "Read, write and timeout failures on client connections",
		}),
		processingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "processing_duration_seconds",
			Help:      "Time from a complete frame to the ack being written",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}),
	}

	reg.MustRegister(
		m.listenerUp,
		m.connectionsTotal,
		m.activeSessions,
		m.bytesReceived,
		m.messagesTotal,
		m.frameErrors,
		m.connectionErrors,
		m.processingLatency,
	)
	return m
}

// ListenerUp sets the listener gauge
func (m *Metrics) ListenerUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.listenerUp.Set(1)
	} else {
		m.listenerUp.Set(0)
	}
}

// SessionOpened records an accepted connection
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeSessions.Inc()
}

// SessionClosed records a finished connection
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// BytesReceived adds n read bytes
func (m *Metrics) BytesReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// MessageHandled records an acknowledged message
func (m *Metrics) MessageHandled(messageType, ackCode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if messageType == "" {
		messageType = "unknown"
	}
	m.messagesTotal.WithLabelValues(messageType, ackCode).Inc()
	m.processingLatency.Observe(elapsed.Seconds())
}

// FrameError records a framing, encoding or size failure
func (m *Metrics) FrameError(reason string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

// ConnectionError records an I/O failure on a session
func (m *Metrics) ConnectionError() {
	if m == nil {
		return
	}
	m.connectionErrors.Inc()
}
