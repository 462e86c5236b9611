package secretstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects handshake and box stream counters. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	handshakes        *prometheus.CounterVec
	handshakeFailures *prometheus.CounterVec
	handshakeLatency  *prometheus.HistogramVec
	packetsSent       prometheus.Counter
	packetsReceived   prometheus.Counter
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	decryptFailures   prometheus.Counter
	connsRejected     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg, unless reg
// is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secretstream",
			Name:      "handshakes_completed_total",
			Help:      "Handshakes completed successfully, by role.",
		}, []string{"role"}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secretstream",
			Name:      "handshakes_failed_total",
			Help:      "Handshakes that failed, by role and step.",
		}, []string{"role", "step"}),
		handshakeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "secretstream",
			Name:      "handshake_duration_seconds",
			Help:      "Duration of successful handshakes, by role.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"role"}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secretstream",
			Name:      "packets_sent_total",
			Help:      "Box stream packets sent, excluding goodbye.",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secretstream",
			Name:      "packets_received_total",
			Help:      "Box stream packets received, excluding goodbye.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secretstream",
			Name:      "plaintext_bytes_sent_total",
			Help:      "Plaintext bytes sent through box streams.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secretstream",
			Name:      "plaintext_bytes_received_total",
			Help:      "Plaintext bytes received through box streams.",
		}),
		decryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secretstream",
			Name:      "decryption_failures_total",
			Help:      "Box stream packets that failed authentication.",
		}),
		connsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secretstream",
			Name:      "listener_rejected_total",
			Help:      "Incoming connections dropped by the listener rate limit.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.handshakes,
			m.handshakeFailures,
			m.handshakeLatency,
			m.packetsSent,
			m.packetsReceived,
			m.bytesSent,
			m.bytesReceived,
			m.decryptFailures,
			m.connsRejected,
		)
	}
	return m
}

func (m *Metrics) handshakeCompleted(role string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(role).Inc()
	m.handshakeLatency.WithLabelValues(role).Observe(elapsed.Seconds())
}

func (m *Metrics) handshakeFailed(role, step string) {
	if m == nil {
		return
	}
	m.handshakeFailures.WithLabelValues(role, step).Inc()
}

func (m *Metrics) packetSent(n int) {
	if m == nil {
		return
	}
	m.packetsSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) packetReceived(n int) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) decryptionFailed() {
	if m == nil {
		return
	}
	m.decryptFailures.Inc()
}

func (m *Metrics) connectionRejected() {
	if m == nil {
		return
	}
	m.connsRejected.Inc()
}
