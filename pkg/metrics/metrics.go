// Package metrics exposes Prometheus instrumentation for the queue and socket.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "resync"
)

type Metrics struct {
	registry *prometheus.Registry

	QueueEnqueuedTotal        prometheus.Counter
	QueueDeliveredTotal       prometheus.Counter
	QueueDroppedTotal         prometheus.Counter
	QueueAttemptFailuresTotal prometheus.Counter
	QueueDrainsTotal          *prometheus.CounterVec
	QueueSize                 prometheus.Gauge

	SocketReconnectsTotal prometheus.Counter
	SocketMessagesTotal   *prometheus.CounterVec
	SocketState           prometheus.Gauge
}

// New creates the collectors and registers them on reg.
// When reg is nil a fresh registry is used; see Handler.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		QueueEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of requests added to the offline queue",
		}),
		QueueDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "delivered_total",
			Help:      "Total number of queued requests delivered successfully",
		}),
		QueueDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Total number of queued requests dropped after exhausting their attempts",
		}),
		QueueAttemptFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "attempt_failures_total",
			Help:      "Total number of failed delivery attempts",
		}),
		QueueDrainsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drains_total",
			Help:      "Total number of drain passes by outcome",
		}, []string{"outcome"}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of requests currently waiting in the offline queue",
		}),
		SocketReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "reconnects_total",
			Help:      "Total number of scheduled reconnection attempts",
		}),
		SocketMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "messages_total",
			Help:      "Total number of socket messages by direction",
		}, []string{"direction"}),
		SocketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "state",
			Help:      "Current socket state (0=idle 1=connecting 2=open 3=closing 4=closed)",
		}),
	}

	reg.MustRegister(
		m.QueueEnqueuedTotal,
		m.QueueDeliveredTotal,
		m.QueueDroppedTotal,
		m.QueueAttemptFailuresTotal,
		m.QueueDrainsTotal,
		m.QueueSize,
		m.SocketReconnectsTotal,
		m.SocketMessagesTotal,
		m.SocketState,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Enqueued(size int) {
	if m == nil {
		return
	}
	m.QueueEnqueuedTotal.Inc()
	m.QueueSize.Set(float64(size))
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.QueueDeliveredTotal.Inc()
}

func (m *Metrics) AttemptFailed() {
	if m == nil {
		return
	}
	m.QueueAttemptFailuresTotal.Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.QueueDroppedTotal.Inc()
}

// Drained records a finished drain pass and the remaining queue size.
// outcome is one of "empty", "complete", "partial", "offline" or "skipped".
func (m *Metrics) Drained(outcome string, size int) {
	if m == nil {
		return
	}
	m.QueueDrainsTotal.WithLabelValues(outcome).Inc()
	m.QueueSize.Set(float64(size))
}

func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.SocketReconnectsTotal.Inc()
}

// Message counts a socket frame; direction is "in", "out" or "dropped".
func (m *Metrics) Message(direction string) {
	if m == nil {
		return
	}
	m.SocketMessagesTotal.WithLabelValues(direction).Inc()
}

func (m *Metrics) SetSocketState(state int) {
	if m == nil {
		return
	}
	m.SocketState.Set(float64(state))
}
