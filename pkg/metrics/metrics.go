package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the notification pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	published   *prometheus.CounterVec
	consumed    *prometheus.CounterVec
	dispatched  *prometheus.CounterVec
	flushed     *prometheus.CounterVec
	connections prometheus.Gauge
	buffered    prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instaverse_notifications_published_total",
			Help: "Like notifications handled by the producer, by outcome.",
		}, []string{"outcome"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instaverse_notifications_consumed_total",
			Help: "Queue deliveries handled by the consumer, by result.",
		}, []string{"result"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instaverse_notifications_dispatched_total",
			Help: "Notifications routed by the dispatcher, by result.",
		}, []string{"result"}),
		flushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "instaverse_flushed_total",
			Help: "Buffered notifications handled during reconnect flushes, by result.",
		}, []string{"result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "instaverse_stream_connections",
			Help: "Currently registered streaming connections.",
		}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "instaverse_offline_buffered",
			Help: "Notifications waiting in offline buffers.",
		}),
	}
	m.registry.MustRegister(
		m.published, m.consumed, m.dispatched, m.flushed, m.connections, m.buffered,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// IncPublished counts one producer outcome.
func (m *Metrics) IncPublished(outcome string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(outcome).Inc()
}

// IncConsumed counts one queue delivery by what the consumer did with it.
func (m *Metrics) IncConsumed(result string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(result).Inc()
}

// IncDispatched counts one dispatcher result.
func (m *Metrics) IncDispatched(result string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(result).Inc()
}

// AddFlushed counts n backlog entries sent or dropped during a flush.
func (m *Metrics) AddFlushed(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.flushed.WithLabelValues(result).Add(float64(n))
}

// ConnectionOpened records a newly registered stream.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed records a stream leaving the registry.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// AddBuffered moves the offline buffer gauge by delta.
func (m *Metrics) AddBuffered(delta int) {
	if m == nil {
		return
	}
	m.buffered.Add(float64(delta))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
