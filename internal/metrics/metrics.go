// Package metrics exposes the Prometheus collectors shared by the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulsegram"

// Metrics bundles the collectors recorded by the HTTP, realtime and social
// layers. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	connectionsActive   prometheus.Gauge
	messagesSent        *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	followTransitions   *prometheus.CounterVec
	droppedSocketEvents prometheus.Counter
}

// New builds a registry holding the Go and process collectors plus the
// service collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Tracks the number of HTTP requests.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Tracks the latencies for HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of accounts with a registered live connection.",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Direct messages persisted, labelled by whether the recipient was online.",
		}, []string{"delivered"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications created, by kind.",
		}, []string{"kind"}),
		followTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_transitions_total",
			Help:      "Follow graph transitions, by resulting status.",
		}, []string{"status"}),
		droppedSocketEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_events_dropped_total",
			Help:      "Outbound socket events dropped because the connection queue was full or closed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.connectionsActive,
		m.messagesSent,
		m.notificationsTotal,
		m.followTransitions,
		m.droppedSocketEvents,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// SetConnections records the current size of the presence registry.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connectionsActive.Set(float64(n))
}

// MessageSent counts a persisted message.
func (m *Metrics) MessageSent(delivered bool) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(strconv.FormatBool(delivered)).Inc()
}

// NotificationCreated counts a persisted notification.
func (m *Metrics) NotificationCreated(kind string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind).Inc()
}

// FollowTransition counts a follow graph transition.
func (m *Metrics) FollowTransition(status string) {
	if m == nil {
		return
	}
	m.followTransitions.WithLabelValues(status).Inc()
}

// SocketEventDropped counts an outbound event that could not be queued.
func (m *Metrics) SocketEventDropped() {
	if m == nil {
		return
	}
	m.droppedSocketEvents.Inc()
}
