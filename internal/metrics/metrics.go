// Package metrics exposes Prometheus collectors for booking outcomes,
// notification delivery and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/room-reservations/internal/application"
)

const namespace = "reservations"

// Metrics owns a private registry so tests can create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	bookingOutcomes *prometheus.CounterVec
	bookingDuration *prometheus.HistogramVec
	deliveries      *prometheus.CounterVec
	droppedEvents   *prometheus.CounterVec
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bookingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_outcomes_total",
			Help:      "Terminal states of booking operations.",
		}, []string{"operation", "state", "kind"}),
		bookingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "Latency of booking operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "state"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification delivery attempts per sink.",
		}, []string{"sink", "result"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_dropped_total",
			Help:      "Events dropped before delivery.",
		}, []string{"reason"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bookingOutcomes,
		m.bookingDuration,
		m.deliveries,
		m.droppedEvents,
		m.requestCount,
		m.requestDuration,
	)
	return m
}

// ObserveOutcome implements application.OutcomeObserver.
func (m *Metrics) ObserveOutcome(operation string, state application.State, kind string, elapsed time.Duration) {
	m.bookingOutcomes.WithLabelValues(operation, string(state), kind).Inc()
	m.bookingDuration.WithLabelValues(operation, string(state)).Observe(elapsed.Seconds())
}

// ObserveDelivery implements notify.DeliveryObserver.
func (m *Metrics) ObserveDelivery(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.deliveries.WithLabelValues(sink, result).Inc()
}

// ObserveDropped implements notify.DeliveryObserver.
func (m *Metrics) ObserveDropped(reason string) {
	m.droppedEvents.WithLabelValues(reason).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
