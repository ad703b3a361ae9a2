// ABOUTME: Prometheus metrics for the chat platform
// ABOUTME: Covers the event pipeline, fan-out, sessions, and HTTP traffic

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry so multiple instances
// (one per test, one per server) never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Producer metrics
	eventsProduced  prometheus.Counter
	produceFailures prometheus.Counter
	produceLatency  prometheus.Histogram

	// Consumer metrics
	eventsConsumed   prometheus.Counter
	poisonEvents     prometheus.Counter
	insertFailures   prometheus.Counter
	duplicateEvents  prometheus.Counter
	eventsBroadcast  prometheus.Counter
	receiversLagged  prometheus.Counter
	eventsLostToLag  prometheus.Counter

	// Store metrics
	storeLatency prometheus.Histogram

	// Session metrics
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter

	// HTTP metrics
	httpRequests *prometheus.CounterVec
}

// New creates a Metrics instance with a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		// Producer metrics
		eventsProduced: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_events_produced_total",
			Help: "Total number of events published to the bus",
		}),
		produceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_events_produce_failures_total",
			Help: "Total number of publish attempts that failed",
		}),
		produceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_event_produce_duration_seconds",
			Help:    "Time spent waiting for broker acknowledgement",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),

		// Consumer metrics
		eventsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_events_consumed_total",
			Help: "Total number of events read from the bus",
		}),
		poisonEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_events_poison_total",
			Help: "Total number of undecodable events dropped",
		}),
		insertFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_store_insert_failures_total",
			Help: "Total number of failed message store inserts during consumption",
		}),
		duplicateEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_events_duplicate_total",
			Help: "Total number of redelivered events whose fan-out was suppressed",
		}),
		eventsBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_events_broadcast_total",
			Help: "Total number of event deliveries to session receivers",
		}),
		receiversLagged: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_receivers_lagged_total",
			Help: "Total number of times a slow receiver overflowed its buffer",
		}),
		eventsLostToLag: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_events_lost_to_lag_total",
			Help: "Total number of events overwritten in slow receiver buffers",
		}),

		// Store metrics
		storeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_store_operation_duration_seconds",
			Help:    "Latency of message store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		// Session metrics
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of currently open WebSocket sessions",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_sessions_total",
			Help: "Total number of WebSocket sessions accepted",
		}),

		// HTTP metrics
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
	}

	return m
}

// Handler returns an http.Handler that serves the registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveGauge registers a callback-backed gauge, used for values owned by
// other components (room count, dedupe cache size).
func (m *Metrics) ObserveGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, fn))
}

// Producer tracking
func (m *Metrics) EventProduced() {
	m.eventsProduced.Inc()
}

func (m *Metrics) ProduceFailed() {
	m.produceFailures.Inc()
}

func (m *Metrics) RecordProduceLatency(duration time.Duration) {
	m.produceLatency.Observe(duration.Seconds())
}

// Consumer tracking
func (m *Metrics) EventConsumed() {
	m.eventsConsumed.Inc()
}

func (m *Metrics) PoisonDropped() {
	m.poisonEvents.Inc()
}

func (m *Metrics) InsertFailed() {
	m.insertFailures.Inc()
}

func (m *Metrics) DuplicateSuppressed() {
	m.duplicateEvents.Inc()
}

func (m *Metrics) EventsBroadcast(receivers int) {
	m.eventsBroadcast.Add(float64(receivers))
}

func (m *Metrics) ReceiverLagged(lost uint64) {
	m.receiversLagged.Inc()
	m.eventsLostToLag.Add(float64(lost))
}

// Store tracking
func (m *Metrics) RecordStoreLatency(duration time.Duration) {
	m.storeLatency.Observe(duration.Seconds())
}

// Session tracking
func (m *Metrics) SessionOpened() {
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	m.sessionsActive.Dec()
}

// HTTP tracking
func (m *Metrics) RecordHTTPRequest(method, route string, status int) {
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
}

// statusClass buckets status codes into 2xx/3xx/4xx/5xx to keep label
// cardinality bounded.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
