// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the Prometheus implementation used by the hub and the HTTP middleware.
type Collector struct {
	connections   prometheus.Gauge
	events        *prometheus.CounterVec
	sendFailures  prometheus.Counter
	slowConsumers prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dmchat_ws_connections",
			Help: "Users with a live realtime connection.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmchat_ws_events_total",
			Help: "Inbound realtime events by type.",
		}, []string{"type"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmchat_message_store_failures_total",
			Help: "Messages that could not be stored and were not delivered.",
		}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dmchat_ws_slow_consumers_total",
			Help: "Connections closed because their outbound buffer was full.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dmchat_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dmchat_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		c.connections,
		c.events,
		c.sendFailures,
		c.slowConsumers,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// SetConnections records the number of live connections.
func (c *Collector) SetConnections(n int) {
	c.connections.Set(float64(n))
}

// IncEvent counts one inbound event.
func (c *Collector) IncEvent(eventType string) {
	c.events.WithLabelValues(eventType).Inc()
}

// IncSendFailure counts a message the store rejected.
func (c *Collector) IncSendFailure() {
	c.sendFailures.Inc()
}

// IncSlowConsumer counts a connection closed for falling behind.
func (c *Collector) IncSlowConsumer() {
	c.slowConsumers.Inc()
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
