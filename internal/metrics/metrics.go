// Package metrics collects and exposes Prometheus metrics for the adapter and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session resolution outcomes.
const (
	ResolutionAnonymous  = "anonymous"
	ResolutionResolved   = "resolved"
	ResolutionUnresolved = "unresolved"
)

// Collector records adapter, session and request metrics.
type Collector struct {
	operations      *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector builds a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_adapter_operations_total",
			Help: "Adapter operations by outcome.",
		}, []string{"operation", "outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authbridge_session_resolutions_total",
			Help: "Session cookie resolutions by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authbridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		c.operations,
		c.resolutions,
		c.requestDuration,
	)

	return c
}

// RecordOperation counts one adapter operation outcome.
func (c *Collector) RecordOperation(operation, outcome string) {
	c.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordSessionResolution counts one session middleware outcome.
func (c *Collector) RecordSessionResolution(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

// RecordRequest observes the latency of a served request.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
