package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service exports. A nil Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SavesTotal         *prometheus.CounterVec
	ResetsTotal        *prometheus.CounterVec
	BlobOperations     *prometheus.CounterVec
	CodeRendersTotal   *prometheus.CounterVec
	ExportsTotal       *prometheus.CounterVec
	OpenEditSessions   prometheus.Gauge
	StoreQueryDuration *prometheus.HistogramVec
}

// NewCollector registers the service metrics on a fresh registry.
func NewCollector(serviceName string) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newCollector(serviceName, registry, registry)
}

func newCollector(serviceName string, registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(registerer)
	return &Collector{
		gatherer: gatherer,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		SavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "records",
			Name:      "saves_total",
			Help:      "Record saves by outcome.",
		}, []string{"outcome"}),

		ResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "records",
			Name:      "resets_total",
			Help:      "Record resets by outcome.",
		}, []string{"outcome"}),

		BlobOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "blobs",
			Name:      "operations_total",
			Help:      "Blob uploads and deletes by namespace and outcome.",
		}, []string{"operation", "namespace", "outcome"}),

		CodeRendersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "artifacts",
			Name:      "code_renders_total",
			Help:      "Code image renders by target and outcome.",
		}, []string{"target", "outcome"}),

		ExportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "artifacts",
			Name:      "exports_total",
			Help:      "Printable card exports by outcome.",
		}, []string{"outcome"}),

		OpenEditSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "sessions",
			Name:      "open",
			Help:      "Current number of open edit sessions.",
		}),

		StoreQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Record store latency distribution.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"operation"}),
	}
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveSave(outcome string) {
	if c == nil {
		return
	}
	c.SavesTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveReset(outcome string) {
	if c == nil {
		return
	}
	c.ResetsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveBlob(operation, namespace, outcome string) {
	if c == nil {
		return
	}
	c.BlobOperations.WithLabelValues(operation, namespace, outcome).Inc()
}

func (c *Collector) ObserveCodeRender(target, outcome string) {
	if c == nil {
		return
	}
	c.CodeRendersTotal.WithLabelValues(target, outcome).Inc()
}

func (c *Collector) ObserveExport(outcome string) {
	if c == nil {
		return
	}
	c.ExportsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveStoreQuery(operation string, seconds float64) {
	if c == nil {
		return
	}
	c.StoreQueryDuration.WithLabelValues(operation).Observe(seconds)
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.OpenEditSessions.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.OpenEditSessions.Dec()
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, path, status string, seconds float64) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, path, status).Inc()
	c.RequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
