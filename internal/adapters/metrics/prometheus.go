// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	registry            *prometheus.Registry
	tileOperations      *prometheus.CounterVec
	tileDuration        *prometheus.HistogramVec
	cacheEvents         *prometheus.CounterVec
	provisions          *prometheus.CounterVec
	provisionDuration   *prometheus.HistogramVec
	outboundMessages    *prometheus.CounterVec
	mapInstances        prometheus.Gauge
	liveHandlers        prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a Prometheus collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "tilework"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		tileOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tile_operations_total",
				Help:      "Total number of worker operations",
			},
			[]string{"operation", "source_type", "status"},
		),

		tileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tile_operation_duration_seconds",
				Help:      "Worker operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "source_type"},
		),

		cacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_cache_events_total",
				Help:      "Offline tile payload cache hits, misses and evictions",
			},
			[]string{"event"},
		),

		provisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_provisions_total",
				Help:      "Total number of database provisioning attempts",
			},
			[]string{"target", "status"},
		),

		provisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_provision_duration_seconds",
				Help:      "Database provisioning duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"target"},
		),

		outboundMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbound_messages_total",
				Help:      "Messages sent to map instances",
			},
			[]string{"type"},
		),

		mapInstances: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "map_instances",
				Help:      "Number of live map instances",
			},
		),

		liveHandlers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_handlers",
				Help:      "Number of live tile handlers",
			},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// IncTileOperation increments the worker operation counter.
func (c *Collector) IncTileOperation(operation, sourceType string, success bool) {
	c.tileOperations.WithLabelValues(operation, sourceType, status(success)).Inc()
}

// ObserveTileDuration records worker operation duration.
func (c *Collector) ObserveTileDuration(operation, sourceType string, duration time.Duration) {
	c.tileDuration.WithLabelValues(operation, sourceType).Observe(duration.Seconds())
}

// IncCacheEvent counts offline cache events.
func (c *Collector) IncCacheEvent(event string) {
	c.cacheEvents.WithLabelValues(event).Inc()
}

// IncProvision increments the provisioning counter.
func (c *Collector) IncProvision(target string, success bool) {
	c.provisions.WithLabelValues(target, status(success)).Inc()
}

// ObserveProvisionDuration records provisioning duration.
func (c *Collector) ObserveProvisionDuration(target string, duration time.Duration) {
	c.provisionDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// IncOutboundMessages counts messages sent to map instances.
func (c *Collector) IncOutboundMessages(msgType string) {
	c.outboundMessages.WithLabelValues(msgType).Inc()
}

// SetMapInstances sets the number of live map instances.
func (c *Collector) SetMapInstances(count int) {
	c.mapInstances.Set(float64(count))
}

// AddLiveHandlers adjusts the number of live handlers.
func (c *Collector) AddLiveHandlers(delta int) {
	c.liveHandlers.Add(float64(delta))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, status(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routeTemplate(r)
		c.IncHTTPRequests(r.Method, path, statusToString(wrapped.statusCode))
		c.ObserveHTTPDuration(r.Method, path, time.Since(start))
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// routeTemplate labels a request by its matched route so that map ids do not
// end up in label values.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
