// Package metrics exposes build and serve metrics over prometheus and the
// tracer used around route discovery, endpoint writes and content
// resolution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the collectors.
type Config struct {
	// Namespace prefixes every metric name (default: "pagepack").
	Namespace string

	// Buckets are the histogram buckets for write durations.
	Buckets []float64

	// Registry receives the collectors. A fresh registry is used when nil so
	// several projects in one process never collide.
	Registry *prometheus.Registry
}

// Option configures Metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "pagepack",
		Buckets:   prometheus.DefBuckets,
	}
}

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	endpointWrites        *prometheus.CounterVec
	endpointWriteDuration *prometheus.HistogramVec
	routesComputations    *prometheus.CounterVec
	deliveries            *prometheus.CounterVec
	subscriptionsActive   prometheus.Gauge
	contentRequests       *prometheus.CounterVec
	imageCache            *prometheus.CounterVec
	invalidations         prometheus.Counter
}

// New registers the collectors.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		registry: config.Registry,

		endpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "endpoint_writes_total",
			Help:      "Endpoint writes by endpoint kind and outcome",
		}, []string{"kind", "status"}),

		endpointWriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "endpoint_write_duration_seconds",
			Help:      "Time spent compiling and writing an endpoint",
			Buckets:   config.Buckets,
		}, []string{"kind"}),

		routesComputations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "routes_computations_total",
			Help:      "Route discovery computations by outcome",
		}, []string{"status"}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "subscription_deliveries_total",
			Help:      "Subscription callback deliveries by outcome",
		}, []string{"status"}),

		subscriptionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "subscriptions_active",
			Help:      "Subscriptions currently running",
		}),

		contentRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "content_requests_total",
			Help:      "Content source resolutions by result",
		}, []string{"result"}),

		imageCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "image_cache_total",
			Help:      "Image optimization cache lookups",
		}, []string{"result"}),

		invalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "invalidations_total",
			Help:      "Computations invalidated by file changes",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveEndpointWrite records one WriteToDisk call.
func (m *Metrics) ObserveEndpointWrite(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.endpointWrites.WithLabelValues(kind, status(err)).Inc()
	m.endpointWriteDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RoutesComputed records one route discovery.
func (m *Metrics) RoutesComputed(err error) {
	if m == nil {
		return
	}
	m.routesComputations.WithLabelValues(status(err)).Inc()
}

// Delivery records one subscription callback invocation.
func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.deliveries.WithLabelValues("success").Inc()
		return
	}
	m.deliveries.WithLabelValues("error").Inc()
}

// SubscriptionStarted increments the active subscription gauge.
func (m *Metrics) SubscriptionStarted() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Inc()
}

// SubscriptionStopped decrements the active subscription gauge.
func (m *Metrics) SubscriptionStopped() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Dec()
}

// ContentRequest records the outcome of a content source resolution, one of
// "static", "rewrite", "proxy", "not_found" or "error".
func (m *Metrics) ContentRequest(result string) {
	if m == nil {
		return
	}
	m.contentRequests.WithLabelValues(result).Inc()
}

// ImageCache records an image cache lookup.
func (m *Metrics) ImageCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.imageCache.WithLabelValues("hit").Inc()
		return
	}
	m.imageCache.WithLabelValues("miss").Inc()
}

// Invalidated records n computations marked stale by one change.
func (m *Metrics) Invalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidations.Add(float64(n))
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
