package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements the Provider interface using Prometheus
type PrometheusProvider struct {
	registry          *prometheus.Registry
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	requestsInFlight  prometheus.Gauge
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	cacheSets         *prometheus.CounterVec
	cacheDeletes      *prometheus.CounterVec
	cacheEvictions    *prometheus.CounterVec
	cacheSize         *prometheus.GaugeVec
	operationDuration *prometheus.HistogramVec
	levelErrors       *prometheus.CounterVec
	invalidations     *prometheus.CounterVec
	panics            *prometheus.CounterVec
}

// NewPrometheusProvider creates a new Prometheus metrics provider.
// A nil config uses DefaultConfig. Each provider owns its registry, so
// several providers can coexist in one process.
func NewPrometheusProvider(config *Config) *PrometheusProvider {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	ns := config.Namespace

	return &PrometheusProvider{
		registry: registry,
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   config.HTTPRequestBuckets,
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"level"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"level"},
		),
		cacheSets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_sets_total",
				Help:      "Total number of successful cache writes",
			},
			[]string{"level"},
		),
		cacheDeletes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_deletes_total",
				Help:      "Total number of entries removed by delete operations",
			},
			[]string{"level"},
		),
		cacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_evictions_total",
				Help:      "Total number of entries evicted to respect capacity",
			},
			[]string{"level"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "cache_size_items",
				Help:      "Number of items in cache",
			},
			[]string{"level"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "cache_operation_duration_seconds",
				Help:      "Duration of a single cache level call in seconds",
				Buckets:   config.CacheOperationBuckets,
			},
			[]string{"level", "operation"},
		),
		levelErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_level_errors_total",
				Help:      "Total number of failed cache level calls",
			},
			[]string{"level", "operation"},
		),
		invalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "cache_invalidations_total",
				Help:      "Total number of invalidation messages",
			},
			[]string{"source", "direction"},
		),
		panics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
			[]string{"method"},
		),
	}
}

// Registry returns the registry the provider's collectors are registered with
func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

// ResponseWriter wraps http.ResponseWriter to capture status code
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordHTTPRequest implements Provider interface
func (p *PrometheusProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	p.requestTotal.WithLabelValues(method, path, status).Inc()
}

// IncRequestsInFlight implements Provider interface
func (p *PrometheusProvider) IncRequestsInFlight() {
	p.requestsInFlight.Inc()
}

// DecRequestsInFlight implements Provider interface
func (p *PrometheusProvider) DecRequestsInFlight() {
	p.requestsInFlight.Dec()
}

// RecordCacheHit implements Provider interface
func (p *PrometheusProvider) RecordCacheHit(level string) {
	p.cacheHits.WithLabelValues(level).Inc()
}

// RecordCacheMiss implements Provider interface
func (p *PrometheusProvider) RecordCacheMiss(level string) {
	p.cacheMisses.WithLabelValues(level).Inc()
}

// RecordCacheSet implements Provider interface
func (p *PrometheusProvider) RecordCacheSet(level string) {
	p.cacheSets.WithLabelValues(level).Inc()
}

// RecordCacheDelete implements Provider interface
func (p *PrometheusProvider) RecordCacheDelete(level string, count int64) {
	if count <= 0 {
		return
	}
	p.cacheDeletes.WithLabelValues(level).Add(float64(count))
}

// RecordCacheEviction implements Provider interface
func (p *PrometheusProvider) RecordCacheEviction(level string) {
	p.cacheEvictions.WithLabelValues(level).Inc()
}

// UpdateCacheSize implements Provider interface
func (p *PrometheusProvider) UpdateCacheSize(level string, size int64) {
	p.cacheSize.WithLabelValues(level).Set(float64(size))
}

// RecordCacheOperation implements Provider interface
func (p *PrometheusProvider) RecordCacheOperation(level, operation string, duration time.Duration, err error) {
	p.operationDuration.WithLabelValues(level, operation).Observe(duration.Seconds())
	if err != nil {
		p.levelErrors.WithLabelValues(level, operation).Inc()
	}
}

// RecordInvalidation implements Provider interface
func (p *PrometheusProvider) RecordInvalidation(source, direction string) {
	p.invalidations.WithLabelValues(source, direction).Inc()
}

// RecordPanic implements Provider interface
func (p *PrometheusProvider) RecordPanic(methodName string) {
	p.panics.WithLabelValues(methodName).Inc()
}

// Handler implements Provider interface
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Middleware returns an HTTP middleware that collects metrics labelled by URL path
func (p *PrometheusProvider) Middleware(next http.Handler) http.Handler {
	return p.MiddlewareWithPathFunc(func(r *http.Request) string { return r.URL.Path })(next)
}

// MiddlewareWithPathFunc returns an HTTP middleware that labels requests with
// pathFunc, so routers can report route templates instead of raw paths.
func (p *PrometheusProvider) MiddlewareWithPathFunc(pathFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			p.IncRequestsInFlight()
			defer p.DecRequestsInFlight()

			// Wrap response writer to capture status code
			rw := NewResponseWriter(w)

			next.ServeHTTP(rw, r)

			p.RecordHTTPRequest(r.Method, pathFunc(r), strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}
