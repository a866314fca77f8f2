package metrics

import (
	"net/http"
	"time"

	"github.com/bitechdev/StoreCache/pkg/logger"
)

// Provider defines the interface for metric collection
type Provider interface {
	// RecordHTTPRequest records metrics for an HTTP request
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// IncRequestsInFlight increments the in-flight requests counter
	IncRequestsInFlight()

	// DecRequestsInFlight decrements the in-flight requests counter
	DecRequestsInFlight()

	// RecordCacheHit records a cache hit on the named level
	RecordCacheHit(level string)

	// RecordCacheMiss records a cache miss on the named level
	RecordCacheMiss(level string)

	// RecordCacheSet records a successful write on the named level
	RecordCacheSet(level string)

	// RecordCacheDelete records removed entries on the named level
	RecordCacheDelete(level string, count int64)

	// RecordCacheEviction records a capacity eviction on the named level
	RecordCacheEviction(level string)

	// UpdateCacheSize updates the cache size metric
	UpdateCacheSize(level string, size int64)

	// RecordCacheOperation records latency and outcome of a single level call
	RecordCacheOperation(level, operation string, duration time.Duration, err error)

	// RecordInvalidation records an invalidation message that was published or applied
	RecordInvalidation(source, direction string)

	// RecordPanic records a recovered panic in the named method
	RecordPanic(methodName string)

	// Handler returns an HTTP handler for exposing metrics (e.g., /metrics endpoint)
	Handler() http.Handler
}

// globalProvider is the global metrics provider
var globalProvider Provider

// SetProvider sets the global metrics provider
func SetProvider(p Provider) {
	globalProvider = p
}

// GetProvider returns the current metrics provider
func GetProvider() Provider {
	if globalProvider == nil {
		// Return no-op provider if none is set
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *NoOpProvider) IncRequestsInFlight()                                                  {}
func (n *NoOpProvider) DecRequestsInFlight()                                                  {}
func (n *NoOpProvider) RecordCacheHit(level string)                                           {}
func (n *NoOpProvider) RecordCacheMiss(level string)                                          {}
func (n *NoOpProvider) RecordCacheSet(level string)                                           {}
func (n *NoOpProvider) RecordCacheDelete(level string, count int64)                           {}
func (n *NoOpProvider) RecordCacheEviction(level string)                                      {}
func (n *NoOpProvider) UpdateCacheSize(level string, size int64)                              {}
func (n *NoOpProvider) RecordCacheOperation(level, operation string, duration time.Duration, err error) {
}
func (n *NoOpProvider) RecordInvalidation(source, direction string) {}
func (n *NoOpProvider) RecordPanic(methodName string)               {}
func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Metrics provider not configured"))
		if err != nil {
			logger.Warn("Failed to write. %v", err)
		}
	})
}
