// Package strategy decides, per data source, how API reads map onto the cache:
// which key a request is stored under, how long it lives, whether it may be
// cached at all and which cached entries a write or webhook makes stale.
package strategy

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnknownStrategy is returned by the registry for unregistered source names.
	ErrUnknownStrategy = errors.New("unknown cache strategy")
	// ErrUnknownResource is returned for resources missing from a strategy's policy table.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrInvalidParams is returned when params are of the wrong variant or incomplete.
	ErrInvalidParams = errors.New("invalid strategy params")
)

// Strategy is the per-source caching policy.
type Strategy interface {
	// Name is the source identifier, e.g. "shopify".
	Name() string
	// GenerateKey builds the cache key for a read.
	GenerateKey(p Params) (string, error)
	// DetermineTTL returns the lifetime for the resource class, 0 for realtime data.
	DetermineTTL(p Params) time.Duration
	// ShouldCache reports whether the request may be served from or stored in the cache.
	ShouldCache(p Params) bool
	// ShouldInvalidate reports whether the request or event makes cached entries stale.
	ShouldInvalidate(p Params) bool
	// InvalidationPatterns lists the key patterns to delete after a write to the resource.
	InvalidationPatterns(p Params) ([]string, error)
}

// Params is the request description handed to a Strategy. It is implemented
// only by the variants in this package.
type Params interface {
	params()
}

// CommerceParams describes a request against an online store API (Shopify, WooCommerce).
type CommerceParams struct {
	Method   string
	Resource string
	ID       string
	Filters  map[string]string
	Realtime bool
	// Event is a webhook topic such as "orders/create"; it may stand in for Resource.
	Event string
}

// POSParams describes a request against a point-of-sale API (Square).
type POSParams struct {
	Method     string
	Resource   string
	LocationID string
	ID         string
	Filters    map[string]string
	Realtime   bool
	Event      string
}

// WeatherParams describes a weather feed lookup.
type WeatherParams struct {
	Kind     string // current, forecast, alerts, historical
	Location string
	Units    string
	Realtime bool
}

func (CommerceParams) params() {}
func (POSParams) params()      {}
func (WeatherParams) params()  {}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return http.MethodGet
	}
	return method
}

func isReadMethod(method string) bool {
	switch normalizeMethod(method) {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

func isWriteMethod(method string) bool {
	switch normalizeMethod(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
