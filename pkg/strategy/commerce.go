package strategy

import (
	"fmt"
	"time"
)

// CommerceStrategy caches reads against an online store API.
type CommerceStrategy struct {
	policy
}

// NewShopifyStrategy returns the Shopify Admin API policy.
func NewShopifyStrategy() *CommerceStrategy {
	return &CommerceStrategy{policy{
		source: "shopify",
		ttls: map[string]time.Duration{
			"shop":        time.Hour,
			"collections": 30 * time.Minute,
			"products":    10 * time.Minute,
			"analytics":   15 * time.Minute,
			"customers":   5 * time.Minute,
			"orders":      time.Minute,
			"inventory":   30 * time.Second,
			"checkouts":   0,
		},
		dependants: map[string][]string{
			"orders":      {"inventory", "analytics", "customers"},
			"products":    {"inventory", "collections"},
			"inventory":   {"products"},
			"collections": {"products"},
		},
		events: map[string]string{
			"orders":           "orders",
			"products":         "products",
			"collections":      "collections",
			"customers":        "customers",
			"inventory_items":  "inventory",
			"inventory_levels": "inventory",
			"checkouts":        "checkouts",
			"shop":             "shop",
			"refunds":          "orders",
		},
	}}
}

// NewWooCommerceStrategy returns the WooCommerce REST API policy.
func NewWooCommerceStrategy() *CommerceStrategy {
	return &CommerceStrategy{policy{
		source: "woocommerce",
		ttls: map[string]time.Duration{
			"categories": time.Hour,
			"settings":   time.Hour,
			"products":   10 * time.Minute,
			"coupons":    15 * time.Minute,
			"reports":    15 * time.Minute,
			"customers":  5 * time.Minute,
			"orders":     time.Minute,
			"stock":      30 * time.Second,
		},
		dependants: map[string][]string{
			"orders":     {"stock", "products", "reports", "customers"},
			"products":   {"stock", "categories"},
			"coupons":    {"orders"},
			"categories": {"products"},
		},
		events: map[string]string{
			"order":    "orders",
			"product":  "products",
			"customer": "customers",
			"coupon":   "coupons",
		},
	}}
}

// Name returns the source identifier.
func (s *CommerceStrategy) Name() string {
	return s.source
}

func (s *CommerceStrategy) unpack(p Params) (CommerceParams, string, error) {
	cp, ok := p.(CommerceParams)
	if !ok {
		if ptr, isPtr := p.(*CommerceParams); isPtr && ptr != nil {
			cp, ok = *ptr, true
		}
	}
	if !ok {
		return CommerceParams{}, "", fmt.Errorf("%w: %s expects CommerceParams, got %T", ErrInvalidParams, s.source, p)
	}
	resource, err := s.resource(cp.Resource, cp.Event)
	if err != nil {
		return CommerceParams{}, "", err
	}
	return cp, resource, nil
}

// GenerateKey returns api:<source>:<resource>:<id> for single reads and
// api:<source>:<resource>:q:<hash> for filtered reads.
func (s *CommerceStrategy) GenerateKey(p Params) (string, error) {
	cp, resource, err := s.unpack(p)
	if err != nil {
		return "", err
	}
	return readKey([]string{KeyNamespace, s.source, resource}, cp.ID, cp.Filters), nil
}

// DetermineTTL returns the resource lifetime; realtime requests and unknown resources get 0.
func (s *CommerceStrategy) DetermineTTL(p Params) time.Duration {
	cp, resource, err := s.unpack(p)
	if err != nil || cp.Realtime {
		return 0
	}
	return s.ttl(resource)
}

// ShouldCache reports whether a read may use the cache.
func (s *CommerceStrategy) ShouldCache(p Params) bool {
	cp, _, err := s.unpack(p)
	if err != nil {
		return false
	}
	return isReadMethod(cp.Method) && !cp.Realtime && s.DetermineTTL(p) > 0
}

// ShouldInvalidate reports whether a write or webhook event makes the resource stale.
func (s *CommerceStrategy) ShouldInvalidate(p Params) bool {
	cp, _, err := s.unpack(p)
	if err != nil {
		return false
	}
	return isWriteMethod(cp.Method) || cp.Event != ""
}

// InvalidationPatterns returns the resource pattern and those of its dependants.
func (s *CommerceStrategy) InvalidationPatterns(p Params) ([]string, error) {
	_, resource, err := s.unpack(p)
	if err != nil {
		return nil, err
	}
	return s.patterns(resource), nil
}
