package strategy

import (
	"fmt"
	"strings"
	"time"
)

const locationMarker = "@loc"

// POSStrategy caches reads against a point-of-sale API. Reads may be scoped to a
// location; location-scoped keys live under the same resource pattern.
type POSStrategy struct {
	policy
}

// NewSquareStrategy returns the Square API policy.
func NewSquareStrategy() *POSStrategy {
	return &POSStrategy{policy{
		source: "square",
		ttls: map[string]time.Duration{
			"locations": time.Hour,
			"team":      time.Hour,
			"catalog":   30 * time.Minute,
			"customers": 5 * time.Minute,
			"orders":    time.Minute,
			"inventory": 30 * time.Second,
			"payments":  0,
			"refunds":   0,
		},
		dependants: map[string][]string{
			"orders":    {"inventory", "payments"},
			"payments":  {"orders"},
			"refunds":   {"payments", "orders"},
			"catalog":   {"inventory"},
			"inventory": {"catalog"},
		},
		events: map[string]string{
			"order":       "orders",
			"payment":     "payments",
			"refund":      "refunds",
			"inventory":   "inventory",
			"catalog":     "catalog",
			"customer":    "customers",
			"location":    "locations",
			"team_member": "team",
		},
	}}
}

// Name returns the source identifier.
func (s *POSStrategy) Name() string {
	return s.source
}

func (s *POSStrategy) unpack(p Params) (POSParams, string, error) {
	pp, ok := p.(POSParams)
	if !ok {
		if ptr, isPtr := p.(*POSParams); isPtr && ptr != nil {
			pp, ok = *ptr, true
		}
	}
	if !ok {
		return POSParams{}, "", fmt.Errorf("%w: %s expects POSParams, got %T", ErrInvalidParams, s.source, p)
	}
	resource, err := s.resource(pp.Resource, pp.Event)
	if err != nil {
		return POSParams{}, "", err
	}
	return pp, resource, nil
}

// GenerateKey returns api:<source>:<resource>[:@loc:<location>]:<id> or a
// filter-hash key when no ID is given. escapeSegment encodes '@', so the
// location marker never matches an escaped ID.
func (s *POSStrategy) GenerateKey(p Params) (string, error) {
	pp, resource, err := s.unpack(p)
	if err != nil {
		return "", err
	}
	base := []string{KeyNamespace, s.source, resource}
	if location := strings.TrimSpace(pp.LocationID); location != "" {
		base = append(base, locationMarker, escapeSegment(location))
	}
	return readKey(base, pp.ID, pp.Filters), nil
}

// DetermineTTL returns the resource lifetime; realtime requests and unknown resources get 0.
func (s *POSStrategy) DetermineTTL(p Params) time.Duration {
	pp, resource, err := s.unpack(p)
	if err != nil || pp.Realtime {
		return 0
	}
	return s.ttl(resource)
}

// ShouldCache reports whether a read may use the cache.
func (s *POSStrategy) ShouldCache(p Params) bool {
	pp, _, err := s.unpack(p)
	if err != nil {
		return false
	}
	return isReadMethod(pp.Method) && !pp.Realtime && s.DetermineTTL(p) > 0
}

// ShouldInvalidate reports whether a write or webhook event makes the resource stale.
func (s *POSStrategy) ShouldInvalidate(p Params) bool {
	pp, _, err := s.unpack(p)
	if err != nil {
		return false
	}
	return isWriteMethod(pp.Method) || pp.Event != ""
}

// InvalidationPatterns returns the resource pattern and those of its dependants.
func (s *POSStrategy) InvalidationPatterns(p Params) ([]string, error) {
	_, resource, err := s.unpack(p)
	if err != nil {
		return nil, err
	}
	return s.patterns(resource), nil
}
