package strategy

import (
	"fmt"
	"strings"
	"time"
)

const defaultUnits = "metric"

// WeatherStrategy caches weather feed lookups. The feed is read-only, so
// nothing ever invalidates; entries simply expire.
type WeatherStrategy struct {
	policy
}

// NewWeatherStrategy returns the weather feed policy.
func NewWeatherStrategy() *WeatherStrategy {
	return &WeatherStrategy{policy{
		source: "weather",
		ttls: map[string]time.Duration{
			"historical": 24 * time.Hour,
			"forecast":   time.Hour,
			"current":    10 * time.Minute,
			"alerts":     2 * time.Minute,
		},
	}}
}

// Name returns the source identifier.
func (s *WeatherStrategy) Name() string {
	return s.source
}

func (s *WeatherStrategy) unpack(p Params) (WeatherParams, string, error) {
	wp, ok := p.(WeatherParams)
	if !ok {
		if ptr, isPtr := p.(*WeatherParams); isPtr && ptr != nil {
			wp, ok = *ptr, true
		}
	}
	if !ok {
		return WeatherParams{}, "", fmt.Errorf("%w: %s expects WeatherParams, got %T", ErrInvalidParams, s.source, p)
	}
	kind, err := s.resource(wp.Kind, "")
	if err != nil {
		return WeatherParams{}, "", err
	}
	return wp, kind, nil
}

// GenerateKey returns api:weather:<kind>:<location>:<units>. Locations are
// case-folded so "Berlin" and "berlin " share an entry.
func (s *WeatherStrategy) GenerateKey(p Params) (string, error) {
	wp, kind, err := s.unpack(p)
	if err != nil {
		return "", err
	}
	location := strings.ToLower(strings.TrimSpace(wp.Location))
	if location == "" {
		return "", fmt.Errorf("%w: %s: location is required", ErrInvalidParams, s.source)
	}
	units := strings.ToLower(strings.TrimSpace(wp.Units))
	if units == "" {
		units = defaultUnits
	}
	return joinKey(KeyNamespace, s.source, kind, escapeSegment(location), escapeSegment(units)), nil
}

// DetermineTTL returns the lifetime for the lookup kind.
func (s *WeatherStrategy) DetermineTTL(p Params) time.Duration {
	wp, kind, err := s.unpack(p)
	if err != nil || wp.Realtime {
		return 0
	}
	return s.ttl(kind)
}

// ShouldCache reports whether the lookup may use the cache.
func (s *WeatherStrategy) ShouldCache(p Params) bool {
	return s.DetermineTTL(p) > 0
}

// ShouldInvalidate is always false: the feed has no writes.
func (s *WeatherStrategy) ShouldInvalidate(Params) bool {
	return false
}

// InvalidationPatterns returns the pattern covering every lookup of the kind.
func (s *WeatherStrategy) InvalidationPatterns(p Params) ([]string, error) {
	_, kind, err := s.unpack(p)
	if err != nil {
		return nil, err
	}
	return s.patterns(kind), nil
}
