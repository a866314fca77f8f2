package cache

import (
	"sync/atomic"

	"github.com/bitechdev/StoreCache/pkg/metrics"
)

// CacheStats contains cache statistics.
type CacheStats struct {
	Hits          int64          `json:"hits"`
	Misses        int64          `json:"misses"`
	Sets          int64          `json:"sets"`
	Deletes       int64          `json:"deletes"`
	Size          int64          `json:"size"`
	HitRate       float64        `json:"hit_rate"`
	Evictions     int64          `json:"evictions"`
	Expirations   int64          `json:"expirations"`
	Warnings      int64          `json:"warnings,omitempty"`
	ProviderType  string         `json:"provider_type"`
	ProviderStats map[string]any `json:"provider_stats,omitempty"`
}

// HitRate returns hits / (hits + misses), or 0 before any read.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// StatsTracker counts cache events with atomic counters and mirrors them
// into the global metrics provider under its name.
type StatsTracker struct {
	name        string
	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	warnings    atomic.Int64
}

// NewStatsTracker creates a tracker whose metrics are labelled with name.
func NewStatsTracker(name string) *StatsTracker {
	return &StatsTracker{name: name}
}

// Name returns the metrics label of the tracker.
func (s *StatsTracker) Name() string {
	return s.name
}

func (s *StatsTracker) RecordHit() {
	s.hits.Add(1)
	metrics.GetProvider().RecordCacheHit(s.name)
}

func (s *StatsTracker) RecordMiss() {
	s.misses.Add(1)
	metrics.GetProvider().RecordCacheMiss(s.name)
}

func (s *StatsTracker) RecordSet() {
	s.sets.Add(1)
	metrics.GetProvider().RecordCacheSet(s.name)
}

// RecordDelete adds n removed entries. Zero is ignored.
func (s *StatsTracker) RecordDelete(n int64) {
	if n <= 0 {
		return
	}
	s.deletes.Add(n)
	metrics.GetProvider().RecordCacheDelete(s.name, n)
}

func (s *StatsTracker) RecordEviction() {
	s.evictions.Add(1)
	metrics.GetProvider().RecordCacheEviction(s.name)
}

func (s *StatsTracker) RecordExpiration(n int64) {
	if n <= 0 {
		return
	}
	s.expirations.Add(n)
}

func (s *StatsTracker) RecordWarning() {
	s.warnings.Add(1)
}

// Snapshot returns a point-in-time copy of the counters.
// size is reported as-is and published to the size gauge.
func (s *StatsTracker) Snapshot(providerType string, size int64) *CacheStats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	metrics.GetProvider().UpdateCacheSize(s.name, size)

	return &CacheStats{
		Hits:         hits,
		Misses:       misses,
		Sets:         s.sets.Load(),
		Deletes:      s.deletes.Load(),
		Size:         size,
		HitRate:      HitRate(hits, misses),
		Evictions:    s.evictions.Load(),
		Expirations:  s.expirations.Load(),
		Warnings:     s.warnings.Load(),
		ProviderType: providerType,
	}
}
