// Package datasource puts the cache in front of external API reads. Each read
// is described by strategy params; the source's strategy decides whether the
// cache is used, under which key and for how long. Concurrent misses on one key
// share a single upstream call.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/bitechdev/StoreCache/pkg/cache"
	"github.com/bitechdev/StoreCache/pkg/invalidation"
	"github.com/bitechdev/StoreCache/pkg/logger"
	"github.com/bitechdev/StoreCache/pkg/strategy"
)

// Loader fetches a value from the upstream API.
type Loader func(ctx context.Context) (interface{}, error)

// Layer is the strategy-consulting read-through in front of a cache.
type Layer struct {
	cache      *cache.Cache
	strategies *strategy.Registry
	bus        invalidation.Bus
	group      singleflight.Group
}

// Option configures a Layer.
type Option func(*Layer)

// WithBus publishes every invalidation so other instances drop their local copies.
func WithBus(bus invalidation.Bus) Option {
	return func(l *Layer) {
		l.bus = bus
	}
}

// New creates a layer over c. A nil registry uses strategy.DefaultRegistry.
func New(c *cache.Cache, strategies *strategy.Registry, opts ...Option) *Layer {
	if strategies == nil {
		strategies = strategy.DefaultRegistry()
	}
	l := &Layer{cache: c, strategies: strategies}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Strategies returns the registry the layer resolves sources with.
func (l *Layer) Strategies() *strategy.Registry {
	return l.strategies
}

// Fetch fills dest for the read described by params. It reports whether the
// value came from the cache. Uncacheable reads go straight to load. Cache
// faults are logged and fall back to load; only load errors and unknown
// sources or resources fail the call.
func (l *Layer) Fetch(ctx context.Context, source string, params strategy.Params, dest interface{}, load Loader) (bool, error) {
	s, err := l.strategies.Get(source)
	if err != nil {
		return false, err
	}

	if !s.ShouldCache(params) {
		// Unknown resources must still fail rather than bypass silently
		if _, err := s.GenerateKey(params); err != nil {
			return false, err
		}
		value, err := load(ctx)
		if err != nil {
			return false, err
		}
		return false, assign(value, dest)
	}

	key, err := s.GenerateKey(params)
	if err != nil {
		return false, err
	}

	found, err := l.cache.Get(ctx, key, dest)
	if err != nil {
		logger.Warn("Cache read for %s failed, loading from %s: %v", key, s.Name(), err)
	} else if found {
		return true, nil
	}

	data, err, _ := l.group.Do(key, func() (interface{}, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		opts := cache.SetOptions{
			TTL:  s.DetermineTTL(params),
			Tags: []string{s.Name()},
		}
		if err := l.cache.Set(ctx, key, value, opts); err != nil {
			logger.Warn("Failed to cache %s: %v", key, err)
		}
		return json.Marshal(value)
	})
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data.([]byte), dest); err != nil {
		return false, fmt.Errorf("%w: %v", cache.ErrSerialization, err)
	}
	return false, nil
}

// Invalidate drops every cached entry made stale by the write or webhook event
// described by params and publishes the patterns on the bus. It returns the
// patterns it deleted; params that do not invalidate return none.
func (l *Layer) Invalidate(ctx context.Context, source string, params strategy.Params) ([]string, error) {
	s, err := l.strategies.Get(source)
	if err != nil {
		return nil, err
	}
	if !s.ShouldInvalidate(params) {
		return nil, nil
	}

	patterns, err := s.InvalidationPatterns(params)
	if err != nil {
		return nil, err
	}
	return patterns, l.InvalidatePatterns(ctx, s.Name(), patterns)
}

// InvalidatePatterns deletes patterns from the cache and publishes them.
// Every pattern is attempted; the bus is notified even when a local deletion fails.
func (l *Layer) InvalidatePatterns(ctx context.Context, source string, patterns []string) error {
	var errs []error
	for _, pattern := range patterns {
		if err := l.cache.DeleteByPattern(ctx, pattern); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", pattern, err))
		}
	}

	if l.bus != nil && len(patterns) > 0 {
		full := make([]string, len(patterns))
		for i, pattern := range patterns {
			full[i] = l.cache.Key(pattern)
		}
		if err := l.bus.Publish(ctx, invalidation.NewMessage(source, full, nil)); err != nil {
			errs = append(errs, fmt.Errorf("publish invalidation: %w", err))
		}
	}

	return errors.Join(errs...)
}

// assign copies value into dest through JSON, the same path a cached value takes.
func assign(value, dest interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", cache.ErrSerialization, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrSerialization, err)
	}
	return nil
}
