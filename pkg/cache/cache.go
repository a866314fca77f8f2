package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var (
	defaultCache *Cache
	defaultMu    sync.RWMutex
)

// Initialize initializes the cache with a provider.
// If not called, the package will use an in-memory provider by default.
func Initialize(provider Provider, opts ...CacheOption) {
	SetDefaultCache(NewCache(provider, opts...))
}

// UseMemory configures the cache to use in-memory storage.
func UseMemory(opts *Options) error {
	provider := NewMemoryProvider(opts)
	SetDefaultCache(NewCache(provider, optionsToCacheOptions(opts)...))
	return nil
}

// UseRedis configures the cache to use Redis storage.
func UseRedis(config *RedisConfig) error {
	provider, err := NewRedisProvider(config)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis provider: %w", err)
	}
	SetDefaultCache(NewCache(provider, optionsToCacheOptions(config.Options)...))
	return nil
}

// UseMemcache configures the cache to use Memcache storage.
func UseMemcache(config *MemcacheConfig) error {
	provider, err := NewMemcacheProvider(config)
	if err != nil {
		return fmt.Errorf("failed to initialize Memcache provider: %w", err)
	}
	SetDefaultCache(NewCache(provider, optionsToCacheOptions(config.Options)...))
	return nil
}

// GetDefaultCache returns the default cache instance.
// Initializes with in-memory provider if not already initialized.
func GetDefaultCache() *Cache {
	defaultMu.RLock()
	c := defaultCache
	defaultMu.RUnlock()
	if c != nil {
		return c
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCache == nil {
		defaultCache = NewCache(NewMemoryProvider(&Options{
			DefaultTTL: 5 * time.Minute,
			MaxSize:    10000,
		}))
	}
	return defaultCache
}

// SetDefaultCache sets a custom cache instance as the default cache.
// This is useful for testing or when you want to use a pre-configured cache instance.
func SetDefaultCache(cache *Cache) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultCache = cache
}

// GetStats returns cache statistics.
func GetStats(ctx context.Context) (*CacheStats, error) {
	return GetDefaultCache().Stats(ctx)
}

// Close closes the cache and releases resources.
func Close() error {
	defaultMu.Lock()
	c := defaultCache
	defaultCache = nil
	defaultMu.Unlock()

	if c != nil {
		return c.Close()
	}
	return nil
}

func optionsToCacheOptions(opts *Options) []CacheOption {
	if opts == nil {
		return nil
	}
	return []CacheOption{
		WithKeyPrefix(opts.KeyPrefix),
		WithCompression(opts.EnableCompression),
	}
}
