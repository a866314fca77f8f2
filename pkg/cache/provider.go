package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// NoTTL is reported by TTL for keys without expiry and for absent keys.
const NoTTL time.Duration = -1

// Provider defines the interface that all cache providers must implement.
// Values are opaque bytes; a miss is reported as (nil, false, nil), never as an error.
type Provider interface {
	// Get retrieves a live value by key.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A zero opts.TTL uses the provider's default TTL.
	Set(ctx context.Context, key string, value []byte, opts SetOptions) error

	// Has reports whether a live value exists for key.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPattern removes all keys matching a glob where '*' matches any run of characters.
	DeleteByPattern(ctx context.Context, pattern string) error

	// DeleteByTag removes all keys stored with the given tag.
	DeleteByTag(ctx context.Context, tag string) error

	// Clear removes all items from the cache.
	Clear(ctx context.Context) error

	// TTL returns the remaining lifetime of key, or NoTTL.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Expire resets the remaining lifetime of key. It reports false when key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Stats returns statistics about the cache provider.
	Stats(ctx context.Context) (*CacheStats, error)

	// Close releases the provider's resources. Calling it more than once is safe.
	Close() error
}

// SetOptions are the per-call options of Provider.Set.
type SetOptions struct {
	// TTL overrides the default lifetime. Zero means default, negative is rejected.
	TTL time.Duration

	// Tags group keys for DeleteByTag.
	Tags []string

	// Compress asks the Cache codec to compress the payload. Providers ignore it.
	Compress bool
}

// EvictionReason tells an OnEvict callback why an entry left the store.
type EvictionReason int

const (
	// EvictedCapacity means the entry was the least recently used when the store was full.
	EvictedCapacity EvictionReason = iota
	// EvictedExpired means the entry was removed after its TTL passed.
	EvictedExpired
)

func (r EvictionReason) String() string {
	switch r {
	case EvictedCapacity:
		return "capacity"
	case EvictedExpired:
		return "expired"
	default:
		return fmt.Sprintf("EvictionReason(%d)", int(r))
	}
}

// Options contains configuration options for cache providers.
// Options are copied at construction and never mutated afterwards.
type Options struct {
	// Name labels the provider in stats, metrics and logs. Defaults to the provider type.
	Name string

	// DefaultTTL is the default time-to-live for cache items. Zero means no expiry.
	DefaultTTL time.Duration

	// MaxSize is the maximum number of items (for in-memory provider). Zero means unbounded.
	MaxSize int

	// KeyPrefix namespaces every key written through a Cache.
	KeyPrefix string

	// EnableCompression compresses every value written through a Cache.
	EnableCompression bool

	// Debug logs every operation at debug level.
	Debug bool

	// CleanupInterval is the expired-entry sweep period. Zero uses one minute, negative disables it.
	CleanupInterval time.Duration

	// Clock is the time source. Defaults to the real clock.
	Clock clockwork.Clock

	// OnEvict is called outside the store lock for each evicted or swept entry.
	OnEvict func(key string, reason EvictionReason)
}

const defaultCleanupInterval = time.Minute

func (o *Options) withDefaults(name string) Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Name == "" {
		out.Name = name
	}
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.CleanupInterval == 0 {
		out.CleanupInterval = defaultCleanupInterval
	}
	return out
}

// resolveTTL applies the TTL resolution order: explicit, then default, then none.
func resolveTTL(opts SetOptions, def time.Duration) (time.Duration, error) {
	if opts.TTL < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTTL, opts.TTL)
	}
	if opts.TTL > 0 {
		return opts.TTL, nil
	}
	if def > 0 {
		return def, nil
	}
	return 0, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return nil
}

func validateExpire(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: expire requires a positive ttl, got %s", ErrInvalidTTL, ttl)
	}
	return nil
}
