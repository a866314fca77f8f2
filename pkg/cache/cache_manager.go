package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Frame markers written ahead of every encoded value.
const (
	framePlain byte = 'j'
	frameZstd  byte = 'z'
)

// compressMinSize is the smallest payload worth compressing.
const compressMinSize = 256

// Cache is the main cache manager that wraps a Provider.
// It encodes values as JSON, optionally compresses them with zstd and
// prefixes every key with the configured namespace.
type Cache struct {
	provider Provider
	prefix   string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithKeyPrefix namespaces every key as "<prefix>:<key>".
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// WithCompression compresses every value that is large enough to benefit.
func WithCompression(enabled bool) CacheOption {
	return func(c *Cache) {
		c.compress = enabled
	}
}

// NewCache creates a new cache manager with the specified provider.
func NewCache(provider Provider, opts ...CacheOption) *Cache {
	c := &Cache{provider: provider}
	for _, opt := range opts {
		opt(c)
	}

	// Encoder and decoder with nil streams only serve EncodeAll/DecodeAll,
	// which are safe for concurrent use.
	c.encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	c.decoder, _ = zstd.NewReader(nil)
	return c
}

// Provider returns the underlying provider.
func (c *Cache) Provider() Provider {
	return c.provider
}

// Key returns the provider key for a caller key.
func (c *Cache) Key(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get retrieves and deserializes a value. It reports false on a miss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, found, err := c.provider.Get(ctx, c.Key(key))
	if err != nil || !found {
		return false, err
	}

	payload, err := c.decode(data)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("%w: failed to deserialize %s: %v", ErrSerialization, key, err)
	}
	return true, nil
}

// GetBytes retrieves raw bytes written with SetBytes.
func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	return c.provider.Get(ctx, c.Key(key))
}

// Set serializes and stores a value. A value that cannot be encoded never reaches the provider.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, opts SetOptions) error {
	data, err := c.encode(value, opts.Compress || c.compress)
	if err != nil {
		return err
	}
	return c.provider.Set(ctx, c.Key(key), data, opts)
}

// SetBytes stores raw bytes without encoding.
func (c *Cache) SetBytes(ctx context.Context, key string, value []byte, opts SetOptions) error {
	return c.provider.Set(ctx, c.Key(key), value, opts)
}

// Has checks if a key exists in the cache.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	return c.provider.Has(ctx, c.Key(key))
}

// Delete removes a key from the cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.provider.Delete(ctx, c.Key(key))
}

// DeleteByPattern removes all keys matching the pattern within the prefix.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return c.provider.DeleteByPattern(ctx, pattern)
	}
	return c.provider.DeleteByPattern(ctx, c.Key(pattern))
}

// DeleteByTag removes all keys carrying tag.
func (c *Cache) DeleteByTag(ctx context.Context, tag string) error {
	return c.provider.DeleteByTag(ctx, tag)
}

// Clear removes all items from the cache.
func (c *Cache) Clear(ctx context.Context) error {
	return c.provider.Clear(ctx)
}

// TTL returns the remaining lifetime of key, or NoTTL.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.provider.TTL(ctx, c.Key(key))
}

// Expire resets the remaining lifetime of key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.provider.Expire(ctx, c.Key(key), ttl)
}

// Stats returns statistics about the cache.
func (c *Cache) Stats(ctx context.Context) (*CacheStats, error) {
	return c.provider.Stats(ctx)
}

// Close closes the cache and releases any resources.
func (c *Cache) Close() error {
	c.decoder.Close()
	_ = c.encoder.Close()
	return c.provider.Close()
}

// GetOrSet retrieves a value from cache, or sets it if it doesn't exist.
// The loader function is called only on a miss. Backend errors on the read
// are returned rather than masked by the loader.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{}, opts SetOptions, loader func() (interface{}, error)) error {
	found, err := c.Get(ctx, key, dest)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	value, err := loader()
	if err != nil {
		return fmt.Errorf("loader failed: %w", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: failed to serialize loaded value: %v", ErrSerialization, err)
	}
	if err := c.Set(ctx, key, value, opts); err != nil {
		return fmt.Errorf("failed to cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: failed to deserialize loaded value: %v", ErrSerialization, err)
	}
	return nil
}

// Remember is a convenience function that caches the result of a function call.
// It's similar to GetOrSet but returns the value directly.
func (c *Cache) Remember(ctx context.Context, key string, opts SetOptions, loader func() (interface{}, error)) (interface{}, error) {
	var cached interface{}
	found, err := c.Get(ctx, key, &cached)
	if err != nil {
		return nil, err
	}
	if found {
		return cached, nil
	}

	value, err := loader()
	if err != nil {
		return nil, fmt.Errorf("loader failed: %w", err)
	}

	if err := c.Set(ctx, key, value, opts); err != nil {
		return nil, fmt.Errorf("failed to cache value: %w", err)
	}

	return value, nil
}

func (c *Cache) encode(value interface{}, compress bool) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to serialize: %v", ErrSerialization, err)
	}

	if compress && len(payload) >= compressMinSize {
		compressed := c.encoder.EncodeAll(payload, make([]byte, 1, len(payload)/2+1))
		compressed[0] = frameZstd
		// Keep the plain frame when compression does not pay off
		if len(compressed) < len(payload)+1 {
			return compressed, nil
		}
	}

	out := make([]byte, 1+len(payload))
	out[0] = framePlain
	copy(out[1:], payload)
	return out, nil
}

func (c *Cache) decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrSerialization)
	}

	switch data[0] {
	case framePlain:
		return data[1:], nil
	case frameZstd:
		payload, err := c.decoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decompress: %v", ErrSerialization, err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame marker %#x", ErrSerialization, data[0])
	}
}
