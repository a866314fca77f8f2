package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/jonboulle/clockwork"
)

const (
	memcacheHeaderSize = 8
	memcacheMaxKeyLen  = 250
	// Expirations beyond 30 days are read by memcached as absolute unix times.
	memcacheRelativeLimit = 30 * 24 * time.Hour
	memcacheCASAttempts   = 3
)

// MemcacheProvider is a Memcache implementation of the Provider interface.
//
// Memcache cannot report remaining lifetimes, so every value is framed with an
// 8-byte big-endian unix-nanosecond expiry (0 = none) ahead of the payload.
// Memcache cannot enumerate keys either: DeleteByPattern and DeleteByTag
// return ErrPatternUnsupported, and Clear flushes the whole server.
type MemcacheProvider struct {
	client  *memcache.Client
	options Options
	clock   clockwork.Clock
	servers int
	stats   *StatsTracker
}

// MemcacheConfig contains Memcache-specific configuration.
type MemcacheConfig struct {
	// Servers is a list of memcache server addresses (e.g., "localhost:11211")
	Servers []string

	// MaxIdleConns is the maximum number of idle connections (default: 2)
	MaxIdleConns int

	// Timeout for connection operations (default: 1 second)
	Timeout time.Duration

	// Options contains general cache options
	Options *Options
}

// NewMemcacheProvider creates a new Memcache cache provider.
func NewMemcacheProvider(config *MemcacheConfig) (*MemcacheProvider, error) {
	if config == nil {
		config = &MemcacheConfig{}
	}
	cfg := *config

	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{"localhost:11211"}
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 1 * time.Second
	}
	if cfg.Options == nil {
		cfg.Options = &Options{
			DefaultTTL: 5 * time.Minute,
		}
	}
	options := cfg.Options.withDefaults("memcache")

	client := memcache.New(cfg.Servers...)
	client.MaxIdleConns = cfg.MaxIdleConns
	client.Timeout = cfg.Timeout

	if err := client.Ping(); err != nil {
		return nil, backendError("memcache", "connect", err)
	}

	return &MemcacheProvider{
		client:  client,
		options: options,
		clock:   options.Clock,
		servers: len(cfg.Servers),
		stats:   NewStatsTracker(options.Name),
	}, nil
}

// Get retrieves a live value from the cache by key.
func (m *MemcacheProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := validateMemcacheKey(key); err != nil {
		return nil, false, err
	}

	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		m.stats.RecordMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendError("memcache", "get", err)
	}

	expiresAt, value, err := decodeMemcacheValue(item.Value)
	if err != nil {
		return nil, false, err
	}
	if !expiresAt.IsZero() && !m.clock.Now().Before(expiresAt) {
		// The server rounds expiry to seconds; enforce the exact deadline here.
		_ = m.client.Delete(key)
		m.stats.RecordExpiration(1)
		m.stats.RecordMiss()
		return nil, false, nil
	}

	m.stats.RecordHit()
	return value, true, nil
}

// Set stores a value in the cache with the resolved TTL.
func (m *MemcacheProvider) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateMemcacheKey(key); err != nil {
		return err
	}
	ttl, err := resolveTTL(opts, m.options.DefaultTTL)
	if err != nil {
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.clock.Now().Add(ttl)
	}

	item := &memcache.Item{
		Key:        key,
		Value:      encodeMemcacheValue(expiresAt, value),
		Expiration: memcacheExpiration(ttl, expiresAt),
	}
	if err := m.client.Set(item); err != nil {
		return backendError("memcache", "set", err)
	}

	m.stats.RecordSet()
	return nil
}

// Has checks if a live value exists. It does not count as a read.
func (m *MemcacheProvider) Has(ctx context.Context, key string) (bool, error) {
	expiresAt, found, err := m.peek(ctx, key)
	if err != nil || !found {
		return false, err
	}
	return expiresAt.IsZero() || m.clock.Now().Before(expiresAt), nil
}

// Delete removes a key from the cache.
func (m *MemcacheProvider) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateMemcacheKey(key); err != nil {
		return err
	}

	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return backendError("memcache", "delete", err)
	}
	m.stats.RecordDelete(1)
	return nil
}

// DeleteByPattern is not supported by Memcache.
func (m *MemcacheProvider) DeleteByPattern(ctx context.Context, pattern string) error {
	if _, err := CompilePattern(pattern); err != nil {
		return err
	}
	return fmt.Errorf("%w: memcache cannot enumerate keys for %q", ErrPatternUnsupported, pattern)
}

// DeleteByTag is not supported by Memcache.
func (m *MemcacheProvider) DeleteByTag(ctx context.Context, tag string) error {
	return fmt.Errorf("%w: memcache cannot enumerate keys for tag %q", ErrPatternUnsupported, tag)
}

// Clear flushes every item on the configured servers.
func (m *MemcacheProvider) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.client.FlushAll(); err != nil {
		return backendError("memcache", "clear", err)
	}
	return nil
}

// TTL returns the remaining lifetime stored in the value header.
func (m *MemcacheProvider) TTL(ctx context.Context, key string) (time.Duration, error) {
	expiresAt, found, err := m.peek(ctx, key)
	if err != nil {
		return NoTTL, err
	}
	if !found || expiresAt.IsZero() {
		return NoTTL, nil
	}
	remaining := expiresAt.Sub(m.clock.Now())
	if remaining <= 0 {
		return NoTTL, nil
	}
	return remaining, nil
}

// Expire rewrites the value header and server expiry with compare-and-swap,
// retrying when a concurrent writer wins.
func (m *MemcacheProvider) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validateExpire(ttl); err != nil {
		return false, err
	}
	if err := validateMemcacheKey(key); err != nil {
		return false, err
	}

	for attempt := 0; attempt < memcacheCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		item, err := m.client.Get(key)
		if errors.Is(err, memcache.ErrCacheMiss) {
			return false, nil
		}
		if err != nil {
			return false, backendError("memcache", "expire", err)
		}

		oldExpiry, value, err := decodeMemcacheValue(item.Value)
		if err != nil {
			return false, err
		}
		now := m.clock.Now()
		if !oldExpiry.IsZero() && !now.Before(oldExpiry) {
			return false, nil
		}

		expiresAt := now.Add(ttl)
		item.Value = encodeMemcacheValue(expiresAt, value)
		item.Expiration = memcacheExpiration(ttl, expiresAt)

		err = m.client.CompareAndSwap(item)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, memcache.ErrCASConflict):
			continue
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCacheMiss):
			return false, nil
		default:
			return false, backendError("memcache", "expire", err)
		}
	}

	return false, backendError("memcache", "expire", memcache.ErrCASConflict)
}

// Close closes idle connections.
func (m *MemcacheProvider) Close() error {
	return m.client.Close()
}

// Stats returns statistics about the cache provider.
// Memcache cannot count keys, so Size is always zero.
func (m *MemcacheProvider) Stats(ctx context.Context) (*CacheStats, error) {
	stats := m.stats.Snapshot("memcache", 0)
	stats.ProviderStats = map[string]any{
		"name":    m.options.Name,
		"servers": m.servers,
	}
	return stats, nil
}

// peek reads the expiry header without recording a hit or miss.
func (m *MemcacheProvider) peek(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	if err := validateMemcacheKey(key); err != nil {
		return time.Time{}, false, err
	}

	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, backendError("memcache", "get", err)
	}

	expiresAt, _, err := decodeMemcacheValue(item.Value)
	if err != nil {
		return time.Time{}, false, err
	}
	return expiresAt, true, nil
}

func encodeMemcacheValue(expiresAt time.Time, value []byte) []byte {
	buf := make([]byte, memcacheHeaderSize+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(buf, uint64(expiresAt.UnixNano()))
	}
	copy(buf[memcacheHeaderSize:], value)
	return buf
}

func decodeMemcacheValue(raw []byte) (time.Time, []byte, error) {
	if len(raw) < memcacheHeaderSize {
		return time.Time{}, nil, fmt.Errorf("%w: memcache value shorter than its header", ErrSerialization)
	}
	var expiresAt time.Time
	if ns := binary.BigEndian.Uint64(raw); ns != 0 {
		expiresAt = time.Unix(0, int64(ns))
	}
	return expiresAt, raw[memcacheHeaderSize:], nil
}

// memcacheExpiration converts a TTL into the server's expiration field,
// rounding up so the server never drops a value before its deadline.
func memcacheExpiration(ttl time.Duration, expiresAt time.Time) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl > memcacheRelativeLimit {
		return int32(expiresAt.Unix() + 1)
	}
	secs := int32(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}

func validateMemcacheKey(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if len(key) > memcacheMaxKeyLen {
		return fmt.Errorf("%w: memcache keys are limited to %d bytes", ErrInvalidKey, memcacheMaxKeyLen)
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return fmt.Errorf("%w: memcache keys cannot contain spaces or control characters", ErrInvalidKey)
		}
	}
	return nil
}
