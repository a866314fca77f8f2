package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisBatchSize = 100

// RedisProvider is a Redis implementation of the Provider interface.
//
// All keys live under a namespace: values at "<ns>:v:<key>", the keys of a
// tag at "<ns>:t:<tag>" and the tags of a key at "<ns>:kt:<key>". Clear only
// touches the namespace.
type RedisProvider struct {
	client    *redis.Client
	options   Options
	namespace string
	owned     bool
	stats     *StatsTracker
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	// Host is the Redis server host (default: localhost)
	Host string

	// Port is the Redis server port (default: 6379)
	Port int

	// Password for Redis authentication (optional)
	Password string

	// DB is the Redis database number (default: 0)
	DB int

	// PoolSize is the maximum number of connections (default: 10)
	PoolSize int

	// Namespace scopes every key the provider writes (default: storecache)
	Namespace string

	// Options contains general cache options
	Options *Options
}

// NewRedisProvider creates a new Redis cache provider and checks the connection.
func NewRedisProvider(config *RedisConfig) (*RedisProvider, error) {
	if config == nil {
		config = &RedisConfig{}
	}
	cfg := *config

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, backendError("redis", "connect", err)
	}

	p, err := NewRedisProviderWithClient(client, cfg.Namespace, cfg.Options)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewRedisProviderWithClient wraps an existing client. The client is not closed by Close.
func NewRedisProviderWithClient(client *redis.Client, namespace string, opts *Options) (*RedisProvider, error) {
	if namespace == "" {
		namespace = "storecache"
	}
	if strings.ContainsAny(namespace, `*?[]\`) {
		return nil, fmt.Errorf("%w: redis namespace %q contains glob characters", ErrInvalidKey, namespace)
	}
	if opts == nil {
		opts = &Options{DefaultTTL: 5 * time.Minute}
	}
	options := opts.withDefaults("redis")

	return &RedisProvider{
		client:    client,
		options:   options,
		namespace: namespace,
		stats:     NewStatsTracker(options.Name),
	}, nil
}

func (r *RedisProvider) valueKey(key string) string { return r.namespace + ":v:" + key }
func (r *RedisProvider) tagKey(tag string) string   { return r.namespace + ":t:" + tag }
func (r *RedisProvider) keyTagsKey(key string) string {
	return r.namespace + ":kt:" + key
}

// Get retrieves a value from the cache by key.
func (r *RedisProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.stats.RecordMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendError("redis", "get", err)
	}
	r.stats.RecordHit()
	return val, true, nil
}

// Set stores a value with SET PX and records its tags.
func (r *RedisProvider) Set(ctx context.Context, key string, value []byte, opts SetOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ttl, err := resolveTTL(opts, r.options.DefaultTTL)
	if err != nil {
		return err
	}

	oldTags, err := r.client.SMembers(ctx, r.keyTagsKey(key)).Result()
	if err != nil {
		return backendError("redis", "set", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.valueKey(key), value, ttl)

		for _, tag := range oldTags {
			pipe.SRem(ctx, r.tagKey(tag), key)
		}
		pipe.Del(ctx, r.keyTagsKey(key))

		for _, tag := range opts.Tags {
			pipe.SAdd(ctx, r.tagKey(tag), key)
			// Tag sets outlive their members; stale members are filtered on DeleteByTag
			if ttl > 0 {
				pipe.Expire(ctx, r.tagKey(tag), ttl+time.Hour)
			}
		}
		if len(opts.Tags) > 0 {
			pipe.SAdd(ctx, r.keyTagsKey(key), toAny(opts.Tags)...)
			if ttl > 0 {
				pipe.Expire(ctx, r.keyTagsKey(key), ttl)
			}
		}
		return nil
	})
	if err != nil {
		return backendError("redis", "set", err)
	}

	r.stats.RecordSet()
	return nil
}

// Has checks if a key exists in the cache.
func (r *RedisProvider) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.valueKey(key)).Result()
	if err != nil {
		return false, backendError("redis", "has", err)
	}
	return n > 0, nil
}

// Delete removes a key and its tag associations.
func (r *RedisProvider) Delete(ctx context.Context, key string) error {
	tags, err := r.client.SMembers(ctx, r.keyTagsKey(key)).Result()
	if err != nil {
		return backendError("redis", "delete", err)
	}

	var del *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			pipe.SRem(ctx, r.tagKey(tag), key)
		}
		pipe.Del(ctx, r.keyTagsKey(key))
		del = pipe.Del(ctx, r.valueKey(key))
		return nil
	})
	if err != nil {
		return backendError("redis", "delete", err)
	}

	r.stats.RecordDelete(del.Val())
	return nil
}

// DeleteByTag removes all keys that still carry the given tag.
func (r *RedisProvider) DeleteByTag(ctx context.Context, tag string) error {
	keys, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
	if err != nil {
		return backendError("redis", "delete_tag", err)
	}

	var removed int64
	for start := 0; start < len(keys); start += redisBatchSize {
		batch := keys[start:min(start+redisBatchSize, len(keys))]

		// Members can be stale after a key was deleted by pattern or rewritten
		checks := make([]*redis.BoolCmd, len(batch))
		_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range batch {
				checks[i] = pipe.SIsMember(ctx, r.keyTagsKey(key), tag)
			}
			return nil
		})
		if err != nil {
			return backendError("redis", "delete_tag", err)
		}

		dels := make([]*redis.IntCmd, 0, len(batch))
		_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range batch {
				if !checks[i].Val() {
					continue
				}
				dels = append(dels, pipe.Del(ctx, r.valueKey(key)))
				pipe.Del(ctx, r.keyTagsKey(key))
			}
			return nil
		})
		if err != nil {
			return backendError("redis", "delete_tag", err)
		}
		for _, cmd := range dels {
			removed += cmd.Val()
		}
	}

	if err := r.client.Del(ctx, r.tagKey(tag)).Err(); err != nil {
		return backendError("redis", "delete_tag", err)
	}

	r.stats.RecordDelete(removed)
	return nil
}

// DeleteByPattern removes all keys matching the pattern using SCAN MATCH and batched DEL.
func (r *RedisProvider) DeleteByPattern(ctx context.Context, pattern string) error {
	if _, err := CompilePattern(pattern); err != nil {
		return err
	}

	removed, err := r.scanDelete(ctx, r.valueKey(pattern), func(redisKey string) []string {
		key := strings.TrimPrefix(redisKey, r.namespace+":v:")
		return []string{redisKey, r.keyTagsKey(key)}
	})
	if err != nil {
		return backendError("redis", "delete_pattern", err)
	}

	r.stats.RecordDelete(removed)
	return nil
}

// Clear removes every key of the namespace.
func (r *RedisProvider) Clear(ctx context.Context) error {
	valuePrefix := r.namespace + ":v:"
	var removed int64

	_, err := r.scanDelete(ctx, r.namespace+":*", func(redisKey string) []string {
		if strings.HasPrefix(redisKey, valuePrefix) {
			removed++
		}
		return []string{redisKey}
	})
	if err != nil {
		return backendError("redis", "clear", err)
	}

	r.stats.RecordDelete(removed)
	return nil
}

// scanDelete deletes the keys expand returns for every key matching match,
// pipelining DEL in batches. It returns how many matched keys were removed.
func (r *RedisProvider) scanDelete(ctx context.Context, match string, expand func(string) []string) (int64, error) {
	iter := r.client.Scan(ctx, 0, match, redisBatchSize).Iterator()

	var removed int64
	batch := make([]string, 0, redisBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		cmds := make([]*redis.IntCmd, 0, len(batch))
		_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range batch {
				keys := expand(k)
				cmds = append(cmds, pipe.Del(ctx, keys[0]))
				if len(keys) > 1 {
					pipe.Del(ctx, keys[1:]...)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, cmd := range cmds {
			removed += cmd.Val()
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisBatchSize {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, flush()
}

// TTL returns the remaining lifetime from PTTL.
func (r *RedisProvider) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, r.valueKey(key)).Result()
	if err != nil {
		return NoTTL, backendError("redis", "ttl", err)
	}
	// PTTL reports -1 for no expiry and -2 for a missing key
	if ttl < 0 {
		return NoTTL, nil
	}
	return ttl, nil
}

// Expire sets a new lifetime with PEXPIRE.
func (r *RedisProvider) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validateExpire(ttl); err != nil {
		return false, err
	}
	ok, err := r.client.PExpire(ctx, r.valueKey(key), ttl).Result()
	if err != nil {
		return false, backendError("redis", "expire", err)
	}
	return ok, nil
}

// Close closes the client if the provider created it.
func (r *RedisProvider) Close() error {
	if !r.owned {
		return nil
	}
	err := r.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Stats returns the provider counters; Size counts the namespace's values.
func (r *RedisProvider) Stats(ctx context.Context) (*CacheStats, error) {
	var size int64
	iter := r.client.Scan(ctx, 0, r.namespace+":v:*", redisBatchSize).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		return nil, backendError("redis", "stats", err)
	}

	pool := r.client.PoolStats()
	stats := r.stats.Snapshot("redis", size)
	stats.ProviderStats = map[string]any{
		"name":        r.options.Name,
		"namespace":   r.namespace,
		"pool_hits":   pool.Hits,
		"pool_misses": pool.Misses,
		"pool_total":  pool.TotalConns,
		"pool_idle":   pool.IdleConns,
	}
	return stats, nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
