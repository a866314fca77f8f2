package cache

import (
	"fmt"

	"github.com/bitechdev/StoreCache/pkg/config"
	"github.com/bitechdev/StoreCache/pkg/logger"
)

// NewFromConfig builds a Cache from configuration: one provider per configured
// level, wrapped in a MultiLevel coordinator when more than one level is listed.
func NewFromConfig(cfg *config.CacheConfig, opts ...MultiLevelOption) (*Cache, error) {
	provider, err := NewProviderFromConfig(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return NewCache(provider,
		WithKeyPrefix(cfg.KeyPrefix),
		WithCompression(cfg.EnableCompression),
	), nil
}

// NewProviderFromConfig builds the provider chain described by cfg.
func NewProviderFromConfig(cfg *config.CacheConfig, opts ...MultiLevelOption) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	levels, err := NewLevelsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if len(levels) == 1 {
		return levels[0].Provider, nil
	}

	if cfg.Authoritative != "" {
		opts = append([]MultiLevelOption{WithAuthoritative(cfg.Authoritative)}, opts...)
	}
	ml, err := NewMultiLevel(levels, opts...)
	if err != nil {
		closeLevels(levels)
		return nil, err
	}
	return ml, nil
}

// NewLevelsFromConfig creates one Level per name in cfg.Levels, in order.
// Providers created before a failure are closed.
func NewLevelsFromConfig(cfg *config.CacheConfig) ([]Level, error) {
	levels := make([]Level, 0, len(cfg.Levels))

	for i, name := range cfg.Levels {
		opts := &Options{
			Name:            name,
			DefaultTTL:      cfg.DefaultTTL,
			Debug:           cfg.Debug,
			CleanupInterval: cfg.CleanupInterval,
		}

		var (
			provider Provider
			err      error
		)
		switch name {
		case "memory":
			opts.MaxSize = cfg.MaxSize
			provider = NewMemoryProvider(opts)
		case "redis":
			provider, err = NewRedisProvider(&RedisConfig{
				Host:     cfg.Redis.Host,
				Port:     cfg.Redis.Port,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
				Options:  opts,
			})
		case "memcache":
			provider, err = NewMemcacheProvider(&MemcacheConfig{
				Servers:      cfg.Memcache.Servers,
				MaxIdleConns: cfg.Memcache.MaxIdleConns,
				Timeout:      cfg.Memcache.Timeout,
				Options:      opts,
			})
		case "sql":
			provider, err = NewSQLProvider(&SQLConfig{
				Driver:    cfg.SQL.Driver,
				DSN:       cfg.SQL.DSN,
				TableName: cfg.SQL.TableName,
				Options:   opts,
			})
		default:
			err = fmt.Errorf("unknown cache level %q", name)
		}
		if err != nil {
			closeLevels(levels)
			return nil, fmt.Errorf("cache level %s: %w", name, err)
		}

		timeout := cfg.LevelTimeout
		if i == 0 && name == "memory" {
			// Local lookups never block on I/O
			timeout = 0
		}
		levels = append(levels, Level{Name: name, Provider: provider, Timeout: timeout})
		logger.Info("Cache level %d initialized: %s", i, name)
	}

	return levels, nil
}

func closeLevels(levels []Level) {
	for _, lvl := range levels {
		if err := lvl.Provider.Close(); err != nil {
			logger.Warn("Failed to close cache level %s: %v", lvl.Name, err)
		}
	}
}
