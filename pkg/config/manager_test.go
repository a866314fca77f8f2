package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager()
	if mgr == nil {
		t.Fatal("Expected manager to be non-nil")
	}

	if mgr.v == nil {
		t.Fatal("Expected viper instance to be non-nil")
	}
}

func TestDefaultValues(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	cfg, err := mgr.GetConfig()
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"server.addr", cfg.Server.Addr, ":8080"},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout, 30 * time.Second},
		{"tracing.enabled", cfg.Tracing.Enabled, false},
		{"tracing.service_name", cfg.Tracing.ServiceName, "storecache"},
		{"cache.default_ttl", cfg.Cache.DefaultTTL, 5 * time.Minute},
		{"cache.max_size", cfg.Cache.MaxSize, 10000},
		{"cache.cleanup_interval", cfg.Cache.CleanupInterval, time.Minute},
		{"cache.level_timeout", cfg.Cache.LevelTimeout, 500 * time.Millisecond},
		{"cache.redis.host", cfg.Cache.Redis.Host, "localhost"},
		{"cache.redis.port", cfg.Cache.Redis.Port, 6379},
		{"cache.sql.table_name", cfg.Cache.SQL.TableName, "cache_entries"},
		{"invalidation.provider", cfg.Invalidation.Provider, "memory"},
		{"logger.dev", cfg.Logger.Dev, false},
		{"metrics.namespace", cfg.Metrics.Namespace, "storecache"},
		{"middleware.rate_limit_rps", cfg.Middleware.RateLimitRPS, 100.0},
		{"middleware.rate_limit_burst", cfg.Middleware.RateLimitBurst, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if len(cfg.Cache.Levels) != 1 || cfg.Cache.Levels[0] != "memory" {
		t.Errorf("cache.levels: got %v, want [memory]", cfg.Cache.Levels)
	}
}

func TestEnvironmentVariableOverrides(t *testing.T) {
	t.Setenv("STORECACHE_SERVER_ADDR", ":9090")
	t.Setenv("STORECACHE_TRACING_ENABLED", "true")
	t.Setenv("STORECACHE_CACHE_KEY_PREFIX", "dash")
	t.Setenv("STORECACHE_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("STORECACHE_LOGGER_DEV", "true")

	mgr := NewManager()
	if err := mgr.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	cfg, err := mgr.GetConfig()
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"server.addr", cfg.Server.Addr, ":9090"},
		{"tracing.enabled", cfg.Tracing.Enabled, true},
		{"cache.key_prefix", cfg.Cache.KeyPrefix, "dash"},
		{"cache.default_ttl", cfg.Cache.DefaultTTL, 90 * time.Second},
		{"logger.dev", cfg.Logger.Dev, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
cache:
  default_ttl: 30s
  max_size: 500
  key_prefix: shop
  levels: [memory, redis]
  authoritative: redis
  redis:
    host: cache.internal
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	mgr := NewManagerWithOptions(WithConfigFile(path))
	if err := mgr.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	cfg, err := mgr.GetConfig()
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}

	if cfg.Cache.DefaultTTL != 30*time.Second {
		t.Errorf("cache.default_ttl: got %v, want 30s", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.MaxSize != 500 {
		t.Errorf("cache.max_size: got %d, want 500", cfg.Cache.MaxSize)
	}
	if cfg.Cache.Redis.Host != "cache.internal" {
		t.Errorf("cache.redis.host: got %s, want cache.internal", cfg.Cache.Redis.Host)
	}
	if cfg.Cache.Redis.Port != 6379 {
		t.Errorf("cache.redis.port: got %d, want default 6379", cfg.Cache.Redis.Port)
	}
	if got := cfg.Cache.AuthoritativeIndex(); got != 1 {
		t.Errorf("AuthoritativeIndex: got %d, want 1", got)
	}
}

func TestProgrammaticConfiguration(t *testing.T) {
	mgr := NewManager()
	mgr.Set("server.addr", ":7070")
	mgr.Set("cache.levels", []string{"memory", "sql"})

	cfg, err := mgr.GetConfig()
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}

	if cfg.Server.Addr != ":7070" {
		t.Errorf("server.addr: got %s, want :7070", cfg.Server.Addr)
	}
	if got := cfg.Cache.AuthoritativeIndex(); got != 1 {
		t.Errorf("AuthoritativeIndex: got %d, want last level 1", got)
	}
}

func TestCacheConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   CacheConfig
		field string
	}{
		{"negative ttl", CacheConfig{DefaultTTL: -time.Second, Levels: []string{"memory"}}, "cache.default_ttl"},
		{"negative size", CacheConfig{MaxSize: -1, Levels: []string{"memory"}}, "cache.max_size"},
		{"wildcard prefix", CacheConfig{KeyPrefix: "a*", Levels: []string{"memory"}}, "cache.key_prefix"},
		{"no levels", CacheConfig{}, "cache.levels"},
		{"unknown level", CacheConfig{Levels: []string{"memory", "dynamo"}}, "cache.levels"},
		{"duplicate level", CacheConfig{Levels: []string{"memory", "memory"}}, "cache.levels"},
		{"authoritative not listed", CacheConfig{Levels: []string{"memory"}, Authoritative: "redis"}, "cache.authoritative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *ConfigurationError, got %T", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field: got %s, want %s", cfgErr.Field, tt.field)
			}
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Error("Expected error to match ErrInvalidConfiguration")
			}
		})
	}
}

func TestGetterMethods(t *testing.T) {
	mgr := NewManager()
	mgr.Set("test.string", "value")
	mgr.Set("test.int", 42)
	mgr.Set("test.bool", true)

	if got := mgr.GetString("test.string"); got != "value" {
		t.Errorf("GetString: got %s, want value", got)
	}

	if got := mgr.GetInt("test.int"); got != 42 {
		t.Errorf("GetInt: got %d, want 42", got)
	}

	if got := mgr.GetBool("test.bool"); !got {
		t.Errorf("GetBool: got %v, want true", got)
	}
}

func TestWithOptions(t *testing.T) {
	mgr := NewManagerWithOptions(
		WithEnvPrefix("MYAPP"),
		WithConfigName("myconfig"),
	)

	if mgr == nil {
		t.Fatal("Expected manager to be non-nil")
	}

	t.Setenv("MYAPP_SERVER_ADDR", ":5000")

	if err := mgr.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	cfg, err := mgr.GetConfig()
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}

	if cfg.Server.Addr != ":5000" {
		t.Errorf("server.addr: got %s, want :5000", cfg.Server.Addr)
	}
}
