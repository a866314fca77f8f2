package config

import "time"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Invalidation  InvalidationConfig  `mapstructure:"invalidation"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	ErrorTracking ErrorTrackingConfig `mapstructure:"error_tracking"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Middleware    MiddlewareConfig    `mapstructure:"middleware"`
}

// ServerConfig holds admin API server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	Compress        bool          `mapstructure:"compress"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Endpoint       string `mapstructure:"endpoint"`
}

// CacheConfig describes one cache instance and the levels behind it.
type CacheConfig struct {
	DefaultTTL        time.Duration `mapstructure:"default_ttl"`
	MaxSize           int           `mapstructure:"max_size"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	Debug             bool          `mapstructure:"debug"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`

	// Levels lists the stores fastest first: memory, redis, memcache, sql.
	Levels []string `mapstructure:"levels"`
	// Authoritative names the level whose failures fail an operation.
	// Empty means the last level.
	Authoritative string        `mapstructure:"authoritative"`
	LevelTimeout  time.Duration `mapstructure:"level_timeout"`

	Redis    RedisConfig    `mapstructure:"redis"`
	Memcache MemcacheConfig `mapstructure:"memcache"`
	SQL      SQLConfig      `mapstructure:"sql"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// MemcacheConfig holds Memcache-specific configuration
type MemcacheConfig struct {
	Servers      []string      `mapstructure:"servers"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SQLConfig holds the SQL-backed cache level configuration
type SQLConfig struct {
	Driver    string `mapstructure:"driver"` // postgres, sqlite
	DSN       string `mapstructure:"dsn"`
	TableName string `mapstructure:"table_name"`
}

// InvalidationConfig configures the cross-process invalidation bus
type InvalidationConfig struct {
	Enabled    bool                   `mapstructure:"enabled"`
	Provider   string                 `mapstructure:"provider"` // memory, redis, nats
	Channel    string                 `mapstructure:"channel"`
	InstanceID string                 `mapstructure:"instance_id"`
	Redis      RedisConfig            `mapstructure:"redis"`
	NATS       InvalidationNATSConfig `mapstructure:"nats"`
}

// InvalidationNATSConfig contains NATS-specific configuration
type InvalidationNATSConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Dev  bool   `mapstructure:"dev"`
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// MiddlewareConfig holds admin API middleware configuration
type MiddlewareConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// ErrorTrackingConfig holds error tracking configuration
type ErrorTrackingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Provider         string  `mapstructure:"provider"`           // sentry, noop
	DSN              string  `mapstructure:"dsn"`                // Sentry DSN
	Environment      string  `mapstructure:"environment"`        // e.g., production, staging, development
	Release          string  `mapstructure:"release"`            // Application version/release
	Debug            bool    `mapstructure:"debug"`              // Enable debug mode
	SampleRate       float64 `mapstructure:"sample_rate"`        // Error sample rate (0.0-1.0)
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"` // Traces sample rate (0.0-1.0)
}
