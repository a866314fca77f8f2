package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfiguration is returned when the loaded configuration cannot be used
var ErrInvalidConfiguration = errors.New("invalid configuration")

// KnownLevels are the cache level names understood by the cache factory
var KnownLevels = []string{"memory", "redis", "memcache", "sql"}

// ConfigurationError wraps configuration-related errors
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error in field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func newConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Field: field,
		Err:   fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...)),
	}
}

// Validate validates the complete configuration
func (c *Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.Invalidation.Enabled {
		switch c.Invalidation.Provider {
		case "memory", "redis", "nats":
		default:
			return newConfigurationError("invalidation.provider", "unknown provider %q", c.Invalidation.Provider)
		}
		if c.Invalidation.Channel == "" {
			return newConfigurationError("invalidation.channel", "channel cannot be empty")
		}
	}
	return nil
}

// Validate validates the CacheConfig
func (cc *CacheConfig) Validate() error {
	if cc.DefaultTTL < 0 {
		return newConfigurationError("cache.default_ttl", "must not be negative, got %s", cc.DefaultTTL)
	}
	if cc.MaxSize < 0 {
		return newConfigurationError("cache.max_size", "must not be negative, got %d", cc.MaxSize)
	}
	if cc.CleanupInterval < 0 {
		return newConfigurationError("cache.cleanup_interval", "must not be negative, got %s", cc.CleanupInterval)
	}
	if cc.LevelTimeout < 0 {
		return newConfigurationError("cache.level_timeout", "must not be negative, got %s", cc.LevelTimeout)
	}
	if strings.Contains(cc.KeyPrefix, "*") {
		return newConfigurationError("cache.key_prefix", "must not contain '*'")
	}

	if len(cc.Levels) == 0 {
		return newConfigurationError("cache.levels", "at least one cache level must be configured")
	}

	seen := make(map[string]bool, len(cc.Levels))
	for _, level := range cc.Levels {
		if !isKnownLevel(level) {
			return newConfigurationError("cache.levels", "unknown level %q (known: %s)", level, strings.Join(KnownLevels, ", "))
		}
		if seen[level] {
			return newConfigurationError("cache.levels", "level %q listed twice", level)
		}
		seen[level] = true
	}

	if cc.Authoritative != "" && !seen[cc.Authoritative] {
		return newConfigurationError("cache.authoritative", "level %q is not in cache.levels", cc.Authoritative)
	}

	return nil
}

// AuthoritativeIndex returns the index of the authoritative level in Levels
func (cc *CacheConfig) AuthoritativeIndex() int {
	for i, level := range cc.Levels {
		if level == cc.Authoritative {
			return i
		}
	}
	return len(cc.Levels) - 1
}

func isKnownLevel(name string) bool {
	for _, known := range KnownLevels {
		if known == name {
			return true
		}
	}
	return false
}
