package invalidation

import (
	"fmt"
	"os"

	"github.com/bitechdev/StoreCache/pkg/config"
)

// DefaultChannel is the Redis channel and NATS subject used when none is configured.
const DefaultChannel = "storecache.invalidate"

// NewBusFromConfig creates a bus based on configuration
func NewBusFromConfig(cfg config.InvalidationConfig) (Bus, error) {
	origin := InstanceID(cfg.InstanceID)

	switch cfg.Provider {
	case "", "memory":
		return NewMemoryBus(origin), nil

	case "redis":
		return NewRedisBus(RedisBusConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Channel,
			Origin:   origin,
		})

	case "nats":
		return NewNATSBus(NATSBusConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.Channel,
			Origin:  origin,
			Timeout: cfg.NATS.Timeout,
		})

	default:
		return nil, fmt.Errorf("unknown invalidation provider: %s", cfg.Provider)
	}
}

// InstanceID returns the configured instance ID, defaulting to the hostname.
func InstanceID(configID string) string {
	if configID != "" {
		return configID
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "storecache-instance"
}
