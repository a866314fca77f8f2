package invalidation

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/StoreCache/pkg/config"
)

func TestNewBusFromConfig_Memory(t *testing.T) {
	bus, err := NewBusFromConfig(config.InvalidationConfig{Provider: "memory", InstanceID: "node-1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	memory, ok := bus.(*MemoryBus)
	require.True(t, ok)
	assert.Equal(t, "node-1", memory.origin)
}

func TestNewBusFromConfig_Unknown(t *testing.T) {
	_, err := NewBusFromConfig(config.InvalidationConfig{Provider: "kafka"})
	assert.Error(t, err)
}

func TestInstanceID(t *testing.T) {
	assert.Equal(t, "explicit", InstanceID("explicit"))

	hostname, err := os.Hostname()
	if err == nil {
		assert.Equal(t, hostname, InstanceID(""))
	}
}
