package invalidation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewNATSBus_Unreachable(t *testing.T) {
	_, err := NewNATSBus(NATSBusConfig{URL: "nats://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	assert.Error(t, err)
}
