//go:build integration
// +build integration

package invalidation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupNATS starts a NATS server container and returns its client URL.
func setupNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func newNATSNode(t *testing.T, url, subject, origin string) *NATSBus {
	t.Helper()
	bus, err := NewNATSBus(NATSBusConfig{URL: url, Subject: subject, Origin: origin})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestNATSBus_Integration(t *testing.T) {
	url := setupNATS(t)
	ctx := context.Background()

	t.Run("publish subscribe", func(t *testing.T) {
		subject := "storecache.test.pubsub"
		nodeA := newNATSNode(t, url, subject, "node-a")
		nodeB := newNATSNode(t, url, subject, "node-b")

		var received collector
		require.NoError(t, nodeB.Subscribe(ctx, received.handle))
		require.NoError(t, nodeA.Publish(ctx, NewMessage("square", []string{"api:square:inventory:*"}, nil)))

		require.Eventually(t, func() bool { return received.len() == 1 }, 5*time.Second, 10*time.Millisecond)
		msg := received.first()
		assert.Equal(t, "node-a", msg.Origin)
		assert.Equal(t, "square", msg.Source)
		assert.Equal(t, []string{"api:square:inventory:*"}, msg.Patterns)

		assert.Equal(t, "nats", nodeA.Stats().ProviderType)
		assert.Equal(t, int64(1), nodeA.Stats().Published)
		assert.Equal(t, 1, nodeB.Stats().ActiveSubscribers)

		require.NoError(t, nodeB.Close())
		assert.Equal(t, 0, nodeB.Stats().ActiveSubscribers)
		assert.ErrorIs(t, nodeB.Publish(ctx, NewMessage("x", nil, []string{"k"})), ErrBusClosed)
	})

	t.Run("listener applies remote invalidations", func(t *testing.T) {
		subject := "storecache.test.listener"
		nodeA := newNATSNode(t, url, subject, "node-a")
		nodeB := newNATSNode(t, url, subject, "node-b")

		storeA := newLocalStore(t)
		storeB := newLocalStore(t)
		seed(t, storeA, "api:shopify:orders:1")
		seed(t, storeB, "api:shopify:orders:1", "api:shopify:products:1")

		listenerA := NewListener(storeA, "node-a")
		listenerB := NewListener(storeB, "node-b")
		require.NoError(t, listenerA.Start(ctx, nodeA))
		require.NoError(t, listenerB.Start(ctx, nodeB))

		require.NoError(t, nodeA.Publish(ctx, NewMessage("shopify", []string{"api:shopify:orders:*"}, nil)))

		require.Eventually(t, func() bool { return listenerB.Applied() == 1 }, 5*time.Second, 10*time.Millisecond)
		assert.False(t, has(t, storeB, "api:shopify:orders:1"))
		assert.True(t, has(t, storeB, "api:shopify:products:1"))

		require.Eventually(t, func() bool { return listenerA.Skipped() == 1 }, 5*time.Second, 10*time.Millisecond)
		assert.True(t, has(t, storeA, "api:shopify:orders:1"), "a node ignores its own messages")
	})
}
