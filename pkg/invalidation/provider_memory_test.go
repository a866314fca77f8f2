package invalidation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []*Message
}

func (c *collector) handle(_ context.Context, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) first() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[0]
}

func TestMemoryBus_FanOut(t *testing.T) {
	bus := NewMemoryBus("node-a")
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	var a, b collector
	require.NoError(t, bus.Subscribe(ctx, a.handle))
	require.NoError(t, bus.Subscribe(ctx, b.handle))

	require.NoError(t, bus.Publish(ctx, NewMessage("shopify", []string{"api:shopify:orders:*"}, nil)))

	require.Eventually(t, func() bool { return a.len() == 1 && b.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "node-a", a.first().Origin)
	assert.Equal(t, []string{"api:shopify:orders:*"}, b.first().Patterns)

	stats := bus.Stats()
	assert.Equal(t, "memory", stats.ProviderType)
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, 2, stats.ActiveSubscribers)
}

func TestMemoryBus_RejectsEmpty(t *testing.T) {
	bus := NewMemoryBus("node-a")
	t.Cleanup(func() { _ = bus.Close() })

	err := bus.Publish(context.Background(), &Message{Source: "shopify"})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, int64(0), bus.Stats().Published)
}

func TestMemoryBus_HandlerErrorsCounted(t *testing.T) {
	bus := NewMemoryBus("node-a")
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	require.NoError(t, bus.Subscribe(ctx, func(context.Context, *Message) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Publish(ctx, NewMessage("square", nil, []string{"k"})))

	require.Eventually(t, func() bool { return bus.Stats().HandlerErrors == 1 }, time.Second, 5*time.Millisecond)
}

func TestMemoryBus_SubscriberStopsOnCancel(t *testing.T) {
	bus := NewMemoryBus("node-a")
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	require.NoError(t, bus.Subscribe(ctx, c.handle))
	require.Equal(t, 1, bus.Stats().ActiveSubscribers)

	cancel()
	require.Eventually(t, func() bool { return bus.Stats().ActiveSubscribers == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), NewMessage("shopify", nil, []string{"k"})))
	assert.Equal(t, 0, c.len())
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus("node-a")
	ctx := context.Background()

	var c collector
	require.NoError(t, bus.Subscribe(ctx, c.handle))

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "close is idempotent")
	assert.Equal(t, 0, bus.Stats().ActiveSubscribers)

	assert.ErrorIs(t, bus.Publish(ctx, NewMessage("x", nil, []string{"k"})), ErrBusClosed)
	assert.ErrorIs(t, bus.Subscribe(ctx, c.handle), ErrBusClosed)
}

func TestMemoryBus_CloseReleasesBlockedPublisher(t *testing.T) {
	bus := NewMemoryBus("node-a")
	ctx := context.Background()

	release := make(chan struct{})
	require.NoError(t, bus.Subscribe(ctx, func(context.Context, *Message) error {
		<-release
		return nil
	}))

	// Fill the subscriber buffer while its handler is stuck
	published := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < memorySubscriberBuffer+5 && err == nil; i++ {
			err = bus.Publish(ctx, NewMessage("x", nil, []string{"k"}))
		}
		published <- err
	}()

	time.Sleep(20 * time.Millisecond)
	closed := make(chan struct{})
	go func() {
		_ = bus.Close()
		close(closed)
	}()

	select {
	case err := <-published:
		assert.ErrorIs(t, err, ErrBusClosed)
	case <-time.After(time.Second):
		t.Fatal("publisher stayed blocked after Close")
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
