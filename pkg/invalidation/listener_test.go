package invalidation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/StoreCache/pkg/cache"
)

func newLocalStore(t *testing.T) *cache.MemoryProvider {
	t.Helper()
	store := cache.NewMemoryProvider(&cache.Options{CleanupInterval: -1})
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store cache.Provider, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, store.Set(context.Background(), key, []byte("v"), cache.SetOptions{}))
	}
}

func has(t *testing.T, store cache.Provider, key string) bool {
	t.Helper()
	found, err := store.Has(context.Background(), key)
	require.NoError(t, err)
	return found
}

func TestListener_AppliesPatternsAndKeys(t *testing.T) {
	store := newLocalStore(t)
	seed(t, store, "api:shopify:orders:1", "api:shopify:orders:2", "api:shopify:products:1", "api:square:orders:1")

	l := NewListener(store, "node-b")
	err := l.Handle(context.Background(), &Message{
		Origin:   "node-a",
		Patterns: []string{"api:shopify:orders:*"},
		Keys:     []string{"api:square:orders:1", "missing"},
	})
	require.NoError(t, err)

	assert.False(t, has(t, store, "api:shopify:orders:1"))
	assert.False(t, has(t, store, "api:shopify:orders:2"))
	assert.False(t, has(t, store, "api:square:orders:1"))
	assert.True(t, has(t, store, "api:shopify:products:1"))
	assert.Equal(t, int64(1), l.Applied())
}

func TestListener_SkipsOwnOrigin(t *testing.T) {
	store := newLocalStore(t)
	seed(t, store, "api:shopify:orders:1")

	l := NewListener(store, "node-a")
	require.NoError(t, l.Handle(context.Background(), &Message{Origin: "node-a", Keys: []string{"api:shopify:orders:1"}}))

	assert.True(t, has(t, store, "api:shopify:orders:1"))
	assert.Equal(t, int64(1), l.Skipped())
	assert.Equal(t, int64(0), l.Applied())
}

func TestListener_JoinsErrors(t *testing.T) {
	store := newLocalStore(t)
	seed(t, store, "k")

	l := NewListener(store, "node-b")
	err := l.Handle(context.Background(), &Message{
		Origin:   "node-a",
		Patterns: []string{"bad?pattern"},
		Keys:     []string{"k"},
	})
	require.ErrorIs(t, err, cache.ErrInvalidPattern)
	assert.False(t, has(t, store, "k"), "later deletions still run after a failure")
}

func TestListener_OverBus(t *testing.T) {
	// Two processes sharing one bus, each with its own local store
	bus := NewMemoryBus("")
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	storeA := newLocalStore(t)
	storeB := newLocalStore(t)
	seed(t, storeA, "api:weather:current:berlin:metric")
	seed(t, storeB, "api:weather:current:berlin:metric")

	listenerA := NewListener(storeA, "node-a")
	listenerB := NewListener(storeB, "node-b")
	require.NoError(t, listenerA.Start(ctx, bus))
	require.NoError(t, listenerB.Start(ctx, bus))

	msg := NewMessage("weather", []string{"api:weather:current:*"}, nil)
	msg.Origin = "node-a"
	require.NoError(t, bus.Publish(ctx, msg))

	require.Eventually(t, func() bool {
		found, err := storeB.Has(ctx, "api:weather:current:berlin:metric")
		return err == nil && !found
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return listenerA.Skipped() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, has(t, storeA, "api:weather:current:berlin:metric"), "the publisher's own store is left to the publisher")
}
