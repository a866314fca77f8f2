package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestSQL(t *testing.T) (*SQLProvider, *clockwork.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := clockwork.NewFakeClock()
	p, err := NewSQLProviderWithDB(db, "cache_entries", &Options{
		DefaultTTL:      time.Minute,
		Clock:           clock,
		CleanupInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, clock
}

func TestSQLProvider_SetGetOverwrite(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestSQL(t)

	require.NoError(t, p.Set(ctx, "api:woocommerce:orders:7", []byte("v1"), SetOptions{}))
	require.NoError(t, p.Set(ctx, "api:woocommerce:orders:7", []byte("v2"), SetOptions{}))

	val, ok, err := p.Get(ctx, "api:woocommerce:orders:7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), val)

	_, ok, err = p.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Size)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestSQLProvider_TTL(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestSQL(t)

	require.NoError(t, p.Set(ctx, "k", []byte("v"), SetOptions{TTL: 10 * time.Second}))

	ttl, err := p.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, ttl)

	clock.Advance(9 * time.Second)
	has, err := p.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has)

	ok, err := p.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := p.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, after)

	clock.Advance(time.Minute)
	_, found, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = p.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "expired rows cannot be revived")

	n, err := p.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLProvider_DeleteByPatternEscapesLike(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestSQL(t)

	for _, k := range []string{"ns:a:1", "ns:a:2", "ns:a", "ns:b:1", "ns_a:1", "ns%a:1"} {
		require.NoError(t, p.Set(ctx, k, []byte(k), SetOptions{}))
	}

	require.NoError(t, p.DeleteByPattern(ctx, "ns:a:*"))

	for key, want := range map[string]bool{
		"ns:a:1": false, "ns:a:2": false,
		"ns:a": true, "ns:b:1": true, "ns_a:1": true, "ns%a:1": true,
	} {
		has, err := p.Has(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, has, key)
	}

	require.NoError(t, p.DeleteByPattern(ctx, "ns_a:*"))
	has, _ := p.Has(ctx, "ns_a:1")
	assert.False(t, has)
	has, _ = p.Has(ctx, "ns%a:1")
	assert.True(t, has, "'_' must not act as a wildcard")

	stats, _ := p.Stats(ctx)
	assert.Equal(t, int64(3), stats.Deletes)
}

func TestSQLProvider_DeleteByTagAndClear(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestSQL(t)

	require.NoError(t, p.Set(ctx, "o1", []byte("v"), SetOptions{Tags: []string{"orders"}}))
	require.NoError(t, p.Set(ctx, "o2", []byte("v"), SetOptions{Tags: []string{"orders", "analytics"}}))
	require.NoError(t, p.Set(ctx, "x", []byte("v"), SetOptions{Tags: []string{"orders_archive"}}))

	require.NoError(t, p.DeleteByTag(ctx, "orders"))
	for key, want := range map[string]bool{"o1": false, "o2": false, "x": true} {
		has, _ := p.Has(ctx, key)
		assert.Equal(t, want, has, key)
	}

	require.NoError(t, p.Delete(ctx, "x"))
	require.NoError(t, p.Delete(ctx, "x"))
	require.NoError(t, p.Set(ctx, "y", []byte("v"), SetOptions{}))
	require.NoError(t, p.Clear(ctx))

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Size)
	assert.Equal(t, int64(4), stats.Deletes)
}

func TestJoinTags(t *testing.T) {
	assert.Equal(t, "", joinTags(nil))
	assert.Equal(t, ",a,b,", joinTags([]string{"a", "", "b", "c,d"}))
}

func TestPatternTranslation(t *testing.T) {
	p, err := CompilePattern(`api:shop_1:*:100%`)
	require.NoError(t, err)
	assert.Equal(t, `api:shop\_1:%:100\%`, p.likePattern())
}
