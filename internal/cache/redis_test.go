package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
)

type rates struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	t.Cleanup(func() { mr.Close() })

	cfg := config.RedisConnection{
		Address: mr.Addr(),
	}

	cache, err := InitServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	cache, _ := setupTestCache(t)

	expected := rates{Base: "GBP", Rates: map[string]decimal.Decimal{"USD": decimal.RequireFromString("1.27")}}
	require.NoError(t, cache.Set(ctx, "pricing:rates:GBP", expected, time.Minute))

	var actual rates
	found, err := cache.Get(ctx, "pricing:rates:GBP", &actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "GBP", actual.Base)
	assert.True(t, expected.Rates["USD"].Equal(actual.Rates["USD"]))
}

func TestGetNotFound(t *testing.T) {
	cache, _ := setupTestCache(t)

	var out rates
	found, err := cache.Get(context.Background(), "no_such_key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetExpires(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupTestCache(t)

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	mr.FastForward(2 * time.Minute)

	var out string
	found, err := cache.Get(ctx, "key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	cache, _ := setupTestCache(t)

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, cache.Invalidate(ctx, "key"))

	var out string
	found, err := cache.Get(ctx, "key", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetInvalidJSON(t *testing.T) {
	ctx := context.Background()
	cache, _ := setupTestCache(t)

	require.NoError(t, cache.Db.Set(ctx, "bad", []byte("not-json"), time.Minute).Err())

	var out rates
	found, err := cache.Get(ctx, "bad", &out)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupTestCache(t)

	ok, err := cache.Claim(ctx, "webhook:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Claim(ctx, "webhook:evt_1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Release(ctx, "webhook:evt_1"))
	ok, err = cache.Claim(ctx, "webhook:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Hour)
	ok, err = cache.Claim(ctx, "webhook:evt_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInitServerInvalidAddr(t *testing.T) {
	cfg := config.RedisConnection{
		Address:     "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	}

	cache, err := InitServer(context.Background(), cfg)
	assert.Nil(t, cache)
	assert.Error(t, err)
}
