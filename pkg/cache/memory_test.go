package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheLeaseOwnership(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mc := NewMemoryCache(WithMemoryClock(func() time.Time { return now }), WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lease:BTC", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "lease:BTC", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not take a held lease")

	ok, err = mc.TryLock(ctx, "lease:BTC", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "holder can refresh")

	assert.ErrorIs(t, mc.Unlock(ctx, "lease:BTC", "b"), ErrNotOwner)

	now = now.Add(2 * time.Minute)
	ok, err = mc.TryLock(ctx, "lease:BTC", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is free")
	require.NoError(t, mc.Unlock(ctx, "lease:BTC", "b"))
}

func TestMemoryCacheGetSetKeys(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	type item struct{ N int }
	require.NoError(t, mc.Set(ctx, "active:ETH", item{N: 2}, 0))
	require.NoError(t, mc.Set(ctx, "active:BTC", item{N: 1}, 0))
	require.NoError(t, mc.Set(ctx, "other", "x", 0))

	var got item
	require.NoError(t, mc.Get(ctx, "active:ETH", &got))
	assert.Equal(t, 2, got.N)

	keys, err := mc.Keys(ctx, "active:")
	require.NoError(t, err)
	assert.Equal(t, []string{"active:BTC", "active:ETH"}, keys)

	typed, err := MGetTyped[item](ctx, mc, keys...)
	require.NoError(t, err)
	assert.Len(t, typed, 2)

	require.NoError(t, mc.Delete(ctx, "active:ETH"))
	assert.ErrorIs(t, mc.Get(ctx, "active:ETH", &got), ErrCacheMiss)
}
