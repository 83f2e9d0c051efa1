package cache_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/storage/cache"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *cache.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	var got []string
	err := client.Get(ctx, "notify:tokens:u1", &got)
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, client.Set(ctx, "notify:tokens:u1", []string{"a", "b"}, time.Minute))
	require.NoError(t, client.Get(ctx, "notify:tokens:u1", &got))
	assert.Equal(t, []string{"a", "b"}, got)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, client.Get(ctx, "notify:tokens:u1", &got), cache.ErrMiss)
}

func TestRedisClient_DelPrefix(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	for i := 0; i < 250; i++ {
		require.NoError(t, client.Set(ctx, cache.KeyPrefix+strconv.Itoa(i), []string{"t"}, 0))
	}
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, client.DelPrefix(ctx, cache.KeyPrefix))

	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestRedisClient_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := cache.NewRedisClient(addr, "", 0)
	assert.Error(t, err)
}

func TestCachedStore_WithRedis(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	db := new(MockRealStore)
	store := cache.NewCachedDeviceStore(db, client, time.Hour, newTestLogger())

	db.On("ActiveTokensForOwner", ctx, "u1").Return([]string{"token-a"}, nil).Once()

	first, err := store.ActiveTokensForOwner(ctx, "u1")
	require.NoError(t, err)
	second, err := store.ActiveTokensForOwner(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	db.AssertNumberOfCalls(t, "ActiveTokensForOwner", 1)
}
