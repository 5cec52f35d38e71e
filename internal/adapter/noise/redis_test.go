package noise

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounter(client, "apollo:test:frequency"), mr
}

func TestRedisCounter_Frequent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(t)

	require.NoError(t, c.Increment(ctx, []string{"Roger.", "Roger.", "Go ahead."}))
	require.NoError(t, c.Increment(ctx, []string{"Go ahead.", "Houston, Tranquility Base here."}))

	frequent, err := c.Frequent(ctx, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Roger.", "Go ahead."}, frequent)

	all, err := c.Frequent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRedisCounter_EmptyIncrement(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCounter(t)

	require.NoError(t, c.Increment(ctx, nil))
	assert.False(t, mr.Exists("apollo:test:frequency"))
}

func TestRedisCounter_Reset(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(t)

	require.NoError(t, c.Increment(ctx, []string{"Roger.", "Roger."}))
	require.NoError(t, c.Reset(ctx))

	frequent, err := c.Frequent(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, frequent)
}

func TestConnectRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := ConnectRedis(context.Background(), addr, "k")
	assert.Error(t, err)
}
