package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, DefaultPrefix), mr
}

func TestRedis_SetGet(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "top_cryptos:10:USD", []byte(`[1,2]`), time.Minute))

	got, err := c.Get(ctx, "top_cryptos:10:USD")
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(got))

	// prefix applied on the server
	assert.True(t, mr.Exists("pricefeed:top_cryptos:10:USD"))
}

func TestRedis_Miss(t *testing.T) {
	c, _ := newTestRedis(t)

	_, err := c.Get(context.Background(), "absent")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestRedis_Expiry(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fear_greed", []byte("x"), 300*time.Second))
	mr.FastForward(299 * time.Second)
	_, err := c.Get(ctx, "fear_greed")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = c.Get(ctx, "fear_greed")
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestRedis_ServerDown(t *testing.T) {
	c, mr := newTestRedis(t)
	mr.Close()

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss), "connection errors are not misses")
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := OpenRedis(context.Background(), "redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 0))
	assert.True(t, mr.Exists("test:k"))

	_, err = OpenRedis(context.Background(), "not a url", "")
	assert.Error(t, err)
}

func TestMemory_TTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))

	clock.Advance(59 * time.Second)
	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	clock.Advance(time.Second)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	clock.Advance(24 * time.Hour)
	_, err = m.Get(ctx, "b")
	assert.NoError(t, err, "ttl 0 never expires")
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, 0))
	buf[0] = 'X'

	got, _ := m.Get(ctx, "k")
	got[1] = 'Y'

	again, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemory_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	m.Set(ctx, "short", []byte("1"), time.Second)
	m.Set(ctx, "long", []byte("2"), time.Hour)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}
