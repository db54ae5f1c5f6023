package store

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedis(Config{
		Bucket: testBucket,
		Redis:  &RedisConfig{Addr: mr.Addr(), Prefix: "test:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestRedisStoreSixthRequestDenied(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		res, err := s.Take(ctx, "198.51.100.4", 1, start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := s.Take(ctx, "198.51.100.4", 1, start.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	assert.True(t, mr.Exists("test:198.51.100.4"))
	assert.Greater(t, mr.TTL("test:198.51.100.4"), time.Duration(0))
}

func TestRedisStoreRefill(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.Take(ctx, "k", 1, start)
		require.NoError(t, err)
	}
	res, err := s.Take(ctx, "k", 1, start.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestRedisStoreStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)

	_, err := s.Take(ctx, "a", 1, time.Now())
	require.NoError(t, err)
	_, err = s.Take(ctx, "b", 1, time.Now())
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, stats["type"])
	assert.Equal(t, 2, stats["keys"])
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(Config{Bucket: testBucket, Redis: &RedisConfig{Addr: addr}})
	assert.Error(t, err)
}
