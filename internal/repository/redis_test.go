package repository

import (
	"context"
	"testing"
	"time"

	"meetdesk/internal/config"
	"meetdesk/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	t.Cleanup(func() { _ = Close(client) })
	return s, client
}

func TestRedisSlotCache(t *testing.T) {
	s, client := newMiniredis(t)
	cache := NewRedisSlotCache(client)
	ctx := context.Background()

	t.Run("Miss", func(t *testing.T) {
		got, err := cache.Get(ctx, "2026-03-05")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		fetched := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
		entry := &models.CachedSlots{Day: "2026-03-05", Available: []string{"09:00", "14:00"}, FetchedAt: fetched, TTL: 30 * time.Second}
		require.NoError(t, cache.Set(ctx, entry))

		got, err := cache.Get(ctx, "2026-03-05")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, entry.Available, got.Available)
		assert.True(t, got.FetchedAt.Equal(fetched))
		assert.Equal(t, 30*time.Second, got.TTL)
		assert.Equal(t, 30*time.Second, s.TTL("slots:2026-03-05"))
	})

	t.Run("Expiry", func(t *testing.T) {
		s.FastForward(31 * time.Second)
		got, err := cache.Get(ctx, "2026-03-05")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Invalidate", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, &models.CachedSlots{Day: "2026-03-06", TTL: time.Minute}))
		require.NoError(t, cache.Invalidate(ctx, "2026-03-06"))
		assert.False(t, s.Exists("slots:2026-03-06"))
	})

	t.Run("Corrupt", func(t *testing.T) {
		require.NoError(t, s.Set("slots:2026-03-07", "not-json"))
		_, err := cache.Get(ctx, "2026-03-07")
		assert.Error(t, err)
	})
}

func TestRedisIdempotencyStore(t *testing.T) {
	s, client := newMiniredis(t)
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()

	ok, err := store.Claim(ctx, "k1", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "k1", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Claim(ctx, "k2", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Release(ctx, "k1"))
	ok, err = store.Claim(ctx, "k1", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	s.FastForward(3 * time.Minute)
	ok, err = store.Claim(ctx, "k2", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "claims expire with the window")
}

func TestRedisUnavailable(t *testing.T) {
	s, client := newMiniredis(t)
	ctx := context.Background()
	require.NoError(t, Ping(ctx, client))

	s.Close()
	assert.Error(t, Ping(ctx, client))

	_, err := NewRedisIdempotencyStore(client).Claim(ctx, "k", time.Minute)
	assert.Error(t, err)
	_, err = NewRedisSlotCache(client).Get(ctx, "2026-03-05")
	assert.Error(t, err)

	_, err = NewRedisSlotCache(nil).Get(ctx, "2026-03-05")
	assert.ErrorIs(t, err, errNilClient)
}
