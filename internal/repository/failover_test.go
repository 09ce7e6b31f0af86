package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"meetdesk/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSlotCache struct {
	mock.Mock
}

func (m *mockSlotCache) Get(ctx context.Context, day string) (*models.CachedSlots, error) {
	args := m.Called(ctx, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CachedSlots), args.Error(1)
}

func (m *mockSlotCache) Set(ctx context.Context, entry *models.CachedSlots) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockSlotCache) Invalidate(ctx context.Context, day string) error {
	return m.Called(ctx, day).Error(0)
}

type mockIdempotency struct {
	mock.Mock
}

func (m *mockIdempotency) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockIdempotency) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestFailoverSlotCache(t *testing.T) {
	primary := new(mockSlotCache)
	fallback := new(mockSlotCache)
	logger := zerolog.New(io.Discard)
	cache := NewFailoverSlotCache(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		entry := &models.CachedSlots{Day: "d1"}
		primary.On("Get", ctx, "d1").Return(entry, nil).Once()

		got, err := cache.Get(ctx, "d1")
		assert.NoError(t, err)
		assert.Equal(t, entry, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		entry := &models.CachedSlots{Day: "d2"}
		primary.On("Get", ctx, "d2").Return(nil, errors.New("fail")).Once()
		fallback.On("Get", ctx, "d2").Return(entry, nil).Once()

		got, err := cache.Get(ctx, "d2")
		assert.NoError(t, err)
		assert.Equal(t, entry, got)
		assert.True(t, cache.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		entry := &models.CachedSlots{Day: "d3"}
		fallback.On("Set", ctx, entry).Return(nil).Once()

		require.NoError(t, cache.Set(ctx, entry))
		primary.AssertNotCalled(t, "Set", ctx, entry)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		cache.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		primary.On("Invalidate", ctx, "d4").Return(nil).Once()
		fallback.On("Invalidate", ctx, "d4").Return(nil).Once()

		require.NoError(t, cache.Invalidate(ctx, "d4"))
		assert.False(t, cache.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}

func TestFailoverIdempotencyStore(t *testing.T) {
	primary := new(mockIdempotency)
	logger := zerolog.New(io.Discard)
	store := NewFailoverIdempotencyStore(primary, NewMemoryIdempotencyStore(), &logger)
	ctx := context.Background()

	primary.On("Claim", ctx, "k", time.Minute).Return(false, errors.New("redis down")).Once()

	ok, err := store.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "fallback claims the key")

	ok, err = store.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "fallback remembers the claim")

	require.NoError(t, store.Release(ctx, "k"))
	primary.AssertExpectations(t)
}
