package repository

import (
	"context"
	"testing"
	"time"

	"meetdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStateRepository(t *testing.T) {
	s, client := newMiniredis(t)
	repo := NewRedisStateRepository(client, 10*time.Minute)
	ctx := context.Background()

	got, err := repo.GetState(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)

	state := &models.UserState{UserID: 42, Step: "enter_name", Data: map[string]string{"date": "2026-03-05"}}
	require.NoError(t, repo.SetState(ctx, state))
	assert.Equal(t, 10*time.Minute, s.TTL("user_state:42"))

	got, err = repo.GetState(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "enter_name", got.Step)
	assert.Equal(t, "2026-03-05", got.Get("date"))

	require.NoError(t, repo.ClearState(ctx, 42))
	got, err = repo.GetState(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStateRepositoryCorruptValue(t *testing.T) {
	s, client := newMiniredis(t)
	repo := NewRedisStateRepository(client, time.Minute)
	require.NoError(t, s.Set("user_state:7", "{not json"))

	_, err := repo.GetState(context.Background(), 7)
	assert.Error(t, err)
}

func TestMemoryStateRepository(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	repo := NewMemoryStateRepository(time.Minute)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	state := &models.UserState{UserID: 1, Step: "select_slot", Data: map[string]string{"date": "2026-03-05"}}
	require.NoError(t, repo.SetState(ctx, state))

	// Stored states are copies.
	state.Data["date"] = "changed"
	got, err := repo.GetState(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2026-03-05", got.Get("date"))
	assert.Equal(t, int64(1), got.UserID)

	now = now.Add(2 * time.Minute)
	got, err = repo.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}
