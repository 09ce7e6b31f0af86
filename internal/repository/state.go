package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/models"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "user_state:"

var (
	_ domain.StateRepository = (*RedisStateRepository)(nil)
	_ domain.StateRepository = (*MemoryStateRepository)(nil)
)

type RedisStateRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStateRepository(client *redis.Client, ttl time.Duration) *RedisStateRepository {
	return &RedisStateRepository{client: client, ttl: ttl}
}

func stateKey(userID int64) string {
	return fmt.Sprintf("%s%d", stateKeyPrefix, userID)
}

func (r *RedisStateRepository) GetState(ctx context.Context, userID int64) (*models.UserState, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	val, err := r.client.Get(ctx, stateKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from redis: %w", err)
	}

	var state models.UserState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

func (r *RedisStateRepository) SetState(ctx context.Context, state *models.UserState) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := r.client.Set(ctx, stateKey(state.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state in redis: %w", err)
	}
	return nil
}

func (r *RedisStateRepository) ClearState(ctx context.Context, userID int64) error {
	if r.client == nil {
		return errNilClient
	}
	return r.client.Del(ctx, stateKey(userID)).Err()
}

// MemoryStateRepository keeps dialog state in process memory with the same
// expiry semantics as the Redis repository.
type MemoryStateRepository struct {
	mu     sync.Mutex
	states map[int64]memoryState
	ttl    time.Duration
	now    func() time.Time
}

type memoryState struct {
	state     models.UserState
	expiresAt time.Time
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		states: make(map[int64]memoryState),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *MemoryStateRepository) GetState(ctx context.Context, userID int64) (*models.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.states[userID]
	if !ok {
		return nil, nil
	}
	if m.ttl > 0 && !m.now().Before(entry.expiresAt) {
		delete(m.states, userID)
		return nil, nil
	}
	return entry.state.With(entry.state.Step, "", ""), nil
}

func (m *MemoryStateRepository) SetState(ctx context.Context, state *models.UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := state.With(state.Step, "", "")
	m.states[state.UserID] = memoryState{state: *copied, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStateRepository) ClearState(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}
