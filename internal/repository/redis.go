package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meetdesk/internal/config"
	"meetdesk/internal/domain"
	"meetdesk/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	slotKeyPrefix        = "slots:"
	idempotencyKeyPrefix = "idem:"
)

var (
	_ domain.SlotCache        = (*RedisSlotCache)(nil)
	_ domain.IdempotencyStore = (*RedisIdempotencyStore)(nil)
)

var errNilClient = errors.New("redis client is nil")

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisSlotCache keeps availability snapshots as JSON with a Redis ttl.
type RedisSlotCache struct {
	client *redis.Client
}

func NewRedisSlotCache(client *redis.Client) *RedisSlotCache {
	return &RedisSlotCache{client: client}
}

func (r *RedisSlotCache) Get(ctx context.Context, day string) (*models.CachedSlots, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	val, err := r.client.Get(ctx, slotKeyPrefix+day).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slots from redis: %w", err)
	}

	var entry models.CachedSlots
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slots: %w", err)
	}
	return &entry, nil
}

func (r *RedisSlotCache) Set(ctx context.Context, entry *models.CachedSlots) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal slots: %w", err)
	}
	if err := r.client.Set(ctx, slotKeyPrefix+entry.Day, data, entry.TTL).Err(); err != nil {
		return fmt.Errorf("failed to set slots in redis: %w", err)
	}
	return nil
}

func (r *RedisSlotCache) Invalidate(ctx context.Context, day string) error {
	if r.client == nil {
		return errNilClient
	}
	if err := r.client.Del(ctx, slotKeyPrefix+day).Err(); err != nil {
		return fmt.Errorf("failed to delete slots from redis: %w", err)
	}
	return nil
}

// RedisIdempotencyStore claims keys with SET NX.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (r *RedisIdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNilClient
	}
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return ok, nil
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if r.client == nil {
		return errNilClient
	}
	if err := r.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
