package repository

import (
	"context"
	"sync"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/models"
)

var (
	_ domain.SlotCache        = (*MemorySlotCache)(nil)
	_ domain.IdempotencyStore = (*MemoryIdempotencyStore)(nil)
)

// MemorySlotCache is a process local SlotCache. Entries are evicted lazily
// once their ttl has passed.
type MemorySlotCache struct {
	entries sync.Map
	now     func() time.Time
}

func NewMemorySlotCache() *MemorySlotCache {
	return &MemorySlotCache{now: time.Now}
}

func (c *MemorySlotCache) Get(ctx context.Context, day string) (*models.CachedSlots, error) {
	val, ok := c.entries.Load(day)
	if !ok {
		return nil, nil
	}
	entry := val.(*models.CachedSlots)
	if !entry.Fresh(c.now()) {
		c.entries.CompareAndDelete(day, val)
		return nil, nil
	}
	copied := *entry
	copied.Available = append([]string(nil), entry.Available...)
	return &copied, nil
}

func (c *MemorySlotCache) Set(ctx context.Context, entry *models.CachedSlots) error {
	copied := *entry
	copied.Available = append([]string(nil), entry.Available...)
	c.entries.Store(entry.Day, &copied)
	return nil
}

func (c *MemorySlotCache) Invalidate(ctx context.Context, day string) error {
	c.entries.Delete(day)
	return nil
}

// MemoryIdempotencyStore claims keys in process memory.
type MemoryIdempotencyStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryIdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt, ok := s.claims[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)

	// Drop expired claims so the map does not grow without bound.
	for k, expiresAt := range s.claims {
		if !now.Before(expiresAt) {
			delete(s.claims, k)
		}
	}
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}
