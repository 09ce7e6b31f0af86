package repository

import (
	"context"
	"sync/atomic"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// failover tracks whether the primary backend is down and when to probe it again.
type failover struct {
	name      string
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func (f *failover) setup(name string, logger *zerolog.Logger) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	f.name = name
	f.logger = logger
	f.now = time.Now
}

// usePrimary reports whether the next call should go to the primary,
// including the periodic recovery probe while it is marked down.
func (f *failover) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	return f.now().Sub(time.Unix(0, f.lastCheck.Load())) > recoveryInterval
}

func (f *failover) report(err error) {
	if err == nil {
		if f.isDown.CompareAndSwap(true, false) {
			f.logger.Info().Str("repository", f.name).Msg("primary repository recovered")
		}
		return
	}
	if !f.isDown.Swap(true) {
		f.logger.Error().Err(err).Str("repository", f.name).Msg("primary repository failed, falling back to memory")
	}
	f.lastCheck.Store(f.now().UnixNano())
}

// FailoverSlotCache uses primary until it fails, then fallback, probing the
// primary again every minute.
type FailoverSlotCache struct {
	primary  domain.SlotCache
	fallback domain.SlotCache
	failover
}

var _ domain.SlotCache = (*FailoverSlotCache)(nil)

func NewFailoverSlotCache(primary, fallback domain.SlotCache, logger *zerolog.Logger) *FailoverSlotCache {
	c := &FailoverSlotCache{primary: primary, fallback: fallback}
	c.setup("slot_cache", logger)
	return c
}

func (c *FailoverSlotCache) Get(ctx context.Context, day string) (*models.CachedSlots, error) {
	if c.usePrimary() {
		entry, err := c.primary.Get(ctx, day)
		c.report(err)
		if err == nil {
			return entry, nil
		}
	}
	return c.fallback.Get(ctx, day)
}

func (c *FailoverSlotCache) Set(ctx context.Context, entry *models.CachedSlots) error {
	if c.usePrimary() {
		err := c.primary.Set(ctx, entry)
		c.report(err)
		if err == nil {
			return nil
		}
	}
	return c.fallback.Set(ctx, entry)
}

// Invalidate clears both tiers so a recovered primary never serves a
// snapshot the fallback already dropped.
func (c *FailoverSlotCache) Invalidate(ctx context.Context, day string) error {
	if c.usePrimary() {
		c.report(c.primary.Invalidate(ctx, day))
	}
	return c.fallback.Invalidate(ctx, day)
}

// FailoverIdempotencyStore mirrors FailoverSlotCache for submission keys.
type FailoverIdempotencyStore struct {
	primary  domain.IdempotencyStore
	fallback domain.IdempotencyStore
	failover
}

var _ domain.IdempotencyStore = (*FailoverIdempotencyStore)(nil)

func NewFailoverIdempotencyStore(primary, fallback domain.IdempotencyStore, logger *zerolog.Logger) *FailoverIdempotencyStore {
	s := &FailoverIdempotencyStore{primary: primary, fallback: fallback}
	s.setup("idempotency", logger)
	return s
}

func (s *FailoverIdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.usePrimary() {
		ok, err := s.primary.Claim(ctx, key, ttl)
		s.report(err)
		if err == nil {
			return ok, nil
		}
	}
	return s.fallback.Claim(ctx, key, ttl)
}

func (s *FailoverIdempotencyStore) Release(ctx context.Context, key string) error {
	if s.usePrimary() {
		s.report(s.primary.Release(ctx, key))
	}
	return s.fallback.Release(ctx, key)
}
