package service

import (
	"context"
	"slices"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/metrics"
	"meetdesk/internal/models"

	"github.com/rs/zerolog"
)

// AvailabilityService answers advisory "which slots are free" reads.
// It never fails the caller: a broken read returns every slot and the
// storage constraint catches the conflict at insert time.
type AvailabilityService struct {
	repo        domain.MeetingRepository
	cache       domain.SlotCache
	calendar    *Calendar
	readTimeout time.Duration
	cacheTTL    time.Duration
	logger      *zerolog.Logger
	now         func() time.Time
}

func NewAvailabilityService(
	repo domain.MeetingRepository,
	cache domain.SlotCache,
	calendar *Calendar,
	opts Options,
	logger *zerolog.Logger,
) *AvailabilityService {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AvailabilityService{
		repo:        repo,
		cache:       cache,
		calendar:    calendar,
		readTimeout: opts.ReadTimeout,
		cacheTTL:    opts.SlotCacheTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// GetAvailableSlots returns the free slot labels for date in calendar order.
// forceRefresh skips the cache and reads storage directly.
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, date time.Time, forceRefresh bool) []string {
	now := s.now()
	day := s.calendar.NormalizeDay(date)
	if day.Before(s.calendar.NormalizeDay(now)) {
		return []string{}
	}
	key := s.calendar.DayKey(day)

	if !forceRefresh && s.cache != nil {
		entry, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("day", key).Msg("slot cache read failed")
		} else if entry.Fresh(now) {
			return slices.Clone(entry.Available)
		}
	}

	all := s.calendar.SlotsForDate(day)

	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	meetings, err := s.repo.ListActiveMeetingsForDay(readCtx, key)
	if err != nil {
		metrics.IncSoftFailure("availability")
		s.logger.Warn().Err(err).Str("day", key).Msg("availability read failed, returning all slots")
		return all
	}

	occupied := make(map[string]struct{}, len(meetings))
	for _, m := range meetings {
		occupied[m.MeetingTime] = struct{}{}
	}
	free := make([]string, 0, len(all))
	for _, slot := range all {
		if _, taken := occupied[slot]; !taken {
			free = append(free, slot)
		}
	}

	if s.cache != nil {
		entry := &models.CachedSlots{Day: key, Available: slices.Clone(free), FetchedAt: now, TTL: s.cacheTTL}
		if err := s.cache.Set(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Str("day", key).Msg("slot cache write failed")
		}
	}
	return free
}

// IsTimeAvailable reports whether slot is free on date, reading storage directly.
func (s *AvailabilityService) IsTimeAvailable(ctx context.Context, date time.Time, slot string) bool {
	return slices.Contains(s.GetAvailableSlots(ctx, date, true), slot)
}

// GetSlotStates returns every slot of the day with its availability.
func (s *AvailabilityService) GetSlotStates(ctx context.Context, date time.Time, forceRefresh bool) []models.Slot {
	free := s.GetAvailableSlots(ctx, date, forceRefresh)
	all := s.calendar.SlotsForDate(date)
	states := make([]models.Slot, 0, len(all))
	for _, slot := range all {
		states = append(states, models.Slot{Label: slot, Available: slices.Contains(free, slot)})
	}
	return states
}

// Invalidate drops the cached snapshot for the day of date.
func (s *AvailabilityService) Invalidate(ctx context.Context, date time.Time) {
	if s.cache == nil {
		return
	}
	key := s.calendar.DayKey(date)
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("day", key).Msg("slot cache invalidation failed")
	}
}
