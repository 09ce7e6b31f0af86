package service

import (
	"context"
	"errors"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/metrics"
	"meetdesk/internal/models"
	"meetdesk/internal/retry"

	"github.com/rs/zerolog"
)

// PolicyEngine gates user initiated reschedules and cancellations by quota.
// Admins bypass every quota.
type PolicyEngine struct {
	meetings         domain.MeetingRepository
	counters         domain.CounterRepository
	followUps        domain.FollowUpQueue
	calendar         *Calendar
	maxReschedules   int
	maxCancellations int
	readTimeout      time.Duration
	writeTimeout     time.Duration
	writeRetry       retry.Config
	logger           *zerolog.Logger
	now              func() time.Time
}

func NewPolicyEngine(
	meetings domain.MeetingRepository,
	counters domain.CounterRepository,
	followUps domain.FollowUpQueue,
	calendar *Calendar,
	opts Options,
	logger *zerolog.Logger,
) *PolicyEngine {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PolicyEngine{
		meetings:         meetings,
		counters:         counters,
		followUps:        followUps,
		calendar:         calendar,
		maxReschedules:   opts.MaxReschedules,
		maxCancellations: opts.MaxMonthlyCancellations,
		readTimeout:      opts.ReadTimeout,
		writeTimeout:     opts.WriteTimeout,
		writeRetry:       opts.WriteRetry,
		logger:           logger,
		now:              time.Now,
	}
}

type RescheduleResult struct {
	Meeting      *models.Meeting `json:"meeting"`
	PreviousDay  string          `json:"previous_day"`
	PreviousTime string          `json:"previous_time"`
	// RemainingReschedules is UnlimitedQuota for admins.
	RemainingReschedules int `json:"remaining_reschedules"`
}

type CancelResult struct {
	Meeting                *models.Meeting `json:"meeting"`
	CancellationsUsed      int             `json:"cancellations_used"`
	RemainingCancellations int             `json:"remaining_cancellations"`
}

// Reschedule moves an active meeting to another day. An empty newTime keeps
// the current slot. The status is left untouched.
func (p *PolicyEngine) Reschedule(
	ctx context.Context,
	meetingID string,
	newDate time.Time,
	newTime string,
	actor models.Actor,
) (*RescheduleResult, error) {
	meeting, err := p.loadMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !meeting.IsActive() {
		return nil, ErrInvalidTransition
	}
	if !actor.IsAdmin && !actor.Owns(meeting) {
		return nil, ErrForbidden
	}

	if newTime == "" {
		newTime = meeting.MeetingTime
	}
	start, err := p.calendar.StartOf(newDate, newTime)
	if err != nil {
		return nil, err
	}
	newDay := p.calendar.DayKey(start)
	if newDay == meeting.MeetingDay {
		return nil, ErrNoOpReschedule
	}
	if !actor.IsAdmin && meeting.RescheduleCount >= p.maxReschedules {
		metrics.IncQuotaRejection("reschedule")
		return nil, ErrRescheduleLimitExceeded
	}

	err = p.write(ctx, meeting.ID, func(ctx context.Context) error {
		return p.meetings.RescheduleMeetingWithVersion(ctx, meeting.ID, meeting.Version, start, newDay, newTime)
	}, func(stored *models.Meeting) bool {
		return stored.Version == meeting.Version+1 &&
			stored.MeetingDay == newDay &&
			stored.MeetingTime == newTime &&
			stored.RescheduleCount == meeting.RescheduleCount+1
	})
	if err != nil {
		return nil, err
	}

	result := &RescheduleResult{PreviousDay: meeting.MeetingDay, PreviousTime: meeting.MeetingTime}
	meeting.MeetingDate = start
	meeting.MeetingDay = newDay
	meeting.MeetingTime = newTime
	meeting.RescheduleCount++
	meeting.Version++
	meeting.UpdatedAt = p.now().UTC()
	result.Meeting = meeting

	if actor.IsAdmin {
		result.RemainingReschedules = models.UnlimitedQuota
	} else {
		result.RemainingReschedules = models.Remaining(p.maxReschedules, meeting.RescheduleCount)
	}
	return result, nil
}

// Cancel cancels an active meeting. For non-admins the monthly counter is
// checked first and incremented once after the cancellation commits; a
// failed increment never undoes the cancellation.
func (p *PolicyEngine) Cancel(ctx context.Context, meetingID string, actor models.Actor) (*CancelResult, error) {
	meeting, err := p.loadMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !meeting.IsActive() {
		return nil, ErrInvalidTransition
	}
	if !actor.IsAdmin && !actor.Owns(meeting) {
		return nil, ErrForbidden
	}

	now := p.now()
	year, month := p.period(now)

	used := 0
	if !actor.IsAdmin {
		used = p.cancellationCount(ctx, actor.UserID, year, month)
		if used >= p.maxCancellations {
			metrics.IncQuotaRejection("cancellation")
			return nil, ErrCancellationLimitExceeded
		}
	}

	// Postgres keeps microseconds; truncating lets a re-read compare equal.
	cancelledAt := now.UTC().Truncate(time.Microsecond)
	err = p.write(ctx, meeting.ID, func(ctx context.Context) error {
		return p.meetings.UpdateMeetingStatusWithVersion(ctx, meeting.ID, meeting.Version, models.StatusCancelled, &cancelledAt)
	}, func(stored *models.Meeting) bool {
		return stored.Version == meeting.Version+1 &&
			stored.Status == models.StatusCancelled &&
			stored.CancelledAt != nil && stored.CancelledAt.Equal(cancelledAt)
	})
	if err != nil {
		return nil, err
	}
	meeting.Status = models.StatusCancelled
	meeting.CancelledAt = &cancelledAt
	meeting.UpdatedAt = cancelledAt
	meeting.Version++

	result := &CancelResult{Meeting: meeting}
	if actor.IsAdmin {
		result.RemainingCancellations = models.UnlimitedQuota
		return result, nil
	}

	result.CancellationsUsed = p.incrementCounter(ctx, actor.UserID, year, month, meeting, used)
	result.RemainingCancellations = models.Remaining(p.maxCancellations, result.CancellationsUsed)
	return result, nil
}

// Quota reports the actor's cancellation quota for the current month.
func (p *PolicyEngine) Quota(ctx context.Context, actor models.Actor) models.QuotaView {
	year, month := p.period(p.now())
	view := models.QuotaView{Year: year, Month: month, CancellationLimit: p.maxCancellations}
	if actor.IsAdmin {
		view.Unlimited = true
		view.RemainingCancellations = models.UnlimitedQuota
		return view
	}
	view.CancellationsUsed = p.cancellationCount(ctx, actor.UserID, year, month)
	view.RemainingCancellations = models.Remaining(p.maxCancellations, view.CancellationsUsed)
	return view
}

func (p *PolicyEngine) period(t time.Time) (int, int) {
	local := t.In(p.calendar.Location())
	return local.Year(), int(local.Month())
}

// cancellationCount fails open: an unreadable counter counts as zero.
func (p *PolicyEngine) cancellationCount(ctx context.Context, userID string, year, month int) int {
	readCtx, cancel := context.WithTimeout(ctx, p.readTimeout)
	defer cancel()

	count, err := p.counters.GetCancellationCount(readCtx, userID, year, month)
	if err != nil {
		metrics.IncSoftFailure("cancellation_counter")
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("cancellation counter read failed, allowing")
		return 0
	}
	return count
}

// incrementCounter counts the cancellation that produced meeting.Version.
func (p *PolicyEngine) incrementCounter(ctx context.Context, userID string, year, month int, meeting *models.Meeting, used int) int {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()

	meetingID := meeting.ID
	_, count, err := p.counters.IncrementCancellationCount(writeCtx, userID, year, month, meetingID, meeting.Version)
	if err == nil {
		metrics.IncFollowUp(models.TaskCounterIncrement, "applied")
		return count
	}

	p.logger.Error().Err(err).
		Str("user_id", userID).
		Str("meeting_id", meetingID).
		Msg("cancellation counter increment failed")

	if p.followUps == nil {
		metrics.IncFollowUp(models.TaskCounterIncrement, "lost")
		return used + 1
	}
	if err := p.followUps.EnqueueCounterIncrement(writeCtx, meetingID, meeting.Version, userID, year, month); err != nil {
		metrics.IncFollowUp(models.TaskCounterIncrement, "lost")
		p.logger.Error().Err(err).Str("meeting_id", meetingID).Msg("failed to enqueue counter increment")
	} else {
		metrics.IncFollowUp(models.TaskCounterIncrement, "deferred")
	}
	return used + 1
}

func (p *PolicyEngine) loadMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	readCtx, cancel := context.WithTimeout(ctx, p.readTimeout)
	defer cancel()

	meeting, err := p.meetings.GetMeeting(readCtx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrMeetingNotFound
	}
	if err != nil {
		p.logger.Error().Err(err).Str("meeting_id", id).Msg("failed to load meeting")
		return nil, errors.Join(ErrTemporary, err)
	}
	return meeting, nil
}

// write runs a versioned single-row update of meetingID with bounded retries.
// A retry that finds the version already moved re-reads the meeting: when
// applied recognises the intended state, an earlier attempt committed before
// its error surfaced and the write counts as done.
func (p *PolicyEngine) write(
	ctx context.Context,
	meetingID string,
	fn func(ctx context.Context) error,
	applied func(stored *models.Meeting) bool,
) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	attempt := 0
	err := retry.DoWithLog(writeCtx, p.writeRetry, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if attempt > 1 && errors.Is(err, domain.ErrConcurrentModification) && p.committed(ctx, meetingID, applied) {
			p.logger.Info().Str("meeting_id", meetingID).Int("attempt", attempt).Msg("meeting update committed by an earlier attempt")
			return nil
		}
		if errors.Is(err, domain.ErrUniqueViolation) || errors.Is(err, domain.ErrConcurrentModification) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		p.logger.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", next).Msg("meeting update failed, retrying")
	})
	return mapWriteError(err)
}

func (p *PolicyEngine) committed(ctx context.Context, meetingID string, applied func(*models.Meeting) bool) bool {
	if applied == nil {
		return false
	}
	stored, err := p.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		p.logger.Warn().Err(err).Str("meeting_id", meetingID).Msg("failed to re-read meeting after retry")
		return false
	}
	return applied(stored)
}
