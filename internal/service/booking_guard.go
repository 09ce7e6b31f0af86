package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/metrics"
	"meetdesk/internal/models"
	"meetdesk/internal/retry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingGuard protects the one-active-meeting rule and the slot invariant.
type BookingGuard struct {
	repo         domain.MeetingRepository
	idempotency  domain.IdempotencyStore
	readTimeout  time.Duration
	writeTimeout time.Duration
	writeRetry   retry.Config
	logger       *zerolog.Logger
	now          func() time.Time
	newID        func() string
}

func NewBookingGuard(
	repo domain.MeetingRepository,
	idempotency domain.IdempotencyStore,
	opts Options,
	logger *zerolog.Logger,
) *BookingGuard {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingGuard{
		repo:         repo,
		idempotency:  idempotency,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		writeRetry:   opts.WriteRetry,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// AssertNoActiveMeeting fails with *ActiveMeetingError when a non-admin
// already holds a pending or confirmed meeting. Read failures let the
// booking through.
func (g *BookingGuard) AssertNoActiveMeeting(ctx context.Context, actor models.Actor) error {
	if actor.IsAdmin {
		return nil
	}

	readCtx, cancel := context.WithTimeout(ctx, g.readTimeout)
	defer cancel()

	meetings, err := g.repo.ListMeetingsByUser(readCtx, actor.UserID, models.ActiveStatuses)
	if err != nil {
		metrics.IncSoftFailure("active_meeting_guard")
		g.logger.Warn().Err(err).Str("user_id", actor.UserID).Msg("active meeting check failed, allowing booking")
		return nil
	}
	if len(meetings) > 0 {
		return &ActiveMeetingError{MeetingID: meetings[0].ID}
	}
	return nil
}

// IdempotencyKey identifies one logical booking submission.
func IdempotencyKey(userID, email string, meetingDate time.Time) string {
	raw := userID + "|" + strings.ToLower(strings.TrimSpace(email)) + "|" + meetingDate.UTC().Format(time.RFC3339)
	sum := sha256.Sum256([]byte(raw))
	return "booking:" + hex.EncodeToString(sum[:])
}

// DuplicateCheck is the outcome of SuppressDuplicateSubmission.
type DuplicateCheck struct {
	Key string
	// Existing is the meeting an earlier identical submission created.
	Existing *models.Meeting
	// InFlight is set when another identical submission holds the key
	// but has not produced a meeting yet.
	InFlight bool
}

func (d DuplicateCheck) Duplicate() bool {
	return d.Existing != nil || d.InFlight
}

// SuppressDuplicateSubmission claims the submission key for window and looks
// for a meeting an identical submission created within window. Failures are
// logged and reported as "not a duplicate".
func (g *BookingGuard) SuppressDuplicateSubmission(
	ctx context.Context,
	userID, email string,
	meetingDate time.Time,
	window time.Duration,
) DuplicateCheck {
	if window <= 0 {
		window = models.DuplicateWindow
	}
	check := DuplicateCheck{Key: IdempotencyKey(userID, email, meetingDate)}

	claimed := true
	if g.idempotency != nil {
		ok, err := g.idempotency.Claim(ctx, check.Key, window)
		if err != nil {
			g.logger.Warn().Err(err).Str("user_id", userID).Msg("idempotency claim failed")
		} else {
			claimed = ok
		}
	}

	readCtx, cancel := context.WithTimeout(ctx, g.readTimeout)
	defer cancel()
	existing, err := g.repo.FindRecentDuplicate(readCtx, userID, email, meetingDate, g.now().Add(-window))
	if err != nil {
		metrics.IncSoftFailure("duplicate_lookup")
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("duplicate submission lookup failed")
		return check
	}

	check.Existing = existing
	check.InFlight = existing == nil && !claimed
	return check
}

// Release frees a submission key so the same slot can be requested again.
func (g *BookingGuard) Release(ctx context.Context, key string) {
	if g.idempotency == nil || key == "" {
		return
	}
	if err := g.idempotency.Release(ctx, key); err != nil {
		g.logger.Warn().Err(err).Msg("idempotency release failed")
	}
}

// InsertMeeting writes a new pending meeting. Transient failures are retried
// with backoff; losing the slot race returns ErrSlotAlreadyTaken.
func (g *BookingGuard) InsertMeeting(ctx context.Context, meeting *models.Meeting) error {
	if meeting.ID == "" {
		meeting.ID = g.newID()
	}
	meeting.Status = models.StatusPending
	meeting.RescheduleCount = 0
	meeting.CancelledAt = nil
	if meeting.CreatedAt.IsZero() {
		meeting.CreatedAt = g.now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()

	attempt := 0
	err := retry.DoWithLog(writeCtx, g.writeRetry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			// An earlier attempt may have committed before its error surfaced.
			if stored, err := g.repo.GetMeeting(ctx, meeting.ID); err == nil {
				*meeting = *stored
				return nil
			}
		}
		err := g.repo.CreateMeeting(ctx, meeting)
		if errors.Is(err, domain.ErrUniqueViolation) {
			return retry.Permanent(ErrSlotAlreadyTaken)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		g.logger.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", next).
			Str("meeting_id", meeting.ID).Msg("meeting insert failed, retrying")
	})
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyTaken) {
			return ErrSlotAlreadyTaken
		}
		g.logger.Error().Err(err).Str("meeting_id", meeting.ID).Msg("meeting insert failed")
		return errors.Join(ErrTemporary, err)
	}
	return nil
}
