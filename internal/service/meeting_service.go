package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/events"
	"meetdesk/internal/export"
	"meetdesk/internal/metrics"
	"meetdesk/internal/models"

	"github.com/rs/zerolog"
)

// Deps are the collaborators of MeetingService. Cache, Idempotency,
// Events and FollowUps are optional.
type Deps struct {
	Meetings    domain.MeetingRepository
	Counters    domain.CounterRepository
	Cache       domain.SlotCache
	Idempotency domain.IdempotencyStore
	Events      domain.EventPublisher
	FollowUps   domain.FollowUpQueue
}

// MinDescriptionLength matches the min tag on BookingRequest.ProjectDescription.
const MinDescriptionLength = 20

// BookingRequest is a meeting request submitted by the wizard.
type BookingRequest struct {
	FullName           string `json:"full_name" validate:"required,max=200"`
	Email              string `json:"email" validate:"required,email"`
	Phone              string `json:"phone" validate:"max=50"`
	ProjectType        string `json:"project_type" validate:"required,max=200"`
	ProjectDescription string `json:"project_description" validate:"required,min=20,max=5000"`
	Timeline           string `json:"timeline" validate:"max=100"`
	Budget             string `json:"budget" validate:"max=100"`
	Date               string `json:"date" validate:"required,datetime=2006-01-02"`
	Time               string `json:"time" validate:"required,datetime=15:04"`
}

type RescheduleRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"omitempty,datetime=15:04"`
}

// BookingResult reports the booked meeting. A repeated submission sets
// Duplicate; when the first submission is still being processed there is no
// meeting yet and InProgress is set.
type BookingResult struct {
	Meeting    *models.Meeting `json:"meeting,omitempty"`
	Duplicate  bool            `json:"duplicate"`
	InProgress bool            `json:"in_progress,omitempty"`
}

// MeetingService orchestrates booking and meeting changes.
type MeetingService struct {
	repo            domain.MeetingRepository
	calendar        *Calendar
	availability    *AvailabilityService
	guard           *BookingGuard
	policy          *PolicyEngine
	events          domain.EventPublisher
	followUps       domain.FollowUpQueue
	maxBookingDays  int
	duplicateWindow time.Duration
	readTimeout     time.Duration
	logger          *zerolog.Logger
	now             func() time.Time
}

func NewMeetingService(deps Deps, opts Options, logger *zerolog.Logger) *MeetingService {
	opts.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	calendar := NewCalendar(opts.Slots, opts.Location)
	return &MeetingService{
		repo:            deps.Meetings,
		calendar:        calendar,
		availability:    NewAvailabilityService(deps.Meetings, deps.Cache, calendar, opts, logger),
		guard:           NewBookingGuard(deps.Meetings, deps.Idempotency, opts, logger),
		policy:          NewPolicyEngine(deps.Meetings, deps.Counters, deps.FollowUps, calendar, opts, logger),
		events:          deps.Events,
		followUps:       deps.FollowUps,
		maxBookingDays:  opts.MaxBookingDays,
		duplicateWindow: opts.DuplicateWindow,
		readTimeout:     opts.ReadTimeout,
		logger:          logger,
		now:             time.Now,
	}
}

func (s *MeetingService) Calendar() *Calendar { return s.calendar }

func (s *MeetingService) Availability() *AvailabilityService { return s.availability }

// setClock replaces the time source of every component.
func (s *MeetingService) setClock(now func() time.Time) {
	s.now = now
	s.availability.now = now
	s.guard.now = now
	s.policy.now = now
}

// ValidateBookingDate rejects days before today and beyond the booking horizon.
func (s *MeetingService) ValidateBookingDate(date time.Time) error {
	day := s.calendar.NormalizeDay(date)
	today := s.calendar.NormalizeDay(s.now())
	if day.Before(today) {
		return ErrPastDate
	}
	if day.After(today.AddDate(0, 0, s.maxBookingDays)) {
		return ErrDateTooFar
	}
	return nil
}

// Slots returns the slot states for a YYYY-MM-DD day.
func (s *MeetingService) Slots(ctx context.Context, rawDate string, forceRefresh bool) ([]models.Slot, error) {
	day, err := s.calendar.ParseDay(rawDate)
	if err != nil {
		return nil, err
	}
	return s.availability.GetSlotStates(ctx, day, forceRefresh), nil
}

// BookMeeting creates a pending meeting for actor. A repeated identical
// submission returns the meeting created by the first one.
func (s *MeetingService) BookMeeting(ctx context.Context, actor models.Actor, req BookingRequest) (*BookingResult, error) {
	day, err := s.calendar.ParseDay(req.Date)
	if err != nil {
		return nil, err
	}
	if err := s.ValidateBookingDate(day); err != nil {
		metrics.IncBooking("invalid")
		return nil, err
	}
	start, err := s.calendar.StartOf(day, req.Time)
	if err != nil {
		metrics.IncBooking("invalid")
		return nil, err
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = actor.Email
	}

	dup := s.guard.SuppressDuplicateSubmission(ctx, actor.UserID, email, start, s.duplicateWindow)
	if dup.Existing != nil {
		metrics.IncBooking("duplicate")
		s.logger.Info().Str("meeting_id", dup.Existing.ID).Str("user_id", actor.UserID).Msg("duplicate booking submission suppressed")
		return &BookingResult{Meeting: dup.Existing, Duplicate: true}, nil
	}
	if dup.InFlight {
		metrics.IncBooking("duplicate")
		s.logger.Info().Str("user_id", actor.UserID).Msg("booking submission already in progress")
		return &BookingResult{Duplicate: true, InProgress: true}, nil
	}

	if err := s.guard.AssertNoActiveMeeting(ctx, actor); err != nil {
		s.guard.Release(ctx, dup.Key)
		metrics.IncBooking("active_exists")
		return nil, err
	}

	if !s.availability.IsTimeAvailable(ctx, day, req.Time) {
		s.guard.Release(ctx, dup.Key)
		metrics.IncBooking("slot_taken")
		return nil, ErrSlotAlreadyTaken
	}

	meeting := &models.Meeting{
		UserID:             actor.UserID,
		FullName:           strings.TrimSpace(req.FullName),
		Email:              email,
		Phone:              strings.TrimSpace(req.Phone),
		ProjectType:        strings.TrimSpace(req.ProjectType),
		ProjectDescription: strings.TrimSpace(req.ProjectDescription),
		Timeline:           req.Timeline,
		Budget:             req.Budget,
		MeetingDate:        start,
		MeetingDay:         s.calendar.DayKey(start),
		MeetingTime:        req.Time,
	}
	if err := s.guard.InsertMeeting(ctx, meeting); err != nil {
		s.guard.Release(ctx, dup.Key)
		if errors.Is(err, ErrSlotAlreadyTaken) {
			metrics.IncBooking("slot_taken")
			s.availability.Invalidate(ctx, day)
		} else {
			metrics.IncBooking("error")
		}
		return nil, err
	}

	metrics.IncBooking("created")
	s.logger.Info().
		Str("meeting_id", meeting.ID).
		Str("user_id", actor.UserID).
		Str("day", meeting.MeetingDay).
		Str("time", meeting.MeetingTime).
		Msg("meeting booked")

	s.afterCommit(ctx, events.EventMeetingCreated, meeting, actor, nil)
	return &BookingResult{Meeting: meeting}, nil
}

// RescheduleMeeting moves a meeting to another day, optionally another slot.
func (s *MeetingService) RescheduleMeeting(
	ctx context.Context,
	actor models.Actor,
	meetingID string,
	req RescheduleRequest,
) (*RescheduleResult, error) {
	day, err := s.calendar.ParseDay(req.Date)
	if err != nil {
		return nil, err
	}
	if err := s.ValidateBookingDate(day); err != nil {
		return nil, err
	}

	result, err := s.policy.Reschedule(ctx, meetingID, day, req.Time, actor)
	if err != nil {
		return nil, err
	}

	m := result.Meeting
	s.logger.Info().
		Str("meeting_id", m.ID).
		Str("from", result.PreviousDay+" "+result.PreviousTime).
		Str("to", m.MeetingDay+" "+m.MeetingTime).
		Bool("admin", actor.IsAdmin).
		Msg("meeting rescheduled")

	if previous, err := s.calendar.ParseDay(result.PreviousDay); err == nil {
		s.availability.Invalidate(ctx, previous)
		if prevStart, err := s.calendar.StartOf(previous, result.PreviousTime); err == nil {
			s.guard.Release(ctx, IdempotencyKey(m.UserID, m.Email, prevStart))
		}
	}
	s.afterCommit(ctx, events.EventMeetingRescheduled, m, actor, func(p *events.MeetingEventPayload) {
		p.PreviousDay = result.PreviousDay
		p.PreviousTime = result.PreviousTime
	})
	return result, nil
}

// CancelMeeting cancels a meeting through the policy engine.
func (s *MeetingService) CancelMeeting(ctx context.Context, actor models.Actor, meetingID string) (*CancelResult, error) {
	result, err := s.policy.Cancel(ctx, meetingID, actor)
	if err != nil {
		return nil, err
	}

	m := result.Meeting
	s.logger.Info().Str("meeting_id", m.ID).Bool("admin", actor.IsAdmin).Msg("meeting cancelled")
	s.guard.Release(ctx, IdempotencyKey(m.UserID, m.Email, m.MeetingDate))
	s.afterCommit(ctx, events.EventMeetingCancelled, m, actor, nil)
	return result, nil
}

// ChangeStatus applies a lifecycle transition. Cancellation goes through the
// policy engine; reopening is subject to the active slot constraint.
func (s *MeetingService) ChangeStatus(ctx context.Context, actor models.Actor, meetingID, to string) (*models.Meeting, error) {
	if !models.IsKnownStatus(to) {
		return nil, ErrInvalidTransition
	}
	if to == models.StatusCancelled {
		result, err := s.CancelMeeting(ctx, actor, meetingID)
		if err != nil {
			return nil, err
		}
		return result.Meeting, nil
	}

	meeting, err := s.policy.loadMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	from := meeting.Status
	if from == to {
		return nil, ErrInvalidTransition
	}
	if err := CanTransition(from, to, actor, actor.Owns(meeting)); err != nil {
		return nil, err
	}

	err = s.policy.write(ctx, meeting.ID, func(ctx context.Context) error {
		return s.repo.UpdateMeetingStatusWithVersion(ctx, meeting.ID, meeting.Version, to, nil)
	}, func(stored *models.Meeting) bool {
		return stored.Version == meeting.Version+1 && stored.Status == to
	})
	if err != nil {
		return nil, err
	}
	meeting.Status = to
	meeting.CancelledAt = nil
	meeting.Version++
	meeting.UpdatedAt = s.now().UTC()

	eventType := events.EventMeetingConfirmed
	switch {
	case IsReopen(from, to):
		eventType = events.EventMeetingReopened
	case to == models.StatusCompleted:
		eventType = events.EventMeetingCompleted
	}

	s.logger.Info().Str("meeting_id", meeting.ID).Str("from", from).Str("to", to).Msg("meeting status changed")
	s.afterCommit(ctx, eventType, meeting, actor, nil)
	return meeting, nil
}

// GetMeeting returns a meeting visible to actor.
func (s *MeetingService) GetMeeting(ctx context.Context, actor models.Actor, meetingID string) (*models.Meeting, error) {
	meeting, err := s.policy.loadMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && !actor.Owns(meeting) {
		return nil, ErrMeetingNotFound
	}
	return meeting, nil
}

// ListUserMeetings lists the actor's own meetings. Read failures yield an
// empty list.
func (s *MeetingService) ListUserMeetings(ctx context.Context, actor models.Actor) []*models.Meeting {
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	meetings, err := s.repo.ListMeetingsByUser(readCtx, actor.UserID, nil)
	if err != nil {
		metrics.IncSoftFailure("user_meetings")
		s.logger.Warn().Err(err).Str("user_id", actor.UserID).Msg("failed to list user meetings")
		return []*models.Meeting{}
	}
	return meetings
}

// ListMeetings is the admin listing. Read failures yield an empty list.
func (s *MeetingService) ListMeetings(ctx context.Context, actor models.Actor, filter models.MeetingFilter) ([]*models.Meeting, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	meetings, err := s.repo.ListMeetings(readCtx, filter)
	if err != nil {
		metrics.IncSoftFailure("admin_meetings")
		s.logger.Warn().Err(err).Msg("failed to list meetings")
		return []*models.Meeting{}, nil
	}
	return meetings, nil
}

// ExportMeetings writes the filtered admin listing as an XLSX workbook.
func (s *MeetingService) ExportMeetings(ctx context.Context, actor models.Actor, filter models.MeetingFilter, w io.Writer) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	meetings, err := s.repo.ListMeetings(readCtx, filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load meetings for export")
		return errors.Join(ErrTemporary, err)
	}
	return export.WriteMeetings(w, meetings, s.calendar.Location())
}

// Quota reports the actor's remaining monthly cancellations.
func (s *MeetingService) Quota(ctx context.Context, actor models.Actor) models.QuotaView {
	return s.policy.Quota(ctx, actor)
}

// afterCommit runs the best-effort follow-ups of a committed change.
func (s *MeetingService) afterCommit(
	ctx context.Context,
	eventType string,
	meeting *models.Meeting,
	actor models.Actor,
	decorate func(*events.MeetingEventPayload),
) {
	ctx = context.WithoutCancel(ctx)

	s.availability.Invalidate(ctx, meeting.MeetingDate)

	if s.events != nil {
		payload := events.NewMeetingEventPayload(meeting, actor)
		if decorate != nil {
			decorate(&payload)
		}
		if err := s.events.PublishJSON(eventType, payload); err != nil {
			s.logger.Error().Err(err).Str("event", eventType).Str("meeting_id", meeting.ID).Msg("failed to publish event")
		}
	}

	if s.followUps != nil {
		if err := s.followUps.EnqueueMeetingSync(ctx, meeting); err != nil {
			metrics.IncFollowUp(models.TaskSheetsUpsert, "lost")
			s.logger.Error().Err(err).Str("meeting_id", meeting.ID).Msg("failed to enqueue meeting sync")
		}
	}
}
