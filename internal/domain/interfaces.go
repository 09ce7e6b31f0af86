package domain

import (
	"context"
	"time"

	"meetdesk/internal/models"
)

// MeetingRepository is the authoritative meeting store. CreateMeeting and the
// versioned updates return ErrUniqueViolation when an active meeting already
// holds the (day, time) slot.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting *models.Meeting) error
	GetMeeting(ctx context.Context, id string) (*models.Meeting, error)
	ListActiveMeetingsForDay(ctx context.Context, day string) ([]*models.Meeting, error)
	ListMeetingsByUser(ctx context.Context, userID string, statuses []string) ([]*models.Meeting, error)
	FindRecentDuplicate(ctx context.Context, userID, email string, meetingDate, since time.Time) (*models.Meeting, error)
	RescheduleMeetingWithVersion(ctx context.Context, id string, version int64, newDate time.Time, newDay, newTime string) error
	UpdateMeetingStatusWithVersion(ctx context.Context, id string, version int64, status string, cancelledAt *time.Time) error
	ListMeetings(ctx context.Context, filter models.MeetingFilter) ([]*models.Meeting, error)
}

// CounterRepository stores monthly cancellation counters. Increments are keyed
// by the meeting id and the version the cancellation produced, so each
// cancellation is counted at most once and a reopened meeting that is
// cancelled again counts again.
type CounterRepository interface {
	GetCancellationCount(ctx context.Context, userID string, year, month int) (int, error)
	IncrementCancellationCount(ctx context.Context, userID string, year, month int, meetingID string, meetingVersion int64) (applied bool, count int, err error)
}

// FollowUpStore persists post-commit tasks for the follow-up worker.
type FollowUpStore interface {
	CreateFollowUpTask(ctx context.Context, task *models.FollowUpTask) error
	GetPendingFollowUpTasks(ctx context.Context, limit int) ([]models.FollowUpTask, error)
	UpdateFollowUpTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Store is everything a storage backend provides.
type Store interface {
	MeetingRepository
	CounterRepository
	FollowUpStore
	Ping(ctx context.Context) error
	Close() error
}

// SlotCache keeps advisory availability snapshots. A miss is (nil, nil).
type SlotCache interface {
	Get(ctx context.Context, day string) (*models.CachedSlots, error)
	Set(ctx context.Context, entry *models.CachedSlots) error
	Invalidate(ctx context.Context, day string) error
}

// IdempotencyStore claims submission keys for a bounded window.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// FollowUpQueue schedules post-commit work that must not fail the request.
type FollowUpQueue interface {
	EnqueueCounterIncrement(ctx context.Context, meetingID string, meetingVersion int64, userID string, year, month int) error
	EnqueueMeetingSync(ctx context.Context, meeting *models.Meeting) error
}

// StateRepository keeps chat dialog state. A missing state is (nil, nil).
type StateRepository interface {
	GetState(ctx context.Context, userID int64) (*models.UserState, error)
	SetState(ctx context.Context, state *models.UserState) error
	ClearState(ctx context.Context, userID int64) error
}
