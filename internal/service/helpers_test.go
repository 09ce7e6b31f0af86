package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"meetdesk/internal/database"
	"meetdesk/internal/domain"
	"meetdesk/internal/models"
	"meetdesk/internal/retry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Monday 2026-03-02 08:00 UTC.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func testOptions() Options {
	opts := Options{
		WriteRetry: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  time.Millisecond,
			MaxDelay:      2 * time.Millisecond,
			BackoffFactor: 2,
		},
	}
	opts.applyDefaults()
	return opts
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedMeeting(t *testing.T, db *database.DB, id, userID, day, slot, status string) *models.Meeting {
	t.Helper()
	start, err := time.ParseInLocation(models.DateLayout+" 15:04", day+" "+slot, time.UTC)
	require.NoError(t, err)
	m := &models.Meeting{
		ID:          id,
		UserID:      userID,
		FullName:    "Test User",
		Email:       userID + "@example.com",
		MeetingDate: start,
		MeetingDay:  day,
		MeetingTime: slot,
		Status:      status,
		CreatedAt:   testNow.Add(-time.Hour),
	}
	require.NoError(t, db.CreateMeeting(context.Background(), m))
	return m
}

func userActor(id string) models.Actor {
	return models.Actor{UserID: id, Email: id + "@example.com"}
}

var adminActor = models.Actor{UserID: "admin-1", Email: "admin@example.com", IsAdmin: true}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateMeeting(ctx context.Context, meeting *models.Meeting) error {
	return m.Called(ctx, meeting).Error(0)
}

func (m *mockRepo) GetMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Meeting), args.Error(1)
}

func (m *mockRepo) ListActiveMeetingsForDay(ctx context.Context, day string) ([]*models.Meeting, error) {
	args := m.Called(ctx, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Meeting), args.Error(1)
}

func (m *mockRepo) ListMeetingsByUser(ctx context.Context, userID string, statuses []string) ([]*models.Meeting, error) {
	args := m.Called(ctx, userID, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Meeting), args.Error(1)
}

func (m *mockRepo) FindRecentDuplicate(ctx context.Context, userID, email string, meetingDate, since time.Time) (*models.Meeting, error) {
	args := m.Called(ctx, userID, email, meetingDate, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Meeting), args.Error(1)
}

func (m *mockRepo) RescheduleMeetingWithVersion(ctx context.Context, id string, version int64, newDate time.Time, newDay, newTime string) error {
	return m.Called(ctx, id, version, newDate, newDay, newTime).Error(0)
}

func (m *mockRepo) UpdateMeetingStatusWithVersion(ctx context.Context, id string, version int64, status string, cancelledAt *time.Time) error {
	return m.Called(ctx, id, version, status, cancelledAt).Error(0)
}

func (m *mockRepo) ListMeetings(ctx context.Context, filter models.MeetingFilter) ([]*models.Meeting, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Meeting), args.Error(1)
}

type mockCounters struct {
	mock.Mock
}

func (m *mockCounters) GetCancellationCount(ctx context.Context, userID string, year, month int) (int, error) {
	args := m.Called(ctx, userID, year, month)
	return args.Int(0), args.Error(1)
}

func (m *mockCounters) IncrementCancellationCount(
	ctx context.Context,
	userID string,
	year, month int,
	meetingID string,
	meetingVersion int64,
) (bool, int, error) {
	args := m.Called(ctx, userID, year, month, meetingID, meetingVersion)
	return args.Bool(0), args.Int(1), args.Error(2)
}

type mockFollowUps struct {
	mock.Mock
}

func (m *mockFollowUps) EnqueueCounterIncrement(ctx context.Context, meetingID string, meetingVersion int64, userID string, year, month int) error {
	return m.Called(ctx, meetingID, meetingVersion, userID, year, month).Error(0)
}

func (m *mockFollowUps) EnqueueMeetingSync(ctx context.Context, meeting *models.Meeting) error {
	return m.Called(ctx, meeting).Error(0)
}

type recordedEvent struct {
	Type    string
	Payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) PublishJSON(eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Payload: payload})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingQueue struct {
	mu       sync.Mutex
	synced   []string
	counters []string
}

func (q *recordingQueue) EnqueueCounterIncrement(_ context.Context, meetingID string, _ int64, _ string, _, _ int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counters = append(q.counters, meetingID)
	return nil
}

func (q *recordingQueue) EnqueueMeetingSync(_ context.Context, meeting *models.Meeting) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.synced = append(q.synced, meeting.ID)
	return nil
}

// memoryClaims is an in-process IdempotencyStore that ignores ttl.
type memoryClaims struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{keys: make(map[string]bool)}
}

func (c *memoryClaims) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memoryClaims) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

// memorySlotCache is a map backed SlotCache.
type memorySlotCache struct {
	mu      sync.Mutex
	entries map[string]*models.CachedSlots
}

func newMemorySlotCache() *memorySlotCache {
	return &memorySlotCache{entries: make(map[string]*models.CachedSlots)}
}

func (c *memorySlotCache) Get(_ context.Context, day string) (*models.CachedSlots, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[day], nil
}

func (c *memorySlotCache) Set(_ context.Context, entry *models.CachedSlots) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Day] = entry
	return nil
}

func (c *memorySlotCache) Invalidate(_ context.Context, day string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, day)
	return nil
}

func errUnique() error { return domain.ErrUniqueViolation }

// commitThenFail applies versioned updates to the database and then reports
// a transport error for the first failures calls, like a connection dropped
// after COMMIT.
type commitThenFail struct {
	*database.DB
	failures int
}

func (c *commitThenFail) fail() error {
	if c.failures > 0 {
		c.failures--
		return errors.New("connection reset by peer")
	}
	return nil
}

func (c *commitThenFail) RescheduleMeetingWithVersion(ctx context.Context, id string, version int64, newDate time.Time, newDay, newTime string) error {
	if err := c.DB.RescheduleMeetingWithVersion(ctx, id, version, newDate, newDay, newTime); err != nil {
		return err
	}
	return c.fail()
}

func (c *commitThenFail) UpdateMeetingStatusWithVersion(ctx context.Context, id string, version int64, status string, cancelledAt *time.Time) error {
	if err := c.DB.UpdateMeetingStatusWithVersion(ctx, id, version, status, cancelledAt); err != nil {
		return err
	}
	return c.fail()
}
