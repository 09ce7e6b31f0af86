package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"meetdesk/internal/database"
	"meetdesk/internal/domain"
	"meetdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPolicy(meetings domain.MeetingRepository, counters domain.CounterRepository, followUps domain.FollowUpQueue) *PolicyEngine {
	opts := testOptions()
	p := NewPolicyEngine(meetings, counters, followUps, NewCalendar(opts.Slots, opts.Location), opts, testLogger())
	p.now = fixedClock
	return p
}

func newDBPolicy(t *testing.T) (*PolicyEngine, *database.DB) {
	db := newTestDB(t)
	return newTestPolicy(db, db, nil), db
}

func day(raw string) time.Time {
	d, _ := time.Parse(models.DateLayout, raw)
	return d
}

func TestReschedule(t *testing.T) {
	ctx := context.Background()
	p, db := newDBPolicy(t)
	seedMeeting(t, db, "m-1", "u-1", "2026-03-05", "09:00", models.StatusConfirmed)
	owner := userActor("u-1")

	res, err := p.Reschedule(ctx, "m-1", day("2026-03-06"), "", owner)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-06", res.Meeting.MeetingDay)
	assert.Equal(t, "09:00", res.Meeting.MeetingTime)
	assert.Equal(t, "2026-03-05", res.PreviousDay)
	assert.Equal(t, 2, res.RemainingReschedules)

	stored, err := db.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RescheduleCount)
	assert.Equal(t, models.StatusConfirmed, stored.Status, "reschedule keeps the status")
	assert.Equal(t, time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC), stored.MeetingDate.UTC())

	// Same day is a no-op regardless of the slot, and does not count.
	_, err = p.Reschedule(ctx, "m-1", day("2026-03-06"), "14:00", owner)
	assert.ErrorIs(t, err, ErrNoOpReschedule)

	res, err = p.Reschedule(ctx, "m-1", day("2026-03-09"), "14:00", owner)
	require.NoError(t, err)
	assert.Equal(t, "14:00", res.Meeting.MeetingTime)
	assert.Equal(t, 1, res.RemainingReschedules)

	res, err = p.Reschedule(ctx, "m-1", day("2026-03-10"), "", owner)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemainingReschedules)

	_, err = p.Reschedule(ctx, "m-1", day("2026-03-11"), "", owner)
	assert.ErrorIs(t, err, ErrRescheduleLimitExceeded)

	// Admins are not limited.
	res, err = p.Reschedule(ctx, "m-1", day("2026-03-11"), "", adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.UnlimitedQuota, res.RemainingReschedules)
	assert.Equal(t, 4, res.Meeting.RescheduleCount)

	_, err = p.Reschedule(ctx, "m-1", day("2026-03-11"), "", adminActor)
	assert.ErrorIs(t, err, ErrNoOpReschedule)
}

func TestReschedule_Preconditions(t *testing.T) {
	ctx := context.Background()
	p, db := newDBPolicy(t)
	seedMeeting(t, db, "m-1", "u-1", "2026-03-05", "09:00", models.StatusPending)
	seedMeeting(t, db, "m-2", "u-2", "2026-03-05", "11:00", models.StatusCancelled)
	seedMeeting(t, db, "m-3", "u-3", "2026-03-06", "09:00", models.StatusPending)

	_, err := p.Reschedule(ctx, "m-1", day("2026-03-06"), "", userActor("u-9"))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = p.Reschedule(ctx, "m-2", day("2026-03-06"), "", userActor("u-2"))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = p.Reschedule(ctx, "missing", day("2026-03-06"), "", adminActor)
	assert.ErrorIs(t, err, ErrMeetingNotFound)

	_, err = p.Reschedule(ctx, "m-1", day("2026-03-06"), "07:00", userActor("u-1"))
	assert.ErrorIs(t, err, ErrUnknownSlot)

	// The target slot is held by m-3.
	_, err = p.Reschedule(ctx, "m-1", day("2026-03-06"), "09:00", userActor("u-1"))
	assert.ErrorIs(t, err, ErrSlotAlreadyTaken)

	stored, err := db.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.RescheduleCount)
}

func TestReschedule_StaleVersion(t *testing.T) {
	repo := &mockRepo{}
	repo.On("GetMeeting", mock.Anything, "m-1").Return(&models.Meeting{
		ID: "m-1", UserID: "u-1", Status: models.StatusPending, MeetingDay: "2026-03-05", MeetingTime: "09:00", Version: 3,
	}, nil)
	repo.On("RescheduleMeetingWithVersion", mock.Anything, "m-1", int64(3), mock.Anything, "2026-03-06", "09:00").
		Return(domain.ErrConcurrentModification).Once()
	p := newTestPolicy(repo, &mockCounters{}, nil)

	_, err := p.Reschedule(context.Background(), "m-1", day("2026-03-06"), "", userActor("u-1"))
	assert.ErrorIs(t, err, ErrMeetingChanged)
	repo.AssertExpectations(t)
}

func TestCancel_MonthlyLimit(t *testing.T) {
	ctx := context.Background()
	p, db := newDBPolicy(t)
	user := userActor("u-1")
	seedMeeting(t, db, "m-1", "u-1", "2026-03-05", "09:00", models.StatusPending)
	seedMeeting(t, db, "m-2", "u-1", "2026-03-06", "09:00", models.StatusConfirmed)
	seedMeeting(t, db, "m-3", "u-1", "2026-03-07", "09:00", models.StatusPending)

	res, err := p.Cancel(ctx, "m-1", user)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, res.Meeting.Status)
	assert.Equal(t, 1, res.CancellationsUsed)
	assert.Equal(t, 1, res.RemainingCancellations)

	stored, err := db.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	require.NotNil(t, stored.CancelledAt)
	assert.True(t, stored.CancelledAt.Equal(testNow))

	res, err = p.Cancel(ctx, "m-2", user)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemainingCancellations)

	_, err = p.Cancel(ctx, "m-3", user)
	assert.ErrorIs(t, err, ErrCancellationLimitExceeded)
	stored, err = db.GetMeeting(ctx, "m-3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	// Cancelling an already cancelled meeting is not a transition.
	_, err = p.Cancel(ctx, "m-1", adminActor)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Admins bypass the quota and do not touch the counter.
	res, err = p.Cancel(ctx, "m-3", adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.UnlimitedQuota, res.RemainingCancellations)
	count, err := db.GetCancellationCount(ctx, "u-1", 2026, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A new month starts from zero.
	april := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return april }
	view := p.Quota(ctx, user)
	assert.Equal(t, 4, view.Month)
	assert.Equal(t, 2, view.RemainingCancellations)

	// The first April cancellation creates the April counter.
	seedMeeting(t, db, "m-4", "u-1", "2026-04-03", "09:00", models.StatusPending)
	res, err = p.Cancel(ctx, "m-4", user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CancellationsUsed)
	assert.Equal(t, 1, res.RemainingCancellations)

	count, err = db.GetCancellationCount(ctx, "u-1", 2026, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = db.GetCancellationCount(ctx, "u-1", 2026, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "March is left alone")
}

func TestCancel_ReopenedMeetingCountsAgain(t *testing.T) {
	ctx := context.Background()
	p, db := newDBPolicy(t)
	user := userActor("u-1")
	seedMeeting(t, db, "m-1", "u-1", "2026-03-05", "09:00", models.StatusPending)

	res, err := p.Cancel(ctx, "m-1", user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CancellationsUsed)

	// Admin reopens the meeting, then the owner cancels it again.
	stored, err := db.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	require.NoError(t, db.UpdateMeetingStatusWithVersion(ctx, "m-1", stored.Version, models.StatusConfirmed, nil))

	res, err = p.Cancel(ctx, "m-1", user)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CancellationsUsed)
	assert.Equal(t, 0, res.RemainingCancellations)

	count, err := db.GetCancellationCount(ctx, "u-1", 2026, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, p.Quota(ctx, user).RemainingCancellations)
}

func TestCancel_CommittedBeforeError(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMeeting(t, db, "m-1", "u-1", "2026-03-05", "09:00", models.StatusPending)
	repo := &commitThenFail{DB: db, failures: 1}
	p := newTestPolicy(repo, db, nil)

	res, err := p.Cancel(ctx, "m-1", userActor("u-1"))
	require.NoError(t, err, "the first attempt committed")
	assert.Equal(t, models.StatusCancelled, res.Meeting.Status)
	assert.Equal(t, int64(2), res.Meeting.Version)
	assert.Equal(t, 1, res.CancellationsUsed)

	stored, err := db.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Equal(t, int64(2), stored.Version)

	count, err := db.GetCancellationCount(ctx, "u-1", 2026, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReschedule_CommittedBeforeError(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMeeting(t, db, "m-1", "u-1", "2026-03-05", "09:00", models.StatusConfirmed)
	repo := &commitThenFail{DB: db, failures: 1}
	p := newTestPolicy(repo, db, nil)

	res, err := p.Reschedule(ctx, "m-1", day("2026-03-06"), "11:00", userActor("u-1"))
	require.NoError(t, err)
	assert.Equal(t, "2026-03-05", res.PreviousDay)
	assert.Equal(t, 2, res.RemainingReschedules)

	stored, err := db.GetMeeting(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-06", stored.MeetingDay)
	assert.Equal(t, "11:00", stored.MeetingTime)
	assert.Equal(t, 1, stored.RescheduleCount, "counted once")
}

func TestWrite_ConcurrentChangeIsNotMistakenForCommit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMeeting(t, db, "m-1", "u-1", "2026-03-05", "09:00", models.StatusPending)
	p := newTestPolicy(db, db, nil)

	calls := 0
	err := p.write(ctx, "m-1", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			// Someone else confirms the meeting while this attempt fails.
			require.NoError(t, db.UpdateMeetingStatusWithVersion(ctx, "m-1", 1, models.StatusConfirmed, nil))
			return errors.New("connection reset by peer")
		}
		return db.UpdateMeetingStatusWithVersion(ctx, "m-1", 1, models.StatusCancelled, nil)
	}, func(stored *models.Meeting) bool {
		return stored.Version == 2 && stored.Status == models.StatusCancelled
	})
	assert.ErrorIs(t, err, ErrMeetingChanged)
	assert.Equal(t, 2, calls)
}

func TestCancel_Forbidden(t *testing.T) {
	p, db := newDBPolicy(t)
	seedMeeting(t, db, "m-1", "u-1", "2026-03-05", "09:00", models.StatusPending)

	_, err := p.Cancel(context.Background(), "m-1", userActor("u-2"))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCancel_CounterFailures(t *testing.T) {
	meeting := func() *models.Meeting {
		return &models.Meeting{ID: "m-1", UserID: "u-1", Status: models.StatusPending, Version: 1, MeetingDay: "2026-03-05"}
	}

	t.Run("read failure fails open", func(t *testing.T) {
		repo := &mockRepo{}
		repo.On("GetMeeting", mock.Anything, "m-1").Return(meeting(), nil)
		repo.On("UpdateMeetingStatusWithVersion", mock.Anything, "m-1", int64(1), models.StatusCancelled, mock.Anything).Return(nil)
		counters := &mockCounters{}
		counters.On("GetCancellationCount", mock.Anything, "u-1", 2026, 3).Return(0, errors.New("timeout"))
		counters.On("IncrementCancellationCount", mock.Anything, "u-1", 2026, 3, "m-1", int64(2)).Return(true, 1, nil)
		p := newTestPolicy(repo, counters, nil)

		res, err := p.Cancel(context.Background(), "m-1", userActor("u-1"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.RemainingCancellations)
		counters.AssertExpectations(t)
	})

	t.Run("increment failure is deferred", func(t *testing.T) {
		repo := &mockRepo{}
		repo.On("GetMeeting", mock.Anything, "m-1").Return(meeting(), nil)
		repo.On("UpdateMeetingStatusWithVersion", mock.Anything, "m-1", int64(1), models.StatusCancelled, mock.Anything).Return(nil)
		counters := &mockCounters{}
		counters.On("GetCancellationCount", mock.Anything, "u-1", 2026, 3).Return(1, nil)
		counters.On("IncrementCancellationCount", mock.Anything, "u-1", 2026, 3, "m-1", int64(2)).Return(false, 0, errors.New("write failed"))
		followUps := &mockFollowUps{}
		followUps.On("EnqueueCounterIncrement", mock.Anything, "m-1", int64(2), "u-1", 2026, 3).Return(nil)
		p := newTestPolicy(repo, counters, followUps)

		res, err := p.Cancel(context.Background(), "m-1", userActor("u-1"))
		require.NoError(t, err, "the cancellation stands")
		assert.Equal(t, models.StatusCancelled, res.Meeting.Status)
		assert.Equal(t, 2, res.CancellationsUsed)
		assert.Equal(t, 0, res.RemainingCancellations)
		followUps.AssertExpectations(t)
	})

	t.Run("update failure does not touch the counter", func(t *testing.T) {
		repo := &mockRepo{}
		repo.On("GetMeeting", mock.Anything, "m-1").Return(meeting(), nil)
		repo.On("UpdateMeetingStatusWithVersion", mock.Anything, "m-1", int64(1), models.StatusCancelled, mock.Anything).
			Return(errors.New("connection refused"))
		counters := &mockCounters{}
		counters.On("GetCancellationCount", mock.Anything, "u-1", 2026, 3).Return(0, nil)
		p := newTestPolicy(repo, counters, nil)

		_, err := p.Cancel(context.Background(), "m-1", userActor("u-1"))
		assert.ErrorIs(t, err, ErrTemporary)
		counters.AssertNotCalled(t, "IncrementCancellationCount", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	p, db := newDBPolicy(t)
	_, _, err := db.IncrementCancellationCount(ctx, "u-1", 2026, 3, "m-x", 2)
	require.NoError(t, err)

	view := p.Quota(ctx, userActor("u-1"))
	assert.Equal(t, models.QuotaView{
		Year: 2026, Month: 3, CancellationsUsed: 1, CancellationLimit: 2, RemainingCancellations: 1,
	}, view)

	admin := p.Quota(ctx, adminActor)
	assert.True(t, admin.Unlimited)
	assert.Equal(t, models.UnlimitedQuota, admin.RemainingCancellations)

	counters := &mockCounters{}
	counters.On("GetCancellationCount", mock.Anything, "u-1", 2026, 3).Return(0, errors.New("down"))
	failing := newTestPolicy(&mockRepo{}, counters, nil)
	assert.Equal(t, 2, failing.Quota(ctx, userActor("u-1")).RemainingCancellations)
}
