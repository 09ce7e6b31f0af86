package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/models"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	meetingsTable = "meetings"
	countersTable = "cancellation_counters"
	ledgerTable   = "counted_cancellations"
	followUpTable = "followup_queue"
)

var meetingColumns = []interface{}{
	"id", "user_id", "full_name", "email", "phone", "project_type", "project_description",
	"timeline", "budget", "meeting_date", "meeting_day", "meeting_time", "status",
	"reschedule_count", "cancelled_at", "created_at", "updated_at", "version",
}

var followUpColumns = []interface{}{
	"id", "task_type", "meeting_id", "payload", "status", "retry_count", "last_error",
	"created_at", "processed_at", "next_retry_at",
}

// Store is the Postgres backed store.
type Store struct {
	db     *sql.DB
	goqu   *goqu.Database
	logger *zerolog.Logger
	now    func() time.Time
}

var _ domain.Store = (*Store)(nil)

func NewStore(db *sql.DB, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		db:     db,
		goqu:   goqu.New("postgres", db),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*models.Meeting, error) {
	m := &models.Meeting{}
	var cancelledAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.UserID, &m.FullName, &m.Email, &m.Phone, &m.ProjectType, &m.ProjectDescription,
		&m.Timeline, &m.Budget, &m.MeetingDate, &m.MeetingDay, &m.MeetingTime, &m.Status,
		&m.RescheduleCount, &cancelledAt, &m.CreatedAt, &m.UpdatedAt, &m.Version,
	)
	if err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		m.CancelledAt = &t
	}
	return m, nil
}

func (s *Store) selectMeetings() *goqu.SelectDataset {
	return s.goqu.From(meetingsTable).Select(meetingColumns...).Prepared(true)
}

func (s *Store) queryMeetings(ctx context.Context, ds *goqu.SelectDataset) ([]*models.Meeting, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meetings []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

func (s *Store) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	if m.ID == "" || m.UserID == "" {
		return errors.New("meeting id and user id are required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.UpdatedAt = m.CreatedAt
	m.Version = 1

	query, args, err := s.goqu.Insert(meetingsTable).Rows(goqu.Record{
		"id":                  m.ID,
		"user_id":             m.UserID,
		"full_name":           m.FullName,
		"email":               m.Email,
		"phone":               m.Phone,
		"project_type":        m.ProjectType,
		"project_description": m.ProjectDescription,
		"timeline":            m.Timeline,
		"budget":              m.Budget,
		"meeting_date":        m.MeetingDate.UTC(),
		"meeting_day":         m.MeetingDay,
		"meeting_time":        m.MeetingTime,
		"status":              m.Status,
		"reschedule_count":    m.RescheduleCount,
		"cancelled_at":        nullableTime(m.CancelledAt),
		"created_at":          m.CreatedAt.UTC(),
		"updated_at":          m.UpdatedAt.UTC(),
		"version":             m.Version,
	}).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create meeting: %w", domain.ErrUniqueViolation)
		}
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

func (s *Store) GetMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	query, args, err := s.selectMeetings().Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	m, err := scanMeeting(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return m, nil
}

func (s *Store) ListActiveMeetingsForDay(ctx context.Context, day string) ([]*models.Meeting, error) {
	ds := s.selectMeetings().
		Where(goqu.Ex{"meeting_day": day, "status": models.ActiveStatuses}).
		Order(goqu.C("meeting_time").Asc())
	meetings, err := s.queryMeetings(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings for day: %w", err)
	}
	return meetings, nil
}

func (s *Store) ListMeetingsByUser(ctx context.Context, userID string, statuses []string) ([]*models.Meeting, error) {
	where := goqu.Ex{"user_id": userID}
	if len(statuses) > 0 {
		where["status"] = statuses
	}
	ds := s.selectMeetings().Where(where).Order(goqu.C("meeting_date").Desc())
	meetings, err := s.queryMeetings(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to list user meetings: %w", err)
	}
	return meetings, nil
}

func (s *Store) FindRecentDuplicate(ctx context.Context, userID, email string, meetingDate, since time.Time) (*models.Meeting, error) {
	ds := s.selectMeetings().
		Where(
			goqu.Ex{"user_id": userID, "meeting_date": meetingDate.UTC(), "status": models.ActiveStatuses},
			goqu.Func("lower", goqu.C("email")).Eq(strings.ToLower(email)),
			goqu.C("created_at").Gte(since.UTC()),
		).
		Order(goqu.C("created_at").Desc()).
		Limit(1)
	meetings, err := s.queryMeetings(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate meeting: %w", err)
	}
	if len(meetings) == 0 {
		return nil, nil
	}
	return meetings[0], nil
}

func (s *Store) RescheduleMeetingWithVersion(ctx context.Context, id string, version int64, newDate time.Time, newDay, newTime string) error {
	query, args, err := s.goqu.Update(meetingsTable).
		Set(goqu.Record{
			"meeting_date":     newDate.UTC(),
			"meeting_day":      newDay,
			"meeting_time":     newTime,
			"reschedule_count": goqu.L("reschedule_count + 1"),
			"updated_at":       s.now(),
			"version":          goqu.L("version + 1"),
		}).
		Where(goqu.Ex{"id": id, "version": version, "status": models.ActiveStatuses}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build reschedule query: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to reschedule meeting: %w", domain.ErrUniqueViolation)
		}
		return fmt.Errorf("failed to reschedule meeting: %w", err)
	}
	return requireOneRow(result)
}

// UpdateMeetingStatusWithVersion sets status and cancelled_at (nil clears it).
func (s *Store) UpdateMeetingStatusWithVersion(ctx context.Context, id string, version int64, status string, cancelledAt *time.Time) error {
	query, args, err := s.goqu.Update(meetingsTable).
		Set(goqu.Record{
			"status":       status,
			"cancelled_at": nullableTime(cancelledAt),
			"updated_at":   s.now(),
			"version":      goqu.L("version + 1"),
		}).
		Where(goqu.Ex{"id": id, "version": version}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build status query: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update meeting status: %w", domain.ErrUniqueViolation)
		}
		return fmt.Errorf("failed to update meeting status: %w", err)
	}
	return requireOneRow(result)
}

func (s *Store) ListMeetings(ctx context.Context, filter models.MeetingFilter) ([]*models.Meeting, error) {
	var conds []exp.Expression
	if filter.UserID != "" {
		conds = append(conds, goqu.C("user_id").Eq(filter.UserID))
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, goqu.C("status").In(filter.Statuses))
	}
	if filter.FromDay != "" {
		conds = append(conds, goqu.C("meeting_day").Gte(filter.FromDay))
	}
	if filter.ToDay != "" {
		conds = append(conds, goqu.C("meeting_day").Lte(filter.ToDay))
	}

	ds := s.selectMeetings().
		Where(conds...).
		Order(goqu.C("meeting_day").Asc(), goqu.C("meeting_time").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit)).Offset(uint(max(filter.Offset, 0)))
	}

	meetings, err := s.queryMeetings(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	return meetings, nil
}

func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

// isUniqueViolation recognises unique_violation from lib/pq and from poolers
// that only forward the message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, activeSlotIndex) || strings.Contains(msg, "duplicate")
}

// nullableTime turns a nil pointer into SQL NULL for goqu records.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
