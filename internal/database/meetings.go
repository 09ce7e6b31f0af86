package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/models"
)

const meetingColumns = `id, user_id, full_name, email, phone, project_type, project_description,
                 timeline, budget, meeting_date, meeting_day, meeting_time, status,
                 reschedule_count, cancelled_at, created_at, updated_at, version`

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

func (db *DB) queryMeetings(ctx context.Context, query string, args ...any) ([]*models.Meeting, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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

func (db *DB) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	if m.ID == "" || m.UserID == "" {
		return errors.New("meeting id and user id are required")
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	m.Version = 1

	query := `INSERT INTO meetings (` + meetingColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		m.ID, m.UserID, m.FullName, m.Email, m.Phone, m.ProjectType, m.ProjectDescription,
		m.Timeline, m.Budget, m.MeetingDate.UTC(), m.MeetingDay, m.MeetingTime, m.Status,
		m.RescheduleCount, m.CancelledAt, m.CreatedAt.UTC(), m.UpdatedAt.UTC(), m.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create meeting: %w", domain.ErrUniqueViolation)
		}
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

func (db *DB) GetMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = ?`
	m, err := scanMeeting(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("meeting %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return m, nil
}

func (db *DB) ListActiveMeetingsForDay(ctx context.Context, day string) ([]*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings
              WHERE meeting_day = ? AND status IN (?, ?)
              ORDER BY meeting_time ASC`
	meetings, err := db.queryMeetings(ctx, query, day, models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings for day: %w", err)
	}
	return meetings, nil
}

func (db *DB) ListMeetingsByUser(ctx context.Context, userID string, statuses []string) ([]*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE user_id = ?`
	args := []any{userID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY meeting_date DESC`

	meetings, err := db.queryMeetings(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user meetings: %w", err)
	}
	return meetings, nil
}

// FindRecentDuplicate returns the newest active meeting for the same user, email
// and exact start created at or after since, or nil.
func (db *DB) FindRecentDuplicate(ctx context.Context, userID, email string, meetingDate, since time.Time) (*models.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings
              WHERE user_id = ? AND lower(email) = lower(?) AND meeting_date = ? AND status IN (?, ?)
              ORDER BY created_at DESC`
	meetings, err := db.queryMeetings(ctx, query, userID, email, meetingDate.UTC(), models.StatusPending, models.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate meeting: %w", err)
	}
	for _, m := range meetings {
		if !m.CreatedAt.Before(since) {
			return m, nil
		}
	}
	return nil, nil
}

func (db *DB) RescheduleMeetingWithVersion(
	ctx context.Context,
	id string,
	version int64,
	newDate time.Time,
	newDay, newTime string,
) error {
	query := `UPDATE meetings
              SET meeting_date = ?, meeting_day = ?, meeting_time = ?,
                  reschedule_count = reschedule_count + 1, updated_at = ?, version = version + 1
              WHERE id = ? AND version = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query,
		newDate.UTC(), newDay, newTime, time.Now().UTC(),
		id, version, models.StatusPending, models.StatusConfirmed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to reschedule meeting: %w", domain.ErrUniqueViolation)
		}
		return fmt.Errorf("failed to reschedule meeting: %w", err)
	}
	return requireOneRow(result)
}

// UpdateMeetingStatusWithVersion sets status and cancelled_at (nil clears it).
func (db *DB) UpdateMeetingStatusWithVersion(
	ctx context.Context,
	id string,
	version int64,
	status string,
	cancelledAt *time.Time,
) error {
	var cancelled any
	if cancelledAt != nil {
		cancelled = cancelledAt.UTC()
	}

	query := `UPDATE meetings SET status = ?, cancelled_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, cancelled, time.Now().UTC(), id, version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update meeting status: %w", domain.ErrUniqueViolation)
		}
		return fmt.Errorf("failed to update meeting status: %w", err)
	}
	return requireOneRow(result)
}

func (db *DB) ListMeetings(ctx context.Context, filter models.MeetingFilter) ([]*models.Meeting, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if filter.FromDay != "" {
		where = append(where, "meeting_day >= ?")
		args = append(args, filter.FromDay)
	}
	if filter.ToDay != "" {
		where = append(where, "meeting_day <= ?")
		args = append(args, filter.ToDay)
	}

	query := `SELECT ` + meetingColumns + ` FROM meetings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY meeting_day ASC, meeting_time ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	meetings, err := db.queryMeetings(ctx, query, args...)
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
