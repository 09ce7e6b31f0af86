package database

import (
	"context"
	"fmt"
	"time"

	"meetdesk/internal/models"
)

func (db *DB) CreateFollowUpTask(ctx context.Context, task *models.FollowUpTask) error {
	query := `INSERT INTO followup_queue (task_type, meeting_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	result, err := db.ExecContext(ctx, query,
		task.TaskType,
		task.MeetingID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create follow-up task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

func (db *DB) GetPendingFollowUpTasks(ctx context.Context, limit int) ([]models.FollowUpTask, error) {
	query := `SELECT id, task_type, meeting_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
              FROM followup_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.TaskStatusPending, models.TaskStatusRetry, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending follow-up tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.FollowUpTask
	for rows.Next() {
		var t models.FollowUpTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.MeetingID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError,
			&t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan follow-up task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdateFollowUpTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	var lastError any
	if errMsg != "" {
		lastError = errMsg
	}
	var next any
	if nextRetryAt != nil {
		next = nextRetryAt.UTC()
	}

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE followup_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, next, id}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query = `UPDATE followup_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, next, now, id}
	default:
		query = `UPDATE followup_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, next, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update follow-up task status: %w", err)
	}
	return nil
}

// GetFailedFollowUpTasks lists dead tasks newest first.
func (db *DB) GetFailedFollowUpTasks(ctx context.Context) ([]models.FollowUpTask, error) {
	query := `SELECT id, task_type, meeting_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
              FROM followup_queue WHERE status = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query, models.TaskStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed follow-up tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.FollowUpTask
	for rows.Next() {
		var t models.FollowUpTask
		if err := rows.Scan(
			&t.ID, &t.TaskType, &t.MeetingID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError,
			&t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan follow-up task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
