package postgres

import (
	"context"
	"fmt"
	"time"

	"meetdesk/internal/models"

	"github.com/doug-martin/goqu/v9"
)

func (s *Store) CreateFollowUpTask(ctx context.Context, task *models.FollowUpTask) error {
	now := s.now()
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	query, args, err := s.goqu.Insert(followUpTable).
		Rows(goqu.Record{
			"task_type":     task.TaskType,
			"meeting_id":    task.MeetingID,
			"payload":       task.Payload,
			"status":        task.Status,
			"retry_count":   task.RetryCount,
			"last_error":    nullableString(task.LastError),
			"created_at":    now,
			"next_retry_at": nullableTime(task.NextRetryAt),
		}).
		Returning("id").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&task.ID); err != nil {
		return fmt.Errorf("failed to create follow-up task: %w", err)
	}
	task.CreatedAt = now
	return nil
}

func (s *Store) GetPendingFollowUpTasks(ctx context.Context, limit int) ([]models.FollowUpTask, error) {
	ds := s.goqu.From(followUpTable).
		Select(followUpColumns...).
		Where(
			goqu.C("status").In(models.TaskStatusPending, models.TaskStatusRetry),
			goqu.Or(goqu.C("next_retry_at").IsNull(), goqu.C("next_retry_at").Lte(s.now())),
		).
		Order(goqu.C("created_at").Asc()).
		Limit(uint(max(limit, 1))).
		Prepared(true)
	tasks, err := s.queryTasks(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending follow-up tasks: %w", err)
	}
	return tasks, nil
}

// GetFailedFollowUpTasks lists dead tasks newest first.
func (s *Store) GetFailedFollowUpTasks(ctx context.Context) ([]models.FollowUpTask, error) {
	ds := s.goqu.From(followUpTable).
		Select(followUpColumns...).
		Where(goqu.Ex{"status": models.TaskStatusFailed}).
		Order(goqu.C("created_at").Desc()).
		Prepared(true)
	tasks, err := s.queryTasks(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed follow-up tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) UpdateFollowUpTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	record := goqu.Record{
		"status":        status,
		"last_error":    nil,
		"next_retry_at": nullableTime(nextRetryAt),
	}
	if errMsg != "" {
		record["last_error"] = errMsg
	}
	switch status {
	case models.TaskStatusRetry:
		record["retry_count"] = goqu.L("retry_count + 1")
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		record["processed_at"] = s.now()
	}

	query, args, err := s.goqu.Update(followUpTable).
		Set(record).
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update follow-up task status: %w", err)
	}
	return nil
}

func (s *Store) queryTasks(ctx context.Context, ds *goqu.SelectDataset) ([]models.FollowUpTask, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
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

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
