package models

import "time"

const (
	TaskCounterIncrement = "counter_increment"
	TaskSheetsUpsert     = "sheets_upsert"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// FollowUpTask is a queued post-commit action.
type FollowUpTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	MeetingID   string     `json:"meeting_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
