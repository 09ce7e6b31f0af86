package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const activeSlotIndex = "ux_meetings_active_slot"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS meetings (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        full_name TEXT NOT NULL,
        email TEXT NOT NULL,
        phone TEXT NOT NULL DEFAULT '',
        project_type TEXT NOT NULL DEFAULT '',
        project_description TEXT NOT NULL DEFAULT '',
        timeline TEXT NOT NULL DEFAULT '',
        budget TEXT NOT NULL DEFAULT '',
        meeting_date TIMESTAMPTZ NOT NULL,
        meeting_day TEXT NOT NULL,
        meeting_time TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'pending',
        reschedule_count INTEGER NOT NULL DEFAULT 0,
        cancelled_at TIMESTAMPTZ,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        version BIGINT NOT NULL DEFAULT 1
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + activeSlotIndex + `
        ON meetings(meeting_day, meeting_time)
        WHERE status IN ('pending', 'confirmed')`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_user_status ON meetings(user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_day ON meetings(meeting_day)`,
	`CREATE TABLE IF NOT EXISTS cancellation_counters (
        user_id TEXT NOT NULL,
        year INTEGER NOT NULL,
        month INTEGER NOT NULL,
        cancel_count INTEGER NOT NULL DEFAULT 0,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (user_id, year, month)
    )`,
	`CREATE TABLE IF NOT EXISTS counted_cancellations (
        meeting_id TEXT NOT NULL,
        meeting_version BIGINT NOT NULL,
        user_id TEXT NOT NULL,
        year INTEGER NOT NULL,
        month INTEGER NOT NULL,
        applied_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (meeting_id, meeting_version)
    )`,
	`CREATE TABLE IF NOT EXISTS followup_queue (
        id BIGSERIAL PRIMARY KEY,
        task_type TEXT NOT NULL,
        meeting_id TEXT NOT NULL,
        payload TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'pending',
        retry_count INTEGER NOT NULL DEFAULT 0,
        last_error TEXT,
        created_at TIMESTAMPTZ NOT NULL,
        processed_at TIMESTAMPTZ,
        next_retry_at TIMESTAMPTZ
    )`,
	`CREATE INDEX IF NOT EXISTS idx_followup_queue_status ON followup_queue(status, next_retry_at)`,
}

// EnsureSchema creates the tables and indexes when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
