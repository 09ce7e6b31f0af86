package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (db *DB) GetCancellationCount(ctx context.Context, userID string, year, month int) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT cancel_count FROM cancellation_counters WHERE user_id = ? AND year = ? AND month = ?`,
		userID, year, month,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cancellation count: %w", err)
	}
	return count, nil
}

// IncrementCancellationCount records the cancellation (meetingID at
// meetingVersion) in the ledger and bumps the monthly counter in one
// transaction. A cancellation already in the ledger is not counted again;
// applied is false and count is the current value.
func (db *DB) IncrementCancellationCount(
	ctx context.Context,
	userID string,
	year, month int,
	meetingID string,
	meetingVersion int64,
) (bool, int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO counted_cancellations (meeting_id, meeting_version, user_id, year, month, applied_at)
         VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(meeting_id, meeting_version) DO NOTHING`,
		meetingID, meetingVersion, userID, year, month, now,
	)
	if err != nil {
		return false, 0, fmt.Errorf("failed to write cancellation ledger: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cancellation_counters (user_id, year, month, cancel_count, created_at, updated_at)
             VALUES (?, ?, ?, 1, ?, ?)
             ON CONFLICT(user_id, year, month)
             DO UPDATE SET cancel_count = cancel_count + 1, updated_at = excluded.updated_at`,
			userID, year, month, now, now,
		)
		if err != nil {
			return false, 0, fmt.Errorf("failed to increment cancellation counter: %w", err)
		}
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT cancel_count FROM cancellation_counters WHERE user_id = ? AND year = ? AND month = ?`,
		userID, year, month,
	).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, 0, fmt.Errorf("failed to read cancellation counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit cancellation counter: %w", err)
	}
	return inserted > 0, count, nil
}
