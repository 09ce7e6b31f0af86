package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
)

func (s *Store) counterQuery(userID string, year, month int) (string, []interface{}, error) {
	return s.goqu.From(countersTable).
		Select("cancel_count").
		Where(goqu.Ex{"user_id": userID, "year": year, "month": month}).
		Prepared(true).
		ToSQL()
}

func (s *Store) GetCancellationCount(ctx context.Context, userID string, year, month int) (int, error) {
	query, args, err := s.counterQuery(userID, year, month)
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	var count int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
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
// transaction. Replays of the same cancellation are not counted again.
func (s *Store) IncrementCancellationCount(
	ctx context.Context,
	userID string,
	year, month int,
	meetingID string,
	meetingVersion int64,
) (bool, int, error) {
	now := s.now()

	ledgerSQL, ledgerArgs, err := s.goqu.Insert(ledgerTable).
		Rows(goqu.Record{
			"meeting_id":      meetingID,
			"meeting_version": meetingVersion,
			"user_id":         userID,
			"year":            year,
			"month":           month,
			"applied_at":      now,
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, 0, fmt.Errorf("failed to build ledger query: %w", err)
	}

	counterSQL, counterArgs, err := s.goqu.Insert(countersTable).
		Rows(goqu.Record{
			"user_id":      userID,
			"year":         year,
			"month":        month,
			"cancel_count": 1,
			"created_at":   now,
			"updated_at":   now,
		}).
		OnConflict(goqu.DoUpdate("user_id, year, month", goqu.Record{
			"cancel_count": goqu.L(countersTable + ".cancel_count + 1"),
			"updated_at":   goqu.L("EXCLUDED.updated_at"),
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, 0, fmt.Errorf("failed to build counter query: %w", err)
	}

	readSQL, readArgs, err := s.counterQuery(userID, year, month)
	if err != nil {
		return false, 0, fmt.Errorf("failed to build query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, ledgerSQL, ledgerArgs...)
	if err != nil {
		return false, 0, fmt.Errorf("failed to write cancellation ledger: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted > 0 {
		if _, err := tx.ExecContext(ctx, counterSQL, counterArgs...); err != nil {
			return false, 0, fmt.Errorf("failed to increment cancellation counter: %w", err)
		}
	}

	var count int
	err = tx.QueryRowContext(ctx, readSQL, readArgs...).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, 0, fmt.Errorf("failed to read cancellation counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit cancellation counter: %w", err)
	}
	return inserted > 0, count, nil
}
