package database

import (
	"context"
	"fmt"

	"github.com/voxgate/voxgate/internal/database/models"
)

// failedUnlockRepo implements FailedUnlockRepository.
type failedUnlockRepo struct {
	db *DB
}

// NewFailedUnlockRepository creates a new FailedUnlockRepository.
func NewFailedUnlockRepository(db *DB) FailedUnlockRepository {
	return &failedUnlockRepo{db: db}
}

// Record appends a failed unlock attempt for a caller.
func (r *failedUnlockRepo) Record(ctx context.Context, callerID, codeTried string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO failed_unlock_calls (caller_id, code_tried) VALUES (?, ?)`,
		callerID, codeTried,
	)
	if err != nil {
		return fmt.Errorf("recording failed unlock: %w", err)
	}
	return nil
}

// CountSince returns the number of failed unlocks for a caller within the
// last N hours.
func (r *failedUnlockRepo) CountSince(ctx context.Context, callerID string, hours int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_unlock_calls
		 WHERE caller_id = ? AND attempted_at >= datetime('now', '-' || ? || ' hours')`,
		callerID, hours,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting failed unlocks: %w", err)
	}
	return count, nil
}

// ListByCaller returns all failed unlock records for a caller, oldest first.
func (r *failedUnlockRepo) ListByCaller(ctx context.Context, callerID string) ([]models.FailedUnlock, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, caller_id, code_tried, attempted_at
		 FROM failed_unlock_calls WHERE caller_id = ? ORDER BY attempted_at`,
		callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing failed unlocks: %w", err)
	}
	defer rows.Close()

	var records []models.FailedUnlock
	for rows.Next() {
		var f models.FailedUnlock
		if err := rows.Scan(&f.ID, &f.CallerID, &f.CodeTried, &f.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scanning failed unlock row: %w", err)
		}
		records = append(records, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating failed unlock rows: %w", err)
	}
	return records, nil
}

// DeleteByCaller removes all failed unlock history for a caller.
func (r *failedUnlockRepo) DeleteByCaller(ctx context.Context, callerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM failed_unlock_calls WHERE caller_id = ?`, callerID)
	if err != nil {
		return fmt.Errorf("deleting failed unlock history: %w", err)
	}
	return nil
}
