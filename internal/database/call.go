package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxgate/voxgate/internal/database/models"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

// Create inserts a new call record at INVITE acceptance.
func (r *callRepo) Create(ctx context.Context, call *models.Call) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (id, caller_id, started_at, duration_s, cost_cents,
		 end_reason, model, final_agent, transcript, logs)
		 VALUES (?, ?, ?, 0, 0, '', ?, ?, '[]', '')`,
		call.ID, call.CallerID, call.StartedAt, call.Model, call.FinalAgent,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// Finalize seals a call record at teardown with duration, cost, transcript
// and captured logs.
func (r *callRepo) Finalize(ctx context.Context, call *models.Call) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE calls SET ended_at = ?, duration_s = ?, cost_cents = ?,
		 end_reason = ?, model = ?, final_agent = ?, transcript = ?, logs = ?
		 WHERE id = ?`,
		call.EndedAt, call.DurationS, call.CostCents, call.EndReason,
		call.Model, call.FinalAgent, call.Transcript, call.Logs, call.ID,
	)
	if err != nil {
		return fmt.Errorf("finalizing call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking finalize result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finalizing call: no record with id %q", call.ID)
	}
	return nil
}

// GetByID returns a call by ID, or nil if not found.
func (r *callRepo) GetByID(ctx context.Context, id string) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, caller_id, started_at, ended_at, duration_s, cost_cents,
		 end_reason, model, final_agent, transcript, logs
		 FROM calls WHERE id = ?`, id,
	))
}

// List returns calls matching the filter, newest first, with the total count.
func (r *callRepo) List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error) {
	where := "1=1"
	args := []any{}

	if filter.CallerID != "" {
		where += " AND caller_id = ?"
		args = append(args, filter.CallerID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, caller_id, started_at, ended_at, duration_s, cost_cents,
		 end_reason, model, final_agent, transcript, logs
		 FROM calls WHERE ` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		if err := rows.Scan(&c.ID, &c.CallerID, &c.StartedAt, &c.EndedAt,
			&c.DurationS, &c.CostCents, &c.EndReason, &c.Model,
			&c.FinalAgent, &c.Transcript, &c.Logs); err != nil {
			return nil, 0, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call rows: %w", err)
	}

	return calls, total, nil
}

// Count returns the total number of persisted calls.
func (r *callRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting calls: %w", err)
	}
	return count, nil
}

// TotalCostCents sums the cost of all persisted calls.
func (r *callRepo) TotalCostCents(ctx context.Context) (float64, error) {
	var total float64
	if err := r.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(cost_cents), 0) FROM calls").Scan(&total); err != nil {
		return 0, fmt.Errorf("summing call cost: %w", err)
	}
	return total, nil
}

func (r *callRepo) scanOne(row *sql.Row) (*models.Call, error) {
	var c models.Call
	err := row.Scan(&c.ID, &c.CallerID, &c.StartedAt, &c.EndedAt,
		&c.DurationS, &c.CostCents, &c.EndReason, &c.Model,
		&c.FinalAgent, &c.Transcript, &c.Logs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return &c, nil
}
