package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxgate/voxgate/internal/database/models"
)

// blacklistRepo implements BlacklistRepository.
type blacklistRepo struct {
	db *DB
}

// NewBlacklistRepository creates a new BlacklistRepository.
func NewBlacklistRepository(db *DB) BlacklistRepository {
	return &blacklistRepo{db: db}
}

// Add inserts or replaces a blacklist entry.
func (r *blacklistRepo) Add(ctx context.Context, entry *models.BlacklistEntry) error {
	if entry.BlockedAt.IsZero() {
		entry.BlockedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blacklist (caller_id, reason, blocked_at) VALUES (?, ?, ?)
		 ON CONFLICT(caller_id) DO UPDATE SET reason = excluded.reason, blocked_at = excluded.blocked_at`,
		entry.CallerID, entry.Reason, entry.BlockedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting blacklist entry: %w", err)
	}
	return nil
}

// Get returns the entry for a caller, or nil if not blocked.
func (r *blacklistRepo) Get(ctx context.Context, callerID string) (*models.BlacklistEntry, error) {
	var e models.BlacklistEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT caller_id, reason, blocked_at FROM blacklist WHERE caller_id = ?`,
		callerID,
	).Scan(&e.CallerID, &e.Reason, &e.BlockedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning blacklist entry: %w", err)
	}
	return &e, nil
}

// Remove deletes a caller from the blacklist.
func (r *blacklistRepo) Remove(ctx context.Context, callerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blacklist WHERE caller_id = ?`, callerID)
	if err != nil {
		return fmt.Errorf("deleting blacklist entry: %w", err)
	}
	return nil
}

// List returns all blacklist entries, newest first.
func (r *blacklistRepo) List(ctx context.Context) ([]models.BlacklistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT caller_id, reason, blocked_at FROM blacklist ORDER BY blocked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing blacklist: %w", err)
	}
	defer rows.Close()

	var entries []models.BlacklistEntry
	for rows.Next() {
		var e models.BlacklistEntry
		if err := rows.Scan(&e.CallerID, &e.Reason, &e.BlockedAt); err != nil {
			return nil, fmt.Errorf("scanning blacklist row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating blacklist rows: %w", err)
	}
	return entries, nil
}
