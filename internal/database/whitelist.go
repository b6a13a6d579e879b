package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxgate/voxgate/internal/database/models"
)

// whitelistRepo implements WhitelistRepository.
type whitelistRepo struct {
	db *DB
}

// NewWhitelistRepository creates a new WhitelistRepository.
func NewWhitelistRepository(db *DB) WhitelistRepository {
	return &whitelistRepo{db: db}
}

// Add inserts or replaces a whitelist entry.
func (r *whitelistRepo) Add(ctx context.Context, entry *models.WhitelistEntry) error {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO whitelist (caller_id, note, added_at) VALUES (?, ?, ?)
		 ON CONFLICT(caller_id) DO UPDATE SET note = excluded.note, added_at = excluded.added_at`,
		entry.CallerID, entry.Note, entry.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting whitelist entry: %w", err)
	}
	return nil
}

// Get returns the entry for a caller, or nil if not whitelisted.
func (r *whitelistRepo) Get(ctx context.Context, callerID string) (*models.WhitelistEntry, error) {
	var e models.WhitelistEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT caller_id, note, added_at FROM whitelist WHERE caller_id = ?`,
		callerID,
	).Scan(&e.CallerID, &e.Note, &e.AddedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning whitelist entry: %w", err)
	}
	return &e, nil
}

// Remove deletes a caller from the whitelist.
func (r *whitelistRepo) Remove(ctx context.Context, callerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM whitelist WHERE caller_id = ?`, callerID)
	if err != nil {
		return fmt.Errorf("deleting whitelist entry: %w", err)
	}
	return nil
}

// List returns all whitelist entries, newest first.
func (r *whitelistRepo) List(ctx context.Context) ([]models.WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT caller_id, note, added_at FROM whitelist ORDER BY added_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing whitelist: %w", err)
	}
	defer rows.Close()

	var entries []models.WhitelistEntry
	for rows.Next() {
		var e models.WhitelistEntry
		if err := rows.Scan(&e.CallerID, &e.Note, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scanning whitelist row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating whitelist rows: %w", err)
	}
	return entries, nil
}
