package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxgate/voxgate/internal/database/models"
)

const (
	// promotionThreshold is the number of failed unlocks within the
	// promotion window that moves a caller onto the blacklist.
	promotionThreshold = 3
	// promotionWindowHours is the rolling window for counting failures.
	promotionWindowHours = 12
	// AutoBlockReason marks blacklist entries created by promotion.
	AutoBlockReason = "auto: 3 failed unlocks"
)

// AccessStore combines the blacklist, whitelist and failed-unlock
// repositories behind a single mutex and implements the auto-promotion
// policy. It is shared between the call supervisor and the API; contention
// is negligible since at most one call is in progress.
type AccessStore struct {
	mu           sync.Mutex
	blacklist    BlacklistRepository
	whitelist    WhitelistRepository
	failedUnlock FailedUnlockRepository
	logger       *slog.Logger
}

// NewAccessStore creates the shared access store over the given database.
func NewAccessStore(db *DB, logger *slog.Logger) *AccessStore {
	return &AccessStore{
		blacklist:    NewBlacklistRepository(db),
		whitelist:    NewWhitelistRepository(db),
		failedUnlock: NewFailedUnlockRepository(db),
		logger:       logger.With("component", "access-store"),
	}
}

// IsBlacklisted reports whether a caller is blocked, with the block reason.
func (s *AccessStore) IsBlacklisted(ctx context.Context, callerID string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.blacklist.Get(ctx, callerID)
	if err != nil {
		return false, "", err
	}
	if entry == nil {
		return false, "", nil
	}
	return true, entry.Reason, nil
}

// IsWhitelisted reports whether a caller skips the security gate.
func (s *AccessStore) IsWhitelisted(ctx context.Context, callerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.whitelist.Get(ctx, callerID)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// RecordFailedUnlock appends a failed unlock attempt and applies the
// promotion rule: three or more failures within the rolling window move
// the caller onto the blacklist. Returns true if the caller was promoted.
func (s *AccessStore) RecordFailedUnlock(ctx context.Context, callerID, codeTried string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failedUnlock.Record(ctx, callerID, codeTried); err != nil {
		return false, err
	}

	count, err := s.failedUnlock.CountSince(ctx, callerID, promotionWindowHours)
	if err != nil {
		return false, err
	}
	if count < promotionThreshold {
		return false, nil
	}

	if err := s.blacklist.Add(ctx, &models.BlacklistEntry{
		CallerID: callerID,
		Reason:   AutoBlockReason,
	}); err != nil {
		return false, fmt.Errorf("promoting caller to blacklist: %w", err)
	}

	s.logger.Warn("caller promoted to blacklist",
		"caller_id", callerID,
		"failed_unlocks", count,
		"window_hours", promotionWindowHours,
	)
	return true, nil
}

// AddToBlacklist blocks a caller manually.
func (s *AccessStore) AddToBlacklist(ctx context.Context, callerID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blacklist.Add(ctx, &models.BlacklistEntry{CallerID: callerID, Reason: reason})
}

// RemoveFromBlacklist unblocks a caller and clears their failed-unlock
// history so old failures cannot immediately re-promote them.
func (s *AccessStore) RemoveFromBlacklist(ctx context.Context, callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blacklist.Remove(ctx, callerID); err != nil {
		return err
	}
	return s.failedUnlock.DeleteByCaller(ctx, callerID)
}

// Blacklist returns all blocked callers.
func (s *AccessStore) Blacklist(ctx context.Context) ([]models.BlacklistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blacklist.List(ctx)
}

// AddToWhitelist lets a caller skip the security gate.
func (s *AccessStore) AddToWhitelist(ctx context.Context, callerID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whitelist.Add(ctx, &models.WhitelistEntry{CallerID: callerID, Note: note})
}

// RemoveFromWhitelist removes a caller from the whitelist.
func (s *AccessStore) RemoveFromWhitelist(ctx context.Context, callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whitelist.Remove(ctx, callerID)
}

// Whitelist returns all whitelisted callers.
func (s *AccessStore) Whitelist(ctx context.Context) ([]models.WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whitelist.List(ctx)
}

// FailedUnlocks returns the failed-unlock history for a caller.
func (s *AccessStore) FailedUnlocks(ctx context.Context, callerID string) ([]models.FailedUnlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedUnlock.ListByCaller(ctx, callerID)
}
