// Package models defines the database row types shared between the
// repositories and the rest of the server.
package models

import "time"

// Call is one answered inbound call. It is created when the INVITE is
// accepted and sealed at teardown.
type Call struct {
	ID         string
	CallerID   string
	StartedAt  time.Time
	EndedAt    *time.Time
	DurationS  int
	CostCents  float64
	EndReason  string
	Model      string
	FinalAgent string
	Transcript string // JSON array of {role, text}
	Logs       string
}

// BlacklistEntry is a caller that is rejected before media.
type BlacklistEntry struct {
	CallerID  string
	Reason    string
	BlockedAt time.Time
}

// WhitelistEntry is a caller that skips the security gate.
type WhitelistEntry struct {
	CallerID string
	Note     string
	AddedAt  time.Time
}

// FailedUnlock is one failed unlock attempt, recorded when a caller burns
// all three tries in a single call.
type FailedUnlock struct {
	ID          int64
	CallerID    string
	CodeTried   string
	AttemptedAt time.Time
}
