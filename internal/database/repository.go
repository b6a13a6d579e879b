package database

import (
	"context"

	"github.com/voxgate/voxgate/internal/database/models"
)

// CallRepository manages the persisted call history.
type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	GetByID(ctx context.Context, id string) (*models.Call, error)
	Finalize(ctx context.Context, call *models.Call) error
	List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error)
	Count(ctx context.Context) (int64, error)
	TotalCostCents(ctx context.Context) (float64, error)
}

// CallListFilter narrows and pages the call history listing.
type CallListFilter struct {
	CallerID string
	Limit    int
	Offset   int
}

// BlacklistRepository manages blocked callers.
type BlacklistRepository interface {
	Add(ctx context.Context, entry *models.BlacklistEntry) error
	Get(ctx context.Context, callerID string) (*models.BlacklistEntry, error)
	Remove(ctx context.Context, callerID string) error
	List(ctx context.Context) ([]models.BlacklistEntry, error)
}

// WhitelistRepository manages callers that bypass the security gate.
type WhitelistRepository interface {
	Add(ctx context.Context, entry *models.WhitelistEntry) error
	Get(ctx context.Context, callerID string) (*models.WhitelistEntry, error)
	Remove(ctx context.Context, callerID string) error
	List(ctx context.Context) ([]models.WhitelistEntry, error)
}

// FailedUnlockRepository records failed unlock attempts per caller.
type FailedUnlockRepository interface {
	Record(ctx context.Context, callerID, codeTried string) error
	CountSince(ctx context.Context, callerID string, hours int) (int, error)
	ListByCaller(ctx context.Context, callerID string) ([]models.FailedUnlock, error)
	DeleteByCaller(ctx context.Context, callerID string) error
}
