package storage

import (
	"context"
	"time"

	"ad-budget-lab/internal/domain"
)

// PacingStateStore provides access to pacing_controller_state storage.
// One record per campaign; any keyed record store with get/put-by-
// campaign-id semantics can implement it.
type PacingStateStore interface {
	// Insert adds state for a newly onboarded campaign.
	// Returns ErrDuplicateKey if the campaign already has state.
	Insert(ctx context.Context, state *domain.PacingControllerState) error

	// GetByCampaignID retrieves a campaign's controller state.
	// Returns ErrNotFound if the campaign was never onboarded.
	GetByCampaignID(ctx context.Context, campaignID string) (*domain.PacingControllerState, error)

	// Update rewrites a campaign's controller state.
	// Returns ErrNotFound if the campaign has no state.
	Update(ctx context.Context, state *domain.PacingControllerState) error

	// PurgeOlderThan removes state records not updated since the
	// cutoff, enforcing the 30-day retention policy. Returns the
	// number of records removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// HistoricalPerformanceStore provides access to per-arm per-day
// performance rows used by the prior strategies.
type HistoricalPerformanceStore interface {
	// InsertBulk adds multiple performance rows. Fails the entire
	// batch on a duplicate (arm_id, date) pair.
	InsertBulk(ctx context.Context, records []*domain.HistoricalRecord) error

	// GetByArmID retrieves all rows for an arm, ordered by date ASC.
	GetByArmID(ctx context.Context, armID string) ([]*domain.HistoricalRecord, error)

	// GetByCategory retrieves all rows for a category, ordered by
	// date ASC.
	GetByCategory(ctx context.Context, category domain.ArmCategory) ([]*domain.HistoricalRecord, error)

	// GetByDateRange retrieves rows with date within [start, end]
	// inclusive, ordered by date ASC.
	GetByDateRange(ctx context.Context, start, end time.Time) ([]*domain.HistoricalRecord, error)
}
