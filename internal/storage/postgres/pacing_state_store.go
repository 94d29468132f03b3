package postgres

import (
	"context"
	"fmt"
	"time"

	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/storage"
)

// PacingStateStore implements storage.PacingStateStore using PostgreSQL.
type PacingStateStore struct {
	pool *Pool
}

// NewPacingStateStore creates a new PacingStateStore.
func NewPacingStateStore(pool *Pool) *PacingStateStore {
	return &PacingStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PacingStateStore = (*PacingStateStore)(nil)

const pacingStateColumns = `
	controller_id, campaign_id, daily_budget, current_spend, pace_target,
	last_sample_at, last_sampled_arm, expected_value_per_click, confidence_in_estimate,
	current_bid_multiplier, spend_rate_limit,
	exploration_budget_fraction, exploitation_confidence_threshold,
	max_bid_adjustment, decision_frequency_minutes, paused,
	created_at, updated_at
`

// Insert adds controller state for a newly onboarded campaign.
// Returns ErrDuplicateKey if the campaign already has state.
func (s *PacingStateStore) Insert(ctx context.Context, state *domain.PacingControllerState) error {
	query := `
		INSERT INTO pacing_controller_state (` + pacingStateColumns + `
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13,
			$14, $15, $16,
			$17, $18
		)
	`

	_, err := s.pool.Exec(ctx, query,
		state.ControllerID, state.CampaignID, state.DailyBudget, state.CurrentSpend, state.PaceTarget,
		state.LastSampleAt, state.LastSampledArm, state.ExpectedValuePerClick, state.ConfidenceInEstimate,
		state.CurrentBidMultiplier, state.SpendRateLimit,
		state.ExplorationBudgetFraction, state.ExploitationConfidenceThreshold,
		state.MaxBidAdjustment, state.DecisionFrequencyMinutes, state.Paused,
		state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pacing state: %w", err)
	}
	return nil
}

// GetByCampaignID retrieves a campaign's controller state.
// Returns ErrNotFound if the campaign was never onboarded.
func (s *PacingStateStore) GetByCampaignID(ctx context.Context, campaignID string) (*domain.PacingControllerState, error) {
	query := `
		SELECT ` + pacingStateColumns + `
		FROM pacing_controller_state
		WHERE campaign_id = $1
	`

	var state domain.PacingControllerState
	err := s.pool.QueryRow(ctx, query, campaignID).Scan(
		&state.ControllerID, &state.CampaignID, &state.DailyBudget, &state.CurrentSpend, &state.PaceTarget,
		&state.LastSampleAt, &state.LastSampledArm, &state.ExpectedValuePerClick, &state.ConfidenceInEstimate,
		&state.CurrentBidMultiplier, &state.SpendRateLimit,
		&state.ExplorationBudgetFraction, &state.ExploitationConfidenceThreshold,
		&state.MaxBidAdjustment, &state.DecisionFrequencyMinutes, &state.Paused,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pacing state: %w", err)
	}
	return &state, nil
}

// Update rewrites a campaign's controller state.
// Returns ErrNotFound if the campaign has no state.
func (s *PacingStateStore) Update(ctx context.Context, state *domain.PacingControllerState) error {
	query := `
		UPDATE pacing_controller_state SET
			daily_budget = $2,
			current_spend = $3,
			pace_target = $4,
			last_sample_at = $5,
			last_sampled_arm = $6,
			expected_value_per_click = $7,
			confidence_in_estimate = $8,
			current_bid_multiplier = $9,
			spend_rate_limit = $10,
			exploration_budget_fraction = $11,
			exploitation_confidence_threshold = $12,
			max_bid_adjustment = $13,
			decision_frequency_minutes = $14,
			paused = $15,
			updated_at = $16
		WHERE campaign_id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		state.CampaignID, state.DailyBudget, state.CurrentSpend, state.PaceTarget,
		state.LastSampleAt, state.LastSampledArm, state.ExpectedValuePerClick, state.ConfidenceInEstimate,
		state.CurrentBidMultiplier, state.SpendRateLimit,
		state.ExplorationBudgetFraction, state.ExploitationConfidenceThreshold,
		state.MaxBidAdjustment, state.DecisionFrequencyMinutes, state.Paused,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update pacing state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PurgeOlderThan removes state records not updated since the cutoff.
func (s *PacingStateStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pacing_controller_state WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge pacing state: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
