package memory

import (
	"context"
	"sync"
	"time"

	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/storage"
)

// PacingStateStore is an in-memory implementation of
// storage.PacingStateStore.
type PacingStateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PacingControllerState // keyed by campaign_id
}

// NewPacingStateStore creates a new in-memory pacing state store.
func NewPacingStateStore() *PacingStateStore {
	return &PacingStateStore{
		data: make(map[string]*domain.PacingControllerState),
	}
}

// Compile-time interface check.
var _ storage.PacingStateStore = (*PacingStateStore)(nil)

// Insert adds controller state for a campaign. Returns ErrDuplicateKey
// if the campaign already has state.
func (s *PacingStateStore) Insert(_ context.Context, state *domain.PacingControllerState) error {
	if state == nil || state.CampaignID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[state.CampaignID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *state
	s.data[state.CampaignID] = &copy
	return nil
}

// GetByCampaignID retrieves state. Returns ErrNotFound if absent.
func (s *PacingStateStore) GetByCampaignID(_ context.Context, campaignID string) (*domain.PacingControllerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.data[campaignID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *state
	return &copy, nil
}

// Update rewrites state. Returns ErrNotFound if the campaign has none.
func (s *PacingStateStore) Update(_ context.Context, state *domain.PacingControllerState) error {
	if state == nil || state.CampaignID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[state.CampaignID]; !exists {
		return storage.ErrNotFound
	}

	copy := *state
	s.data[state.CampaignID] = &copy
	return nil
}

// PurgeOlderThan removes records not updated since the cutoff.
func (s *PacingStateStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for campaignID, state := range s.data {
		if state.UpdatedAt.Before(cutoff) {
			delete(s.data, campaignID)
			removed++
		}
	}
	return removed, nil
}
