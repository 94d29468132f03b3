package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/storage"
)

// historicalKey identifies one (arm, day) performance row.
type historicalKey struct {
	armID string
	date  time.Time
}

// HistoricalPerformanceStore is an in-memory implementation of
// storage.HistoricalPerformanceStore.
type HistoricalPerformanceStore struct {
	mu   sync.RWMutex
	data map[historicalKey]*domain.HistoricalRecord
}

// NewHistoricalPerformanceStore creates a new in-memory historical
// performance store.
func NewHistoricalPerformanceStore() *HistoricalPerformanceStore {
	return &HistoricalPerformanceStore{
		data: make(map[historicalKey]*domain.HistoricalRecord),
	}
}

// Compile-time interface check.
var _ storage.HistoricalPerformanceStore = (*HistoricalPerformanceStore)(nil)

// InsertBulk adds multiple rows atomically. Fails the entire batch on
// any duplicate (arm_id, date).
func (s *HistoricalPerformanceStore) InsertBulk(_ context.Context, records []*domain.HistoricalRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates.
	batchKeys := make(map[historicalKey]struct{}, len(records))
	for _, rec := range records {
		if rec == nil || rec.ArmID == "" {
			return storage.ErrInvalidInput
		}
		key := historicalKey{armID: rec.ArmID, date: rec.Date.UTC().Truncate(24 * time.Hour)}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, rec := range records {
		key := historicalKey{armID: rec.ArmID, date: rec.Date.UTC().Truncate(24 * time.Hour)}
		copy := *rec
		s.data[key] = &copy
	}
	return nil
}

// GetByArmID retrieves all rows for an arm, ordered by date ASC.
func (s *HistoricalPerformanceStore) GetByArmID(_ context.Context, armID string) ([]*domain.HistoricalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.HistoricalRecord
	for _, rec := range s.data {
		if rec.ArmID == armID {
			copy := *rec
			result = append(result, &copy)
		}
	}
	sortByDate(result)
	return result, nil
}

// GetByCategory retrieves all rows for a category, ordered by date ASC.
func (s *HistoricalPerformanceStore) GetByCategory(_ context.Context, category domain.ArmCategory) ([]*domain.HistoricalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.HistoricalRecord
	for _, rec := range s.data {
		if rec.Category == category {
			copy := *rec
			result = append(result, &copy)
		}
	}
	sortByDate(result)
	return result, nil
}

// GetByDateRange retrieves rows with date within [start, end] inclusive.
func (s *HistoricalPerformanceStore) GetByDateRange(_ context.Context, start, end time.Time) ([]*domain.HistoricalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.HistoricalRecord
	for _, rec := range s.data {
		if !rec.Date.Before(start) && !rec.Date.After(end) {
			copy := *rec
			result = append(result, &copy)
		}
	}
	sortByDate(result)
	return result, nil
}

func sortByDate(records []*domain.HistoricalRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].ArmID < records[j].ArmID
	})
}
