package clickhouse

import (
	"context"
	"fmt"
	"time"

	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/storage"
)

// HistoricalPerformanceStore implements
// storage.HistoricalPerformanceStore using ClickHouse.
type HistoricalPerformanceStore struct {
	conn *Conn
}

// NewHistoricalPerformanceStore creates a new HistoricalPerformanceStore.
func NewHistoricalPerformanceStore(conn *Conn) *HistoricalPerformanceStore {
	return &HistoricalPerformanceStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HistoricalPerformanceStore = (*HistoricalPerformanceStore)(nil)

// InsertBulk adds multiple rows. Fails the entire batch on a duplicate
// (arm_id, date). ClickHouse MergeTree does not enforce uniqueness at
// insert time, so duplicates are checked explicitly before the batch.
func (s *HistoricalPerformanceStore) InsertBulk(ctx context.Context, records []*domain.HistoricalRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Check for intra-batch duplicates.
	type key struct {
		armID string
		date  time.Time
	}
	seen := make(map[key]struct{}, len(records))
	for _, rec := range records {
		if rec == nil || rec.ArmID == "" {
			return storage.ErrInvalidInput
		}
		k := key{rec.ArmID, rec.Date.UTC().Truncate(24 * time.Hour)}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing rows.
	for _, rec := range records {
		exists, err := s.exists(ctx, rec.ArmID, rec.Date)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO arm_performance (
			arm_id, category, date, spend, clicks, conversions, revenue, impressions
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, rec := range records {
		err = batch.Append(
			rec.ArmID, string(rec.Category), rec.Date.UTC().Truncate(24*time.Hour),
			rec.Spend, rec.Clicks, rec.Conversions, rec.Revenue, rec.Impressions,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByArmID retrieves all rows for an arm, ordered by date ASC.
func (s *HistoricalPerformanceStore) GetByArmID(ctx context.Context, armID string) ([]*domain.HistoricalRecord, error) {
	query := `
		SELECT arm_id, category, date, spend, clicks, conversions, revenue, impressions
		FROM arm_performance
		WHERE arm_id = ?
		ORDER BY date ASC
	`
	return s.queryRecords(ctx, query, armID)
}

// GetByCategory retrieves all rows for a category, ordered by date ASC.
func (s *HistoricalPerformanceStore) GetByCategory(ctx context.Context, category domain.ArmCategory) ([]*domain.HistoricalRecord, error) {
	query := `
		SELECT arm_id, category, date, spend, clicks, conversions, revenue, impressions
		FROM arm_performance
		WHERE category = ?
		ORDER BY date ASC, arm_id ASC
	`
	return s.queryRecords(ctx, query, string(category))
}

// GetByDateRange retrieves rows with date within [start, end] inclusive.
func (s *HistoricalPerformanceStore) GetByDateRange(ctx context.Context, start, end time.Time) ([]*domain.HistoricalRecord, error) {
	query := `
		SELECT arm_id, category, date, spend, clicks, conversions, revenue, impressions
		FROM arm_performance
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, arm_id ASC
	`
	return s.queryRecords(ctx, query, start.UTC().Truncate(24*time.Hour), end.UTC().Truncate(24*time.Hour))
}

func (s *HistoricalPerformanceStore) queryRecords(ctx context.Context, query string, args ...any) ([]*domain.HistoricalRecord, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query arm performance: %w", err)
	}
	defer rows.Close()

	var result []*domain.HistoricalRecord
	for rows.Next() {
		var rec domain.HistoricalRecord
		var category string
		if err := rows.Scan(
			&rec.ArmID, &category, &rec.Date,
			&rec.Spend, &rec.Clicks, &rec.Conversions, &rec.Revenue, &rec.Impressions,
		); err != nil {
			return nil, fmt.Errorf("scan arm performance row: %w", err)
		}
		rec.Category = domain.ArmCategory(category)
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate arm performance rows: %w", err)
	}
	return result, nil
}

func (s *HistoricalPerformanceStore) exists(ctx context.Context, armID string, date time.Time) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM arm_performance WHERE arm_id = ? AND date = ?`,
		armID, date.UTC().Truncate(24*time.Hour),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
