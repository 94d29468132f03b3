// Package main runs a single budget allocation cycle and prints the
// proposed split. By default it uses in-memory fixture arms; with
// --clickhouse-dsn it loads real per-arm history instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ad-budget-lab/internal/allocation"
	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/orchestrator"
	"ad-budget-lab/internal/prior"
	"ad-budget-lab/internal/sampling"
	"ad-budget-lab/internal/storage"
	chstore "ad-budget-lab/internal/storage/clickhouse"
	"ad-budget-lab/internal/storage/memory"
	"ad-budget-lab/internal/storage/migrations"
)

func main() {
	budget := flag.Float64("budget", 200.0, "Total daily budget to allocate")
	strategyName := flag.String("strategy", "hierarchical", "Prior strategy: hierarchical or informative")
	risk := flag.Float64("risk", 0.5, "Risk tolerance in [0,1]")
	historyDays := flag.Int("history-days", 14, "Days of fixture history to seed")
	seed := flag.Int64("seed", 0, "Sampler seed (0 = time-based)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (empty = fixture data)")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	ctx := context.Background()

	strategy, err := resolveStrategy(*strategyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	historicalStore, cleanup, err := createHistoricalStore(ctx, *clickhouseDSN, *historyDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	samplerSeed := *seed
	if samplerSeed == 0 {
		samplerSeed = time.Now().UnixNano()
	}

	orch := orchestrator.New(orchestrator.Options{
		HistoricalStore: historicalStore,
		Strategy:        strategy,
		Engine:          allocation.NewEngine(sampling.New(samplerSeed)),
		Verbose:         *verbose,
	})

	arms := domain.FixtureArms()
	constraints := domain.BudgetConstraints{
		MinDailyBudget: 5,
		RiskTolerance:  *risk,
	}

	fmt.Printf("=== Allocation Cycle ===\n")
	fmt.Printf("Strategy: %s, budget: $%.2f, risk: %.2f\n\n", strategy.Metadata().Name, *budget, *risk)

	result, err := orch.RunAllocationCycle(ctx, arms, *budget, constraints)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Allocation error: %v\n", err)
		os.Exit(1)
	}

	var total float64
	for _, r := range result.Results {
		total += r.ProposedBudget
		fmt.Printf("%-24s $%8.2f -> $%8.2f  (score %.3f, bonus %.3f)\n",
			r.ArmID, r.CurrentBudget, r.ProposedBudget, r.ThompsonScore, r.ExplorationBonus)
		if *verbose {
			fmt.Printf("    %s\n", r.Justification)
			fmt.Printf("    expected improvement $%.2f/day, conversions CI [%.1f, %.1f]\n",
				r.ExpectedImprovement, r.ConversionsCI.Lower, r.ConversionsCI.Upper)
		}
	}
	fmt.Printf("\nTotal allocated: $%.2f of $%.2f\n", total, *budget)

	if len(result.Errors) > 0 {
		fmt.Printf("Errors: %d\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

func resolveStrategy(name string) (prior.Strategy, error) {
	switch name {
	case "hierarchical":
		return prior.NewHierarchical(), nil
	case "informative":
		return prior.NewInformative(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (want hierarchical or informative)", name)
	}
}

// createHistoricalStore returns a ClickHouse-backed store when a DSN is
// given, otherwise an in-memory store seeded with fixture history.
func createHistoricalStore(ctx context.Context, dsn string, historyDays int) (storage.HistoricalPerformanceStore, func(), error) {
	if dsn != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return chstore.NewHistoricalPerformanceStore(conn), func() { conn.Close() }, nil
	}

	store := memory.NewHistoricalPerformanceStore()
	history := domain.FixtureHistory(historyDays, time.Now().UTC())
	records := make([]*domain.HistoricalRecord, len(history))
	for i := range history {
		records[i] = &history[i]
	}
	if err := store.InsertBulk(ctx, records); err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}
