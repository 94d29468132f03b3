// Package orchestrator coordinates budget allocation and pacing cycles.
// It loads history, computes priors, runs the allocation engine, and fans
// pacing decisions out across campaigns.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ad-budget-lab/internal/allocation"
	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/observability"
	"ad-budget-lab/internal/pacing"
	"ad-budget-lab/internal/prior"
	"ad-budget-lab/internal/storage"
)

const defaultPacingWorkers = 4

// Orchestrator coordinates one allocation cycle and the per-campaign
// pacing cycles around it.
type Orchestrator struct {
	historicalStore storage.HistoricalPerformanceStore
	strategy        prior.Strategy
	engine          *allocation.Engine
	controller      *pacing.Controller

	pacingWorkers int
	verbose       bool
}

// Options for creating Orchestrator.
type Options struct {
	HistoricalStore storage.HistoricalPerformanceStore
	Strategy        prior.Strategy
	Engine          *allocation.Engine
	Controller      *pacing.Controller

	// PacingWorkers bounds concurrent pacing cycles. Zero means default.
	PacingWorkers int
	Verbose       bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	workers := opts.PacingWorkers
	if workers <= 0 {
		workers = defaultPacingWorkers
	}
	return &Orchestrator{
		historicalStore: opts.HistoricalStore,
		strategy:        opts.Strategy,
		engine:          opts.Engine,
		controller:      opts.Controller,
		pacingWorkers:   workers,
		verbose:         opts.Verbose,
	}
}

// AllocationRunResult contains results from one allocation cycle.
type AllocationRunResult struct {
	Results []domain.AllocationResult
	Priors  []domain.Prior
	Errors  []string
}

// RunAllocationCycle executes one full allocation pass.
// Phases:
//  1. Load historical performance per arm
//  2. Compute priors via the configured strategy
//  3. Run the Thompson allocation engine
//
// A history load failure for one arm degrades that arm to an empty
// history instead of failing the cycle.
func (o *Orchestrator) RunAllocationCycle(ctx context.Context, arms []domain.Arm, totalBudget float64, constraints domain.BudgetConstraints) (*AllocationRunResult, error) {
	started := time.Now()
	result := &AllocationRunResult{}

	// Phase 1: Load history
	o.log("Phase 1: Loading history for %d arms...", len(arms))
	historical := make([]domain.HistoricalRecord, 0, len(arms))
	for _, arm := range arms {
		records, err := o.historicalStore.GetByArmID(ctx, arm.ArmID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("load history for %s: %v", arm.ArmID, err))
			continue
		}
		for _, rec := range records {
			historical = append(historical, *rec)
		}
	}
	o.log("  Loaded %d history rows (%d errors)", len(historical), len(result.Errors))

	// Phase 2: Priors
	o.log("Phase 2: Computing priors (%s)...", o.strategy.Metadata().Name)
	priors, err := o.strategy.ComputePriors(ctx, arms, historical)
	if err != nil {
		observability.RecordAllocationCycle("error", time.Since(started).Seconds(), 0)
		return nil, fmt.Errorf("phase 2 (compute priors) failed: %w", err)
	}
	result.Priors = priors

	// Phase 3: Allocation
	o.log("Phase 3: Allocating $%.2f across %d arms...", totalBudget, len(arms))
	allocations, err := o.engine.AllocateBudget(ctx, arms, priors, totalBudget, constraints)
	if err != nil {
		observability.RecordAllocationCycle("error", time.Since(started).Seconds(), 0)
		return nil, fmt.Errorf("phase 3 (allocate) failed: %w", err)
	}
	result.Results = allocations

	o.log("Allocation cycle completed: %d arms, %d errors", len(allocations), len(result.Errors))
	observability.RecordAllocationCycle("ok", time.Since(started).Seconds(), len(allocations))
	observability.DefaultMetrics.LastSuccessfulAllocation.SetToCurrentTime()
	return result, nil
}

// ObserveAndUpdate folds fresh observations back into existing priors via
// the configured strategy. Call after conversion data lands for a window.
func (o *Orchestrator) ObserveAndUpdate(ctx context.Context, priors []domain.Prior, observations []domain.PerformanceObservation) ([]domain.Prior, error) {
	updated, err := o.strategy.UpdatePriors(ctx, priors, observations)
	if err != nil {
		return nil, fmt.Errorf("update priors: %w", err)
	}
	o.log("Updated %d priors from %d observations", len(updated), len(observations))
	return updated, nil
}

// PacingRunResult contains results from a fan-out of pacing cycles.
type PacingRunResult struct {
	Decisions []*domain.PacingDecision
	Errors    []string
}

// RunPacingCycles runs one pacing decision for every campaign, bounded by
// the worker pool. One campaign's failure never blocks the others.
func (o *Orchestrator) RunPacingCycles(ctx context.Context, campaignIDs []string, hoursIntoDay float64) *PacingRunResult {
	result := &PacingRunResult{}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.pacingWorkers)

	for _, campaignID := range campaignIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			decision, err := o.controller.RunCycle(ctx, id, hoursIntoDay)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("pacing cycle %s: %v", id, err))
				return
			}
			result.Decisions = append(result.Decisions, decision)
		}(campaignID)
	}
	wg.Wait()

	o.log("Pacing cycles completed: %d decisions, %d errors", len(result.Decisions), len(result.Errors))
	if len(result.Errors) == 0 {
		observability.DefaultMetrics.LastSuccessfulPacing.SetToCurrentTime()
	}
	return result
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[orchestrator] "+format, args...)
	}
}
