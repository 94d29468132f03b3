package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"ad-budget-lab/internal/allocation"
	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/pacing"
	"ad-budget-lab/internal/prior"
	"ad-budget-lab/internal/sampling"
	"ad-budget-lab/internal/storage"
	"ad-budget-lab/internal/storage/memory"
)

type fixedSignals struct {
	signal pacing.Signal
}

func (f *fixedSignals) FetchSignal(_ context.Context, _ string, _ float64) (*pacing.Signal, error) {
	sig := f.signal
	return &sig, nil
}

type testHarness struct {
	orch            *Orchestrator
	controller      *pacing.Controller
	historicalStore *memory.HistoricalPerformanceStore
	pacingStore     *memory.PacingStateStore
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	historicalStore := memory.NewHistoricalPerformanceStore()
	pacingStore := memory.NewPacingStateStore()
	engine := allocation.NewEngine(sampling.New(42))
	controller := pacing.NewController(pacing.Options{
		Store:   pacingStore,
		Signals: &fixedSignals{signal: pacing.Signal{ExpectedValuePerClick: 1.2, Confidence: 0.5}},
		Config:  domain.DefaultPacingConfig(),
		Logger:  log.New(io.Discard, "", 0),
	})

	orch := New(Options{
		HistoricalStore: historicalStore,
		Strategy:        prior.NewHierarchical(),
		Engine:          engine,
		Controller:      controller,
		PacingWorkers:   3,
	})
	return &testHarness{
		orch:            orch,
		controller:      controller,
		historicalStore: historicalStore,
		pacingStore:     pacingStore,
	}
}

func testArm(id string, clicks, conversions float64) domain.Arm {
	return domain.Arm{
		ArmID:    id,
		Name:     "Arm " + id,
		Category: domain.CategoryCampaign,
		Metrics: domain.ArmMetrics{
			Spend:       clicks * 0.5,
			Clicks:      clicks,
			Conversions: conversions,
			Revenue:     conversions * 50,
			Impressions: clicks * 20,
		},
		CurrentDailyBudget: 50,
	}
}

func seedHistory(t *testing.T, h *testHarness, armID string, days int) {
	t.Helper()
	records := make([]*domain.HistoricalRecord, 0, days)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		records = append(records, &domain.HistoricalRecord{
			ArmID:       armID,
			Category:    domain.CategoryCampaign,
			Date:        base.AddDate(0, 0, i),
			Spend:       40,
			Clicks:      100,
			Conversions: 3,
			Revenue:     150,
			Impressions: 2000,
		})
	}
	if err := h.historicalStore.InsertBulk(context.Background(), records); err != nil {
		t.Fatalf("seed history: %v", err)
	}
}

func TestRunAllocationCycle(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	arms := []domain.Arm{
		testArm("arm-1", 1000, 40),
		testArm("arm-2", 800, 10),
		testArm("arm-3", 50, 1),
	}
	for _, arm := range arms {
		seedHistory(t, h, arm.ArmID, 14)
	}

	result, err := h.orch.RunAllocationCycle(ctx, arms, 150.0, domain.BudgetConstraints{
		MinDailyBudget: 10,
		MaxDailyBudget: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected 3 allocations, got %d", len(result.Results))
	}
	if len(result.Priors) != 3 {
		t.Fatalf("expected 3 priors, got %d", len(result.Priors))
	}

	var total float64
	for _, r := range result.Results {
		total += r.ProposedBudget
	}
	if math.Abs(total-150.0) > 0.01 {
		t.Errorf("expected allocations to sum to budget, got %v", total)
	}
}

func TestRunAllocationCycle_NoHistory(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	arms := []domain.Arm{testArm("arm-1", 100, 3)}
	result, err := h.orch.RunAllocationCycle(ctx, arms, 50.0, domain.BudgetConstraints{})
	if err != nil {
		t.Fatalf("history-free cycle must still allocate: %v", err)
	}
	if len(result.Results) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(result.Results))
	}
	if result.Results[0].ProposedBudget <= 0 {
		t.Errorf("expected positive allocation, got %v", result.Results[0].ProposedBudget)
	}
}

func TestRunAllocationCycle_InvalidArm(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	arm := testArm("arm-1", 10, 50) // conversions exceed clicks
	_, err := h.orch.RunAllocationCycle(ctx, []domain.Arm{arm}, 50.0, domain.BudgetConstraints{})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestObserveAndUpdate(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	arms := []domain.Arm{testArm("arm-1", 100, 3)}
	seedHistory(t, h, "arm-1", 7)

	cycle, err := h.orch.RunAllocationCycle(ctx, arms, 50.0, domain.BudgetConstraints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := cycle.Priors[0]
	updated, err := h.orch.ObserveAndUpdate(ctx, cycle.Priors, []domain.PerformanceObservation{
		{ArmID: "arm-1", Clicks: 200, Conversions: 8, Revenue: 400, ObservedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated[0].Alpha <= before.Alpha {
		t.Errorf("expected alpha to grow, got %v -> %v", before.Alpha, updated[0].Alpha)
	}
	if updated[0].Metadata.SampleSize < before.Metadata.SampleSize {
		t.Errorf("sample size must not decrease, got %v -> %v",
			before.Metadata.SampleSize, updated[0].Metadata.SampleSize)
	}
}

func TestRunPacingCycles(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	campaignIDs := make([]string, 6)
	for i := range campaignIDs {
		id := fmt.Sprintf("camp-%d", i)
		campaignIDs[i] = id
		if _, err := h.controller.InitializeCampaignPacing(ctx, id, 100.0); err != nil {
			t.Fatalf("onboard %s: %v", id, err)
		}
	}

	result := h.orch.RunPacingCycles(ctx, campaignIDs, 12.0)
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if len(result.Decisions) != 6 {
		t.Errorf("expected 6 decisions, got %d", len(result.Decisions))
	}
}

func TestRunPacingCycles_OneFailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	if _, err := h.controller.InitializeCampaignPacing(ctx, "camp-ok", 100.0); err != nil {
		t.Fatalf("onboard: %v", err)
	}

	result := h.orch.RunPacingCycles(ctx, []string{"camp-ok", "camp-missing"}, 6.0)
	if len(result.Decisions) != 1 {
		t.Errorf("expected 1 decision, got %d", len(result.Decisions))
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}
	if result.Decisions[0].CampaignID != "camp-ok" {
		t.Errorf("expected decision for camp-ok, got %s", result.Decisions[0].CampaignID)
	}

	// The missing campaign never gained state.
	if _, err := h.pacingStore.GetByCampaignID(ctx, "camp-missing"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
