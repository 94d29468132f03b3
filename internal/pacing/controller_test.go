package pacing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/storage"
	"ad-budget-lab/internal/storage/memory"
)

// stubSignals returns a fixed signal, or an error when failWith is set.
type stubSignals struct {
	signal   Signal
	failWith error

	mu    sync.Mutex
	calls int
}

func (s *stubSignals) FetchSignal(_ context.Context, _ string, _ float64) (*Signal, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	sig := s.signal
	return &sig, nil
}

func (s *stubSignals) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestController(signals SignalProvider) (*Controller, *memory.PacingStateStore) {
	store := memory.NewPacingStateStore()
	ctrl := NewController(Options{
		Store:   store,
		Signals: signals,
		Config:  domain.DefaultPacingConfig(),
		Now:     func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		Logger:  log.New(io.Discard, "", 0),
	})
	return ctrl, store
}

func onboard(t *testing.T, ctrl *Controller, campaignID string, budget, spend float64) {
	t.Helper()
	ctx := context.Background()
	state, err := ctrl.InitializeCampaignPacing(ctx, campaignID, budget)
	if err != nil {
		t.Fatalf("InitializeCampaignPacing failed: %v", err)
	}
	if spend > 0 {
		state.CurrentSpend = spend
		if err := ctrl.store.Update(ctx, state); err != nil {
			t.Fatalf("seed spend failed: %v", err)
		}
	}
}

func TestInitializeCampaignPacing(t *testing.T) {
	ctrl, _ := newTestController(&stubSignals{})
	ctx := context.Background()

	state, err := ctrl.InitializeCampaignPacing(ctx, "camp-1", 150.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state.ControllerID) != 64 {
		t.Errorf("expected 64-char controller id, got %d chars", len(state.ControllerID))
	}
	if state.CurrentBidMultiplier != 1.0 {
		t.Errorf("expected neutral multiplier 1.0, got %v", state.CurrentBidMultiplier)
	}
	if state.PaceTarget != 1.0 {
		t.Errorf("expected pace target 1.0, got %v", state.PaceTarget)
	}
	if state.ExplorationBudgetFraction != 0.2 {
		t.Errorf("expected exploration fraction 0.2, got %v", state.ExplorationBudgetFraction)
	}

	// Duplicate onboarding is rejected.
	_, err = ctrl.InitializeCampaignPacing(ctx, "camp-1", 150.0)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestInitializeCampaignPacing_InvalidInput(t *testing.T) {
	ctrl, _ := newTestController(&stubSignals{})
	ctx := context.Background()

	cases := []struct {
		name       string
		campaignID string
		budget     float64
	}{
		{"empty campaign id", "", 100},
		{"zero budget", "camp-1", 0},
		{"negative budget", "camp-1", -50},
		{"NaN budget", "camp-1", math.NaN()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ctrl.InitializeCampaignPacing(ctx, tc.campaignID, tc.budget)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRunCycle_EmergencyStop(t *testing.T) {
	// The signal provider errors so a consult would degrade the cycle;
	// the emergency path must fire before any signal fetch.
	signals := &stubSignals{failWith: errors.New("unreachable")}
	ctrl, _ := newTestController(signals)
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 125.0)

	decision, err := ctrl.RunCycle(ctx, "camp-1", 6.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != domain.ActionPause {
		t.Errorf("expected pause, got %s", decision.Action)
	}
	if decision.BidMultiplier != 0.0 {
		t.Errorf("expected multiplier 0.0, got %v", decision.BidMultiplier)
	}
	if signals.callCount() != 0 {
		t.Errorf("emergency stop must bypass the signal fetch, got %d calls", signals.callCount())
	}

	state, err := ctrl.GetPacingState(ctx, "camp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.Paused {
		t.Error("expected persisted state to be paused")
	}
	if state.CurrentBidMultiplier != 0.0 {
		t.Errorf("expected persisted multiplier 0.0, got %v", state.CurrentBidMultiplier)
	}
}

func TestRunCycle_OverpacingDecreasesBids(t *testing.T) {
	// dailyBudget=100, spend=50, hoursIntoDay=6: expected spend 25,
	// pace 2.0, capped divisor 2.0/1.1.
	ctrl, _ := newTestController(&stubSignals{})
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 50.0)

	decision, err := ctrl.RunCycle(ctx, "camp-1", 6.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != domain.ActionDecreaseBids {
		t.Errorf("expected decrease_bids, got %s", decision.Action)
	}
	want := 1.0 / (2.0 / 1.1)
	if math.Abs(decision.BidMultiplier-want) > 1e-9 {
		t.Errorf("expected multiplier %.4f, got %v", want, decision.BidMultiplier)
	}

	state, _ := ctrl.GetPacingState(ctx, "camp-1")
	if math.Abs(state.PaceTarget-2.0) > 1e-9 {
		t.Errorf("expected persisted pace 2.0, got %v", state.PaceTarget)
	}
}

func TestRunCycle_UnderpacingExplores(t *testing.T) {
	signals := &stubSignals{signal: Signal{
		ExpectedValuePerClick: 1.8,
		Confidence:            0.4,
		SampledArmID:          "camp-1",
	}}
	ctrl, _ := newTestController(signals)
	ctx := context.Background()
	// Expected spend 25 at hour 6, pace 0.4. Remaining 90 > 20, stored
	// confidence 0 < 0.8, so exploration mode is active.
	onboard(t, ctrl, "camp-1", 100.0, 10.0)

	decision, err := ctrl.RunCycle(ctx, "camp-1", 6.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != domain.ActionIncreaseBids {
		t.Errorf("expected increase_bids, got %s", decision.Action)
	}
	if !decision.ExplorationMode {
		t.Error("expected exploration mode")
	}
	// Raw scale 0.95/0.4 = 2.375 is limited to +MaxBidAdjustment per cycle.
	want := 1.0 + 0.5
	if math.Abs(decision.BidMultiplier-want) > 1e-9 {
		t.Errorf("expected multiplier %.2f, got %v", want, decision.BidMultiplier)
	}

	state, _ := ctrl.GetPacingState(ctx, "camp-1")
	if state.ExpectedValuePerClick != 1.8 {
		t.Errorf("expected persisted value estimate 1.8, got %v", state.ExpectedValuePerClick)
	}
	if state.ConfidenceInEstimate != 0.4 {
		t.Errorf("expected persisted confidence 0.4, got %v", state.ConfidenceInEstimate)
	}
	if state.LastSampledArm != "camp-1" {
		t.Errorf("expected persisted sampled arm, got %q", state.LastSampledArm)
	}
}

func TestRunCycle_UnderpacingWithoutSignalMaintains(t *testing.T) {
	signals := &stubSignals{signal: Signal{ExpectedValuePerClick: 0}}
	ctrl, _ := newTestController(signals)
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 10.0)

	decision, err := ctrl.RunCycle(ctx, "camp-1", 6.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != domain.ActionMaintain {
		t.Errorf("expected maintain, got %s", decision.Action)
	}
	if decision.BidMultiplier != 1.0 {
		t.Errorf("expected unchanged multiplier, got %v", decision.BidMultiplier)
	}
}

func TestRunCycle_OnPaceStrongSignalNudgesUp(t *testing.T) {
	signals := &stubSignals{signal: Signal{
		ExpectedValuePerClick: 2.0,
		Confidence:            0.9,
	}}
	ctrl, _ := newTestController(signals)
	ctx := context.Background()
	// Expected spend 50 at hour 12, pace 1.0.
	onboard(t, ctrl, "camp-1", 100.0, 50.0)

	decision, err := ctrl.RunCycle(ctx, "camp-1", 12.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != domain.ActionIncreaseBids {
		t.Errorf("expected increase_bids, got %s", decision.Action)
	}
	if math.Abs(decision.BidMultiplier-1.05) > 1e-9 {
		t.Errorf("expected +5%% multiplier 1.05, got %v", decision.BidMultiplier)
	}
}

func TestRunCycle_OnPaceWeakSignalMaintains(t *testing.T) {
	signals := &stubSignals{signal: Signal{
		ExpectedValuePerClick: 0.5,
		Confidence:            0.3,
	}}
	ctrl, _ := newTestController(signals)
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 50.0)

	decision, err := ctrl.RunCycle(ctx, "camp-1", 12.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != domain.ActionMaintain {
		t.Errorf("expected maintain, got %s", decision.Action)
	}
	if decision.BidMultiplier != 1.0 {
		t.Errorf("expected unchanged multiplier, got %v", decision.BidMultiplier)
	}
}

func TestRunCycle_SignalFailureDegrades(t *testing.T) {
	signals := &stubSignals{failWith: errors.New("upstream timeout")}
	ctrl, _ := newTestController(signals)
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 10.0)

	// Seed a stored estimate so we can verify it survives the failure.
	state, _ := ctrl.GetPacingState(ctx, "camp-1")
	state.ExpectedValuePerClick = 1.5
	state.ConfidenceInEstimate = 0.6
	if err := ctrl.store.Update(ctx, state); err != nil {
		t.Fatalf("seed estimate failed: %v", err)
	}

	decision, err := ctrl.RunCycle(ctx, "camp-1", 6.0)
	if err != nil {
		t.Fatalf("signal failure must not abort the cycle: %v", err)
	}
	// Underpacing but the degraded signal has zero expected value.
	if decision.Action != domain.ActionMaintain {
		t.Errorf("expected maintain, got %s", decision.Action)
	}
	if decision.Confidence != 0 {
		t.Errorf("expected degraded confidence 0, got %v", decision.Confidence)
	}

	state, _ = ctrl.GetPacingState(ctx, "camp-1")
	if state.ExpectedValuePerClick != 1.5 || state.ConfidenceInEstimate != 0.6 {
		t.Errorf("stored estimate must survive a failed fetch, got value=%v confidence=%v",
			state.ExpectedValuePerClick, state.ConfidenceInEstimate)
	}
}

func TestRunCycle_ResumeAfterPause(t *testing.T) {
	ctrl, _ := newTestController(&stubSignals{})
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 125.0)

	// First cycle trips the emergency stop.
	decision, err := ctrl.RunCycle(ctx, "camp-1", 6.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != domain.ActionPause {
		t.Fatalf("expected pause, got %s", decision.Action)
	}

	// A fresh day resets spend; the paused campaign resumes.
	state, _ := ctrl.GetPacingState(ctx, "camp-1")
	state.CurrentSpend = 0
	if err := ctrl.store.Update(ctx, state); err != nil {
		t.Fatalf("reset spend failed: %v", err)
	}

	decision, err = ctrl.RunCycle(ctx, "camp-1", 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != domain.ActionResume {
		t.Errorf("expected resume, got %s", decision.Action)
	}
	if decision.BidMultiplier != 1.0 {
		t.Errorf("expected neutral multiplier on resume, got %v", decision.BidMultiplier)
	}

	state, _ = ctrl.GetPacingState(ctx, "camp-1")
	if state.Paused {
		t.Error("expected persisted state to be unpaused")
	}
}

func TestRunCycle_MultiplierClamped(t *testing.T) {
	ctrl, _ := newTestController(&stubSignals{})
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 110.0)

	// Force repeated overpacing cycles; the multiplier must never fall
	// below the configured minimum.
	for i := 0; i < 10; i++ {
		decision, err := ctrl.RunCycle(ctx, "camp-1", 6.0)
		if err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
		if decision.BidMultiplier < domain.DefaultMinBidMultiplier-1e-9 {
			t.Fatalf("cycle %d: multiplier %v below minimum", i, decision.BidMultiplier)
		}
	}
}

func TestRunCycle_MissingCampaign(t *testing.T) {
	ctrl, _ := newTestController(&stubSignals{})
	_, err := ctrl.RunCycle(context.Background(), "no-such", 6.0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunCycle_InvalidHours(t *testing.T) {
	ctrl, _ := newTestController(&stubSignals{})
	for _, hours := range []float64{-1, 25, math.NaN()} {
		_, err := ctrl.RunCycle(context.Background(), "camp-1", hours)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("hours=%v: expected ErrInvalidInput, got %v", hours, err)
		}
	}
}

func TestApplySpend_HighWater(t *testing.T) {
	ctrl, _ := newTestController(&stubSignals{})
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 0)

	if err := ctrl.ApplySpend(ctx, "camp-1", 60.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A stale lower total must not regress the spend.
	if err := ctrl.ApplySpend(ctx, "camp-1", 40.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, _ := ctrl.GetPacingState(ctx, "camp-1")
	if state.CurrentSpend != 60.0 {
		t.Errorf("expected high-water spend 60, got %v", state.CurrentSpend)
	}

	if err := ctrl.ApplySpend(ctx, "no-such", 10.0); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := ctrl.ApplySpend(ctx, "camp-1", -5.0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRunCycle_ConcurrentSameCampaign(t *testing.T) {
	signals := &stubSignals{signal: Signal{ExpectedValuePerClick: 1.0, Confidence: 0.5}}
	ctrl, _ := newTestController(signals)
	ctx := context.Background()
	onboard(t, ctrl, "camp-1", 100.0, 50.0)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ctrl.RunCycle(ctx, "camp-1", 12.0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent cycle failed: %v", err)
	}

	state, err := ctrl.GetPacingState(ctx, "camp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.CurrentBidMultiplier < domain.DefaultMinBidMultiplier ||
		state.CurrentBidMultiplier > domain.DefaultMaxBidMultiplier {
		t.Errorf("multiplier %v escaped clamp under concurrency", state.CurrentBidMultiplier)
	}
}

func TestRunCycle_ConcurrentDifferentCampaigns(t *testing.T) {
	ctrl, _ := newTestController(&stubSignals{})
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		onboard(t, ctrl, fmt.Sprintf("camp-%d", i), 100.0, 50.0)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := ctrl.RunCycle(ctx, id, 6.0); err != nil {
				t.Errorf("campaign %s: %v", id, err)
			}
		}(fmt.Sprintf("camp-%d", i))
	}
	wg.Wait()
}
