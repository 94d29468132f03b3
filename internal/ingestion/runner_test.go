package ingestion

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/pacing"
	"ad-budget-lab/internal/storage/memory"
)

type stubSource struct {
	ch chan SpendUpdate
}

func (s *stubSource) Updates() <-chan SpendUpdate {
	return s.ch
}

type noopSignals struct{}

func (noopSignals) FetchSignal(_ context.Context, _ string, _ float64) (*pacing.Signal, error) {
	return &pacing.Signal{}, nil
}

func newRunnerHarness(t *testing.T) (*Runner, *stubSource, *pacing.Controller) {
	t.Helper()
	store := memory.NewPacingStateStore()
	controller := pacing.NewController(pacing.Options{
		Store:   store,
		Signals: noopSignals{},
		Config:  domain.DefaultPacingConfig(),
		Logger:  log.New(io.Discard, "", 0),
	})
	source := &stubSource{ch: make(chan SpendUpdate, 16)}
	runner := NewRunner(RunnerOptions{
		Source:     source,
		Controller: controller,
		Logger:     log.New(io.Discard, "", 0),
	})
	return runner, source, controller
}

func TestRunner_AppliesSpendUpdates(t *testing.T) {
	runner, source, controller := newRunnerHarness(t)
	ctx := context.Background()

	if _, err := controller.InitializeCampaignPacing(ctx, "camp-1", 100.0); err != nil {
		t.Fatalf("onboard: %v", err)
	}

	source.ch <- SpendUpdate{CampaignID: "camp-1", Spend: 30.0, ObservedAt: time.Now()}
	source.ch <- SpendUpdate{CampaignID: "camp-1", Spend: 55.0, ObservedAt: time.Now()}
	// A stale lower total must not regress the spend.
	source.ch <- SpendUpdate{CampaignID: "camp-1", Spend: 40.0, ObservedAt: time.Now()}
	close(source.ch)

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := controller.GetPacingState(ctx, "camp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.CurrentSpend != 55.0 {
		t.Errorf("expected high-water spend 55, got %v", state.CurrentSpend)
	}
}

func TestRunner_SkipsUnknownCampaign(t *testing.T) {
	runner, source, controller := newRunnerHarness(t)
	ctx := context.Background()

	if _, err := controller.InitializeCampaignPacing(ctx, "camp-1", 100.0); err != nil {
		t.Fatalf("onboard: %v", err)
	}

	source.ch <- SpendUpdate{CampaignID: "camp-unknown", Spend: 10.0}
	source.ch <- SpendUpdate{CampaignID: "camp-1", Spend: 20.0}
	close(source.ch)

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("unknown campaign must not abort the runner: %v", err)
	}

	state, _ := controller.GetPacingState(ctx, "camp-1")
	if state.CurrentSpend != 20.0 {
		t.Errorf("expected spend 20, got %v", state.CurrentSpend)
	}
}

func TestRunner_StopsOnContextCancel(t *testing.T) {
	runner, _, _ := newRunnerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}
