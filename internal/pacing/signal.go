package pacing

import (
	"context"
	"fmt"
	"math"

	"ad-budget-lab/internal/allocation"
	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/posterior"
)

// Signal is the live performance estimate for a campaign, fetched once per
// pacing cycle.
type Signal struct {
	ExpectedValuePerClick float64
	Confidence            float64
	SpendDelta            float64
	ConversionDelta       float64
	RevenueDelta          float64
	SampledArmID          string
}

// SignalProvider fetches the performance signal for a campaign. A failed
// fetch degrades the cycle to a zero signal, it never aborts it.
type SignalProvider interface {
	FetchSignal(ctx context.Context, campaignID string, dailyBudget float64) (*Signal, error)
}

// MetricsSource supplies a campaign's trailing-window aggregates framed as a
// single arm, plus the campaign's current prior.
type MetricsSource interface {
	CampaignArm(ctx context.Context, campaignID string) (*domain.Arm, *domain.Prior, error)
}

// EngineSignalProvider derives the pacing signal from the allocation engine
// by framing the whole campaign as a single arm.
type EngineSignalProvider struct {
	engine *allocation.Engine
	source MetricsSource
}

// NewEngineSignalProvider creates a provider backed by the allocation engine.
func NewEngineSignalProvider(engine *allocation.Engine, source MetricsSource) *EngineSignalProvider {
	return &EngineSignalProvider{engine: engine, source: source}
}

// Compile-time interface check.
var _ SignalProvider = (*EngineSignalProvider)(nil)

// FetchSignal runs a single-arm allocation for the campaign and converts the
// result into a pacing signal.
func (p *EngineSignalProvider) FetchSignal(ctx context.Context, campaignID string, dailyBudget float64) (*Signal, error) {
	arm, prior, err := p.source.CampaignArm(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("fetch campaign arm %s: %w", campaignID, err)
	}

	results, err := p.engine.AllocateBudget(ctx,
		[]domain.Arm{*arm}, []domain.Prior{*prior}, dailyBudget, domain.BudgetConstraints{})
	if err != nil {
		return nil, fmt.Errorf("allocate campaign %s: %w", campaignID, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("allocate campaign %s: expected 1 result, got %d", campaignID, len(results))
	}
	res := results[0]

	post := posterior.Compute(arm.Metrics, *prior)
	meanCVR := post.MeanCVR()
	meanValue := 0.0
	if post.ValueRate > 0 {
		meanValue = post.ValueShape / post.ValueRate
	}

	spendDelta := res.ProposedBudget - res.CurrentBudget
	avgCPC := math.Max(arm.Metrics.AvgCPC(), 0.01)

	return &Signal{
		ExpectedValuePerClick: meanCVR * meanValue,
		Confidence:            (prior.CVRConfidence + prior.ValueConfidence) / 2,
		SpendDelta:            spendDelta,
		ConversionDelta:       spendDelta / avgCPC * meanCVR,
		RevenueDelta:          spendDelta / avgCPC * meanCVR * meanValue,
		SampledArmID:          arm.ArmID,
	}, nil
}
