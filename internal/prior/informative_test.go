package prior

import (
	"context"
	"testing"
	"time"

	"ad-budget-lab/internal/domain"
)

func TestInformative_KnownCategoriesUseTable(t *testing.T) {
	strategy := NewInformative()
	ctx := context.Background()

	arms := []domain.Arm{
		{ArmID: "c1", Category: domain.CategoryCampaign, CurrentDailyBudget: 500},
		{ArmID: "g1", Category: domain.CategoryAdGroup, CurrentDailyBudget: 500},
		{ArmID: "cr1", Category: domain.CategoryCreative, CurrentDailyBudget: 500},
	}

	priors, err := strategy.ComputePriors(ctx, arms, nil)
	if err != nil {
		t.Fatalf("ComputePriors failed: %v", err)
	}
	assertPositiveParams(t, priors)

	table := DefaultKnowledgeTable()
	for i, arm := range arms {
		entry := table[arm.Category]
		got := priors[i].MeanCVR()
		// Mid-tier budget modifier is 1.0, so the prior mean is the baseline.
		if diff := got - entry.BaselineCVR; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("arm %s: prior CVR %.5f, want baseline %.5f", arm.ArmID, got, entry.BaselineCVR)
		}
		if priors[i].Metadata.Source != domain.PriorSourceInformative {
			t.Errorf("arm %s: source %q, want informative", arm.ArmID, priors[i].Metadata.Source)
		}
	}
}

func TestInformative_UnknownCategoryFallsBackWithFixedReliability(t *testing.T) {
	strategy := NewInformative()
	ctx := context.Background()

	arms := []domain.Arm{{ArmID: "x1", Category: domain.ArmCategory("portfolio")}}

	priors, err := strategy.ComputePriors(ctx, arms, nil)
	if err != nil {
		t.Fatalf("ComputePriors failed: %v", err)
	}
	assertPositiveParams(t, priors)

	if priors[0].Metadata.Reliability != 0.5 {
		t.Errorf("unknown category reliability = %v, want 0.5", priors[0].Metadata.Reliability)
	}
}

func TestInformative_BudgetTierModifier(t *testing.T) {
	strategy := NewInformative()
	ctx := context.Background()

	arms := []domain.Arm{
		{ArmID: "large", Category: domain.CategoryCampaign, CurrentDailyBudget: 5000},
		{ArmID: "small", Category: domain.CategoryCampaign, CurrentDailyBudget: 20},
	}

	priors, err := strategy.ComputePriors(ctx, arms, nil)
	if err != nil {
		t.Fatalf("ComputePriors failed: %v", err)
	}

	if priors[0].MeanCVR() <= priors[1].MeanCVR() {
		t.Errorf("large-budget arm CVR %.5f should exceed small-budget arm CVR %.5f",
			priors[0].MeanCVR(), priors[1].MeanCVR())
	}
}

func TestInformative_CustomTable(t *testing.T) {
	custom := map[domain.ArmCategory]DomainKnowledge{
		domain.CategoryCampaign: {
			BaselineCVR:         0.10,
			BaselineValue:       200,
			ValueVariance:       400,
			TrustWeight:         0.9,
			EffectiveSampleSize: 500,
		},
	}
	strategy := NewInformativeWithTable(custom)
	ctx := context.Background()

	arms := []domain.Arm{{ArmID: "c1", Category: domain.CategoryCampaign, CurrentDailyBudget: 500}}
	priors, err := strategy.ComputePriors(ctx, arms, nil)
	if err != nil {
		t.Fatalf("ComputePriors failed: %v", err)
	}

	if diff := priors[0].MeanCVR() - 0.10; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("custom table CVR %.5f, want 0.10", priors[0].MeanCVR())
	}
	if priors[0].CVRConfidence != 0.9 {
		t.Errorf("custom table confidence %v, want 0.9", priors[0].CVRConfidence)
	}
}

func TestInformative_UpdatePriorsDiscountsTrust(t *testing.T) {
	strategy := NewInformative()
	ctx := context.Background()

	arms := []domain.Arm{{ArmID: "c1", Category: domain.CategoryCampaign, CurrentDailyBudget: 500}}
	priors, err := strategy.ComputePriors(ctx, arms, nil)
	if err != nil {
		t.Fatalf("ComputePriors failed: %v", err)
	}

	updated, err := strategy.UpdatePriors(ctx, priors, []domain.PerformanceObservation{
		{ArmID: "c1", Clicks: 100, Conversions: 10, Revenue: 500, ObservedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("UpdatePriors failed: %v", err)
	}
	assertPositiveParams(t, updated)

	// Increment is discounted by the informative trust factor 0.7.
	wantAlpha := priors[0].Alpha + 0.7*10
	if diff := updated[0].Alpha - wantAlpha; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("alpha = %v, want %v", updated[0].Alpha, wantAlpha)
	}
	if updated[0].Metadata.SampleSize != priors[0].Metadata.SampleSize+100 {
		t.Errorf("SampleSize = %v, want %v", updated[0].Metadata.SampleSize, priors[0].Metadata.SampleSize+100)
	}
}

func TestStrategyMetadata(t *testing.T) {
	for _, s := range []Strategy{NewHierarchical(), NewInformative()} {
		meta := s.Metadata()
		if meta.Name == "" || meta.Approach == "" {
			t.Errorf("strategy metadata incomplete: %+v", meta)
		}
	}
}
