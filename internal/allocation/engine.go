// Package allocation implements the Thompson Sampling budget engine:
// it samples each arm's posterior, scores arms, splits the budget
// proportionally, applies constraints, and renormalizes so the
// proposals sum to the effective budget.
package allocation

import (
	"context"
	"fmt"
	"math"

	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/posterior"
	"ad-budget-lab/internal/sampling"
)

// minTotalScore guards the proportional split against a near-zero
// score sum; below it the budget is split evenly.
const minTotalScore = 1e-9

// minAvgCPC floors the cost-per-click denominator in ROAS computation.
const minAvgCPC = 0.01

// Engine allocates budget across arms via Thompson Sampling. Stateless
// apart from its sampler; safe to share across campaigns.
type Engine struct {
	sampler *sampling.Sampler
}

// NewEngine creates an allocation engine around the given sampler.
func NewEngine(sampler *sampling.Sampler) *Engine {
	return &Engine{sampler: sampler}
}

// armSample holds the per-arm intermediate values of one cycle.
type armSample struct {
	arm              domain.Arm
	post             domain.Posterior
	cvr              float64
	value            float64
	expectedROAS     float64
	explorationBonus float64
	score            float64
	proposed         float64
	bounds           armBounds
}

// AllocateBudget runs one full allocation cycle. Priors are matched to
// arms by ArmID; arms without a prior get a weak uninformative one.
// Returns one AllocationResult per arm, in arm order, whose proposed
// budgets sum to the effective budget within a cent (unless per-arm
// floors make that infeasible).
func (e *Engine) AllocateBudget(ctx context.Context, arms []domain.Arm, priors []domain.Prior, totalBudget float64, constraints domain.BudgetConstraints) ([]domain.AllocationResult, error) {
	if len(arms) == 0 {
		return nil, fmt.Errorf("%w: no arms to allocate across", domain.ErrInvalidInput)
	}
	if math.IsNaN(totalBudget) || math.IsInf(totalBudget, 0) || totalBudget < 0 {
		return nil, fmt.Errorf("%w: total budget %v", domain.ErrInvalidInput, totalBudget)
	}
	for i := range arms {
		if err := arms[i].Validate(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	effectiveBudget := applyCurrencyCaps(totalBudget, constraints.CurrencyCaps)

	priorByArm := make(map[string]domain.Prior, len(priors))
	for _, p := range priors {
		priorByArm[p.ArmID] = p
	}

	samples := make([]*armSample, len(arms))
	totalScore := 0.0
	for i, arm := range arms {
		p, ok := priorByArm[arm.ArmID]
		if !ok {
			p = weakPrior(arm.ArmID)
		}
		s := e.sampleArm(arm, p, constraints)
		samples[i] = s
		totalScore += s.score
	}

	// Proportional split, guarded against a vanishing score sum.
	for _, s := range samples {
		if totalScore < minTotalScore {
			s.proposed = effectiveBudget / float64(len(samples))
		} else {
			s.proposed = effectiveBudget * s.score / totalScore
		}
		s.bounds = boundsFor(s.arm, constraints)
		s.proposed = roundCents(s.bounds.clamp(s.proposed))
	}

	normalize(samples, effectiveBudget)

	results := make([]domain.AllocationResult, len(samples))
	for i, s := range samples {
		results[i] = e.buildResult(s, totalScore)
	}
	return results, nil
}

// sampleArm draws from one arm's posterior and computes its Thompson score.
func (e *Engine) sampleArm(arm domain.Arm, p domain.Prior, constraints domain.BudgetConstraints) *armSample {
	post := posterior.Compute(arm.Metrics, p)

	cvr := e.sampler.Beta(post.CVRAlpha, post.CVRBeta)
	value := e.sampler.Gamma(post.ValueShape, post.ValueRate)

	expectedRevenuePerClick := cvr * value
	avgCPC := arm.Metrics.AvgCPC()
	expectedROAS := expectedRevenuePerClick / math.Max(avgCPC, minAvgCPC)

	// Fewer observed clicks mean a larger bonus; higher risk tolerance
	// narrows the bonus spread toward a balanced allocation.
	uncertainty := 1 / math.Sqrt(math.Max(arm.Metrics.Clicks, 1))
	bonus := math.Max(uncertainty*(1-constraints.RiskTolerance*0.5), constraints.EffectiveExplorationFloor())

	return &armSample{
		arm:              arm,
		post:             post,
		cvr:              cvr,
		value:            value,
		expectedROAS:     expectedROAS,
		explorationBonus: bonus,
		score:            expectedROAS * (1 + bonus),
	}
}

// buildResult assembles the final AllocationResult for one arm,
// including expected improvement, confidence interval, and the
// justification string.
func (e *Engine) buildResult(s *armSample, totalScore float64) domain.AllocationResult {
	current := s.arm.CurrentDailyBudget
	proposed := s.proposed

	// Volume is assumed to scale with sqrt of the budget ratio
	// (diminishing returns); improvement is floored at zero and zero
	// for arms with no current budget to compare against.
	improvement := 0.0
	if current > 0 {
		improvement = math.Max(0, (math.Sqrt(proposed/current)-1)*s.cvr*s.arm.Metrics.AvgConversionValue())
	}

	expectedClicks := proposed / math.Max(s.arm.Metrics.AvgCPC(), minAvgCPC)
	ci := domain.ConfidenceInterval{
		Lower: expectedClicks * sampling.BetaQuantile(0.025, s.post.CVRAlpha, s.post.CVRBeta),
		Upper: expectedClicks * sampling.BetaQuantile(0.975, s.post.CVRAlpha, s.post.CVRBeta),
	}

	share := 0.0
	if totalScore > minTotalScore {
		share = s.score / totalScore * 100
	}
	direction := "hold"
	switch {
	case proposed > current+0.005:
		direction = "increase"
	case proposed < current-0.005:
		direction = "decrease"
	}
	justification := fmt.Sprintf(
		"thompson score %.3f (%.1f%% of total); sampled CVR %.4f, avg CPC $%.2f; %s budget $%.2f -> $%.2f",
		s.score, share, s.cvr, s.arm.Metrics.AvgCPC(), direction, current, proposed)

	return domain.AllocationResult{
		ArmID:               s.arm.ArmID,
		CurrentBudget:       current,
		ProposedBudget:      proposed,
		ExpectedImprovement: improvement,
		ConversionsCI:       ci,
		Justification:       justification,
		ThompsonScore:       s.score,
		ExplorationBonus:    s.explorationBonus,
	}
}

// applyCurrencyCaps shrinks the budget to the tightest defined cap.
func applyCurrencyCaps(totalBudget float64, caps map[string]float64) float64 {
	effective := totalBudget
	for _, cap := range caps {
		if cap > 0 && cap < effective {
			effective = cap
		}
	}
	return effective
}

// weakPrior is the fallback for arms the prior strategy never saw.
func weakPrior(armID string) domain.Prior {
	return domain.Prior{
		ArmID:      armID,
		Alpha:      1,
		Beta:       1,
		ValueShape: 1,
		ValueRate:  1,
		Metadata:   domain.PriorMetadata{Source: domain.PriorSourceInformative, Reliability: 0.1},
	}
}

// roundCents rounds to the currency's minor unit.
func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}
