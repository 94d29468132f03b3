package domain

// Default allocation constraint values
const (
	DefaultMaxChangePercent = 0.25
	DefaultExplorationFloor = 0.1
)

// BudgetConstraints are the global inputs bounding an allocation cycle.
type BudgetConstraints struct {
	// MinDailyBudget and MaxDailyBudget bound every arm (0 = unset).
	MinDailyBudget float64
	MaxDailyBudget float64

	// ArmBudgetLimits optionally caps individual arms by ArmID.
	ArmBudgetLimits map[string]float64

	// CurrencyCaps holds per-currency global caps; the tightest applies.
	CurrencyCaps map[string]float64

	// RiskTolerance in [0,1]. Higher values flatten the exploration
	// bonus spread, producing a more balanced allocation.
	RiskTolerance float64

	// MaxChangePercent bounds per-cycle change relative to an arm's
	// current budget. Zero falls back to DefaultMaxChangePercent.
	MaxChangePercent float64

	// ExplorationFloor is the minimum guaranteed exploration bonus.
	// Zero falls back to DefaultExplorationFloor.
	ExplorationFloor float64
}

// EffectiveMaxChangePercent returns MaxChangePercent with the default applied.
func (c BudgetConstraints) EffectiveMaxChangePercent() float64 {
	if c.MaxChangePercent <= 0 {
		return DefaultMaxChangePercent
	}
	return c.MaxChangePercent
}

// EffectiveExplorationFloor returns ExplorationFloor with the default applied.
func (c BudgetConstraints) EffectiveExplorationFloor() float64 {
	if c.ExplorationFloor <= 0 {
		return DefaultExplorationFloor
	}
	return c.ExplorationFloor
}

// ConfidenceInterval is a two-sided interval on expected conversions.
type ConfidenceInterval struct {
	Lower float64
	Upper float64
}

// AllocationResult is the engine's output for one arm in one cycle.
type AllocationResult struct {
	ArmID          string
	CurrentBudget  float64
	ProposedBudget float64

	// ExpectedImprovement is the incremental conversion value expected
	// from the budget delta, under a sqrt diminishing-returns assumption.
	ExpectedImprovement float64

	// ConversionsCI is a 95% interval on expected conversions at the
	// proposed budget. Descriptive only; not used by the allocator.
	ConversionsCI ConfidenceInterval

	Justification string

	// ThompsonScore is the raw sampled score; ExplorationBonus is the
	// bonus component folded into it.
	ThompsonScore    float64
	ExplorationBonus float64
}
