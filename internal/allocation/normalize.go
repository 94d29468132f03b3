package allocation

import (
	"math"

	"ad-budget-lab/internal/domain"
)

// centTol is the tolerance under which two budget sums are considered
// equal (half a cent).
const centTol = 0.005

// armBounds holds one arm's effective allocation window after all
// constraints are intersected.
type armBounds struct {
	floor   float64 // max(global min, arm min)
	ceiling float64 // min(global max, arm max, per-arm limit), +Inf when unset

	// changeLow/changeHigh bound the per-cycle change relative to the
	// arm's current budget; unset (±Inf) for arms with no current budget.
	changeLow  float64
	changeHigh float64
}

// boundsFor computes an arm's allocation window from the constraints.
func boundsFor(arm domain.Arm, constraints domain.BudgetConstraints) armBounds {
	b := armBounds{
		floor:      math.Max(constraints.MinDailyBudget, arm.MinBudget),
		ceiling:    math.Inf(1),
		changeLow:  math.Inf(-1),
		changeHigh: math.Inf(1),
	}
	if constraints.MaxDailyBudget > 0 {
		b.ceiling = constraints.MaxDailyBudget
	}
	if arm.MaxBudget > 0 {
		b.ceiling = math.Min(b.ceiling, arm.MaxBudget)
	}
	if limit, ok := constraints.ArmBudgetLimits[arm.ArmID]; ok && limit > 0 {
		b.ceiling = math.Min(b.ceiling, limit)
	}

	if arm.CurrentDailyBudget > 0 {
		pct := constraints.EffectiveMaxChangePercent()
		b.changeLow = arm.CurrentDailyBudget * (1 - pct)
		b.changeHigh = arm.CurrentDailyBudget * (1 + pct)
	}
	return b
}

// lo returns the tightest lower bound; floors win over change bounds
// when the two conflict.
func (b armBounds) lo() float64 {
	return math.Max(b.floor, math.Min(b.changeLow, b.hiRaw()))
}

// hi returns the tightest upper bound, never below the floor.
func (b armBounds) hi() float64 {
	return math.Max(b.floor, b.hiRaw())
}

func (b armBounds) hiRaw() float64 {
	return math.Min(b.ceiling, b.changeHigh)
}

// clamp confines x to the intersected window. Equivalent to applying
// the min/max clamp followed by the change-window clamp whenever the
// two windows are compatible; floors win when they are not.
func (b armBounds) clamp(x float64) float64 {
	return math.Min(math.Max(x, b.lo()), b.hi())
}

// normalize adjusts proposed budgets in place so their sum matches the
// effective budget:
//
//   - over-allocation: proportional scale-down respecting floors, then
//     greedy largest-first reduction until the sum matches;
//   - under-allocation: even redistribution across arms with headroom
//     under their ceiling; arms at ceiling receive nothing.
//
// If no arm has headroom the shortfall stays unallocated; if floors
// block full scale-down every arm ends at its floor.
func normalize(samples []*armSample, effectiveBudget float64) {
	sum := proposedSum(samples)

	if sum > effectiveBudget+centTol {
		scaleDown(samples, effectiveBudget, sum)
	} else if sum < effectiveBudget-centTol {
		redistribute(samples, effectiveBudget, sum)
	}

	fixCentDrift(samples, effectiveBudget)
}

// scaleDown reduces proposals to the effective budget.
func scaleDown(samples []*armSample, effectiveBudget, sum float64) {
	factor := effectiveBudget / sum
	for _, s := range samples {
		s.proposed = roundCents(math.Max(s.bounds.lo(), s.proposed*factor))
	}

	// Floors may have absorbed part of the scale-down; shave the
	// largest remaining allocations first.
	sum = proposedSum(samples)
	for iter := 0; iter < len(samples)*2 && sum > effectiveBudget+centTol; iter++ {
		idx := -1
		for i, s := range samples {
			if s.proposed > s.bounds.lo()+centTol && (idx < 0 || s.proposed > samples[idx].proposed) {
				idx = i
			}
		}
		if idx < 0 {
			break // every arm at its floor
		}
		s := samples[idx]
		cut := math.Min(sum-effectiveBudget, s.proposed-s.bounds.lo())
		s.proposed = roundCents(s.proposed - cut)
		sum = proposedSum(samples)
	}
}

// redistribute spreads a shortfall evenly across arms that still have
// headroom under their ceiling.
func redistribute(samples []*armSample, effectiveBudget, sum float64) {
	for iter := 0; iter < len(samples)*2; iter++ {
		shortfall := effectiveBudget - sum
		if shortfall <= centTol {
			return
		}

		var open []*armSample
		for _, s := range samples {
			if s.bounds.hi()-s.proposed > centTol {
				open = append(open, s)
			}
		}
		if len(open) == 0 {
			return // no headroom anywhere: leave the shortfall unallocated
		}

		share := shortfall / float64(len(open))
		for _, s := range open {
			add := math.Min(share, s.bounds.hi()-s.proposed)
			s.proposed = roundCents(s.proposed + add)
		}
		sum = proposedSum(samples)
	}
}

// fixCentDrift absorbs sub-cent rounding residue into an arm that has
// room for it, keeping the conservation property exact.
func fixCentDrift(samples []*armSample, effectiveBudget float64) {
	residual := roundCents(effectiveBudget - proposedSum(samples))
	if math.Abs(residual) < 0.01 {
		return
	}

	for _, s := range samples {
		if residual > 0 && s.bounds.hi()-s.proposed >= residual {
			s.proposed = roundCents(s.proposed + residual)
			return
		}
		if residual < 0 && s.proposed+residual >= s.bounds.lo() {
			s.proposed = roundCents(s.proposed + residual)
			return
		}
	}
}

func proposedSum(samples []*armSample) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s.proposed
	}
	return sum
}
