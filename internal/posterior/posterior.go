// Package posterior combines an arm's prior with its current
// observation window. Pure and deterministic; recomputed every cycle.
package posterior

import (
	"math"

	"ad-budget-lab/internal/domain"
)

// Compute performs the direct additive Bayesian update:
//
//	cvr_alpha  = prior_alpha       + conversions
//	cvr_beta   = prior_beta        + clicks − conversions
//	value_shape = prior_value_shape + conversions
//	value_rate  = prior_value_rate  + revenue
//
// Non-conversions are floored at zero so a window with conversions at
// the click count cannot push the Beta parameter negative.
func Compute(metrics domain.ArmMetrics, p domain.Prior) domain.Posterior {
	return domain.Posterior{
		ArmID:      p.ArmID,
		CVRAlpha:   p.Alpha + metrics.Conversions,
		CVRBeta:    p.Beta + math.Max(metrics.Clicks-metrics.Conversions, 0),
		ValueShape: p.ValueShape + metrics.Conversions,
		ValueRate:  p.ValueRate + metrics.Revenue,
	}
}
