package prior

import (
	"context"
	"math"
	"time"

	"ad-budget-lab/internal/domain"
)

// hierarchicalTrust weights Bayesian increments for the hierarchical
// strategy. Pooled priors are data-driven, so new observations are
// taken at face value.
const hierarchicalTrust = 1.0

// Pooling strength bounds: the hyperprior's equivalent sample size in
// clicks, derived from cross-arm dispersion via method of moments.
const (
	minPoolingStrength = 2.0
	maxPoolingStrength = 1000.0
)

// Hierarchical pools arms by category into a category-level hyperprior,
// then shrinks each arm's own estimate toward it in proportion to the
// arm's sample size. More data means less shrinkage and higher
// confidence.
type Hierarchical struct {
	now func() time.Time
}

// NewHierarchical creates the hierarchical pooling strategy.
func NewHierarchical() *Hierarchical {
	return &Hierarchical{now: time.Now}
}

// Compile-time interface check.
var _ Strategy = (*Hierarchical)(nil)

// Metadata returns the strategy's descriptive metadata.
func (h *Hierarchical) Metadata() StrategyMetadata {
	return StrategyMetadata{
		Name:             "hierarchical",
		Approach:         "category-level hyperprior with per-arm shrinkage",
		DataRequirements: "per-arm per-day historical performance rows",
		Accuracy:         "high with sufficient category volume",
		Adaptability:     "medium",
	}
}

// categoryPool holds pooled statistics for one arm category.
type categoryPool struct {
	clicks      float64
	conversions float64
	revenue     float64

	// Hyperprior parameters derived from the pool.
	cvrMean         float64
	cvrStrength     float64 // equivalent sample size in clicks
	valueMean       float64
	valueShape      float64
	armCount        int
	hasValueSamples bool
}

// armHistory accumulates one arm's own historical totals.
type armHistory struct {
	clicks      float64
	conversions float64
	revenue     float64
	category    domain.ArmCategory
}

// ComputePriors derives priors by shrinking each arm's observed rates
// toward its category hyperprior. Arms with no history fall back to the
// hyperprior with confidence capped below 0.5; with no historical data
// at all, every arm gets a weak uninformative prior tagged
// "informative" with confidence below 0.2.
func (h *Hierarchical) ComputePriors(_ context.Context, arms []domain.Arm, historical []domain.HistoricalRecord) ([]domain.Prior, error) {
	if len(historical) == 0 {
		return h.uninformativePriors(arms), nil
	}

	pools, perArm := buildPools(historical)
	now := h.now()

	priors := make([]domain.Prior, 0, len(arms))
	for _, arm := range arms {
		pool, ok := pools[arm.Category]
		if !ok {
			// Category absent from history: pool everything we have.
			pool = globalPool(pools)
		}

		hist, hasHistory := perArm[arm.ArmID]

		var p domain.Prior
		if !hasHistory || hist.clicks == 0 {
			p = hyperpriorOnly(arm.ArmID, pool)
		} else {
			p = shrunkPrior(arm.ArmID, hist, pool)
		}
		p.Metadata.Source = domain.PriorSourceHierarchical
		p.Metadata.LastUpdated = now
		priors = append(priors, clampPositive(p))
	}
	return priors, nil
}

// UpdatePriors applies the shared Bayesian increment with full trust.
func (h *Hierarchical) UpdatePriors(_ context.Context, priors []domain.Prior, observations []domain.PerformanceObservation) ([]domain.Prior, error) {
	if err := validateObservations(observations); err != nil {
		return nil, err
	}
	grouped := groupObservations(observations)

	updated := make([]domain.Prior, len(priors))
	for i, p := range priors {
		obs, ok := grouped[p.ArmID]
		if !ok {
			updated[i] = p
			continue
		}
		updated[i] = clampPositive(applyIncrement(p, obs, hierarchicalTrust))
	}
	return updated, nil
}

// uninformativePriors is the last-resort fallback when no historical
// data exists at all.
func (h *Hierarchical) uninformativePriors(arms []domain.Arm) []domain.Prior {
	now := h.now()
	priors := make([]domain.Prior, len(arms))
	for i, arm := range arms {
		priors[i] = domain.Prior{
			ArmID:           arm.ArmID,
			Alpha:           1,
			Beta:            1,
			CVRConfidence:   0.1,
			ValueShape:      1,
			ValueRate:       1,
			ValueConfidence: 0.1,
			Metadata: domain.PriorMetadata{
				Source:      domain.PriorSourceInformative,
				SampleSize:  0,
				Reliability: 0.1,
				LastUpdated: now,
			},
		}
	}
	return priors
}

// buildPools aggregates historical rows into category pools and per-arm
// totals, then derives hyperprior parameters per category.
func buildPools(historical []domain.HistoricalRecord) (map[domain.ArmCategory]*categoryPool, map[string]armHistory) {
	pools := make(map[domain.ArmCategory]*categoryPool)
	perArm := make(map[string]armHistory)

	for _, rec := range historical {
		pool, ok := pools[rec.Category]
		if !ok {
			pool = &categoryPool{}
			pools[rec.Category] = pool
		}
		pool.clicks += rec.Clicks
		pool.conversions += rec.Conversions
		pool.revenue += rec.Revenue

		hist := perArm[rec.ArmID]
		hist.clicks += rec.Clicks
		hist.conversions += rec.Conversions
		hist.revenue += rec.Revenue
		hist.category = rec.Category
		perArm[rec.ArmID] = hist
	}

	// Per-category dispersion across arms determines pooling strength.
	byCategory := make(map[domain.ArmCategory][]armHistory)
	for _, hist := range perArm {
		byCategory[hist.category] = append(byCategory[hist.category], hist)
	}

	for category, pool := range pools {
		arms := byCategory[category]
		pool.armCount = len(arms)
		pool.cvrMean = safeRate(pool.conversions, pool.clicks, 0.01)
		pool.valueMean = safeRate(pool.revenue, pool.conversions, 1.0)
		pool.cvrStrength = cvrPoolingStrength(pool.cvrMean, arms)
		pool.valueShape, pool.hasValueSamples = valueShapeFromDispersion(pool.valueMean, arms)
	}

	return pools, perArm
}

// cvrPoolingStrength converts cross-arm CVR dispersion into an
// equivalent sample size via method of moments: for a Beta hyperprior
// with mean m and variance v, strength = m(1-m)/v - 1.
func cvrPoolingStrength(mean float64, arms []armHistory) float64 {
	var cvrs []float64
	for _, a := range arms {
		if a.clicks > 0 {
			cvrs = append(cvrs, a.conversions/a.clicks)
		}
	}
	if len(cvrs) < 2 {
		return 50 // single-arm category: moderate default strength
	}

	var sum, sumSq float64
	for _, c := range cvrs {
		sum += c
		sumSq += c * c
	}
	n := float64(len(cvrs))
	variance := sumSq/n - (sum/n)*(sum/n)
	if variance <= 0 {
		return maxPoolingStrength
	}

	strength := mean*(1-mean)/variance - 1
	return math.Min(maxPoolingStrength, math.Max(minPoolingStrength, strength))
}

// valueShapeFromDispersion derives a Gamma shape from the cross-arm
// coefficient of variation of conversion value: shape = (mean/sd)^2.
func valueShapeFromDispersion(mean float64, arms []armHistory) (float64, bool) {
	var values []float64
	for _, a := range arms {
		if a.conversions > 0 {
			values = append(values, a.revenue/a.conversions)
		}
	}
	if len(values) < 2 {
		return 2, len(values) > 0
	}

	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))
	variance := sumSq/n - (sum/n)*(sum/n)
	if variance <= 0 || mean <= 0 {
		return 100, true
	}

	shape := mean * mean / variance
	return math.Min(100, math.Max(1, shape)), true
}

// globalPool merges every category pool; used for arms whose category
// never appears in history.
func globalPool(pools map[domain.ArmCategory]*categoryPool) *categoryPool {
	merged := &categoryPool{}
	for _, pool := range pools {
		merged.clicks += pool.clicks
		merged.conversions += pool.conversions
		merged.revenue += pool.revenue
		merged.armCount += pool.armCount
	}
	merged.cvrMean = safeRate(merged.conversions, merged.clicks, 0.01)
	merged.valueMean = safeRate(merged.revenue, merged.conversions, 1.0)
	merged.cvrStrength = 50
	merged.valueShape = 2
	merged.hasValueSamples = merged.conversions > 0
	return merged
}

// hyperpriorOnly builds a prior straight from the category hyperprior,
// for arms with no history of their own.
func hyperpriorOnly(armID string, pool *categoryPool) domain.Prior {
	strength := pool.cvrStrength
	confidence := math.Min(0.4, strength/(strength+200))

	return domain.Prior{
		ArmID:           armID,
		Alpha:           pool.cvrMean * strength,
		Beta:            (1 - pool.cvrMean) * strength,
		CVRConfidence:   confidence,
		ValueShape:      pool.valueShape,
		ValueRate:       pool.valueShape / math.Max(pool.valueMean, 0.01),
		ValueConfidence: confidence,
		Metadata: domain.PriorMetadata{
			SampleSize:  0,
			Reliability: confidence,
		},
	}
}

// shrunkPrior shrinks an arm's own rates toward the hyperprior with
// weight n/(n+k), where n is the arm's clicks and k the pooling strength.
func shrunkPrior(armID string, hist armHistory, pool *categoryPool) domain.Prior {
	n := hist.clicks
	k := pool.cvrStrength
	w := n / (n + k)

	ownCVR := hist.conversions / n
	shrunkCVR := w*ownCVR + (1-w)*pool.cvrMean
	strength := n + k

	ownValue := pool.valueMean
	if hist.conversions > 0 {
		ownValue = hist.revenue / hist.conversions
	}
	wv := hist.conversions / (hist.conversions + 10)
	shrunkValue := wv*ownValue + (1-wv)*pool.valueMean

	valueShape := pool.valueShape + hist.conversions
	confidence := math.Min(0.95, w)

	return domain.Prior{
		ArmID:           armID,
		Alpha:           shrunkCVR * strength,
		Beta:            (1 - shrunkCVR) * strength,
		CVRConfidence:   confidence,
		ValueShape:      valueShape,
		ValueRate:       valueShape / math.Max(shrunkValue, 0.01),
		ValueConfidence: math.Min(0.95, wv),
		Metadata: domain.PriorMetadata{
			SampleSize:  n,
			Reliability: confidence,
		},
	}
}

// clampPositive enforces the strict positivity invariant on all shape
// parameters.
func clampPositive(p domain.Prior) domain.Prior {
	p.Alpha = math.Max(p.Alpha, minShapeParam)
	p.Beta = math.Max(p.Beta, minShapeParam)
	p.ValueShape = math.Max(p.ValueShape, minShapeParam)
	p.ValueRate = math.Max(p.ValueRate, minShapeParam)
	return p
}

// safeRate divides num by denom with a fallback for empty denominators.
func safeRate(num, denom, fallback float64) float64 {
	if denom <= 0 {
		return fallback
	}
	return num / denom
}
