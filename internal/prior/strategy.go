// Package prior converts historical performance into Bayesian prior
// parameters per arm. Two interchangeable strategies implement the same
// contract: hierarchical pooling and fixed domain-informed priors.
package prior

import (
	"context"
	"fmt"
	"math"

	"ad-budget-lab/internal/domain"
)

// StrategyMetadata describes a prior strategy's characteristics.
type StrategyMetadata struct {
	Name             string
	Approach         string
	DataRequirements string
	Accuracy         string
	Adaptability     string
}

// Strategy produces and maintains Bayesian priors for arms.
type Strategy interface {
	// ComputePriors derives a prior for every arm from historical
	// per-day performance rows. Arms without history still receive a
	// strictly positive prior.
	ComputePriors(ctx context.Context, arms []domain.Arm, historical []domain.HistoricalRecord) ([]domain.Prior, error)

	// UpdatePriors folds new performance observations into existing
	// priors as a Bayesian increment. Priors without a matching
	// observation are returned unchanged. SampleSize and Reliability
	// never decrease.
	UpdatePriors(ctx context.Context, priors []domain.Prior, observations []domain.PerformanceObservation) ([]domain.Prior, error)

	// Metadata returns the strategy's descriptive metadata.
	Metadata() StrategyMetadata
}

// minShapeParam floors every Beta/Gamma parameter so posteriors stay
// well defined even for pathological pooled statistics.
const minShapeParam = 0.01

// validateObservations rejects observations the increment math cannot
// safely consume.
func validateObservations(observations []domain.PerformanceObservation) error {
	for _, obs := range observations {
		if obs.ArmID == "" {
			return fmt.Errorf("%w: observation missing ArmID", domain.ErrInvalidInput)
		}
		for _, v := range []float64{obs.Clicks, obs.Conversions, obs.Revenue} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("%w: observation for arm %s has invalid metric %v",
					domain.ErrInvalidInput, obs.ArmID, v)
			}
		}
		if obs.Conversions > obs.Clicks {
			return fmt.Errorf("%w: observation for arm %s has conversions exceeding clicks",
				domain.ErrInvalidInput, obs.ArmID)
		}
	}
	return nil
}

// applyIncrement performs the shared Bayesian increment for one prior,
// weighted by the strategy's trust factor.
func applyIncrement(p domain.Prior, obs domain.PerformanceObservation, trust float64) domain.Prior {
	p.Alpha += trust * obs.Conversions
	p.Beta += trust * math.Max(obs.Clicks-obs.Conversions, 0)
	p.ValueShape += trust * obs.Conversions
	p.ValueRate += trust * obs.Revenue

	p.Metadata.SampleSize += obs.Clicks

	// Reliability grows toward 1 with observed volume, never shrinks.
	gain := obs.Clicks / (obs.Clicks + 100)
	p.Metadata.Reliability = math.Min(1, math.Max(p.Metadata.Reliability, p.Metadata.Reliability+(1-p.Metadata.Reliability)*gain*trust))
	p.CVRConfidence = math.Min(1, p.CVRConfidence+(1-p.CVRConfidence)*gain*trust)
	p.ValueConfidence = math.Min(1, p.ValueConfidence+(1-p.ValueConfidence)*gain*trust)

	if obs.ObservedAt.After(p.Metadata.LastUpdated) {
		p.Metadata.LastUpdated = obs.ObservedAt
	}
	return p
}

// groupObservations merges observations per arm, accumulating repeated
// rows for the same arm into one increment.
func groupObservations(observations []domain.PerformanceObservation) map[string]domain.PerformanceObservation {
	grouped := make(map[string]domain.PerformanceObservation, len(observations))
	for _, obs := range observations {
		acc, ok := grouped[obs.ArmID]
		if !ok {
			grouped[obs.ArmID] = obs
			continue
		}
		acc.Clicks += obs.Clicks
		acc.Conversions += obs.Conversions
		acc.Revenue += obs.Revenue
		if obs.ObservedAt.After(acc.ObservedAt) {
			acc.ObservedAt = obs.ObservedAt
		}
		grouped[obs.ArmID] = acc
	}
	return grouped
}
