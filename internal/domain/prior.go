package domain

import "time"

// Prior source constants
const (
	PriorSourceHierarchical = "hierarchical"
	PriorSourceInformative  = "informative"
)

// PriorMetadata describes how a prior was produced and how much to trust it.
type PriorMetadata struct {
	Source      string // "hierarchical" | "informative"
	SampleSize  float64
	Reliability float64 // [0,1]
	LastUpdated time.Time
}

// Prior holds per-arm Bayesian prior parameters produced by a prior strategy.
// Conversion rate is modeled as Beta(Alpha, Beta); conversion value as
// Gamma(ValueShape, ValueRate). All four parameters are strictly positive.
type Prior struct {
	ArmID string

	// Conversion-rate prior
	Alpha         float64
	Beta          float64
	CVRConfidence float64 // [0,1]

	// Conversion-value prior
	ValueShape      float64
	ValueRate       float64
	ValueConfidence float64 // [0,1]

	Metadata PriorMetadata
}

// MeanCVR returns the prior's expected conversion rate.
func (p Prior) MeanCVR() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

// MeanValue returns the prior's expected conversion value.
func (p Prior) MeanValue() float64 {
	return p.ValueShape / p.ValueRate
}

// HistoricalRecord is one per-arm per-day performance row used for
// prior computation. Corresponds to the arm_performance table in ClickHouse.
type HistoricalRecord struct {
	ArmID       string
	Category    ArmCategory
	Date        time.Time
	Spend       float64
	Clicks      float64
	Conversions float64
	Revenue     float64
	Impressions float64
}

// PerformanceObservation is a new batch of observed performance for an arm,
// consumed by PriorStrategy.UpdatePriors as a Bayesian increment.
type PerformanceObservation struct {
	ArmID       string
	Clicks      float64
	Conversions float64
	Revenue     float64
	ObservedAt  time.Time
}
