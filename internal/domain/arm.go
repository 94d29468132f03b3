package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned when input validation fails in the numerical core.
var ErrInvalidInput = errors.New("invalid input")

// ArmCategory classifies what kind of spend target an arm is.
type ArmCategory string

// Arm category constants
const (
	CategoryCampaign ArmCategory = "campaign"
	CategoryAdGroup  ArmCategory = "adgroup"
	CategoryCreative ArmCategory = "creative"
)

// ArmMetrics holds a trailing-window performance snapshot for an arm.
// Aggregated upstream; the allocation core never fetches raw events.
type ArmMetrics struct {
	Spend       float64
	Clicks      float64
	Conversions float64
	Revenue     float64
	Impressions float64
}

// Arm represents a spend target competing for budget: a campaign,
// ad group, or creative. Arms are supplied fresh each allocation cycle;
// the engine does not own their lifecycle.
type Arm struct {
	ArmID    string
	Name     string
	Category ArmCategory
	Metrics  ArmMetrics

	// CurrentDailyBudget is the budget the arm runs on today.
	// Zero means the arm has no current budget and is fully adjustable.
	CurrentDailyBudget float64

	// MinBudget and MaxBudget are optional per-arm bounds (0 = unset).
	MinBudget float64
	MaxBudget float64
}

// Validate checks an arm's metrics for values the numerical core cannot
// safely consume. Returns an error wrapping ErrInvalidInput.
func (a *Arm) Validate() error {
	if a.ArmID == "" {
		return fmt.Errorf("%w: arm missing ArmID", ErrInvalidInput)
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"spend", a.Metrics.Spend},
		{"clicks", a.Metrics.Clicks},
		{"conversions", a.Metrics.Conversions},
		{"revenue", a.Metrics.Revenue},
		{"impressions", a.Metrics.Impressions},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: arm %s has non-finite %s", ErrInvalidInput, a.ArmID, f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("%w: arm %s has negative %s", ErrInvalidInput, a.ArmID, f.name)
		}
	}
	if a.Metrics.Conversions > a.Metrics.Clicks {
		return fmt.Errorf("%w: arm %s has conversions (%.0f) exceeding clicks (%.0f)",
			ErrInvalidInput, a.ArmID, a.Metrics.Conversions, a.Metrics.Clicks)
	}
	return nil
}

// AvgCPC returns the arm's average cost per click over the trailing window.
// Guarded against zero clicks.
func (m ArmMetrics) AvgCPC() float64 {
	return m.Spend / math.Max(m.Clicks, 1)
}

// AvgConversionValue returns observed revenue per conversion.
// Guarded against zero conversions.
func (m ArmMetrics) AvgConversionValue() float64 {
	return m.Revenue / math.Max(m.Conversions, 1)
}
