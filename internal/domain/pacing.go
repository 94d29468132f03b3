package domain

import "time"

// PacingAction is the action a pacing decision instructs the bid
// executor to take.
type PacingAction string

// Pacing action constants
const (
	ActionIncreaseBids PacingAction = "increase_bids"
	ActionDecreaseBids PacingAction = "decrease_bids"
	ActionMaintain     PacingAction = "maintain"
	ActionPause        PacingAction = "pause"
	ActionResume       PacingAction = "resume"
)

// Default pacing thresholds
const (
	DefaultEmergencyStopThreshold = 1.2
	DefaultPauseThreshold         = 1.1
	DefaultResumeThreshold        = 0.95
	DefaultMinBidMultiplier       = 0.1
	DefaultMaxBidMultiplier       = 3.0
)

// PacingConfig holds the tunable parameters for a campaign's controller.
type PacingConfig struct {
	// EmergencyStopThreshold is the hard spend ceiling as a fraction of
	// daily budget. At or above it the controller pauses unconditionally.
	EmergencyStopThreshold float64

	// PauseThreshold and ResumeThreshold bracket the on-pace band.
	PauseThreshold  float64
	ResumeThreshold float64

	// MinBidMultiplier and MaxBidMultiplier clamp every decision except
	// an emergency pause, which forces the multiplier to 0.
	MinBidMultiplier float64
	MaxBidMultiplier float64

	// ExplorationBudgetFraction is the share of daily budget that must
	// remain for exploration mode to stay active.
	ExplorationBudgetFraction float64

	// ExploitationConfidenceThreshold switches the controller to pure
	// exploitation once estimate confidence reaches it.
	ExploitationConfidenceThreshold float64

	// MaxBidAdjustment bounds a single cycle's multiplier change.
	MaxBidAdjustment float64

	// DecisionFrequencyMinutes is the controller tick cadence.
	DecisionFrequencyMinutes int
}

// DefaultPacingConfig returns the standard controller tuning.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		EmergencyStopThreshold:          DefaultEmergencyStopThreshold,
		PauseThreshold:                  DefaultPauseThreshold,
		ResumeThreshold:                 DefaultResumeThreshold,
		MinBidMultiplier:                DefaultMinBidMultiplier,
		MaxBidMultiplier:                DefaultMaxBidMultiplier,
		ExplorationBudgetFraction:       0.2,
		ExploitationConfidenceThreshold: 0.8,
		MaxBidAdjustment:                0.5,
		DecisionFrequencyMinutes:        15,
	}
}

// PacingControllerState is the one durable record per campaign, created
// on onboarding and rewritten every decision cycle. Corresponds to the
// pacing_controller_state table in PostgreSQL. Retained 30 days.
type PacingControllerState struct {
	ControllerID string
	CampaignID   string

	DailyBudget  float64
	CurrentSpend float64

	// PaceTarget is the last computed ratio of actual to expected
	// spend-to-date. 1.0 = on track.
	PaceTarget float64

	LastSampleAt   time.Time
	LastSampledArm string

	ExpectedValuePerClick float64
	ConfidenceInEstimate  float64

	CurrentBidMultiplier float64
	SpendRateLimit       float64

	ExplorationBudgetFraction       float64
	ExploitationConfidenceThreshold float64
	MaxBidAdjustment                float64
	DecisionFrequencyMinutes        int

	Paused bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpectedImpact estimates a decision's effect on the campaign.
type ExpectedImpact struct {
	SpendDelta      float64
	ConversionDelta float64
	RevenueDelta    float64
}

// PacingDecision is the ephemeral output of one pacing cycle.
type PacingDecision struct {
	CampaignID      string
	Action          PacingAction
	BidMultiplier   float64
	Reasoning       string
	Confidence      float64
	ExpectedImpact  ExpectedImpact
	SampledArmID    string
	ExplorationMode bool
	DecidedAt       time.Time
}
