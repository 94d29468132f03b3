// Package pacing implements the closed-loop intraday pacing controller.
// One durable state record per campaign; decisions tick on a configurable
// cadence and every read-modify-write is serialized per campaign.
package pacing

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/idhash"
	"ad-budget-lab/internal/observability"
	"ad-budget-lab/internal/storage"
)

const hoursPerDay = 24.0

// Controller drives pacing decisions for onboarded campaigns.
type Controller struct {
	store   storage.PacingStateStore
	signals SignalProvider
	cfg     domain.PacingConfig
	now     func() time.Time
	logger  *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Options for creating a Controller.
type Options struct {
	Store   storage.PacingStateStore
	Signals SignalProvider

	// Config holds the pacing thresholds. Zero value means defaults.
	Config domain.PacingConfig

	// Now overrides the clock, used in tests. Defaults to time.Now.
	Now func() time.Time

	Logger *log.Logger
}

// NewController creates a Controller.
func NewController(opts Options) *Controller {
	cfg := opts.Config
	if cfg.EmergencyStopThreshold == 0 {
		cfg = domain.DefaultPacingConfig()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		store:   opts.Store,
		signals: opts.Signals,
		cfg:     cfg,
		now:     now,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// campaignLock returns the mutex serializing cycles for one campaign.
func (c *Controller) campaignLock(campaignID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[campaignID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[campaignID] = lock
	}
	return lock
}

// InitializeCampaignPacing creates the durable controller state for a newly
// onboarded campaign. Returns storage.ErrDuplicateKey if the campaign is
// already onboarded.
func (c *Controller) InitializeCampaignPacing(ctx context.Context, campaignID string, dailyBudget float64) (*domain.PacingControllerState, error) {
	if campaignID == "" {
		return nil, fmt.Errorf("%w: empty campaign id", domain.ErrInvalidInput)
	}
	if dailyBudget <= 0 || math.IsNaN(dailyBudget) || math.IsInf(dailyBudget, 0) {
		return nil, fmt.Errorf("%w: daily budget must be positive, got %v", domain.ErrInvalidInput, dailyBudget)
	}

	now := c.now().UTC()
	state := &domain.PacingControllerState{
		ControllerID:                    idhash.ComputeControllerID(campaignID, dailyBudget, now),
		CampaignID:                      campaignID,
		DailyBudget:                     dailyBudget,
		CurrentSpend:                    0,
		PaceTarget:                      1.0,
		LastSampleAt:                    now,
		CurrentBidMultiplier:            1.0,
		SpendRateLimit:                  dailyBudget / hoursPerDay,
		ExplorationBudgetFraction:       c.cfg.ExplorationBudgetFraction,
		ExploitationConfidenceThreshold: c.cfg.ExploitationConfidenceThreshold,
		MaxBidAdjustment:                c.cfg.MaxBidAdjustment,
		DecisionFrequencyMinutes:        c.cfg.DecisionFrequencyMinutes,
		CreatedAt:                       now,
		UpdatedAt:                       now,
	}

	if err := c.store.Insert(ctx, state); err != nil {
		return nil, fmt.Errorf("initialize pacing for %s: %w", campaignID, err)
	}
	c.logger.Printf("[pacing] initialized campaign %s, daily budget $%.2f", campaignID, dailyBudget)
	return state, nil
}

// GetPacingState retrieves a campaign's current controller state.
func (c *Controller) GetPacingState(ctx context.Context, campaignID string) (*domain.PacingControllerState, error) {
	return c.store.GetByCampaignID(ctx, campaignID)
}

// ApplySpend folds a live spend observation into a campaign's state.
// Spend is a cumulative daily total, so only increases are applied.
func (c *Controller) ApplySpend(ctx context.Context, campaignID string, spend float64) error {
	if spend < 0 || math.IsNaN(spend) || math.IsInf(spend, 0) {
		return fmt.Errorf("%w: spend must be non-negative, got %v", domain.ErrInvalidInput, spend)
	}

	lock := c.campaignLock(campaignID)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.GetByCampaignID(ctx, campaignID)
	if err != nil {
		return err
	}
	if spend <= state.CurrentSpend {
		return nil
	}
	state.CurrentSpend = spend
	state.UpdatedAt = c.now().UTC()
	return c.store.Update(ctx, state)
}

// RunCycle executes one pacing decision for a campaign. hoursIntoDay is the
// elapsed fraction of the campaign's local day, in [0, 24].
//
// Cycles for the same campaign are serialized; cycles for different
// campaigns run independently.
func (c *Controller) RunCycle(ctx context.Context, campaignID string, hoursIntoDay float64) (*domain.PacingDecision, error) {
	if hoursIntoDay < 0 || hoursIntoDay > hoursPerDay || math.IsNaN(hoursIntoDay) {
		return nil, fmt.Errorf("%w: hoursIntoDay must be in [0, 24], got %v", domain.ErrInvalidInput, hoursIntoDay)
	}

	lock := c.campaignLock(campaignID)
	lock.Lock()
	defer lock.Unlock()

	state, err := c.store.GetByCampaignID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()

	// Emergency stop is a hard ceiling. It bypasses pace, signal, and
	// exploration logic entirely.
	if state.CurrentSpend >= state.DailyBudget*c.cfg.EmergencyStopThreshold {
		decision := &domain.PacingDecision{
			CampaignID:    campaignID,
			Action:        domain.ActionPause,
			BidMultiplier: 0.0,
			Reasoning: fmt.Sprintf("emergency stop: spend $%.2f >= %.0f%% of daily budget $%.2f",
				state.CurrentSpend, c.cfg.EmergencyStopThreshold*100, state.DailyBudget),
			Confidence: 1.0,
			DecidedAt:  now,
		}
		state.Paused = true
		state.CurrentBidMultiplier = 0.0
		state.LastSampleAt = now
		state.UpdatedAt = now
		if err := c.store.Update(ctx, state); err != nil {
			return nil, fmt.Errorf("persist emergency stop for %s: %w", campaignID, err)
		}
		c.logger.Printf("[pacing] campaign %s: EMERGENCY STOP (spend $%.2f, budget $%.2f)",
			campaignID, state.CurrentSpend, state.DailyBudget)
		observability.RecordEmergencyStop()
		return decision, nil
	}

	expectedSpend := state.DailyBudget * hoursIntoDay / hoursPerDay
	pace := state.CurrentSpend / math.Max(expectedSpend, 0.01)

	sig, err := c.signals.FetchSignal(ctx, campaignID, state.DailyBudget)
	signalOK := err == nil
	if err != nil {
		// A failed signal degrades the cycle, it never aborts it.
		c.logger.Printf("[pacing] campaign %s: signal fetch failed, degrading to zero signal: %v", campaignID, err)
		observability.RecordSignalFailure()
		sig = &Signal{}
	}

	remaining := state.DailyBudget - state.CurrentSpend
	exploration := remaining > state.DailyBudget*state.ExplorationBudgetFraction &&
		state.ConfidenceInEstimate < state.ExploitationConfidenceThreshold

	previousMultiplier := state.CurrentBidMultiplier
	var action domain.PacingAction
	var multiplier float64
	var reasoning string

	switch {
	case state.Paused:
		// A paused campaign back under the emergency threshold restarts
		// at a neutral multiplier.
		action = domain.ActionResume
		multiplier = 1.0
		reasoning = fmt.Sprintf("resuming: spend $%.2f back under emergency threshold", state.CurrentSpend)
		state.Paused = false

	case pace > c.cfg.PauseThreshold:
		action = domain.ActionDecreaseBids
		multiplier = previousMultiplier / math.Min(pace/c.cfg.PauseThreshold, 2.0)
		reasoning = fmt.Sprintf("overpacing: %.2fx expected spend, slowing down", pace)

	case pace < c.cfg.ResumeThreshold:
		if sig.ExpectedValuePerClick > 0 && exploration {
			action = domain.ActionIncreaseBids
			scale := math.Max(c.cfg.ResumeThreshold/math.Max(pace, 0.01), 0.5)
			multiplier = math.Min(previousMultiplier*scale, c.cfg.MaxBidMultiplier)
			reasoning = fmt.Sprintf("underpacing: %.2fx expected spend, exploring with value $%.2f/click",
				pace, sig.ExpectedValuePerClick)
		} else {
			action = domain.ActionMaintain
			multiplier = previousMultiplier
			reasoning = fmt.Sprintf("underpacing at %.2fx but no positive signal to justify higher bids", pace)
		}

	default:
		if sig.Confidence > state.ExploitationConfidenceThreshold &&
			sig.ExpectedValuePerClick > 1.1*state.ExpectedValuePerClick {
			action = domain.ActionIncreaseBids
			multiplier = previousMultiplier * 1.05
			reasoning = fmt.Sprintf("on pace with improving signal ($%.2f/click at %.0f%% confidence), nudging bids up",
				sig.ExpectedValuePerClick, sig.Confidence*100)
		} else {
			action = domain.ActionMaintain
			multiplier = previousMultiplier
			reasoning = fmt.Sprintf("on pace at %.2fx expected spend", pace)
		}
	}

	// A single cycle may move the multiplier by at most MaxBidAdjustment.
	if state.MaxBidAdjustment > 0 && action != domain.ActionResume {
		low := previousMultiplier - state.MaxBidAdjustment
		high := previousMultiplier + state.MaxBidAdjustment
		multiplier = math.Min(math.Max(multiplier, low), high)
	}
	multiplier = math.Min(math.Max(multiplier, c.cfg.MinBidMultiplier), c.cfg.MaxBidMultiplier)

	state.PaceTarget = pace
	state.CurrentBidMultiplier = multiplier
	state.LastSampleAt = now
	if signalOK {
		state.LastSampledArm = sig.SampledArmID
		state.ExpectedValuePerClick = sig.ExpectedValuePerClick
		state.ConfidenceInEstimate = sig.Confidence
	}
	if hoursIntoDay < hoursPerDay {
		state.SpendRateLimit = math.Max(remaining, 0) / (hoursPerDay - hoursIntoDay)
	}
	state.UpdatedAt = now

	if err := c.store.Update(ctx, state); err != nil {
		return nil, fmt.Errorf("persist pacing state for %s: %w", campaignID, err)
	}

	decision := &domain.PacingDecision{
		CampaignID:      campaignID,
		Action:          action,
		BidMultiplier:   multiplier,
		Reasoning:       reasoning,
		Confidence:      sig.Confidence,
		ExpectedImpact:  expectedImpact(sig, previousMultiplier, multiplier),
		SampledArmID:    sig.SampledArmID,
		ExplorationMode: exploration,
		DecidedAt:       now,
	}

	observability.RecordPacingDecision(string(action))
	observability.UpdateCampaignPacing(campaignID, pace, multiplier)
	return decision, nil
}

// expectedImpact scales the signal's deltas by the relative multiplier
// change this decision applies.
func expectedImpact(sig *Signal, previous, current float64) domain.ExpectedImpact {
	if previous <= 0 {
		return domain.ExpectedImpact{}
	}
	factor := current/previous - 1
	return domain.ExpectedImpact{
		SpendDelta:      sig.SpendDelta * factor,
		ConversionDelta: sig.ConversionDelta * factor,
		RevenueDelta:    sig.RevenueDelta * factor,
	}
}
