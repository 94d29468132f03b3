// Package main simulates an intraday pacing run over the fixture
// campaigns: spend accrues hour by hour and the controller's decisions
// are printed as they happen.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"ad-budget-lab/internal/allocation"
	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/pacing"
	"ad-budget-lab/internal/prior"
	"ad-budget-lab/internal/sampling"
	"ad-budget-lab/internal/storage/memory"
)

// fixtureSource frames each fixture campaign as a single arm with an
// informative prior, for the engine-backed signal provider.
type fixtureSource struct {
	arms     map[string]domain.Arm
	strategy prior.Strategy
}

func newFixtureSource() *fixtureSource {
	arms := make(map[string]domain.Arm)
	for _, arm := range domain.FixtureArms() {
		arms[arm.ArmID] = arm
	}
	return &fixtureSource{arms: arms, strategy: prior.NewInformative()}
}

func (s *fixtureSource) CampaignArm(ctx context.Context, campaignID string) (*domain.Arm, *domain.Prior, error) {
	arm, ok := s.arms[campaignID]
	if !ok {
		return nil, nil, fmt.Errorf("unknown campaign %s", campaignID)
	}
	priors, err := s.strategy.ComputePriors(ctx, []domain.Arm{arm}, nil)
	if err != nil {
		return nil, nil, err
	}
	return &arm, &priors[0], nil
}

func main() {
	hourStep := flag.Float64("hour-step", 1.0, "Simulated hours per tick")
	spendRate := flag.Float64("spend-rate", 1.0, "Spend accrual multiplier (>1 overspends, <1 underspends)")
	seed := flag.Int64("seed", 1, "Simulation seed")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	ctx := context.Background()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	rng := rand.New(rand.NewSource(*seed))

	source := newFixtureSource()
	engine := allocation.NewEngine(sampling.New(*seed))
	controller := pacing.NewController(pacing.Options{
		Store:   memory.NewPacingStateStore(),
		Signals: pacing.NewEngineSignalProvider(engine, source),
		Config:  domain.DefaultPacingConfig(),
		Logger:  logger,
	})

	// Onboard every fixture campaign with its current daily budget.
	campaigns := domain.FixtureArms()
	for _, c := range campaigns {
		if _, err := controller.InitializeCampaignPacing(ctx, c.ArmID, c.CurrentDailyBudget); err != nil {
			fmt.Fprintf(os.Stderr, "Onboarding error for %s: %v\n", c.ArmID, err)
			os.Exit(1)
		}
	}

	fmt.Printf("=== Intraday Pacing Simulation ===\n")
	fmt.Printf("%d campaigns, %.1fh ticks, spend rate %.2fx\n\n", len(campaigns), *hourStep, *spendRate)

	for hour := *hourStep; hour <= 24.0; hour += *hourStep {
		for _, c := range campaigns {
			state, err := controller.GetPacingState(ctx, c.ArmID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "State error for %s: %v\n", c.ArmID, err)
				continue
			}

			// Accrue spend for this tick, modulated by the current bid
			// multiplier and some noise.
			accrual := c.CurrentDailyBudget / 24.0 * *hourStep * *spendRate *
				state.CurrentBidMultiplier * (0.8 + 0.4*rng.Float64())
			if err := controller.ApplySpend(ctx, c.ArmID, state.CurrentSpend+accrual); err != nil {
				fmt.Fprintf(os.Stderr, "Spend error for %s: %v\n", c.ArmID, err)
				continue
			}

			decision, err := controller.RunCycle(ctx, c.ArmID, hour)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Cycle error for %s: %v\n", c.ArmID, err)
				continue
			}

			if *verbose || decision.Action != domain.ActionMaintain {
				fmt.Printf("h%05.2f %-24s %-13s mult %.2f  %s\n",
					hour, decision.CampaignID, decision.Action, decision.BidMultiplier, decision.Reasoning)
			}
		}
	}

	fmt.Printf("\n=== Final State ===\n")
	for _, c := range campaigns {
		state, err := controller.GetPacingState(ctx, c.ArmID)
		if err != nil {
			continue
		}
		status := "active"
		if state.Paused {
			status = "paused"
		}
		fmt.Printf("%-24s spent $%7.2f of $%7.2f (pace %.2f, mult %.2f, %s)\n",
			c.ArmID, state.CurrentSpend, state.DailyBudget, state.PaceTarget, state.CurrentBidMultiplier, status)
	}
}
