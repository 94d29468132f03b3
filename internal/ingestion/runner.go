package ingestion

import (
	"context"
	"errors"
	"log"

	"ad-budget-lab/internal/observability"
	"ad-budget-lab/internal/pacing"
	"ad-budget-lab/internal/storage"
)

// UpdateSource delivers spend updates. Satisfied by SpendFeed.
type UpdateSource interface {
	Updates() <-chan SpendUpdate
}

// Runner folds spend updates from a feed into the pacing controller state.
type Runner struct {
	source     UpdateSource
	controller *pacing.Controller
	logger     *log.Logger
}

// RunnerOptions for creating a Runner.
type RunnerOptions struct {
	Source     UpdateSource
	Controller *pacing.Controller
	Logger     *log.Logger
}

// NewRunner creates a new ingestion Runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		source:     opts.Source,
		controller: opts.Controller,
		logger:     logger,
	}
}

// Run consumes spend updates until the context is cancelled or the source
// channel closes. Updates for unknown campaigns are logged and skipped.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Println("[ingestion] runner started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Println("[ingestion] runner stopping...")
			return ctx.Err()

		case update, ok := <-r.source.Updates():
			if !ok {
				r.logger.Println("[ingestion] spend feed closed")
				return nil
			}
			err := r.controller.ApplySpend(ctx, update.CampaignID, update.Spend)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					r.logger.Printf("[ingestion] spend update for unknown campaign %s, skipping", update.CampaignID)
					continue
				}
				r.logger.Printf("[ingestion] failed to apply spend for %s: %v", update.CampaignID, err)
				observability.RecordSpendUpdate(err)
				continue
			}
			observability.RecordSpendUpdate(nil)
		}
	}
}
