// Package main provides the unified service that runs all components:
// - Ingestion (continuous): websocket spend feed into pacing state
// - Pacing (scheduled): per-campaign decision cycles
// - Allocation (scheduled): Thompson allocation over the arm portfolio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"ad-budget-lab/internal/allocation"
	"ad-budget-lab/internal/domain"
	"ad-budget-lab/internal/ingestion"
	"ad-budget-lab/internal/observability"
	"ad-budget-lab/internal/orchestrator"
	"ad-budget-lab/internal/pacing"
	"ad-budget-lab/internal/prior"
	"ad-budget-lab/internal/sampling"
	"ad-budget-lab/internal/storage"
	chstore "ad-budget-lab/internal/storage/clickhouse"
	"ad-budget-lab/internal/storage/memory"
	"ad-budget-lab/internal/storage/migrations"
	pgstore "ad-budget-lab/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	campaigns          []campaignSpec
	totalBudget        float64
	allocationInterval time.Duration
	pacingInterval     time.Duration
	spendFeedEndpoint  string

	orch       *orchestrator.Orchestrator
	controller *pacing.Controller
	logger     *log.Logger
}

// campaignSpec is one onboarded campaign: id and daily budget.
type campaignSpec struct {
	ID          string
	DailyBudget float64
}

func main() {
	loadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	spendFeed := flag.String("spend-feed", os.Getenv("SPEND_FEED_ENDPOINT"), "WebSocket spend feed endpoint (empty to disable)")
	campaignsFlag := flag.String("campaigns", "", "Comma-separated campaign specs id:dailyBudget (empty = fixture portfolio)")
	totalBudget := flag.Float64("total-budget", 200.0, "Total daily budget for allocation cycles")
	strategyName := flag.String("strategy", "hierarchical", "Prior strategy: hierarchical or informative")
	allocationInterval := flag.Duration("allocation-interval", 1*time.Hour, "Allocation cycle interval")
	pacingInterval := flag.Duration("pacing-interval", 15*time.Minute, "Pacing cycle interval")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	campaigns, err := resolveCampaigns(*campaignsFlag)
	if err != nil {
		logger.Fatalf("Invalid --campaigns: %v", err)
	}

	strategy, err := resolveStrategy(*strategyName)
	if err != nil {
		logger.Fatalf("Invalid --strategy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pacingStore, historicalStore, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	engine := allocation.NewEngine(sampling.New(time.Now().UnixNano()))
	controller := pacing.NewController(pacing.Options{
		Store:   pacingStore,
		Signals: pacing.NewEngineSignalProvider(engine, newPortfolioSource(strategy)),
		Config:  domain.DefaultPacingConfig(),
		Logger:  logger,
	})

	orch := orchestrator.New(orchestrator.Options{
		HistoricalStore: historicalStore,
		Strategy:        strategy,
		Engine:          engine,
		Controller:      controller,
		Verbose:         *verbose,
	})

	server := &Server{
		campaigns:          campaigns,
		totalBudget:        *totalBudget,
		allocationInterval: *allocationInterval,
		pacingInterval:     *pacingInterval,
		spendFeedEndpoint:  *spendFeed,
		orch:               orch,
		controller:         controller,
		logger:             logger,
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()

	if *metricsAddr != "" {
		go startMetricsServer(*metricsAddr, logger)
	}

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// Run onboards campaigns and drives the scheduled loops until the context
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for _, c := range s.campaigns {
		_, err := s.controller.InitializeCampaignPacing(ctx, c.ID, c.DailyBudget)
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("onboard campaign %s: %w", c.ID, err)
		}
	}
	s.logger.Printf("Onboarded %d campaigns", len(s.campaigns))

	var wg sync.WaitGroup

	if s.spendFeedEndpoint != "" {
		feed, err := ingestion.NewSpendFeed(ctx, s.spendFeedEndpoint, nil, s.logger)
		if err != nil {
			return fmt.Errorf("connect spend feed: %w", err)
		}
		runner := ingestion.NewRunner(ingestion.RunnerOptions{
			Source:     feed,
			Controller: s.controller,
			Logger:     s.logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer feed.Close()
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("Ingestion runner stopped: %v", err)
			}
		}()
		s.logger.Printf("Spend feed connected: %s", s.spendFeedEndpoint)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pacingLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.allocationLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// pacingLoop runs one decision cycle per campaign every pacing interval.
func (s *Server) pacingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pacingInterval)
	defer ticker.Stop()

	ids := make([]string, len(s.campaigns))
	for i, c := range s.campaigns {
		ids[i] = c.ID
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			hoursIntoDay := float64(now.Hour()) + float64(now.Minute())/60.0
			result := s.orch.RunPacingCycles(ctx, ids, hoursIntoDay)
			s.logger.Printf("Pacing tick: %d decisions, %d errors", len(result.Decisions), len(result.Errors))
			for _, e := range result.Errors {
				s.logger.Printf("  pacing error: %s", e)
			}
		}
	}
}

// allocationLoop re-runs the Thompson allocation over the arm portfolio
// every allocation interval.
func (s *Server) allocationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.allocationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			arms := domain.FixtureArms()
			result, err := s.orch.RunAllocationCycle(ctx, arms, s.totalBudget, domain.BudgetConstraints{
				MinDailyBudget: 5,
			})
			if err != nil {
				s.logger.Printf("Allocation cycle failed: %v", err)
				continue
			}
			s.logger.Printf("Allocation cycle: %d arms, %d errors", len(result.Results), len(result.Errors))
		}
	}
}

// portfolioSource frames campaigns as single arms for the signal provider.
type portfolioSource struct {
	arms     map[string]domain.Arm
	strategy prior.Strategy
}

func newPortfolioSource(strategy prior.Strategy) *portfolioSource {
	arms := make(map[string]domain.Arm)
	for _, arm := range domain.FixtureArms() {
		arms[arm.ArmID] = arm
	}
	return &portfolioSource{arms: arms, strategy: strategy}
}

func (p *portfolioSource) CampaignArm(ctx context.Context, campaignID string) (*domain.Arm, *domain.Prior, error) {
	arm, ok := p.arms[campaignID]
	if !ok {
		return nil, nil, fmt.Errorf("campaign %s not in portfolio", campaignID)
	}
	priors, err := p.strategy.ComputePriors(ctx, []domain.Arm{arm}, nil)
	if err != nil {
		return nil, nil, err
	}
	return &arm, &priors[0], nil
}

// resolveCampaigns parses "id:budget,id:budget"; empty means the fixture
// portfolio.
func resolveCampaigns(spec string) ([]campaignSpec, error) {
	if spec == "" {
		arms := domain.FixtureArms()
		campaigns := make([]campaignSpec, len(arms))
		for i, arm := range arms {
			campaigns[i] = campaignSpec{ID: arm.ArmID, DailyBudget: arm.CurrentDailyBudget}
		}
		return campaigns, nil
	}

	var campaigns []campaignSpec
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("campaign spec %q is not id:budget", part)
		}
		budget, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || budget <= 0 {
			return nil, fmt.Errorf("campaign %q has invalid budget %q", fields[0], fields[1])
		}
		campaigns = append(campaigns, campaignSpec{ID: fields[0], DailyBudget: budget})
	}
	if len(campaigns) == 0 {
		return nil, fmt.Errorf("no campaigns in spec %q", spec)
	}
	return campaigns, nil
}

func resolveStrategy(name string) (prior.Strategy, error) {
	switch name {
	case "hierarchical":
		return prior.NewHierarchical(), nil
	case "informative":
		return prior.NewInformative(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (want hierarchical or informative)", name)
	}
}

// createStores wires the pacing state and historical stores, either
// in-memory or backed by PostgreSQL and ClickHouse with migrations applied.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.PacingStateStore, storage.HistoricalPerformanceStore, func(), error) {
	if useMemory {
		return memory.NewPacingStateStore(), memory.NewHistoricalPerformanceStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("clickhouse setup: %w", err)
	}

	cleanup := func() {
		pool.Close()
		conn.Close()
	}
	return pgstore.NewPacingStateStore(pool), chstore.NewHistoricalPerformanceStore(conn), cleanup, nil
}

func startMetricsServer(addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("Metrics server stopped: %v", err)
	}
}

// loadEnvFile loads .env into the environment without overriding
// existing variables.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
