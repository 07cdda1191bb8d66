// Larder - Decision support for restaurant operators.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/larder/internal/api"
	"github.com/opensource-finance/larder/internal/automation"
	"github.com/opensource-finance/larder/internal/bus"
	"github.com/opensource-finance/larder/internal/cache"
	"github.com/opensource-finance/larder/internal/campaign"
	"github.com/opensource-finance/larder/internal/config"
	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/fulfillment"
	"github.com/opensource-finance/larder/internal/history"
	"github.com/opensource-finance/larder/internal/metrics"
	"github.com/opensource-finance/larder/internal/pipeline"
	"github.com/opensource-finance/larder/internal/repository"
	"github.com/opensource-finance/larder/internal/worker"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	shutdownTimeout = 10 * time.Second
	workerCount     = 5
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $LARDER_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("larder stopped", "error", err)
		os.Exit(1)
	}
}

// run wires every component, serves until ctx is cancelled and then shuts
// down in reverse order of construction.
func run(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting larder",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"event_bus", cfg.EventBus.Type,
		"auto_execute", cfg.Automation.AutoExecute,
	)

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				slog.Warn("close failed", "error", err)
			}
		}
	}()

	m := metrics.New()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	closers = append(closers, repo)

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	closers = append(closers, store)

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	closers = append(closers, eventBus)

	p, err := pipeline.New(config.MergeDomains(pipeline.BuiltinDomains(), cfg.Domains))
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	engine, err := newEngine(cfg, repo, store, eventBus, m)
	if err != nil {
		return fmt.Errorf("automation: %w", err)
	}

	predictor, err := campaign.NewPredictor(cfg.Campaign)
	if err != nil {
		return fmt.Errorf("campaign predictor: %w", err)
	}

	historySvc := history.NewService(repo, eventBus, m)

	if cfg.Tier == domain.TierPro && envBool("LARDER_FULFILLMENT_STUB") {
		subs := serveFulfillmentStub(ctx, eventBus)
		defer unsubscribeAll(subs)
	}

	if cfg.Tier == domain.TierPro || envBool("LARDER_ASYNC_WORKER") {
		w := worker.NewWorker(eventBus, repo, historySvc, p, engine, m)
		tenants := tenantList()
		if err := w.Start(worker.Config{
			TenantIDs:   tenants,
			WorkerCount: workerCount,
			AutoExecute: cfg.Automation.AutoExecute,
		}); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		// The worker stops before the bus closes.
		defer func() {
			if err := w.Stop(); err != nil {
				slog.Warn("worker stop failed", "error", err)
			}
		}()
		slog.Info("async worker started", "tenant_count", len(tenants))
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:          repo,
		Cache:         store,
		Bus:           eventBus,
		Pipeline:      p,
		Automation:    engine,
		History:       historySvc,
		Campaigns:     predictor,
		Metrics:       m,
		Version:       Version,
		EvaluationTTL: cfg.Cache.EvaluationTTL,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("larder is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"domains", len(p.Domains()),
		"rules", len(cfg.Automation.Rules),
	)
	printBanner(os.Stdout, cfg)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("larder shutdown complete")
	return nil
}

// newEngine picks the locker and fulfiller for the tier. Pro deployments
// serialize entities across processes and reach fulfillment over the bus.
func newEngine(cfg *domain.Config, log domain.ActionLog, store domain.Cache, eventBus domain.EventBus, m *metrics.Metrics) (*automation.Engine, error) {
	opts := automation.Options{
		Rules:       cfg.Automation.Rules,
		Log:         log,
		Bus:         eventBus,
		Metrics:     m,
		Timeout:     cfg.Automation.FulfillmentTimeout,
		Locker:      automation.NewKeyedMutex(),
		Fulfillment: fulfillment.LogOnly{},
	}
	if cfg.Tier == domain.TierPro {
		opts.Locker = automation.NewCacheLocker(store, cfg.Automation.LockTTL)
		opts.Fulfillment = fulfillment.NewBusClient(eventBus)
	}
	return automation.New(opts)
}

// serveFulfillmentStub answers bus fulfillment requests with the logging
// fulfiller, for deployments without a supplier integration.
func serveFulfillmentStub(ctx context.Context, eventBus domain.EventBus) []domain.Subscription {
	tenants := tenantList()
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}
	var subs []domain.Subscription
	for _, tenantID := range tenants {
		s, err := fulfillment.Serve(ctx, eventBus, tenantID, fulfillment.LogOnly{})
		if err != nil {
			slog.Error("failed to serve fulfillment stub", "tenant_id", tenantID, "error", err)
			continue
		}
		subs = append(subs, s...)
	}
	return subs
}

func unsubscribeAll(subs []domain.Subscription) {
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			slog.Warn("unsubscribe failed", "topic", s.Topic(), "error", err)
		}
	}
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// tenantList reads the comma-separated LARDER_TENANTS. Empty means every
// tenant.
func tenantList() []string {
	var ids []string
	for _, id := range strings.Split(os.Getenv("LARDER_TENANTS"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func envBool(name string) bool {
	return os.Getenv(name) == "true"
}

var routes = [][2]string{
	{"POST /evaluate", "Score an entity in a domain"},
	{"GET  /evaluations/{id}", "Get evaluation by ID"},
	{"POST /events", "Ingest history events"},
	{"POST /automate", "Execute a recommendation"},
	{"GET  /actions", "Action history"},
	{"GET  /automation/rules", "List approval rules"},
	{"PUT  /automation/rules", "Hot-reload approval rules"},
	{"POST /forecast", "Demand forecast and reorder plan"},
	{"POST /campaigns/predict", "Campaign success prediction"},
	{"GET  /domains", "Configured domains"},
	{"GET  /health", "Health check"},
	{"GET  /metrics", "Prometheus metrics"},
}

func printBanner(w io.Writer, cfg *domain.Config) {
	fmt.Fprintf(w, `
  +-------------------------------------------+
  |                 LARDER                    |
  |     Restaurant Decision Support Engine    |
  |   Know who is leaving and what runs out.  |
  +-------------------------------------------+

  Version:  %s
  Tier:     %s
  Server:   http://%s:%d

  Endpoints:
`, Version, cfg.Tier, cfg.Server.Host, cfg.Server.Port)
	for _, r := range routes {
		fmt.Fprintf(w, "    %-26s %s\n", r[0], r[1])
	}
	fmt.Fprintln(w)
}
