// Kestrel - Accounts-payable audit scoring pipeline.
// Copyright (c) 2026 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/screen"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if root := os.Getenv("KESTREL_OPTIMIZER_ROOT"); root != "" {
		cfg.Pipeline.OptimizerRoot = root
	}
	if mode := os.Getenv("KESTREL_APPROVAL_MODE"); mode != "" {
		parsed, err := parseApprovalMode(mode)
		if err != nil {
			slog.Error("invalid KESTREL_APPROVAL_MODE", "value", mode, "error", err)
			os.Exit(1)
		}
		cfg.Pipeline.ApprovalMode = parsed
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"approval_mode", cfg.Pipeline.ApprovalMode.String(),
		"optimizer_root", cfg.Pipeline.OptimizerRoot,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Screen Engine
	screens, err := screen.NewEngine()
	if err != nil {
		slog.Error("failed to initialize screen engine", "error", err)
		os.Exit(1)
	}

	// Load screening rules from database (no hardcoded defaults - configure via API)
	if err := loadScreensFromDatabase(ctx, repo, screens); err != nil {
		slog.Error("failed to load screen rules", "error", err)
		os.Exit(1)
	}
	slog.Info("screen engine initialized", "screens_count", screens.Count())

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, screens, cfg.Pipeline)

		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, t := range strings.Split(envTenants, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tenantIDs = append(tenantIDs, t)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, screens, cfg.Pipeline, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func parseApprovalMode(s string) (domain.ApprovalMode, error) {
	switch strings.ToUpper(s) {
	case "USER_MATRIX", "1":
		return domain.ModeUser, nil
	case "APPROVAL_MATRIX", "2":
		return domain.ModeApproval, nil
	case "MIXED", "3":
		return domain.ModeMixed, nil
	default:
		return 0, fmt.Errorf("unknown approval mode %q", s)
	}
}

// loadScreensFromDatabase loads screening rules into the engine.
// All screens are configured via POST /screens API - no hardcoded defaults.
func loadScreensFromDatabase(ctx context.Context, repo domain.Repository, engine *screen.Engine) error {
	stored, err := repo.ListScreenRules(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list screen rules from database", "error", err)
		return nil // Start with empty screens - they can be added via API
	}

	if len(stored) == 0 {
		slog.Info("no screen rules in database - configure via POST /screens API")
		return nil
	}

	rules := make([]domain.ScreenRule, 0, len(stored))
	for _, rule := range stored {
		rules = append(rules, *rule)
	}

	slog.Info("loading screen rules from database", "count", len(rules))
	return engine.LoadScreens(rules)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║      AP Audit Scoring Pipeline            ║")
	fmt.Println("  ║      Every invoice, weighed.              ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /batches/evaluate  - Score a batch of AP lines")
	fmt.Println("    GET  /batches           - List recent batch results")
	fmt.Println("    GET  /batches/{id}      - Get batch result by ID")
	fmt.Println("    GET  /approval-matrix   - List approval-matrix brackets")
	fmt.Println("    POST /approval-matrix   - Replace the approval matrix")
	fmt.Println("    GET  /user-approvals    - List user approval limits")
	fmt.Println("    POST /user-approvals    - Replace user approval limits")
	fmt.Println("    GET  /rule-weights      - Get blending weights")
	fmt.Println("    PUT  /rule-weights      - Replace blending weights")
	fmt.Println("    GET  /screens           - List screening rules")
	fmt.Println("    POST /screens           - Create a screening rule")
	fmt.Println("    POST /screens/reload    - Hot-reload screens from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
