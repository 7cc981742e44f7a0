package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/chainmind/internal/api"
	"github.com/nidhogg/chainmind/internal/chain"
	"github.com/nidhogg/chainmind/internal/config"
	"github.com/nidhogg/chainmind/internal/decision"
	"github.com/nidhogg/chainmind/internal/executor"
	"github.com/nidhogg/chainmind/internal/memory"
	"github.com/nidhogg/chainmind/internal/orchestrator"
	"github.com/nidhogg/chainmind/internal/pricefeed"
	"github.com/nidhogg/chainmind/internal/risk"
	"github.com/nidhogg/chainmind/internal/scanner"
	"github.com/nidhogg/chainmind/internal/store"
	"github.com/nidhogg/chainmind/internal/wallet"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting ChainMind...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/chainmind.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// The encryption key is required up front: an agent that cannot read
	// its wallets must not start.
	encKey, err := wallet.KeyFromEnv()
	if err != nil {
		logger.Fatal("wallet encryption key unavailable", zap.Error(err))
	}

	// Initialize PostgreSQL store
	db, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	if err := db.EnsureDefaultChains(ctx); err != nil {
		logger.Fatal("failed to seed chains", zap.Error(err))
	}
	if err := db.EnsureDefaultRiskParameters(ctx); err != nil {
		logger.Fatal("failed to seed risk parameters", zap.Error(err))
	}

	// Chain RPC pool and wallets
	rpcPool := chain.NewPool(db, logger)
	wallets, err := wallet.NewRegistry(db.Pool(), rpcPool, encKey, logger)
	if err != nil {
		logger.Fatal("failed to initialize wallet registry", zap.Error(err))
	}

	chains, err := db.ListActiveChains(ctx)
	if err != nil {
		logger.Fatal("failed to list active chains", zap.Error(err))
	}
	for _, ch := range chains {
		addr, err := wallets.Ensure(ctx, ch.ID)
		if err != nil {
			logger.Fatal("wallet bootstrap failed",
				zap.String("chain", ch.Name), zap.Error(err))
		}
		logger.Info("wallet ready",
			zap.String("chain", ch.Name),
			zap.String("address", addr.Hex()))
	}

	// Market data and decision pipeline
	prices := pricefeed.NewClient(pricefeed.Config{
		Endpoint: cfg.PriceFeed.Endpoint,
		Timeout:  time.Duration(cfg.PriceFeed.TimeoutSeconds) * time.Second,
	}, logger)

	sc, err := scanner.New(rpcPool, prices, cfg.Scanner.YieldContracts, logger)
	if err != nil {
		logger.Fatal("invalid scanner configuration", zap.Error(err))
	}

	memories := memory.NewStore(db.Pool(), logger)

	// Prune stale low-confidence memories daily.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			removed, err := memories.Cleanup(context.Background(), 30*24*time.Hour)
			if err != nil {
				logger.Warn("memory cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("stale memories removed", zap.Int64("count", removed))
			}
		}
	}()

	svc := decision.NewHTTPService(decision.ServiceConfig{
		Endpoint: cfg.Decision.Endpoint,
		APIKey:   cfg.Decision.APIKey,
		Timeout:  time.Duration(cfg.Decision.TimeoutSeconds) * time.Second,
	}, logger)
	engine := decision.NewEngine(svc, memories, db, db, decision.EngineConfig{
		PatternLimit:     cfg.Agent.PatternLimit,
		PatternThreshold: cfg.Agent.PatternThreshold,
	}, logger)

	validator := risk.NewValidator(db, prices, wallets, rpcPool, logger)
	exec := executor.New(validator, wallets, rpcPool, db, memories, executor.Config{
		ReceiptTimeout: cfg.Agent.ReceiptTimeout(),
	}, logger)

	// Event bus is optional: cycles run fine without Redis.
	var events *orchestrator.EventBus
	if cfg.Database.Redis.URL != "" {
		events, err = orchestrator.NewEventBus(cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without cycle events", zap.Error(err))
			events = nil
		}
	}

	orch := orchestrator.New(db, sc, engine, exec, events,
		cfg.Agent.CycleInterval(), cfg.Agent.PoolSize, logger)
	orch.Start()

	// Build HTTP handler
	handler := api.NewHandler(db, wallets, memories, orch, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("ChainMind listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down ChainMind...")
	orch.Stop()
	srv.Shutdown(context.Background())
	if events != nil {
		events.Close()
	}
	db.Close()
}
