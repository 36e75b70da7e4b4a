package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ranktrack/internal/bootstrap"
	"ranktrack/internal/cache"
	"ranktrack/internal/config"
	"ranktrack/internal/repository"
	"ranktrack/internal/router"
	"ranktrack/internal/scanner"
	"ranktrack/internal/scheduler"
	"ranktrack/internal/searchapi"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	// --- Search client and scanner ---
	searchClient := searchapi.New(&cfg.SearchAPI, logger)
	rankScanner := scanner.New(searchClient, cfg.Scheduler.ScanDepth, cfg.Scheduler.PageSize, logger)

	// --- Schedule cache (Redis with in-memory fallback) ---
	scheduleCache, usingRedis := cache.NewScheduleCache(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		cfg.Scheduler.TickInterval,
	)
	if !usingRedis {
		logger.Warn("Redis unavailable for schedule cache, using in-memory fallback")
	}

	// --- Scheduler ---
	schedRepos := &scheduler.Repos{
		Keyword:     repository.NewKeywordRepository(db),
		Target:      repository.NewTargetRepository(db),
		Observation: repository.NewObservationRepository(db),
	}
	sched := scheduler.New(
		cfg.Scheduler,
		cfg.Retention.Horizon,
		schedRepos,
		rankScanner,
		scheduleCache,
		scheduler.NopListener{},
		logger,
	)
	if err := sched.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	// --- Routes ---
	router.Setup(e, db, sched, rankScanner, searchClient, logger)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting ranktrack server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop the scan loop first so no observation write races the close.
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
