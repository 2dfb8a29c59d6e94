package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/expirytrack/collector/internal/auth"
	"github.com/expirytrack/collector/internal/config"
	"github.com/expirytrack/collector/internal/database"
	"github.com/expirytrack/collector/internal/fetch"
	"github.com/expirytrack/collector/internal/model"
	"github.com/expirytrack/collector/internal/progress"
	"github.com/expirytrack/collector/internal/queue"
	"github.com/expirytrack/collector/internal/rategate"
	"github.com/expirytrack/collector/internal/scheduler"
	"github.com/expirytrack/collector/internal/server"
	"github.com/expirytrack/collector/internal/version"
	"github.com/expirytrack/collector/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/collector.yaml", "path to config file")
	runKeys := flag.String("run", "", "comma-separated instrument keys to collect at startup")
	resume := flag.Bool("resume", true, "resume runs interrupted by a previous shutdown")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting collector",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.BaseURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Database
	logger.Info("applying migrations", "dir", cfg.Database.MigrationsDir)
	if err := database.Migrate(cfg.Database); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected",
		"host", cfg.Database.Host,
		"database", cfg.Database.Name,
	)

	store := progress.NewStore(db, logger)

	// Rate gate over the configured quota windows
	gate := rategate.New([]rategate.Window{
		{Capacity: cfg.RateLimit.PerSecond, Duration: time.Second},
		{Capacity: cfg.RateLimit.PerMinute, Duration: time.Minute},
		{Capacity: cfg.RateLimit.PerHalfHour, Duration: 30 * time.Minute},
	}, rategate.WithLogger(logger))

	// Upstream client
	tokens := auth.NewTokenSource(cfg.API.AccessToken, cfg.API.TokenExpiry)
	fetcher := fetch.NewClient(cfg.API.BaseURL, tokens,
		fetch.WithLogger(logger),
		fetch.WithTimeout(cfg.API.Timeout),
	)

	// Writer pipeline. A fatal storage error is unrecoverable within the
	// process: shut everything down and let the next boot resume.
	buffer := queue.NewBuffer[model.CandleRecord](cfg.Writer.BufferSize)
	candleWriter := writer.NewCandleWriter(cfg.Writer, buffer, db, func(err error) {
		logger.Error("fatal storage error, shutting down", "error", err)
		cancel()
	}, logger)
	if err := candleWriter.Start(ctx); err != nil {
		logger.Error("failed to start writer", "error", err)
		os.Exit(1)
	}

	// Scheduler
	sched := scheduler.New(*cfg, store, fetcher, gate, buffer, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	if *resume {
		resumed, err := sched.ResumeIncomplete(ctx)
		if err != nil {
			logger.Error("failed to resume runs", "error", err)
		} else if len(resumed) > 0 {
			logger.Info("resumed interrupted runs", "count", len(resumed))
		}
	}

	if *runKeys != "" {
		sel := model.Selection{InstrumentKeys: splitKeys(*runKeys)}
		run, err := sched.StartRun(ctx, sel, model.RunOptions{})
		if err != nil {
			logger.Error("failed to start run", "error", err)
		} else {
			logger.Info("collection run started", "run_id", run.ID)
		}
	}

	// Control API
	srv := server.New(cfg.Server, sched, gate, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	logger.Info("collector running",
		"instance_id", cfg.Instance.ID,
		"port", cfg.Server.Port,
	)

	<-ctx.Done()

	// Graceful shutdown: stop intake first, then drain the pipeline.
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown", "error", err)
	}
	if err := candleWriter.Stop(shutdownCtx); err != nil {
		logger.Warn("writer shutdown", "error", err)
	}

	logger.Info("collector stopped")
}

// splitKeys parses the -run flag value.
func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
