package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/risk"
	"algo-trading-engine/internal/runlog"
	"algo-trading-engine/internal/runner"
	"algo-trading-engine/internal/store"
	"algo-trading-engine/internal/trace"
)

// initializeSystem loads the environment, logger, tracer, and config.
func initializeSystem(ctx context.Context) (*store.Config, error) {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}

	if cfg.Log.Dir != "" {
		_ = os.Setenv("ENGINE_LOG_DIR", cfg.Log.Dir)
	}
	if err := runlog.CompressOlder(cfg.Log.RetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err.Error())
	}
	return cfg, nil
}

func riskLimits(cfg *store.Config) risk.Limits {
	limits := risk.DefaultLimits()
	if cfg.Risk.MaxPositionSize > 0 {
		limits.MaxPositionSize = cfg.Risk.MaxPositionSize
	}
	if cfg.Risk.MaxOrderValue > 0 {
		limits.MaxOrderValue = cfg.Risk.MaxOrderValue
	}
	if cfg.Risk.DailyLossLimit > 0 {
		limits.DailyLossLimit = cfg.Risk.DailyLossLimit
	}
	if cfg.Risk.MaxOpenPositions > 0 {
		limits.MaxOpenPositions = cfg.Risk.MaxOpenPositions
	}
	if cfg.Risk.OrdersPerMinute > 0 {
		limits.OrdersPerMinute = cfg.Risk.OrdersPerMinute
	}
	if cfg.Session.MarketOpen != "" {
		limits.MarketOpen = cfg.Session.MarketOpen
	}
	if cfg.Session.MarketClose != "" {
		limits.MarketClose = cfg.Session.MarketClose
	}
	return limits
}

func timeLocks(cfg *store.Config) []runner.LockWindow {
	out := make([]runner.LockWindow, 0, len(cfg.Session.TimeLocks))
	for _, w := range cfg.Session.TimeLocks {
		out = append(out, runner.LockWindow{From: w.From, To: w.To})
	}
	return out
}

func kiteCredentials() (apiKey, accessToken string, err error) {
	apiKey = os.Getenv("KITE_API_KEY")
	accessToken = os.Getenv("KITE_ACCESS_TOKEN")
	if apiKey == "" || accessToken == "" {
		return "", "", fmt.Errorf("KITE_API_KEY and KITE_ACCESS_TOKEN must be set")
	}
	return apiKey, accessToken, nil
}
