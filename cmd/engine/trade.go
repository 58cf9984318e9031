package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"algo-trading-engine/internal/broker/kite"
	"algo-trading-engine/internal/feed"
	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/notify"
	"algo-trading-engine/internal/runner"
	"algo-trading-engine/internal/session"
	"algo-trading-engine/internal/trace"
	"algo-trading-engine/internal/types"
)

var (
	liveDryRun    bool
	statusSeconds int
)

func init() {
	liveCmd.Flags().BoolVar(&liveDryRun, "dry-run", false, "simulate order placement instead of hitting the broker")
	paperCmd.Flags().IntVar(&statusSeconds, "status-interval", 30, "seconds between status lines, 0 disables")
	liveCmd.Flags().IntVar(&statusSeconds, "status-interval", 30, "seconds between status lines, 0 disables")
}

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Trade a live quote stream with simulated fills",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := initializeSystem(ctx)
		if err != nil {
			return err
		}
		defer trace.Shutdown(ctx)

		apiKey, accessToken, err := kiteCredentials()
		if err != nil {
			return err
		}
		quoteFeed, err := feed.NewKite(apiKey, accessToken)
		if err != nil {
			return err
		}

		pCfg := runner.PaperConfig{
			StrategyName:   cfg.Strategy.Name,
			Params:         cfg.Strategy.Params,
			Instruments:    cfg.Instruments,
			InitialCapital: cfg.Capital,
			BarInterval:    cfg.BarDuration(),
			Charges:        cfg.Execution.Charges,
			EODCutoff:      cfg.Session.EODCutoff,
			TimeLocks:      timeLocks(cfg),
		}

		mgr := session.NewManager()
		s, err := mgr.StartPaper(ctx, pCfg, quoteFeed, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Paper session %s started (run %s)\n", s.ID, s.RunID)
		return runUntilSignal(ctx, mgr, s)
	},
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Trade real money through the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := initializeSystem(ctx)
		if err != nil {
			return err
		}
		defer trace.Shutdown(ctx)

		apiKey, accessToken, err := kiteCredentials()
		if err != nil {
			return err
		}
		quoteFeed, err := feed.NewKite(apiKey, accessToken)
		if err != nil {
			return err
		}

		lCfg := runner.LiveConfig{
			StrategyName:   cfg.Strategy.Name,
			Params:         cfg.Strategy.Params,
			Instruments:    cfg.Instruments,
			InitialCapital: cfg.Capital,
			BarInterval:    cfg.BarDuration(),
			EODCutoff:      cfg.Session.EODCutoff,
			TimeLocks:      timeLocks(cfg),
			RiskLimits:     riskLimits(cfg),
		}

		var executor interfaces.Executor
		var onTick func(types.StateSnapshot)
		if liveDryRun {
			logger.Info(ctx, "Dry-run mode, orders are simulated")
			cache := &priceCache{prices: make(map[string]float64)}
			executor = kite.NewDryRun(cache.get)
			onTick = cache.update
		} else {
			executor, err = kite.NewExecutor(apiKey, accessToken)
			if err != nil {
				return err
			}
		}

		mgr := session.NewManager()
		notifier := notify.NewLog("")
		s, err := mgr.StartLive(ctx, lCfg, quoteFeed, executor, notifier, onTick)
		if err != nil {
			return err
		}
		notifier.RunID = s.RunID
		fmt.Printf("Live session %s started (run %s)\n", s.ID, s.RunID)
		return runUntilSignal(ctx, mgr, s)
	},
}

// runUntilSignal blocks until SIGINT/SIGTERM, printing periodic status.
func runUntilSignal(ctx context.Context, mgr *session.Manager, s *session.Session) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	var status <-chan time.Time
	if statusSeconds > 0 {
		t := time.NewTicker(time.Duration(statusSeconds) * time.Second)
		defer t.Stop()
		status = t.C
	}

	for {
		select {
		case <-status:
			printStatus(s.Snapshot())
		case <-sigc:
			fmt.Println("Shutting down...")
			if err := mgr.Stop(ctx, s.ID); err != nil {
				return err
			}
			printStatus(s.Snapshot())
			return nil
		case <-ctx.Done():
			_ = mgr.Stop(context.Background(), s.ID)
			return nil
		}
	}
}

func printStatus(snap types.StateSnapshot) {
	b, _ := json.Marshal(snap)
	fmt.Println(string(b))
}

// priceCache feeds the dry-run executor with the latest seen prices.
type priceCache struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func (c *priceCache) update(snap types.StateSnapshot) {
	c.mu.Lock()
	for sym, p := range snap.Prices {
		c.prices[sym] = p
	}
	c.mu.Unlock()
}

func (c *priceCache) get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}
