package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"algo-trading-engine/internal/execution"
	"algo-trading-engine/internal/feed"
	"algo-trading-engine/internal/runner"
	"algo-trading-engine/internal/session"
	"algo-trading-engine/internal/strategy"
	"algo-trading-engine/internal/trace"
)

var backtestJSON bool

func init() {
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "print the full result as JSON")
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars through a strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := initializeSystem(ctx)
		if err != nil {
			return err
		}
		defer trace.Shutdown(ctx)

		bars, err := feed.LoadBarsCSV(cfg.Data.CSVDir, cfg.Instruments)
		if err != nil {
			return err
		}

		fillAt := execution.FillAtNextOpen
		if cfg.Execution.FillAt == "current_close" {
			fillAt = execution.FillAtCurrentClose
		}
		btCfg := runner.BacktestConfig{
			StrategyName:   cfg.Strategy.Name,
			Params:         cfg.Strategy.Params,
			Instruments:    cfg.Instruments,
			InitialCapital: cfg.Capital,
			SlippagePct:    cfg.Execution.SlippagePct,
			FillAt:         fillAt,
			Charges:        cfg.Execution.Charges,
			EODCutoff:      cfg.Session.EODCutoff,
		}

		mgr := session.NewManager()
		progress := func(done, total int) {
			fmt.Fprintf(os.Stderr, "\r%d/%d bars", done, total)
		}
		s, err := mgr.StartBacktest(ctx, btCfg, bars, progress)
		if err != nil {
			return err
		}

		result := s.Wait(ctx)
		fmt.Fprintln(os.Stderr)
		if result == nil {
			return fmt.Errorf("backtest interrupted")
		}
		if result.Status != "completed" {
			return fmt.Errorf("backtest failed: %s", result.Error)
		}

		if backtestJSON {
			b, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}
		printSummary(result)
		return nil
	},
}

func printSummary(r *runner.Result) {
	m := r.Metrics
	fmt.Printf("Final capital:    %.2f\n", r.FinalCapital)
	fmt.Printf("Total return:     %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("CAGR:             %.2f%%\n", m.CAGR*100)
	fmt.Printf("Sharpe:           %.4f\n", m.SharpeRatio)
	fmt.Printf("Sortino:          %.4f\n", m.SortinoRatio)
	fmt.Printf("Max drawdown:     %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("Trades:           %d (win rate %.2f%%)\n", m.TotalTrades, m.WinRate*100)
	fmt.Printf("Profit factor:    %.4f\n", m.ProfitFactor)
	fmt.Printf("Total charges:    %.2f\n", r.TotalCharges)
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List registered strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := strategy.Names()
		sort.Strings(names)
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}
