package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Event-driven trading engine for Indian equity markets",
	Long: `Runs strategies against historical bars (backtest), a live quote
stream with simulated fills (paper), or a real broker (live).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(paperCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(strategiesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
