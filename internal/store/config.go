package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"algo-trading-engine/internal/types"
)

type Config struct {
	Mode        string             `yaml:"mode"` // BACKTEST, PAPER, LIVE
	Capital     float64            `yaml:"capital"`
	Instruments []types.Instrument `yaml:"instruments"`

	Strategy struct {
		Name   string                 `yaml:"name"`
		Params map[string]interface{} `yaml:"params"`
	} `yaml:"strategy"`

	Data struct {
		CSVDir      string `yaml:"csv_dir"`      // backtest bar files, one per symbol
		BarInterval string `yaml:"bar_interval"` // paper/live aggregation window, e.g. 1m, 5m
	} `yaml:"data"`

	Execution struct {
		SlippagePct float64 `yaml:"slippage_pct"` // e.g. 0.05 = 5 bps
		FillAt      string  `yaml:"fill_at"`      // next_open or current_close
		Charges     bool    `yaml:"charges"`      // apply the brokerage/charges model
	} `yaml:"execution"`

	Risk struct {
		MaxPositionSize  int     `yaml:"max_position_size"`
		MaxOrderValue    float64 `yaml:"max_order_value"`
		DailyLossLimit   float64 `yaml:"daily_loss_limit"`
		MaxOpenPositions int     `yaml:"max_open_positions"`
		OrdersPerMinute  int     `yaml:"orders_per_minute"`
	} `yaml:"risk"`

	Session struct {
		MarketOpen  string `yaml:"market_open"`  // HH:MM IST
		MarketClose string `yaml:"market_close"` // HH:MM IST
		EODCutoff   string `yaml:"eod_cutoff"`   // square-off time for intraday runs
		TimeLocks   []struct {
			From string `yaml:"from"`
			To   string `yaml:"to"`
		} `yaml:"time_locks"` // windows where fresh entries are rejected
	} `yaml:"session"`

	Log struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"log"`
}

func (c *Config) Validate() error {
	if c.Mode != "BACKTEST" && c.Mode != "PAPER" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'BACKTEST', 'PAPER' or 'LIVE'", c.Mode)
	}
	if c.Capital <= 0 {
		return fmt.Errorf("capital must be positive, got %.2f", c.Capital)
	}
	if len(c.Instruments) == 0 {
		return errors.New("instruments cannot be empty")
	}
	if c.Strategy.Name == "" {
		return errors.New("strategy.name cannot be empty")
	}
	if c.Execution.FillAt != "next_open" && c.Execution.FillAt != "current_close" {
		return fmt.Errorf("execution.fill_at must be 'next_open' or 'current_close', got '%s'", c.Execution.FillAt)
	}
	if c.Execution.SlippagePct < 0 || c.Execution.SlippagePct > 5 {
		return fmt.Errorf("execution.slippage_pct must be between 0-5, got %.2f", c.Execution.SlippagePct)
	}
	if _, err := time.ParseDuration(c.Data.BarInterval); err != nil {
		return fmt.Errorf("invalid data.bar_interval '%s': %w", c.Data.BarInterval, err)
	}
	for _, field := range []struct{ name, v string }{
		{"session.market_open", c.Session.MarketOpen},
		{"session.market_close", c.Session.MarketClose},
		{"session.eod_cutoff", c.Session.EODCutoff},
	} {
		if _, err := time.Parse("15:04", field.v); err != nil {
			return fmt.Errorf("invalid %s '%s': want HH:MM", field.name, field.v)
		}
	}
	for i, w := range c.Session.TimeLocks {
		if _, err := time.Parse("15:04", w.From); err != nil {
			return fmt.Errorf("invalid session.time_locks[%d].from '%s': want HH:MM", i, w.From)
		}
		if _, err := time.Parse("15:04", w.To); err != nil {
			return fmt.Errorf("invalid session.time_locks[%d].to '%s': want HH:MM", i, w.To)
		}
	}
	return nil
}

// BarDuration returns the parsed aggregation window. Validate must have
// passed for the result to be meaningful.
func (c *Config) BarDuration() time.Duration {
	d, _ := time.ParseDuration(c.Data.BarInterval)
	return d
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Mode == "" {
		c.Mode = "BACKTEST"
	}
	if c.Capital == 0 {
		c.Capital = 100000
	}
	if c.Data.BarInterval == "" {
		c.Data.BarInterval = "1m"
	}
	if c.Execution.FillAt == "" {
		c.Execution.FillAt = "next_open"
	}
	if c.Risk.MaxPositionSize == 0 {
		c.Risk.MaxPositionSize = 100
	}
	if c.Risk.MaxOrderValue == 0 {
		c.Risk.MaxOrderValue = 500000
	}
	if c.Risk.DailyLossLimit == 0 {
		c.Risk.DailyLossLimit = 50000
	}
	if c.Risk.MaxOpenPositions == 0 {
		c.Risk.MaxOpenPositions = 10
	}
	if c.Risk.OrdersPerMinute == 0 {
		c.Risk.OrdersPerMinute = 10
	}
	if c.Session.MarketOpen == "" {
		c.Session.MarketOpen = "09:15"
	}
	if c.Session.MarketClose == "" {
		c.Session.MarketClose = "15:30"
	}
	if c.Session.EODCutoff == "" {
		c.Session.EODCutoff = "15:15"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.RetentionDays == 0 {
		c.Log.RetentionDays = 30
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
