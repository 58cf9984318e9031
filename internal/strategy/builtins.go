package strategy

import (
	"fmt"
	"math"

	"algo-trading-engine/internal/ta"
	"algo-trading-engine/internal/types"
)

func init() {
	Register("buy_and_hold", func(params map[string]any) Strategy {
		return &buyAndHold{}
	})
	Register("sma_crossover", func(params map[string]any) Strategy {
		return &smaCrossover{}
	})
	Register("rsi_reversion", func(params map[string]any) Strategy {
		return &rsiReversion{}
	})
}

// buyAndHold buys a fixed quantity of each instrument on the first bar
// and holds until the run's forced square-off.
type buyAndHold struct {
	symbols []string
	qty     int
	bought  map[string]bool
}

func (s *buyAndHold) OnInit(ctx Context) error {
	s.qty = paramInt(ctx, "quantity", 1)
	s.bought = make(map[string]bool)
	s.symbols = paramSymbols(ctx)
	return nil
}

func (s *buyAndHold) OnData(ctx Context) {
	for _, sym := range s.symbols {
		if s.bought[sym] {
			continue
		}
		if _, ok := ctx.CurrentBar(sym); !ok {
			continue
		}
		if id := ctx.Buy(sym, s.qty, OrderOptions{}); id != "" {
			s.bought[sym] = true
			ctx.Log(fmt.Sprintf("buy_and_hold: entered %s x%d", sym, s.qty))
		}
	}
}

func (s *buyAndHold) OnOrderFill(ctx Context, fill types.FilledOrder) {}
func (s *buyAndHold) OnStop(ctx Context)                             {}

// smaCrossover goes long when the fast SMA crosses above the slow SMA and
// exits on the cross back below.
type smaCrossover struct {
	symbols []string
	fast    int
	slow    int
	qty     int
}

func (s *smaCrossover) OnInit(ctx Context) error {
	s.fast = paramInt(ctx, "fast", 10)
	s.slow = paramInt(ctx, "slow", 30)
	s.qty = paramInt(ctx, "quantity", 1)
	if s.fast >= s.slow {
		return fmt.Errorf("fast window %d must be below slow window %d", s.fast, s.slow)
	}
	s.symbols = paramSymbols(ctx)
	return nil
}

func (s *smaCrossover) OnData(ctx Context) {
	for _, sym := range s.symbols {
		bars := ctx.Historical(sym, s.slow+1)
		if len(bars) < s.slow+1 {
			continue
		}
		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
		}

		fastSeries := []float64{ta.SMA(closes[:len(closes)-1], s.fast), ta.SMA(closes, s.fast)}
		slowSeries := []float64{ta.SMA(closes[:len(closes)-1], s.slow), ta.SMA(closes, s.slow)}

		_, holding := ctx.Position(sym)
		switch {
		case !holding && ta.CrossedAbove(fastSeries, slowSeries):
			if id := ctx.Buy(sym, s.qty, OrderOptions{}); id != "" {
				ctx.Log(fmt.Sprintf("sma_crossover: long %s x%d", sym, s.qty))
			}
		case holding && ta.CrossedBelow(fastSeries, slowSeries):
			if id := ctx.Sell(sym, s.qty, OrderOptions{}); id != "" {
				ctx.Log(fmt.Sprintf("sma_crossover: exit %s", sym))
			}
		}
	}
}

func (s *smaCrossover) OnOrderFill(ctx Context, fill types.FilledOrder) {}
func (s *smaCrossover) OnStop(ctx Context)                             {}

// rsiReversion buys oversold dips below the lower Bollinger band and
// exits when RSI recovers.
type rsiReversion struct {
	symbols   []string
	period    int
	oversold  float64
	exitLevel float64
	qty       int
}

func (s *rsiReversion) OnInit(ctx Context) error {
	s.period = paramInt(ctx, "period", 14)
	s.oversold = paramFloat(ctx, "oversold", 30)
	s.exitLevel = paramFloat(ctx, "exit_level", 55)
	s.qty = paramInt(ctx, "quantity", 1)
	s.symbols = paramSymbols(ctx)
	return nil
}

func (s *rsiReversion) OnData(ctx Context) {
	for _, sym := range s.symbols {
		bars := ctx.Historical(sym, s.period*2+1)
		if len(bars) < s.period+1 {
			continue
		}
		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
		}

		rsi := ta.RSI(closes, s.period)
		if math.IsNaN(rsi) {
			continue
		}

		_, holding := ctx.Position(sym)
		if !holding && rsi <= s.oversold {
			_, _, lower := ta.Bollinger(closes, s.period, 2.0)
			last := closes[len(closes)-1]
			if !math.IsNaN(lower) && last <= lower {
				if id := ctx.Buy(sym, s.qty, OrderOptions{}); id != "" {
					ctx.Log(fmt.Sprintf("rsi_reversion: long %s rsi=%.1f", sym, rsi))
				}
			}
		} else if holding && rsi >= s.exitLevel {
			if id := ctx.Sell(sym, s.qty, OrderOptions{}); id != "" {
				ctx.Log(fmt.Sprintf("rsi_reversion: exit %s rsi=%.1f", sym, rsi))
			}
		}
	}
}

func (s *rsiReversion) OnOrderFill(ctx Context, fill types.FilledOrder) {}
func (s *rsiReversion) OnStop(ctx Context)                             {}

// paramSymbols reads the instrument universe the runner exposes through
// the params map.
func paramSymbols(ctx Context) []string {
	v := ctx.Param("symbols", []string(nil))
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func paramInt(ctx Context, key string, def int) int {
	switch v := ctx.Param(key, def).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func paramFloat(ctx Context, key string, def float64) float64 {
	switch v := ctx.Param(key, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
