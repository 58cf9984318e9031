// Package metrics computes performance statistics from an equity curve
// and completed trade list. All functions are pure; degenerate inputs
// (empty data, zero variance) yield zero rather than NaN.
package metrics

import (
	"math"
	"time"

	"algo-trading-engine/internal/types"
)

const (
	tradingDaysPerYear = 252
	defaultRiskFree    = 0.06 // annual, Indian T-bill proxy
)

// DrawdownPoint is the drawdown at one equity snapshot, in percent
// (zero or negative).
type DrawdownPoint struct {
	Time            time.Time `json:"time"`
	DrawdownPercent float64   `json:"drawdown_percent"`
}

// Report bundles every computed metric for one run.
type Report struct {
	TotalReturn          float64         `json:"total_return"` // decimal, 0.25 = 25%
	CAGR                 float64         `json:"cagr"`
	SharpeRatio          float64         `json:"sharpe_ratio"`
	SortinoRatio         float64         `json:"sortino_ratio"`
	MaxDrawdown          float64         `json:"max_drawdown"` // decimal, negative
	WinRate              float64         `json:"win_rate"`
	ProfitFactor         float64         `json:"profit_factor"`
	TotalTrades          int             `json:"total_trades"`
	AvgTradePnL          float64         `json:"avg_trade_pnl"`
	MaxConsecutiveWins   int             `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int             `json:"max_consecutive_losses"`
	Expectancy           float64         `json:"expectancy"`
	DrawdownCurve        []DrawdownPoint `json:"drawdown_curve"`
}

// Calculate computes the full report in one call. Profit factor with no
// losing trades is capped at 9999.
func Calculate(curve []types.EquityPoint, trades []types.Trade, start, end time.Time) Report {
	returns := equityReturns(curve)

	pf := ProfitFactor(trades)
	if math.IsInf(pf, 1) {
		pf = 9999.0
	}

	return Report{
		TotalReturn:          round6(TotalReturn(curve)),
		CAGR:                 round6(CAGR(curve, start, end)),
		SharpeRatio:          round4(SharpeRatio(returns, defaultRiskFree)),
		SortinoRatio:         round4(SortinoRatio(returns, defaultRiskFree)),
		MaxDrawdown:          round6(MaxDrawdown(curve)),
		WinRate:              round4(WinRate(trades)),
		ProfitFactor:         round4(pf),
		TotalTrades:          len(trades),
		AvgTradePnL:          round2(AvgTradePnL(trades)),
		MaxConsecutiveWins:   MaxConsecutiveWins(trades),
		MaxConsecutiveLosses: MaxConsecutiveLosses(trades),
		Expectancy:           round2(Expectancy(trades)),
		DrawdownCurve:        DrawdownCurve(curve),
	}
}

// TotalReturn is (final - initial) / initial.
func TotalReturn(curve []types.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	initial := curve[0].Equity
	if initial == 0 {
		return 0
	}
	return (curve[len(curve)-1].Equity - initial) / initial
}

// CAGR is (final/initial)^(1/years) - 1 over the run's calendar span.
// Returns -1 on total loss and 0 when the span is under a day.
func CAGR(curve []types.EquityPoint, start, end time.Time) float64 {
	if len(curve) < 2 {
		return 0
	}
	initial := curve[0].Equity
	if initial <= 0 {
		return 0
	}
	days := int(end.Sub(start).Hours() / 24)
	if days <= 0 {
		return 0
	}
	years := float64(days) / 365.25

	ratio := curve[len(curve)-1].Equity / initial
	if ratio <= 0 {
		return -1
	}
	return math.Pow(ratio, 1.0/years) - 1
}

// SharpeRatio annualizes mean excess return over its sample standard
// deviation with sqrt(252).
func SharpeRatio(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	dailyRF := math.Pow(1+riskFree, 1.0/tradingDaysPerYear) - 1

	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - dailyRF
	}
	mean := meanOf(excess)
	sd := sampleStdDev(excess, mean)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDaysPerYear)
}

// SortinoRatio is like Sharpe but penalizes only downside volatility.
func SortinoRatio(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	dailyRF := math.Pow(1+riskFree, 1.0/tradingDaysPerYear) - 1

	excess := make([]float64, len(returns))
	var downside []float64
	for i, r := range returns {
		excess[i] = r - dailyRF
		if excess[i] < 0 {
			downside = append(downside, excess[i])
		}
	}
	if len(downside) == 0 {
		return 0
	}
	sd := sampleStdDev(downside, meanOf(downside))
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return meanOf(excess) / sd * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown is the deepest peak-to-trough decline as a negative decimal.
func MaxDrawdown(curve []types.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	peak := curve[0].Equity
	maxDD := 0.0
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			if dd := (pt.Equity - peak) / peak; dd < maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// DrawdownCurve computes the drawdown percent at every equity snapshot.
func DrawdownCurve(curve []types.EquityPoint) []DrawdownPoint {
	if len(curve) == 0 {
		return nil
	}
	out := make([]DrawdownPoint, 0, len(curve))
	peak := curve[0].Equity
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = round4((pt.Equity - peak) / peak * 100)
		}
		out = append(out, DrawdownPoint{Time: pt.Time, DrawdownPercent: dd})
	}
	return out
}

// WinRate is the fraction of trades with positive net P&L.
func WinRate(trades []types.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.NetPnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// ProfitFactor is gross profit over gross loss. +Inf when there are
// winners but no losers, 0 with no trades or no winners.
func ProfitFactor(trades []types.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.NetPnL > 0 {
			grossProfit += t.NetPnL
		} else if t.NetPnL < 0 {
			grossLoss += -t.NetPnL
		}
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / grossLoss
}

func AvgTradePnL(trades []types.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	total := 0.0
	for _, t := range trades {
		total += t.NetPnL
	}
	return total / float64(len(trades))
}

func MaxConsecutiveWins(trades []types.Trade) int {
	maxStreak, current := 0, 0
	for _, t := range trades {
		if t.NetPnL > 0 {
			current++
			if current > maxStreak {
				maxStreak = current
			}
		} else {
			current = 0
		}
	}
	return maxStreak
}

func MaxConsecutiveLosses(trades []types.Trade) int {
	maxStreak, current := 0, 0
	for _, t := range trades {
		if t.NetPnL < 0 {
			current++
			if current > maxStreak {
				maxStreak = current
			}
		} else {
			current = 0
		}
	}
	return maxStreak
}

// Expectancy is win_rate*avg_win - loss_rate*avg_loss per trade.
func Expectancy(trades []types.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	var wins, losses []float64
	for _, t := range trades {
		if t.NetPnL > 0 {
			wins = append(wins, t.NetPnL)
		} else if t.NetPnL < 0 {
			losses = append(losses, -t.NetPnL)
		}
	}
	total := float64(len(trades))
	winRate := float64(len(wins)) / total
	lossRate := float64(len(losses)) / total

	avgWin := 0.0
	if len(wins) > 0 {
		avgWin = meanOf(wins)
	}
	avgLoss := 0.0
	if len(losses) > 0 {
		avgLoss = meanOf(losses)
	}
	return winRate*avgWin - lossRate*avgLoss
}

// equityReturns converts the curve into fractional per-sample returns.
// Samples following a zero equity yield 0 rather than infinity.
func equityReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

func meanOf(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func sampleStdDev(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return math.NaN()
	}
	s := 0.0
	for _, v := range vals {
		d := v - mean
		s += d * d
	}
	return math.Sqrt(s / float64(len(vals)-1))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round6(v float64) float64 { return math.Round(v*1000000) / 1000000 }
