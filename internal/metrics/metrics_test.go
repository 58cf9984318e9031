package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/types"
)

func curveOf(values ...float64) []types.EquityPoint {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.EquityPoint, len(values))
	for i, v := range values {
		out[i] = types.EquityPoint{Time: start.AddDate(0, 0, i), Equity: v}
	}
	return out
}

func tradesOf(netPnLs ...float64) []types.Trade {
	out := make([]types.Trade, len(netPnLs))
	for i, v := range netPnLs {
		out[i] = types.Trade{Symbol: "X", NetPnL: v}
	}
	return out
}

func TestTotalReturn(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, TotalReturn(nil))
	assert.Equal(t, 0.0, TotalReturn(curveOf(100000)))
	assert.InDelta(t, 0.25, TotalReturn(curveOf(100000, 110000, 125000)), 1e-12)
	assert.InDelta(t, -0.1, TotalReturn(curveOf(100000, 90000)), 1e-12)
}

func TestCAGR(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	// 366 days across 2024; (1.2)^(365.25/366) - 1
	got := CAGR(curveOf(100000, 120000), start, end)
	want := math.Pow(1.2, 365.25/366.0) - 1
	assert.InDelta(t, want, got, 1e-9)

	// sub-day span yields zero
	assert.Equal(t, 0.0, CAGR(curveOf(100000, 120000), start, start.Add(time.Hour)))

	// wiped-out account pins at -1
	assert.Equal(t, -1.0, CAGR(curveOf(100000, 0), start, end))
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, MaxDrawdown(curveOf(100, 110, 120)))

	// peak 120, trough 90
	got := MaxDrawdown(curveOf(100, 120, 90, 110))
	assert.InDelta(t, -0.25, got, 1e-12)
}

func TestDrawdownCurve(t *testing.T) {
	t.Parallel()
	dd := DrawdownCurve(curveOf(100, 120, 90))
	require.Len(t, dd, 3)
	assert.Equal(t, 0.0, dd[0].DrawdownPercent)
	assert.Equal(t, 0.0, dd[1].DrawdownPercent)
	assert.Equal(t, -25.0, dd[2].DrawdownPercent)
}

func TestSharpeDegenerateInputs(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, SharpeRatio(nil, 0.06))
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01}, 0.06))
	// constant returns have zero variance
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}, 0.06))
}

func TestSharpePositiveForRisingCurve(t *testing.T) {
	t.Parallel()
	returns := []float64{0.01, 0.02, 0.015, 0.005, 0.012}
	assert.Greater(t, SharpeRatio(returns, 0.06), 0.0)
}

func TestSortinoNoDownside(t *testing.T) {
	t.Parallel()
	// every excess return positive: no downside sample, ratio reports 0
	assert.Equal(t, 0.0, SortinoRatio([]float64{0.05, 0.04, 0.06}, 0.06))
}

func TestWinRateAndProfitFactor(t *testing.T) {
	t.Parallel()
	trades := tradesOf(100, -50, 200, -25)
	assert.Equal(t, 0.5, WinRate(trades))
	assert.InDelta(t, 4.0, ProfitFactor(trades), 1e-12)

	assert.Equal(t, 0.0, ProfitFactor(nil))
	assert.True(t, math.IsInf(ProfitFactor(tradesOf(100, 50)), 1))
}

func TestStreaks(t *testing.T) {
	t.Parallel()
	trades := tradesOf(10, 20, 30, -5, -5, 40, -1)
	assert.Equal(t, 3, MaxConsecutiveWins(trades))
	assert.Equal(t, 2, MaxConsecutiveLosses(trades))
}

func TestExpectancy(t *testing.T) {
	t.Parallel()
	// 2 wins avg 150, 2 losses avg 37.5
	trades := tradesOf(100, -50, 200, -25)
	assert.InDelta(t, 0.5*150-0.5*37.5, Expectancy(trades), 1e-12)
}

func TestCalculateCapsProfitFactor(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	report := Calculate(curveOf(100000, 101000, 102000), tradesOf(500, 300), start, start.AddDate(0, 1, 0))

	assert.Equal(t, 9999.0, report.ProfitFactor)
	assert.Equal(t, 2, report.TotalTrades)
	assert.Equal(t, 1.0, report.WinRate)
	assert.InDelta(t, 0.02, report.TotalReturn, 1e-9)
	assert.Len(t, report.DrawdownCurve, 3)
}
