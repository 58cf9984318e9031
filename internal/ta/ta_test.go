package ta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA(t *testing.T) {
	t.Parallel()
	closes := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 4.0, SMA(closes, 3))
	assert.Equal(t, 3.0, SMA(closes, 5))
	assert.True(t, math.IsNaN(SMA(closes, 6)))
	assert.True(t, math.IsNaN(SMA(closes, 0)))
}

func TestRSI(t *testing.T) {
	t.Parallel()
	up := []float64{100, 101, 102, 103, 104, 105}
	assert.Equal(t, 100.0, RSI(up, 5))

	// equal gains and losses put RSI at the midpoint
	mixed := []float64{100, 101, 100, 101, 100}
	assert.InDelta(t, 50.0, RSI(mixed, 4), 1e-9)

	assert.True(t, math.IsNaN(RSI(up, 6)))
}

func TestEMAConvergesTowardLatest(t *testing.T) {
	t.Parallel()
	flat := []float64{100, 100, 100, 100}
	assert.InDelta(t, 100.0, EMA(flat, 3), 1e-9)

	rising := []float64{100, 100, 100, 110}
	ema := EMA(rising, 3)
	assert.Greater(t, ema, 100.0)
	assert.Less(t, ema, 110.0)
}

func TestBollingerBands(t *testing.T) {
	t.Parallel()
	flat := []float64{100, 100, 100, 100}
	mid, up, low := Bollinger(flat, 4, 2.0)
	assert.Equal(t, 100.0, mid)
	assert.Equal(t, 100.0, up)
	assert.Equal(t, 100.0, low)

	spread := []float64{98, 102, 98, 102}
	mid, up, low = Bollinger(spread, 4, 2.0)
	assert.Equal(t, 100.0, mid)
	assert.InDelta(t, 104.0, up, 1e-9)
	assert.InDelta(t, 96.0, low, 1e-9)
}

func TestCrossovers(t *testing.T) {
	t.Parallel()
	assert.True(t, CrossedAbove([]float64{99, 101}, []float64{100, 100}))
	assert.True(t, CrossedAbove([]float64{100, 101}, []float64{100, 100}))
	assert.False(t, CrossedAbove([]float64{101, 102}, []float64{100, 100}))
	assert.False(t, CrossedAbove([]float64{101}, []float64{100}))

	assert.True(t, CrossedBelow([]float64{101, 99}, []float64{100, 100}))
	assert.False(t, CrossedBelow([]float64{99, 98}, []float64{100, 100}))
}

func TestATR(t *testing.T) {
	t.Parallel()
	highs := []float64{101, 102, 103, 104}
	lows := []float64{99, 100, 101, 102}
	closes := []float64{100, 101, 102, 103}
	// each bar: range 2, gap to prior close covered by high-low
	assert.InDelta(t, 2.0, ATR(highs, lows, closes, 3), 1e-9)
	assert.True(t, math.IsNaN(ATR(highs, lows, closes, 4)))
	assert.True(t, math.IsNaN(ATR(highs[:2], lows, closes, 2)))
}
