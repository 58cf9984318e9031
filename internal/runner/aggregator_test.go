package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/types"
)

func quoteAt(t time.Time, price float64, volume int64) types.Quote {
	return types.Quote{Symbol: "TEST", Price: price, Volume: volume, Time: t}
}

func TestAggregatorCompletesBarOnWindowRoll(t *testing.T) {
	t.Parallel()
	agg := NewBarAggregator(time.Minute)
	base := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)

	_, done := agg.Add(quoteAt(base.Add(5*time.Second), 100, 1000))
	assert.False(t, done)
	_, done = agg.Add(quoteAt(base.Add(20*time.Second), 103, 1500))
	assert.False(t, done)
	_, done = agg.Add(quoteAt(base.Add(45*time.Second), 99, 2200))
	assert.False(t, done)

	bar, done := agg.Add(quoteAt(base.Add(61*time.Second), 101, 2500))
	require.True(t, done)
	assert.Equal(t, base, bar.Time)
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 103.0, bar.High)
	assert.Equal(t, 99.0, bar.Low)
	assert.Equal(t, 99.0, bar.Close)
	// cumulative feed volume 1000 -> 2200 inside the window
	assert.Equal(t, int64(1200), bar.Volume)
}

func TestAggregatorAlignsWindowsToISTMidnight(t *testing.T) {
	t.Parallel()
	agg := NewBarAggregator(5 * time.Minute)

	// 09:17 falls in the 09:15-09:20 window
	at := time.Date(2025, 1, 15, 9, 17, 30, 0, ist)
	_, done := agg.Add(quoteAt(at, 100, 0))
	assert.False(t, done)

	bar, done := agg.Add(quoteAt(time.Date(2025, 1, 15, 9, 21, 0, 0, ist), 101, 0))
	require.True(t, done)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 15, 0, 0, ist), bar.Time)
}

func TestAggregatorTracksSymbolsIndependently(t *testing.T) {
	t.Parallel()
	agg := NewBarAggregator(time.Minute)
	base := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)

	agg.Add(types.Quote{Symbol: "A", Price: 100, Time: base})
	agg.Add(types.Quote{Symbol: "B", Price: 200, Time: base})

	_, done := agg.Add(types.Quote{Symbol: "A", Price: 101, Time: base.Add(time.Minute)})
	assert.True(t, done)
	// B has not rolled yet
	_, done = agg.Add(types.Quote{Symbol: "B", Price: 201, Time: base.Add(30 * time.Second)})
	assert.False(t, done)
}

func TestAggregatorFlush(t *testing.T) {
	t.Parallel()
	agg := NewBarAggregator(time.Minute)
	base := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)

	_, ok := agg.Flush("TEST")
	assert.False(t, ok)

	agg.Add(quoteAt(base, 100, 0))
	bar, ok := agg.Flush("TEST")
	require.True(t, ok)
	assert.Equal(t, 100.0, bar.Close)

	_, ok = agg.Flush("TEST")
	assert.False(t, ok)
}
