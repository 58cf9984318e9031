package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/types"
)

func seriesOf(start time.Time, closes ...float64) []types.Bar {
	out := make([]types.Bar, len(closes))
	for i, c := range closes {
		out[i] = types.Bar{
			Time: start.Add(time.Duration(i) * time.Minute),
			Open: c, High: c, Low: c, Close: c,
		}
	}
	return out
}

func TestHistoricalNeverReturnsFutureBars(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)
	h := NewHistoryStore(map[string][]types.Bar{
		"TEST": seriesOf(start, 100, 101, 102, 103, 104),
	}, nil)

	// before the first Advance nothing is visible
	assert.Nil(t, h.Historical("TEST", 10))

	h.Advance()
	h.Advance()
	h.Advance() // cursor on the third bar

	bars := h.Historical("TEST", 10)
	require.Len(t, bars, 3)
	assert.Equal(t, 100.0, bars[0].Close)
	assert.Equal(t, 102.0, bars[2].Close)

	// look-back shorter than available history
	bars = h.Historical("TEST", 2)
	require.Len(t, bars, 2)
	assert.Equal(t, 101.0, bars[0].Close)
}

func TestAdvanceExhaustsTimeline(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)
	h := NewHistoryStore(map[string][]types.Bar{"TEST": seriesOf(start, 100, 101)}, nil)

	assert.Equal(t, 2, h.TotalBars())
	_, ok := h.Advance()
	assert.True(t, ok)
	_, ok = h.Advance()
	assert.True(t, ok)
	_, ok = h.Advance()
	assert.False(t, ok)
}

func TestTimelineIsUnionOfSymbols(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)
	h := NewHistoryStore(map[string][]types.Bar{
		"A": seriesOf(start, 100, 101),
		"B": seriesOf(start.Add(time.Minute), 200, 201),
	}, nil)

	assert.Equal(t, 3, h.TotalBars())

	h.Advance() // only A has a bar here
	_, ok := h.CurrentBar("A")
	assert.True(t, ok)
	_, ok = h.CurrentBar("B")
	assert.False(t, ok)

	h.Advance() // both symbols have bars
	prices := h.CurrentPrices()
	assert.Equal(t, 101.0, prices["A"])
	assert.Equal(t, 200.0, prices["B"])

	h.Advance() // A falls back to its latest earlier close
	prices = h.CurrentPrices()
	assert.Equal(t, 101.0, prices["A"])
	assert.Equal(t, 201.0, prices["B"])
}

func TestDuplicateTimestampsKeepLater(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)
	bars := seriesOf(start, 100)
	bars = append(bars, types.Bar{Time: start, Open: 150, High: 150, Low: 150, Close: 150})

	h := NewHistoryStore(map[string][]types.Bar{"TEST": bars}, nil)
	assert.Equal(t, 1, h.TotalBars())

	h.Advance()
	bar, ok := h.CurrentBar("TEST")
	require.True(t, ok)
	assert.Equal(t, 150.0, bar.Close)
}

func TestLiveHistoryAppend(t *testing.T) {
	t.Parallel()
	h := NewLiveHistory(map[string]string{"TEST": "BSE"})
	assert.Equal(t, "BSE", h.Exchange("TEST"))
	assert.Equal(t, "NSE", h.Exchange("OTHER"))

	start := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)
	h.Append("TEST", types.Bar{Time: start, Close: 100})
	h.Append("TEST", types.Bar{Time: start.Add(time.Minute), Close: 101})

	price, ok := h.CurrentPrice("TEST")
	require.True(t, ok)
	assert.Equal(t, 101.0, price)
	assert.Len(t, h.Historical("TEST", 5), 2)
}
