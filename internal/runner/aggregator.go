package runner

import (
	"sync"
	"time"

	"algo-trading-engine/internal/types"
)

// BarAggregator folds a quote stream into OHLCV bars of a fixed duration.
// Windows are aligned to midnight in the venue's local zone (IST), so a
// 5m aggregator closes bars at :00, :05, :10 and so on regardless of when
// the first tick arrived.
type BarAggregator struct {
	mu       sync.Mutex
	interval time.Duration
	open     map[string]*buildingBar
}

type buildingBar struct {
	windowStart time.Time
	bar         types.Bar
	lastVolume  int64
}

func NewBarAggregator(interval time.Duration) *BarAggregator {
	return &BarAggregator{
		interval: interval,
		open:     make(map[string]*buildingBar),
	}
}

// windowStart floors t onto the aggregation grid anchored at IST midnight.
func (a *BarAggregator) windowStart(t time.Time) time.Time {
	local := t.In(ist)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ist)
	offset := local.Sub(midnight).Truncate(a.interval)
	return midnight.Add(offset)
}

// Add folds one quote into the symbol's building bar. When the quote
// falls into a new window the previous bar is complete and returned with
// ok=true.
func (a *BarAggregator) Add(q types.Quote) (completed types.Bar, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ws := a.windowStart(q.Time)
	b := a.open[q.Symbol]

	if b == nil {
		a.open[q.Symbol] = newBuildingBar(ws, q)
		return types.Bar{}, false
	}

	if ws.After(b.windowStart) {
		done := b.bar
		a.open[q.Symbol] = newBuildingBar(ws, q)
		return done, true
	}

	b.bar.Close = q.Price
	if q.Price > b.bar.High {
		b.bar.High = q.Price
	}
	if q.Price < b.bar.Low {
		b.bar.Low = q.Price
	}
	// feed volume is cumulative for the day; bar volume is the delta
	if q.Volume > 0 {
		if b.lastVolume > 0 && q.Volume >= b.lastVolume {
			b.bar.Volume += q.Volume - b.lastVolume
		}
		b.lastVolume = q.Volume
	}
	return types.Bar{}, false
}

func newBuildingBar(ws time.Time, q types.Quote) *buildingBar {
	return &buildingBar{
		windowStart: ws,
		bar: types.Bar{
			Time:  ws,
			Open:  q.Price,
			High:  q.Price,
			Low:   q.Price,
			Close: q.Price,
		},
		lastVolume: q.Volume,
	}
}

// Flush returns and clears the building bar for symbol, ok=false when
// nothing is buffered. Used at end of day.
func (a *BarAggregator) Flush(symbol string) (types.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.open[symbol]
	if b == nil {
		return types.Bar{}, false
	}
	delete(a.open, symbol)
	return b.bar, true
}
