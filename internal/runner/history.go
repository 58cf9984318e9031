package runner

import (
	"sort"
	"sync"
	"time"

	"algo-trading-engine/internal/types"
)

// HistoryStore holds per-symbol bar series and a cursor marking the
// runner's current position in time. Look-back queries never return bars
// beyond the cursor, so strategies cannot see the future.
//
// Backtests load the full series up front and step the cursor with
// Advance. Paper and live runs start empty and Append completed bars,
// which moves the cursor to the appended bar.
type HistoryStore struct {
	mu sync.RWMutex

	bars      map[string][]types.Bar // sorted by time per symbol
	exchanges map[string]string
	times     []time.Time // sorted union of all bar times
	cursor    int         // index into times, -1 before the first Advance
}

// NewHistoryStore builds a store from pre-loaded series. Bars are sorted
// and de-duplicated per symbol; the master timeline is the union of all
// bar timestamps.
func NewHistoryStore(bars map[string][]types.Bar, exchanges map[string]string) *HistoryStore {
	h := &HistoryStore{
		bars:      make(map[string][]types.Bar, len(bars)),
		exchanges: exchanges,
		cursor:    -1,
	}

	seen := make(map[time.Time]bool)
	for symbol, series := range bars {
		s := make([]types.Bar, len(series))
		copy(s, series)
		sort.Slice(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
		// drop duplicate timestamps, keep the later record
		dedup := s[:0]
		for i, b := range s {
			if i+1 < len(s) && s[i+1].Time.Equal(b.Time) {
				continue
			}
			dedup = append(dedup, b)
		}
		h.bars[symbol] = dedup
		for _, b := range dedup {
			if !seen[b.Time] {
				seen[b.Time] = true
				h.times = append(h.times, b.Time)
			}
		}
	}
	sort.Slice(h.times, func(i, j int) bool { return h.times[i].Before(h.times[j]) })
	return h
}

// NewLiveHistory builds an empty store for paper/live runs.
func NewLiveHistory(exchanges map[string]string) *HistoryStore {
	return &HistoryStore{
		bars:      make(map[string][]types.Bar),
		exchanges: exchanges,
		cursor:    -1,
	}
}

// TotalBars is the number of time steps on the master timeline.
func (h *HistoryStore) TotalBars() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.times)
}

// Advance moves the cursor one step and returns the new current time.
// ok=false when the timeline is exhausted.
func (h *HistoryStore) Advance() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor+1 >= len(h.times) {
		return time.Time{}, false
	}
	h.cursor++
	return h.times[h.cursor], true
}

// Append adds a completed bar for symbol and moves the cursor to it.
func (h *HistoryStore) Append(symbol string, bar types.Bar) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bars[symbol] = append(h.bars[symbol], bar)
	if n := len(h.times); n == 0 || bar.Time.After(h.times[n-1]) {
		h.times = append(h.times, bar.Time)
	}
	h.cursor = len(h.times) - 1
}

// CurrentTime returns the cursor's timestamp, ok=false before the run
// has started.
func (h *HistoryStore) CurrentTime() (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cursor < 0 || h.cursor >= len(h.times) {
		return time.Time{}, false
	}
	return h.times[h.cursor], true
}

// CurrentBar returns the symbol's bar at the cursor time, ok=false when
// the symbol has no bar on this time step.
func (h *HistoryStore) CurrentBar(symbol string) (types.Bar, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cursor < 0 || h.cursor >= len(h.times) {
		return types.Bar{}, false
	}
	return h.barAt(symbol, h.times[h.cursor])
}

func (h *HistoryStore) barAt(symbol string, ts time.Time) (types.Bar, bool) {
	series := h.bars[symbol]
	i := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(ts) })
	if i < len(series) && series[i].Time.Equal(ts) {
		return series[i], true
	}
	return types.Bar{}, false
}

// CurrentPrice is the close of the symbol's current bar.
func (h *HistoryStore) CurrentPrice(symbol string) (float64, bool) {
	b, ok := h.CurrentBar(symbol)
	if !ok {
		return 0, false
	}
	return b.Close, true
}

// CurrentPrices returns the close of every symbol's bar at the cursor.
// Symbols with no bar on this step fall back to their latest earlier bar.
func (h *HistoryStore) CurrentPrices() map[string]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]float64, len(h.bars))
	if h.cursor < 0 || h.cursor >= len(h.times) {
		return out
	}
	ts := h.times[h.cursor]
	for symbol, series := range h.bars {
		i := sort.Search(len(series), func(i int) bool { return series[i].Time.After(ts) })
		if i > 0 {
			out[symbol] = series[i-1].Close
		}
	}
	return out
}

// Historical returns up to periods bars for symbol ending at the cursor,
// oldest first. Returns nil before the first Advance/Append.
func (h *HistoryStore) Historical(symbol string, periods int) []types.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cursor < 0 || h.cursor >= len(h.times) || periods <= 0 {
		return nil
	}
	ts := h.times[h.cursor]
	series := h.bars[symbol]
	end := sort.Search(len(series), func(i int) bool { return series[i].Time.After(ts) })
	start := end - periods
	if start < 0 {
		start = 0
	}
	out := make([]types.Bar, end-start)
	copy(out, series[start:end])
	return out
}

// Exchange returns the exchange for symbol, defaulting to NSE.
func (h *HistoryStore) Exchange(symbol string) string {
	if e, ok := h.exchanges[symbol]; ok {
		return e
	}
	return "NSE"
}
