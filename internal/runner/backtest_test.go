package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/strategy"
	"algo-trading-engine/internal/types"
)

// buyOnce buys a fixed quantity on the first on_data call.
type buyOnce struct {
	symbol    string
	qty       int
	bought    bool
	fillCount int
	stopped   bool
}

func (s *buyOnce) OnInit(ctx strategy.Context) error { return nil }

func (s *buyOnce) OnData(ctx strategy.Context) {
	if !s.bought {
		ctx.Buy(s.symbol, s.qty, strategy.OrderOptions{})
		s.bought = true
	}
}

func (s *buyOnce) OnOrderFill(ctx strategy.Context, f types.FilledOrder) { s.fillCount++ }
func (s *buyOnce) OnStop(ctx strategy.Context)                           { s.stopped = true }

// limitSpammer stages a deep limit order on every bar; none ever fill.
type limitSpammer struct{}

func (s *limitSpammer) OnInit(ctx strategy.Context) error { return nil }
func (s *limitSpammer) OnData(ctx strategy.Context) {
	ctx.Buy("TEST", 1, strategy.OrderOptions{Price: 1, Kind: types.Limit})
}
func (s *limitSpammer) OnOrderFill(ctx strategy.Context, f types.FilledOrder) {}
func (s *limitSpammer) OnStop(ctx strategy.Context)                           {}

// faulty panics in on_data to exercise the fault boundary.
type faulty struct{ calls int }

func (s *faulty) OnInit(ctx strategy.Context) error { return nil }
func (s *faulty) OnData(ctx strategy.Context) {
	s.calls++
	panic("boom")
}
func (s *faulty) OnOrderFill(ctx strategy.Context, f types.FilledOrder) {}
func (s *faulty) OnStop(ctx strategy.Context)                           {}

func init() {
	strategy.Register("test_buy_once", func(params map[string]any) strategy.Strategy {
		return &buyOnce{symbol: "TEST", qty: 1}
	})
	strategy.Register("test_faulty", func(params map[string]any) strategy.Strategy {
		return &faulty{}
	})
	strategy.Register("test_limit_spam", func(params map[string]any) strategy.Strategy {
		return &limitSpammer{}
	})
}

func uptrendBars(n int) map[string][]types.Bar {
	start := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		p := float64(100 + i)
		bars[i] = types.Bar{
			Time: start.Add(time.Duration(i) * time.Minute),
			Open: p, High: p + 0.5, Low: p - 0.5, Close: p + 0.25,
			Volume: 1000,
		}
	}
	return map[string][]types.Bar{"TEST": bars}
}

func testBacktestConfig(name string) BacktestConfig {
	return BacktestConfig{
		RunID:          "run-test",
		StrategyName:   name,
		Instruments:    []types.Instrument{{Symbol: "TEST", Exchange: "NSE"}},
		InitialCapital: 100000,
		Start:          time.Date(2025, 1, 15, 0, 0, 0, 0, ist),
		End:            time.Date(2025, 1, 16, 0, 0, 0, 0, ist),
	}
}

func TestBacktestSingleRoundTrip(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	bt, err := NewBacktest(testBacktestConfig("test_buy_once"), uptrendBars(10))
	require.NoError(t, err)
	require.NoError(t, bt.Initialize(context.Background()))

	var lastDone, total int
	result := bt.Run(context.Background(), func(d, tot int) { lastDone, total = d, tot })

	require.Equal(t, "completed", result.Status)
	assert.Equal(t, 10, total)
	assert.Equal(t, 10, lastDone)

	// staged on the first bar, filled at the second bar's open, force-closed
	// at the final close
	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, 101.0, trade.EntryPrice)
	assert.Equal(t, 109.25, trade.ExitPrice)
	assert.InDelta(t, 8.25, trade.PnL, 1e-9)
	assert.Equal(t, "CLOSE-TEST", trade.ExitOrderID)

	require.Len(t, result.Orders, 1)
	// the ledger copy of the order reflects the fill, not a stale pending state
	assert.Equal(t, types.StatusCompleted, result.Orders[0].Status)
	assert.Equal(t, 101.0, result.Orders[0].FillPrice)
	assert.InDelta(t, 100008.25, result.FinalCapital, 1e-9)
	assert.Equal(t, 1, result.Metrics.TotalTrades)

	// one equity point per bar plus the final mark
	assert.Len(t, result.EquityCurve, 11)
	assert.Equal(t, StateStopped, bt.Stop())
}

func TestBacktestDispatchesFillCallback(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	bt, err := NewBacktest(testBacktestConfig("test_buy_once"), uptrendBars(5))
	require.NoError(t, err)
	require.NoError(t, bt.Initialize(context.Background()))
	bt.Run(context.Background(), nil)

	s := bt.strat.(*buyOnce)
	assert.Equal(t, 1, s.fillCount)
	assert.True(t, s.stopped)
}

func TestBacktestSurvivesStrategyPanics(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	bt, err := NewBacktest(testBacktestConfig("test_faulty"), uptrendBars(5))
	require.NoError(t, err)
	require.NoError(t, bt.Initialize(context.Background()))

	result := bt.Run(context.Background(), nil)
	require.Equal(t, "completed", result.Status)

	// every bar dispatched despite the panics
	assert.Equal(t, 5, bt.strat.(*faulty).calls)
	assert.NotEmpty(t, result.Logs)
}

func TestBacktestUnknownStrategy(t *testing.T) {
	t.Parallel()
	bt, err := NewBacktest(testBacktestConfig("no_such_strategy"), uptrendBars(5))
	require.NoError(t, err)

	err = bt.Initialize(context.Background())
	require.Error(t, err)
	var ce *strategy.CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestBacktestRejectsNonPositiveCapital(t *testing.T) {
	t.Parallel()
	cfg := testBacktestConfig("test_buy_once")
	cfg.InitialCapital = 0
	_, err := NewBacktest(cfg, uptrendBars(5))
	assert.Error(t, err)
}

func TestBacktestSnapshotDuringRun(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	bt, err := NewBacktest(testBacktestConfig("test_limit_spam"), uptrendBars(500))
	require.NoError(t, err)
	require.NoError(t, bt.Initialize(context.Background()))

	done := make(chan *Result, 1)
	go func() { done <- bt.Run(context.Background(), nil) }()

	// hammer the snapshot while the loop stages and carries orders;
	// run with -race to catch unsynchronized access
	for {
		select {
		case result := <-done:
			require.Equal(t, "completed", result.Status)
			assert.Equal(t, 100000.0, result.FinalCapital)
			snap := bt.Snapshot()
			assert.Equal(t, "run-test", snap.RunID)
			assert.Zero(t, snap.TotalTrades)
			return
		default:
			bt.Snapshot()
		}
	}
}

func TestBacktestEODSquareOff(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	cfg := testBacktestConfig("test_buy_once")
	cfg.EODCutoff = "09:18" // crossed by the fourth bar
	bt, err := NewBacktest(cfg, uptrendBars(10))
	require.NoError(t, err)
	require.NoError(t, bt.Initialize(context.Background()))

	result := bt.Run(context.Background(), nil)
	require.Equal(t, "completed", result.Status)
	require.Len(t, result.Trades, 1)
	// closed at the 09:18 bar close, not carried to the end
	assert.Equal(t, 103.25, result.Trades[0].ExitPrice)
}
