package runner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"algo-trading-engine/internal/execution"
	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/metrics"
	"algo-trading-engine/internal/portfolio"
	"algo-trading-engine/internal/runlog"
	"algo-trading-engine/internal/strategy"
	"algo-trading-engine/internal/trace"
	"algo-trading-engine/internal/types"
)

// BacktestConfig configures one backtest run.
type BacktestConfig struct {
	RunID          string
	SessionID      string
	StrategyName   string
	Params         map[string]any
	Instruments    []types.Instrument
	InitialCapital float64
	SlippagePct    float64
	FillAt         execution.FillAt
	Charges        bool
	EODCutoff      string // HH:MM IST; empty disables intraday square-off
	Start, End     time.Time
}

// Result is the outcome of a completed backtest.
type Result struct {
	Status        string                  `json:"status"` // completed | failed
	Error         string                  `json:"error,omitempty"`
	Metrics       metrics.Report          `json:"metrics"`
	EquityCurve   []types.EquityPoint     `json:"equity_curve"`
	DrawdownCurve []metrics.DrawdownPoint `json:"drawdown_curve"`
	Trades        []types.Trade           `json:"trades"`
	Orders        []types.Order           `json:"orders"`
	TotalCharges  float64                 `json:"total_charges"`
	FinalCapital  float64                 `json:"final_capital"`
	Logs          []string                `json:"logs"`
}

// ProgressFunc reports loop progress as (barsDone, totalBars).
type ProgressFunc func(done, total int)

// Backtest replays a historical bar sequence through a strategy. A
// Backtest is single use; build a new one per run.
type Backtest struct {
	cfg BacktestConfig

	sm   *stateMachine
	pf   *portfolio.Portfolio
	sim  *execution.BarSimulator
	hist *HistoryStore

	strat strategy.Strategy
	sctx  *strategyContext

	mu       sync.Mutex    // guards queue, pending, logs, orderSeq
	queue    []types.Order // staged during the current on_data
	pending  []types.Order // awaiting fill on upcoming bars
	logs     []string
	orderSeq int

	squaredDay string // IST date of the last EOD square-off
}

var _ core = (*Backtest)(nil)

// NewBacktest wires the components. Bars are keyed by symbol.
func NewBacktest(cfg BacktestConfig, bars map[string][]types.Bar) (*Backtest, error) {
	if cfg.FillAt == "" {
		cfg.FillAt = execution.FillAtNextOpen
	}
	sim, err := execution.NewBarSimulator(cfg.SlippagePct, cfg.FillAt, cfg.Charges)
	if err != nil {
		return nil, err
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %.2f", cfg.InitialCapital)
	}

	exchanges := make(map[string]string, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		exchanges[in.Symbol] = in.Exchange
	}

	return &Backtest{
		cfg:  cfg,
		sm:   newStateMachine(),
		pf:   portfolio.New(cfg.InitialCapital),
		sim:  sim,
		hist: NewHistoryStore(bars, exchanges),
	}, nil
}

// Initialize loads the strategy from the registry. A *strategy.CompileError
// is returned for unknown names, before any run starts.
func (b *Backtest) Initialize(ctx context.Context) error {
	strat, err := strategy.Load(b.cfg.StrategyName, b.cfg.Params)
	if err != nil {
		return err
	}
	b.strat = strat
	b.sctx = newStrategyContext(b, withSymbols(b.cfg.Params, b.cfg.Instruments))
	return b.sm.transition(StateInitialized)
}

// Run executes the full backtest loop. Strategy faults in on_data and
// on_stop are recovered and logged; an on_init failure aborts the run.
func (b *Backtest) Run(ctx context.Context, progress ProgressFunc) *Result {
	ctx, span := trace.StartSpan(ctx, "backtest.run")
	defer span.End()

	timer := logger.StartOperation(ctx, "backtest_run",
		"run_id", b.cfg.RunID, "strategy", b.cfg.StrategyName)

	if err := b.sm.transition(StateRunning); err != nil {
		timer.EndWithError(err)
		return b.failed(err)
	}

	if err := b.onInit(ctx); err != nil {
		b.sm.transition(StateStopped)
		err = fmt.Errorf("on_init failed: %w", err)
		timer.EndWithError(err)
		return b.failed(err)
	}

	total := b.hist.TotalBars()
	if total == 0 {
		b.sm.transition(StateStopped)
		timer.End("bars", 0)
		return &Result{
			Status: "completed",
			Logs:   []string{"no data available for the configured instruments"},
		}
	}

	progressEvery := total / 100
	if progressEvery < 1 {
		progressEvery = 1
	}

	barIndex := -1
	for {
		if b.sm.State() == StateStopped {
			break
		}
		for b.sm.State() == StatePaused {
			select {
			case <-ctx.Done():
				b.sm.transition(StateStopped)
			case <-time.After(50 * time.Millisecond):
			}
		}
		if b.sm.State() == StateStopped {
			break
		}
		ts, ok := b.hist.Advance()
		if !ok {
			break
		}
		barIndex++

		// orders queued on the previous bar fill against this one
		b.processPending(ctx)

		b.safeCall(ctx, "on_data", func() { b.strat.OnData(b.sctx) })

		b.stageNewOrders()

		prices := b.hist.CurrentPrices()
		b.pf.RecordEquity(ts, prices)

		b.squareOffAtCutoff(ctx, ts, prices)

		if progress != nil && (barIndex%progressEvery == 0 || barIndex == total-1) {
			progress(barIndex+1, total)
		}
	}

	// final square-off so every round trip is recorded
	finalPrices := b.hist.CurrentPrices()
	finalTS, _ := b.hist.CurrentTime()
	if closed := b.pf.CloseAllPositions(finalPrices, finalTS); len(closed) > 0 {
		logger.Info(ctx, "Force-closed positions at end of backtest", "count", len(closed))
	}
	b.pf.RecordEquity(finalTS, finalPrices)

	b.safeCall(ctx, "on_stop", func() { b.strat.OnStop(b.sctx) })
	b.sm.transition(StateStopped)

	report := metrics.Calculate(b.pf.EquityCurve(), b.pf.Trades(), b.cfg.Start, b.cfg.End)
	timer.End("bars", total, "trades", report.TotalTrades)
	return &Result{
		Status:        "completed",
		Metrics:       report,
		EquityCurve:   b.pf.EquityCurve(),
		DrawdownCurve: report.DrawdownCurve,
		Trades:        b.pf.Trades(),
		Orders:        b.pf.Orders(),
		TotalCharges:  round2(b.pf.TotalCharges()),
		FinalCapital:  round2(b.pf.Value(finalPrices)),
		Logs:          b.snapshotLogs(),
	}
}

// Pause and Resume toggle the loop between bars.
func (b *Backtest) Pause() error  { return b.sm.transition(StatePaused) }
func (b *Backtest) Resume() error { return b.sm.transition(StateRunning) }

// Stop requests termination; the loop notices before the next bar.
func (b *Backtest) Stop() State {
	b.sm.transition(StateStopped)
	return b.sm.State()
}

// Snapshot is a point-in-time view of the run, safe to call from other
// goroutines while the loop advances.
func (b *Backtest) Snapshot() types.StateSnapshot {
	prices := b.hist.CurrentPrices()
	b.mu.Lock()
	open := len(b.pending) + len(b.queue)
	b.mu.Unlock()
	return types.StateSnapshot{
		SessionID:      b.cfg.SessionID,
		RunID:          b.cfg.RunID,
		Status:         string(b.sm.State()),
		PortfolioValue: b.pf.Value(prices),
		Cash:           b.pf.Cash(),
		TotalPnL:       b.pf.Value(prices) - b.pf.InitialCapital(),
		Positions:      b.pf.AllPositions(prices),
		OpenOrders:     open,
		TotalTrades:    len(b.pf.Trades()),
		TotalCharges:   b.pf.TotalCharges(),
		Prices:         prices,
	}
}

// ----- core interface -----

func (b *Backtest) historical(symbol string, periods int) []types.Bar {
	return b.hist.Historical(symbol, periods)
}

func (b *Backtest) currentBar(symbol string) (types.Bar, bool) {
	return b.hist.CurrentBar(symbol)
}

func (b *Backtest) currentPrice(symbol string) (float64, bool) {
	return b.hist.CurrentPrice(symbol)
}

func (b *Backtest) currentPrices() map[string]float64 {
	return b.hist.CurrentPrices()
}

func (b *Backtest) stageOrder(side types.Side, symbol string, quantity int, opts strategy.OrderOptions) string {
	b.mu.Lock()
	id := fmt.Sprintf("BT-%s-%d", shortID(b.cfg.RunID), b.orderSeq)
	b.orderSeq++
	b.mu.Unlock()

	ts, _ := b.hist.CurrentTime()
	if opts.Exchange == "" {
		opts.Exchange = b.hist.Exchange(symbol)
	}
	order := buildOrder(id, side, symbol, quantity, opts, ts)

	b.mu.Lock()
	b.queue = append(b.queue, order)
	b.mu.Unlock()
	b.pf.RecordOrder(order)

	logger.Signal(context.Background(), symbol, string(side), string(order.Kind), quantity, "order_id", id)
	return id
}

func (b *Backtest) cancelOrder(orderID string) bool {
	b.mu.Lock()
	removed := false
	for i, o := range b.pending {
		if o.ID == orderID && o.Status == types.StatusPending {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		for i, o := range b.queue {
			if o.ID == orderID && o.Status == types.StatusPending {
				b.queue = append(b.queue[:i], b.queue[i+1:]...)
				removed = true
				break
			}
		}
	}
	b.mu.Unlock()
	if removed {
		b.pf.UpdateOrderStatus(orderID, types.StatusCancelled, 0, 0)
	}
	return removed
}

func (b *Backtest) openOrders() []types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Order, 0, len(b.pending)+len(b.queue))
	out = append(out, b.pending...)
	out = append(out, b.queue...)
	return out
}

func (b *Backtest) ledger() *portfolio.Portfolio { return b.pf }

func (b *Backtest) logLine(msg string) {
	b.mu.Lock()
	b.logs = append(b.logs, msg)
	b.mu.Unlock()
}

func (b *Backtest) snapshotLogs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.logs))
	copy(out, b.logs)
	return out
}

// ----- internals -----

func (b *Backtest) onInit(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.strat.OnInit(b.sctx)
}

// safeCall is the fault boundary around strategy callbacks. Panics are
// logged and the run continues with the next bar.
func (b *Backtest) safeCall(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logLine(fmt.Sprintf("[ERROR] %s raised: %v", name, r))
			logger.Error(ctx, "Strategy callback fault", "callback", name, "fault", fmt.Sprint(r))
		}
	}()
	fn()
}

func (b *Backtest) stageNewOrders() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) > 0 {
		b.pending = append(b.pending, b.queue...)
		b.queue = b.queue[:0]
	}
}

// processPending tries to fill carried orders. In next_open mode the
// current loop bar is by construction the bar after the one where each
// order was queued, so it serves as the execution bar.
func (b *Backtest) processPending(ctx context.Context) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	var still []types.Order
	for _, order := range pending {
		if order.Status != types.StatusPending {
			continue
		}

		bar, ok := b.hist.CurrentBar(order.Symbol)
		if !ok {
			still = append(still, order)
			continue
		}

		var fill *types.Fill
		if b.cfg.FillAt == execution.FillAtNextOpen {
			fill = b.sim.ExecuteOrder(order, bar, &bar)
		} else {
			fill = b.sim.ExecuteOrder(order, bar, nil)
		}

		if fill != nil {
			b.applyFill(ctx, order, fill)
			continue
		}

		// limit and stop orders carry forward; an unfillable market
		// order is rejected
		switch order.Kind {
		case types.Limit, types.StopLoss, types.StopLossM:
			still = append(still, order)
		default:
			b.pf.UpdateOrderStatus(order.ID, types.StatusRejected, 0, 0)
			logger.Warn(ctx, "Market order could not be filled",
				"order_id", order.ID, "symbol", order.Symbol)
		}
	}

	b.mu.Lock()
	b.pending = append(still, b.pending...)
	b.mu.Unlock()
}

func (b *Backtest) applyFill(ctx context.Context, order types.Order, fill *types.Fill) {
	b.pf.UpdateOrderStatus(order.ID, types.StatusCompleted, fill.Price, fill.Commission)

	trade := b.pf.UpdateOnFill(*fill)

	logger.Trade(ctx, fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, fill.OrderID)
	_ = runlog.AppendFill(runlog.FillEntry{
		RunID:      b.cfg.RunID,
		Symbol:     fill.Symbol,
		Side:       string(fill.Side),
		Qty:        fill.Quantity,
		Price:      fill.Price,
		Commission: fill.Commission,
		OrderID:    fill.OrderID,
	})
	if trade != nil {
		_ = runlog.AppendTrade(runlog.TradeEntry{
			RunID:   b.cfg.RunID,
			Symbol:  trade.Symbol,
			Side:    string(trade.Side),
			Qty:     trade.Quantity,
			Entry:   trade.EntryPrice,
			Exit:    trade.ExitPrice,
			PnL:     trade.PnL,
			Charges: trade.Charges,
			NetPnL:  trade.NetPnL,
		})
	}

	filled := types.FilledOrder{
		OrderID:   fill.OrderID,
		Symbol:    fill.Symbol,
		Exchange:  fill.Exchange,
		Side:      fill.Side,
		Quantity:  fill.Quantity,
		FillPrice: fill.Price,
		Time:      fill.Time,
	}
	b.safeCall(ctx, "on_order_fill", func() { b.strat.OnOrderFill(b.sctx, filled) })
}

// squareOffAtCutoff force-closes everything once per IST day when the
// bar time crosses the configured cutoff.
func (b *Backtest) squareOffAtCutoff(ctx context.Context, ts time.Time, prices map[string]float64) {
	if b.cfg.EODCutoff == "" {
		return
	}
	local := ts.In(ist)
	day := local.Format("2006-01-02")
	if day == b.squaredDay {
		return
	}
	cutoff, err := time.Parse("15:04", b.cfg.EODCutoff)
	if err != nil {
		return
	}
	mark := time.Date(local.Year(), local.Month(), local.Day(), cutoff.Hour(), cutoff.Minute(), 0, 0, ist)
	if local.Before(mark) {
		return
	}
	b.squaredDay = day
	if closed := b.pf.CloseAllPositions(prices, ts); len(closed) > 0 {
		b.mu.Lock()
		dropped := b.pending
		b.pending = nil
		b.mu.Unlock()
		for _, o := range dropped {
			b.pf.UpdateOrderStatus(o.ID, types.StatusCancelled, 0, 0)
		}
		logger.Info(ctx, "End-of-day square-off", "date", day, "closed", len(closed))
	}
}

func (b *Backtest) failed(err error) *Result {
	logger.ErrorWithErr(context.Background(), "Backtest failed", err, "run_id", b.cfg.RunID)
	return &Result{
		Status:      "failed",
		Error:       err.Error(),
		EquityCurve: b.pf.EquityCurve(),
		Trades:      b.pf.Trades(),
		Orders:      b.pf.Orders(),
		Logs:        b.snapshotLogs(),
	}
}

// withSymbols exposes the instrument universe to strategies through the
// params map.
func withSymbols(params map[string]any, instruments []types.Instrument) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	symbols := make([]string, 0, len(instruments))
	for _, in := range instruments {
		symbols = append(symbols, in.Symbol)
	}
	out["symbols"] = symbols
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
