package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"algo-trading-engine/internal/execution"
	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/portfolio"
	"algo-trading-engine/internal/runlog"
	"algo-trading-engine/internal/strategy"
	"algo-trading-engine/internal/trace"
	"algo-trading-engine/internal/types"
)

// LockWindow is an intraday period during which new entries are rejected.
// Times are HH:MM in IST; orders that reduce an existing position pass.
type LockWindow struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// PaperConfig configures a paper-trading session.
type PaperConfig struct {
	RunID          string
	SessionID      string
	StrategyName   string
	Params         map[string]any
	Instruments    []types.Instrument
	InitialCapital float64
	BarInterval    time.Duration
	Charges        bool
	EODCutoff      string // HH:MM IST; empty disables square-off
	TimeLocks      []LockWindow
}

// Paper trades a live quote stream against the simulated LTP broker.
// Ticks aggregate into bars; on_data fires on bar close, the optional
// per-tick hook on every quote, and pending orders are evaluated per
// tick. One goroutine owns the strategy, so callbacks are linearized.
type Paper struct {
	cfg  PaperConfig
	feed interfaces.QuoteFeed

	sm   *stateMachine
	pf   *portfolio.Portfolio
	sim  *execution.QuoteSimulator
	agg  *BarAggregator
	hist *HistoryStore

	strat strategy.Strategy
	ticks strategy.TickHandler // nil if the strategy has no tick hook
	sctx  *strategyContext

	mu       sync.Mutex
	pending  []types.Order
	logs     []string
	orderSeq int
	started  bool // loop goroutine launched; Stop only waits when set

	onTick func(types.StateSnapshot)

	squaredDay string
	stopOnce   sync.Once
	done       chan struct{}
}

var _ core = (*Paper)(nil)

func NewPaper(cfg PaperConfig, feed interfaces.QuoteFeed) (*Paper, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %.2f", cfg.InitialCapital)
	}
	if cfg.BarInterval <= 0 {
		return nil, fmt.Errorf("bar interval must be positive, got %s", cfg.BarInterval)
	}
	exchanges := make(map[string]string, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		exchanges[in.Symbol] = in.Exchange
	}
	return &Paper{
		cfg:  cfg,
		feed: feed,
		sm:   newStateMachine(),
		pf:   portfolio.New(cfg.InitialCapital),
		sim:  execution.NewQuoteSimulator(cfg.Charges),
		agg:  NewBarAggregator(cfg.BarInterval),
		hist: NewLiveHistory(exchanges),
		done: make(chan struct{}),
	}, nil
}

// Initialize loads the strategy.
func (p *Paper) Initialize(ctx context.Context) error {
	strat, err := strategy.Load(p.cfg.StrategyName, p.cfg.Params)
	if err != nil {
		return err
	}
	p.strat = strat
	p.ticks, _ = strat.(strategy.TickHandler)
	p.sctx = newStrategyContext(p, withSymbols(p.cfg.Params, p.cfg.Instruments))
	return p.sm.transition(StateInitialized)
}

// Start runs on_init, opens the feed, and launches the dispatch loop.
// onTick, when non-nil, receives a state snapshot after every processed
// quote.
func (p *Paper) Start(ctx context.Context, onTick func(types.StateSnapshot)) error {
	ctx, span := trace.StartSpan(ctx, "paper.start")
	defer span.End()

	if err := p.sm.transition(StateRunning); err != nil {
		return err
	}
	p.onTick = onTick

	if err := p.initStrategy(); err != nil {
		p.sm.transition(StateStopped)
		return fmt.Errorf("on_init failed: %w", err)
	}

	if err := p.feed.Start(ctx); err != nil {
		p.sm.transition(StateStopped)
		return fmt.Errorf("starting quote feed: %w", err)
	}
	if err := p.feed.Subscribe(ctx, p.cfg.Instruments); err != nil {
		p.sm.transition(StateStopped)
		return fmt.Errorf("subscribing instruments: %w", err)
	}

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	go p.loop(ctx)
	logger.Info(ctx, "Paper session started",
		"run_id", p.cfg.RunID, "strategy", p.cfg.StrategyName, "instruments", len(p.cfg.Instruments))
	return nil
}

func (p *Paper) initStrategy() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.strat.OnInit(p.sctx)
}

// loop is the single dispatch goroutine. It drains the quote channel
// until Stop or feed closure; while paused only the LTP store updates.
func (p *Paper) loop(ctx context.Context) {
	defer close(p.done)
	for quote := range p.feed.Quotes() {
		if p.sm.State() == StateStopped {
			return
		}
		p.sim.UpdatePrice(quote.Symbol, quote.Price)
		if p.sm.State() == StatePaused {
			continue
		}
		p.handleQuote(ctx, quote)
		if p.onTick != nil {
			p.onTick(p.Snapshot())
		}
	}
}

func (p *Paper) handleQuote(ctx context.Context, quote types.Quote) {
	// fills are evaluated on every quote, independent of bar completion
	p.evaluatePending(ctx)

	if p.ticks != nil {
		p.safeCall(ctx, "on_tick", func() { p.ticks.OnTick(p.sctx, quote) })
	}

	if bar, done := p.agg.Add(quote); done {
		p.hist.Append(quote.Symbol, bar)
		p.safeCall(ctx, "on_data", func() { p.strat.OnData(p.sctx) })
		p.pf.RecordEquity(bar.Time.Add(p.cfg.BarInterval), p.sim.Prices())
	}

	p.squareOffAtCutoff(ctx, quote.Time)
}

// evaluatePending runs every pending order through the LTP simulator.
func (p *Paper) evaluatePending(ctx context.Context) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	var still []types.Order
	for _, order := range pending {
		fill := p.sim.TryFill(order)
		if fill == nil {
			still = append(still, order)
			continue
		}
		p.applyFill(ctx, order, fill)
	}

	p.mu.Lock()
	p.pending = append(still, p.pending...)
	p.mu.Unlock()
}

func (p *Paper) applyFill(ctx context.Context, order types.Order, fill *types.Fill) {
	p.pf.UpdateOrderStatus(order.ID, types.StatusCompleted, fill.Price, fill.Commission)

	trade := p.pf.UpdateOnFill(*fill)

	logger.Trade(ctx, fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, fill.OrderID)
	_ = runlog.AppendFill(runlog.FillEntry{
		RunID:      p.cfg.RunID,
		Symbol:     fill.Symbol,
		Side:       string(fill.Side),
		Qty:        fill.Quantity,
		Price:      fill.Price,
		Commission: fill.Commission,
		OrderID:    fill.OrderID,
	})
	if trade != nil {
		_ = runlog.AppendTrade(runlog.TradeEntry{
			RunID:   p.cfg.RunID,
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
	p.safeCall(ctx, "on_order_fill", func() { p.strat.OnOrderFill(p.sctx, filled) })
}

func (p *Paper) safeCall(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.logs = append(p.logs, fmt.Sprintf("[ERROR] %s raised: %v", name, r))
			p.mu.Unlock()
			logger.Error(ctx, "Strategy callback fault", "callback", name, "fault", fmt.Sprint(r))
		}
	}()
	fn()
}

// squareOffAtCutoff closes everything once per IST day after the cutoff.
func (p *Paper) squareOffAtCutoff(ctx context.Context, now time.Time) {
	if p.cfg.EODCutoff == "" {
		return
	}
	local := now.In(ist)
	day := local.Format("2006-01-02")
	if day == p.squaredDay {
		return
	}
	cutoff, err := time.Parse("15:04", p.cfg.EODCutoff)
	if err != nil {
		return
	}
	mark := time.Date(local.Year(), local.Month(), local.Day(), cutoff.Hour(), cutoff.Minute(), 0, 0, ist)
	if local.Before(mark) {
		return
	}
	p.squaredDay = day

	p.mu.Lock()
	dropped := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, o := range dropped {
		p.pf.UpdateOrderStatus(o.ID, types.StatusCancelled, 0, 0)
	}

	if closed := p.pf.CloseAllPositions(p.sim.Prices(), now); len(closed) > 0 {
		logger.Info(ctx, "End-of-day square-off", "date", day, "closed", len(closed))
	}
}

// Pause and Resume gate callback dispatch without tearing down the feed.
func (p *Paper) Pause() error  { return p.sm.transition(StatePaused) }
func (p *Paper) Resume() error { return p.sm.transition(StateRunning) }

// Stop shuts the feed, waits for the dispatch loop to drain, runs
// on_stop, force-closes open positions, and returns the terminal state.
// No callback is dispatched after Stop returns.
func (p *Paper) Stop(ctx context.Context) State {
	p.stopOnce.Do(func() {
		p.sm.transition(StateStopped)
		p.feed.Stop(ctx)
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if started {
			<-p.done
		}

		p.safeCall(ctx, "on_stop", func() { p.strat.OnStop(p.sctx) })

		now := time.Now()
		if closed := p.pf.CloseAllPositions(p.sim.Prices(), now); len(closed) > 0 {
			logger.Info(ctx, "Closed positions on stop", "count", len(closed))
		}
		p.pf.RecordEquity(now, p.sim.Prices())
		_ = runlog.AppendEvent(runlog.EventEntry{RunID: p.cfg.RunID, Kind: "SESSION_STOPPED"})
	})
	return p.sm.State()
}

// Snapshot is a consistent point-in-time view; it never blocks quote
// ingestion beyond brief mutex reads.
func (p *Paper) Snapshot() types.StateSnapshot {
	prices := p.sim.Prices()
	p.mu.Lock()
	open := len(p.pending)
	p.mu.Unlock()
	return types.StateSnapshot{
		SessionID:      p.cfg.SessionID,
		RunID:          p.cfg.RunID,
		Status:         string(p.sm.State()),
		PortfolioValue: p.pf.Value(prices),
		Cash:           p.pf.Cash(),
		TotalPnL:       p.pf.Value(prices) - p.pf.InitialCapital(),
		Positions:      p.pf.AllPositions(prices),
		OpenOrders:     open,
		TotalTrades:    len(p.pf.Trades()),
		TotalCharges:   p.pf.TotalCharges(),
		Prices:         prices,
	}
}

// Logs returns the run-scoped strategy log lines.
func (p *Paper) Logs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.logs))
	copy(out, p.logs)
	return out
}

// Trades returns the completed round trips so far.
func (p *Paper) Trades() []types.Trade { return p.pf.Trades() }

// EquityCurve returns the recorded equity snapshots.
func (p *Paper) EquityCurve() []types.EquityPoint { return p.pf.EquityCurve() }

// ----- core interface -----

func (p *Paper) historical(symbol string, periods int) []types.Bar {
	return p.hist.Historical(symbol, periods)
}

func (p *Paper) currentBar(symbol string) (types.Bar, bool) {
	return p.hist.CurrentBar(symbol)
}

func (p *Paper) currentPrice(symbol string) (float64, bool) {
	return p.sim.Price(symbol)
}

func (p *Paper) currentPrices() map[string]float64 {
	return p.sim.Prices()
}

func (p *Paper) stageOrder(side types.Side, symbol string, quantity int, opts strategy.OrderOptions) string {
	if p.entryLocked(side, symbol) {
		p.logLine(fmt.Sprintf("order rejected: %s %s inside time-lock window", side, symbol))
		return ""
	}

	p.mu.Lock()
	p.orderSeq++
	id := fmt.Sprintf("PT-%s-%d", shortID(p.cfg.RunID), p.orderSeq)
	p.mu.Unlock()

	if opts.Exchange == "" {
		if e, ok := p.exchangeFor(symbol); ok {
			opts.Exchange = e
		}
	}
	order := buildOrder(id, side, symbol, quantity, opts, time.Now())

	p.mu.Lock()
	p.pending = append(p.pending, order)
	p.mu.Unlock()
	p.pf.RecordOrder(order)

	logger.Signal(context.Background(), symbol, string(side), string(order.Kind), quantity, "order_id", id)
	return id
}

func (p *Paper) exchangeFor(symbol string) (string, bool) {
	for _, in := range p.cfg.Instruments {
		if in.Symbol == symbol {
			return in.Exchange, true
		}
	}
	return "", false
}

// entryLocked reports whether the order would open fresh exposure inside
// a configured lock window. Orders reducing an open position always pass.
func (p *Paper) entryLocked(side types.Side, symbol string) bool {
	if len(p.cfg.TimeLocks) == 0 {
		return false
	}
	if pos, ok := p.pf.GetPosition(symbol); ok {
		reducing := (side == types.Sell && pos.Side == types.Long) ||
			(side == types.Buy && pos.Side == types.Short)
		if reducing {
			return false
		}
	}
	now := time.Now().In(ist)
	hhmm := now.Format("15:04")
	for _, w := range p.cfg.TimeLocks {
		if hhmm >= w.From && hhmm <= w.To {
			return true
		}
	}
	return false
}

func (p *Paper) cancelOrder(orderID string) bool {
	p.mu.Lock()
	removed := false
	for i, o := range p.pending {
		if o.ID == orderID && o.Status == types.StatusPending {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			removed = true
			break
		}
	}
	p.mu.Unlock()
	if removed {
		p.pf.UpdateOrderStatus(orderID, types.StatusCancelled, 0, 0)
	}
	return removed
}

func (p *Paper) openOrders() []types.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Order, len(p.pending))
	copy(out, p.pending)
	return out
}

func (p *Paper) ledger() *portfolio.Portfolio { return p.pf }

func (p *Paper) logLine(msg string) {
	p.mu.Lock()
	p.logs = append(p.logs, msg)
	p.mu.Unlock()
}
