package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"algo-trading-engine/internal/execution"
	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/portfolio"
	"algo-trading-engine/internal/risk"
	"algo-trading-engine/internal/runlog"
	"algo-trading-engine/internal/strategy"
	"algo-trading-engine/internal/trace"
	"algo-trading-engine/internal/types"
)

// LiveConfig configures a real-money session.
type LiveConfig struct {
	RunID          string
	SessionID      string
	StrategyName   string
	Params         map[string]any
	Instruments    []types.Instrument
	InitialCapital float64
	BarInterval    time.Duration
	EODCutoff      string
	TimeLocks      []LockWindow
	RiskLimits     risk.Limits
	PollInterval   time.Duration // order status poll cadence, default 2s
}

// inflight is an order placed at the broker and not yet terminal.
type inflight struct {
	order    types.Order
	brokerID string
}

// settlement is a terminal broker status waiting to be applied on the
// dispatch goroutine.
type settlement struct {
	fl inflight
	st interfaces.BrokerOrderStatus
}

// Live routes strategy orders through the risk manager to a real broker
// and reconciles fills by polling order status. Quote handling mirrors
// the paper runner: one dispatch goroutine owns all strategy callbacks.
type Live struct {
	cfg      LiveConfig
	feed     interfaces.QuoteFeed
	broker   interfaces.Executor
	notifier interfaces.Notifier

	sm    *stateMachine
	pf    *portfolio.Portfolio
	agg   *BarAggregator
	hist  *HistoryStore
	rm    *risk.Manager
	strat strategy.Strategy
	ticks strategy.TickHandler
	sctx  *strategyContext

	mu       sync.Mutex
	prices   map[string]float64
	inflight []inflight
	logs     []string
	orderSeq int
	started  bool // goroutines launched; Stop only waits when set

	onTick func(types.StateSnapshot)

	squaredDay string
	stopOnce   sync.Once
	loopDone   chan struct{}
	pollDone   chan struct{}
	pollStop   chan struct{}
	settled    chan settlement
}

var _ core = (*Live)(nil)

func NewLive(cfg LiveConfig, feed interfaces.QuoteFeed, broker interfaces.Executor, notifier interfaces.Notifier) (*Live, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %.2f", cfg.InitialCapital)
	}
	if cfg.BarInterval <= 0 {
		return nil, fmt.Errorf("bar interval must be positive, got %s", cfg.BarInterval)
	}
	if broker == nil {
		return nil, fmt.Errorf("live runner requires an order executor")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	exchanges := make(map[string]string, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		exchanges[in.Symbol] = in.Exchange
	}
	return &Live{
		cfg:      cfg,
		feed:     feed,
		broker:   broker,
		notifier: notifier,
		sm:       newStateMachine(),
		pf:       portfolio.New(cfg.InitialCapital),
		agg:      NewBarAggregator(cfg.BarInterval),
		hist:     NewLiveHistory(exchanges),
		rm:       risk.NewManager(cfg.RiskLimits),
		prices:   make(map[string]float64),
		loopDone: make(chan struct{}),
		pollDone: make(chan struct{}),
		pollStop: make(chan struct{}),
		settled:  make(chan settlement, 16),
	}, nil
}

func (l *Live) Initialize(ctx context.Context) error {
	strat, err := strategy.Load(l.cfg.StrategyName, l.cfg.Params)
	if err != nil {
		return err
	}
	l.strat = strat
	l.ticks, _ = strat.(strategy.TickHandler)
	l.sctx = newStrategyContext(l, withSymbols(l.cfg.Params, l.cfg.Instruments))
	return l.sm.transition(StateInitialized)
}

func (l *Live) Start(ctx context.Context, onTick func(types.StateSnapshot)) error {
	ctx, span := trace.StartSpan(ctx, "live.start")
	defer span.End()

	if err := l.sm.transition(StateRunning); err != nil {
		return err
	}
	l.onTick = onTick

	if err := l.initStrategy(); err != nil {
		l.sm.transition(StateStopped)
		return fmt.Errorf("on_init failed: %w", err)
	}

	if err := l.feed.Start(ctx); err != nil {
		l.sm.transition(StateStopped)
		return fmt.Errorf("starting quote feed: %w", err)
	}
	if err := l.feed.Subscribe(ctx, l.cfg.Instruments); err != nil {
		l.sm.transition(StateStopped)
		return fmt.Errorf("subscribing instruments: %w", err)
	}

	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
	go l.loop(ctx)
	go l.pollOrders(ctx)

	logger.Info(ctx, "Live session started",
		"run_id", l.cfg.RunID, "strategy", l.cfg.StrategyName, "instruments", len(l.cfg.Instruments))
	_ = runlog.AppendEvent(runlog.EventEntry{RunID: l.cfg.RunID, Kind: "SESSION_STARTED", Detail: "live"})
	return nil
}

func (l *Live) initStrategy() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.strat.OnInit(l.sctx)
}

// loop is the single dispatch goroutine: quotes and order settlements
// both land here, so every strategy callback runs on one goroutine.
func (l *Live) loop(ctx context.Context) {
	defer close(l.loopDone)
	for {
		select {
		case quote, ok := <-l.feed.Quotes():
			if !ok || l.sm.State() == StateStopped {
				return
			}
			l.mu.Lock()
			l.prices[quote.Symbol] = quote.Price
			l.mu.Unlock()
			if l.sm.State() == StatePaused {
				continue
			}
			l.handleQuote(ctx, quote)
			if l.onTick != nil {
				l.onTick(l.Snapshot())
			}
		case s := <-l.settled:
			// broker fills are ledger truth, applied even while paused
			l.applySettlement(ctx, s)
		}
	}
}

func (l *Live) applySettlement(ctx context.Context, s settlement) {
	if strings.ToUpper(s.st.Status) == "COMPLETE" {
		l.settleFill(ctx, s.fl, s.st)
		return
	}
	l.settleRejection(ctx, s.fl, s.st)
}

func (l *Live) handleQuote(ctx context.Context, quote types.Quote) {
	if l.ticks != nil {
		l.safeCall(ctx, "on_tick", func() { l.ticks.OnTick(l.sctx, quote) })
	}
	if bar, done := l.agg.Add(quote); done {
		l.hist.Append(quote.Symbol, bar)
		l.safeCall(ctx, "on_data", func() { l.strat.OnData(l.sctx) })
		l.pf.RecordEquity(bar.Time.Add(l.cfg.BarInterval), l.currentPrices())
	}
	l.squareOffAtCutoff(ctx, quote.Time)
}

// pollOrders reconciles in-flight broker orders until they go terminal.
func (l *Live) pollOrders(ctx context.Context) {
	defer close(l.pollDone)
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.pollStop:
			return
		case <-ticker.C:
			l.reconcile(ctx)
		}
	}
}

// reconcile only polls; terminal statuses are handed to the dispatch
// goroutine so settlement callbacks never run here.
func (l *Live) reconcile(ctx context.Context) {
	l.mu.Lock()
	pending := l.inflight
	l.inflight = nil
	l.mu.Unlock()

	var still []inflight
	for _, fl := range pending {
		st, err := l.broker.OrderStatus(ctx, fl.brokerID)
		if err != nil {
			logger.Warn(ctx, "Order status poll failed", "broker_order_id", fl.brokerID, "error", err.Error())
			still = append(still, fl)
			continue
		}
		switch strings.ToUpper(st.Status) {
		case "COMPLETE", "REJECTED", "CANCELLED":
			select {
			case l.settled <- settlement{fl: fl, st: st}:
			case <-l.pollStop:
				still = append(still, fl)
			}
		default:
			still = append(still, fl)
		}
	}

	// orders staged while we polled landed in l.inflight; keep them
	l.mu.Lock()
	l.inflight = append(still, l.inflight...)
	l.mu.Unlock()
}

func (l *Live) settleFill(ctx context.Context, fl inflight, st interfaces.BrokerOrderStatus) {
	order := fl.order
	qty := st.FilledQty
	if qty <= 0 {
		qty = order.Quantity
	}
	price := st.AvgPrice
	if price <= 0 {
		price = order.Price
	}
	commission := execution.CalculateCharges(order.Exchange, order.Side, qty, price, order.Product)
	l.pf.UpdateOrderStatus(order.ID, types.StatusCompleted, price, commission)

	hadPosition := l.pf.OpenPositionCount()
	fill := types.Fill{
		Time:       time.Now(),
		Symbol:     order.Symbol,
		Exchange:   order.Exchange,
		Side:       order.Side,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		OrderID:    order.ID,
	}
	trade := l.pf.UpdateOnFill(fill)

	l.rm.UpdatePositionCount(l.pf.OpenPositionCount())
	if trade != nil {
		l.rm.UpdatePnL(trade.NetPnL)
	}

	logger.Trade(ctx, fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, order.ID)
	_ = runlog.AppendFill(runlog.FillEntry{
		RunID: l.cfg.RunID, Symbol: fill.Symbol, Side: string(fill.Side),
		Qty: fill.Quantity, Price: fill.Price, Commission: fill.Commission, OrderID: order.ID,
		Extra: map[string]any{"broker_order_id": fl.brokerID},
	})
	if trade != nil {
		_ = runlog.AppendTrade(runlog.TradeEntry{
			RunID: l.cfg.RunID, Symbol: trade.Symbol, Side: string(trade.Side),
			Qty: trade.Quantity, Entry: trade.EntryPrice, Exit: trade.ExitPrice,
			PnL: trade.PnL, Charges: trade.Charges, NetPnL: trade.NetPnL,
		})
	}

	l.notify(ctx, interfaces.EventOrderFilled, map[string]any{
		"order_id": order.ID, "symbol": fill.Symbol, "side": string(fill.Side),
		"qty": fill.Quantity, "price": fill.Price,
	})
	if order.Kind == types.StopLoss || order.Kind == types.StopLossM {
		l.notify(ctx, interfaces.EventStopLossTriggered, map[string]any{
			"order_id": order.ID, "symbol": fill.Symbol, "trigger": order.TriggerPrice,
		})
	}
	if trade != nil {
		l.notify(ctx, interfaces.EventPositionClosed, map[string]any{
			"symbol": trade.Symbol, "net_pnl": trade.NetPnL, "qty": trade.Quantity,
		})
	} else if l.pf.OpenPositionCount() > hadPosition {
		l.notify(ctx, interfaces.EventPositionOpened, map[string]any{
			"symbol": fill.Symbol, "side": string(fill.Side), "qty": fill.Quantity, "price": fill.Price,
		})
	}

	filled := types.FilledOrder{
		OrderID: order.ID, Symbol: fill.Symbol, Exchange: fill.Exchange,
		Side: fill.Side, Quantity: fill.Quantity, FillPrice: fill.Price, Time: fill.Time,
	}
	l.safeCall(ctx, "on_order_fill", func() { l.strat.OnOrderFill(l.sctx, filled) })
}

func (l *Live) settleRejection(ctx context.Context, fl inflight, st interfaces.BrokerOrderStatus) {
	status := types.StatusRejected
	if strings.ToUpper(st.Status) == "CANCELLED" {
		status = types.StatusCancelled
	}
	l.pf.UpdateOrderStatus(fl.order.ID, status, 0, 0)
	logger.Warn(ctx, "Order rejected by broker",
		"order_id", fl.order.ID, "broker_order_id", fl.brokerID, "status", st.Status, "note", st.StatusNote)
	_ = runlog.AppendEvent(runlog.EventEntry{
		RunID: l.cfg.RunID, Kind: "ORDER_" + strings.ToUpper(st.Status), Detail: st.StatusNote,
		Extra: map[string]any{"order_id": fl.order.ID},
	})
	l.notify(ctx, interfaces.EventOrderRejected, map[string]any{
		"order_id": fl.order.ID, "symbol": fl.order.Symbol, "reason": st.StatusNote, "status": st.Status,
	})
}

func (l *Live) notify(ctx context.Context, event string, payload map[string]any) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, event, payload)
}

func (l *Live) safeCall(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			l.logs = append(l.logs, fmt.Sprintf("[ERROR] %s raised: %v", name, r))
			l.mu.Unlock()
			logger.Error(ctx, "Strategy callback fault", "callback", name, "fault", fmt.Sprint(r))
			l.notify(ctx, interfaces.EventSessionCrashed, map[string]any{
				"run_id": l.cfg.RunID, "callback": name, "fault": fmt.Sprint(r),
			})
		}
	}()
	fn()
}

func (l *Live) squareOffAtCutoff(ctx context.Context, now time.Time) {
	if l.cfg.EODCutoff == "" {
		return
	}
	local := now.In(ist)
	day := local.Format("2006-01-02")
	if day == l.squaredDay {
		return
	}
	cutoff, err := time.Parse("15:04", l.cfg.EODCutoff)
	if err != nil {
		return
	}
	mark := time.Date(local.Year(), local.Month(), local.Day(), cutoff.Hour(), cutoff.Minute(), 0, 0, ist)
	if local.Before(mark) {
		return
	}
	l.squaredDay = day

	acks, err := l.broker.SquareOffAll(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "End-of-day square-off failed", err)
		return
	}
	logger.Info(ctx, "End-of-day square-off placed", "date", day, "orders", len(acks))
}

func (l *Live) Pause() error  { return l.sm.transition(StatePaused) }
func (l *Live) Resume() error { return l.sm.transition(StateRunning) }

// Stop tears down the feed and polling, then runs on_stop. Open broker
// positions are left to the broker-side product rules; the operator
// squares off explicitly via the CLI if needed.
func (l *Live) Stop(ctx context.Context) State {
	l.stopOnce.Do(func() {
		l.sm.transition(StateStopped)
		l.feed.Stop(ctx)
		l.mu.Lock()
		started := l.started
		l.mu.Unlock()
		close(l.pollStop)
		if started {
			<-l.loopDone
			<-l.pollDone
		}

		// apply settlements the dispatch loop never got to
	drain:
		for {
			select {
			case s := <-l.settled:
				l.applySettlement(ctx, s)
			default:
				break drain
			}
		}

		l.safeCall(ctx, "on_stop", func() { l.strat.OnStop(l.sctx) })
		l.pf.RecordEquity(time.Now(), l.currentPrices())
		_ = runlog.AppendEvent(runlog.EventEntry{RunID: l.cfg.RunID, Kind: "SESSION_STOPPED", Detail: "live"})
	})
	return l.sm.State()
}

func (l *Live) Snapshot() types.StateSnapshot {
	prices := l.currentPrices()
	l.mu.Lock()
	open := len(l.inflight)
	l.mu.Unlock()
	return types.StateSnapshot{
		SessionID:      l.cfg.SessionID,
		RunID:          l.cfg.RunID,
		Status:         string(l.sm.State()),
		PortfolioValue: l.pf.Value(prices),
		Cash:           l.pf.Cash(),
		TotalPnL:       l.pf.Value(prices) - l.pf.InitialCapital(),
		Positions:      l.pf.AllPositions(prices),
		OpenOrders:     open,
		TotalTrades:    len(l.pf.Trades()),
		TotalCharges:   l.pf.TotalCharges(),
		Prices:         prices,
	}
}

func (l *Live) Logs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.logs))
	copy(out, l.logs)
	return out
}

func (l *Live) Trades() []types.Trade { return l.pf.Trades() }

// ----- core interface -----

func (l *Live) historical(symbol string, periods int) []types.Bar {
	return l.hist.Historical(symbol, periods)
}

func (l *Live) currentBar(symbol string) (types.Bar, bool) {
	return l.hist.CurrentBar(symbol)
}

func (l *Live) currentPrice(symbol string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.prices[symbol]
	return p, ok
}

func (l *Live) currentPrices() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.prices))
	for k, v := range l.prices {
		out[k] = v
	}
	return out
}

// stageOrder runs the risk gate, then places at the broker. A rejected
// or failed placement returns an empty id.
func (l *Live) stageOrder(side types.Side, symbol string, quantity int, opts strategy.OrderOptions) string {
	ctx := context.Background()

	if l.entryLocked(side, symbol) {
		l.logLine(fmt.Sprintf("order rejected: %s %s inside time-lock window", side, symbol))
		return ""
	}

	l.mu.Lock()
	l.orderSeq++
	id := fmt.Sprintf("LV-%s-%d", shortID(l.cfg.RunID), l.orderSeq)
	l.mu.Unlock()

	if opts.Exchange == "" {
		if e, ok := l.exchangeFor(symbol); ok {
			opts.Exchange = e
		}
	}
	order := buildOrder(id, side, symbol, quantity, opts, time.Now())
	if order.Price == 0 {
		if ltp, ok := l.currentPrice(symbol); ok && order.Kind == types.Market {
			// risk notional check needs a price for market orders
			order.Price = ltp
		}
	}

	if err := l.rm.ValidateOrder(ctx, order, l.pf.AllPositions(l.currentPrices())); err != nil {
		l.logLine(fmt.Sprintf("order rejected: %v", err))
		_ = runlog.AppendEvent(runlog.EventEntry{
			RunID: l.cfg.RunID, Kind: "RISK_REJECTED", Detail: err.Error(),
			Extra: map[string]any{"symbol": symbol, "side": string(side), "qty": quantity},
		})
		l.notify(ctx, interfaces.EventOrderRejected, map[string]any{
			"order_id": id, "symbol": symbol, "reason": err.Error(),
		})
		return ""
	}
	if order.Kind == types.Market {
		order.Price = opts.Price // restore; the broker prices market orders
	}

	ack, err := l.broker.PlaceOrder(ctx, order)
	if err != nil {
		logger.ErrorWithErr(ctx, "Order placement failed", err, "symbol", symbol)
		l.logLine(fmt.Sprintf("order placement failed: %v", err))
		l.notify(ctx, interfaces.EventOrderRejected, map[string]any{
			"order_id": id, "symbol": symbol, "reason": err.Error(),
		})
		return ""
	}
	order.BrokerID = ack.OrderID
	l.pf.RecordOrder(order)

	l.mu.Lock()
	l.inflight = append(l.inflight, inflight{order: order, brokerID: ack.OrderID})
	l.mu.Unlock()

	logger.Signal(ctx, symbol, string(side), string(order.Kind), quantity,
		"order_id", id, "broker_order_id", ack.OrderID)
	return id
}

func (l *Live) exchangeFor(symbol string) (string, bool) {
	for _, in := range l.cfg.Instruments {
		if in.Symbol == symbol {
			return in.Exchange, true
		}
	}
	return "", false
}

func (l *Live) entryLocked(side types.Side, symbol string) bool {
	if len(l.cfg.TimeLocks) == 0 {
		return false
	}
	if pos, ok := l.pf.GetPosition(symbol); ok {
		reducing := (side == types.Sell && pos.Side == types.Long) ||
			(side == types.Buy && pos.Side == types.Short)
		if reducing {
			return false
		}
	}
	now := time.Now().In(ist)
	hhmm := now.Format("15:04")
	for _, w := range l.cfg.TimeLocks {
		if hhmm >= w.From && hhmm <= w.To {
			return true
		}
	}
	return false
}

func (l *Live) cancelOrder(orderID string) bool {
	l.mu.Lock()
	var target *inflight
	for i := range l.inflight {
		if l.inflight[i].order.ID == orderID {
			target = &l.inflight[i]
			break
		}
	}
	l.mu.Unlock()
	if target == nil {
		return false
	}
	if err := l.broker.CancelOrder(context.Background(), target.brokerID); err != nil {
		logger.Warn(context.Background(), "Order cancel failed", "order_id", orderID, "error", err.Error())
		return false
	}
	return true
}

func (l *Live) openOrders() []types.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Order, 0, len(l.inflight))
	for _, fl := range l.inflight {
		out = append(out, fl.order)
	}
	return out
}

func (l *Live) ledger() *portfolio.Portfolio { return l.pf }

func (l *Live) logLine(msg string) {
	l.mu.Lock()
	l.logs = append(l.logs, msg)
	l.mu.Unlock()
}
