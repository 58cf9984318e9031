package runner

import (
	"time"

	"algo-trading-engine/internal/portfolio"
	"algo-trading-engine/internal/strategy"
	"algo-trading-engine/internal/types"
)

var ist = time.FixedZone("IST", 19800)

// core is the surface each runner variant exposes to its strategy
// context. All methods run on the runner's dispatch goroutine.
type core interface {
	historical(symbol string, periods int) []types.Bar
	currentBar(symbol string) (types.Bar, bool)
	currentPrice(symbol string) (float64, bool)
	currentPrices() map[string]float64
	stageOrder(side types.Side, symbol string, quantity int, opts strategy.OrderOptions) string
	cancelOrder(orderID string) bool
	openOrders() []types.Order
	ledger() *portfolio.Portfolio
	logLine(msg string)
}

// strategyContext bridges strategy calls into the owning runner. It is
// the only object strategy code ever receives.
type strategyContext struct {
	core   core
	params map[string]any
}

var _ strategy.Context = (*strategyContext)(nil)

func newStrategyContext(c core, params map[string]any) *strategyContext {
	if params == nil {
		params = make(map[string]any)
	}
	return &strategyContext{core: c, params: params}
}

func (c *strategyContext) Historical(symbol string, periods int) []types.Bar {
	return c.core.historical(symbol, periods)
}

func (c *strategyContext) CurrentPrice(symbol string) (float64, bool) {
	return c.core.currentPrice(symbol)
}

func (c *strategyContext) CurrentBar(symbol string) (types.Bar, bool) {
	return c.core.currentBar(symbol)
}

func (c *strategyContext) Buy(symbol string, quantity int, opts strategy.OrderOptions) string {
	return c.core.stageOrder(types.Buy, symbol, quantity, opts)
}

func (c *strategyContext) Sell(symbol string, quantity int, opts strategy.OrderOptions) string {
	return c.core.stageOrder(types.Sell, symbol, quantity, opts)
}

func (c *strategyContext) CancelOrder(orderID string) bool {
	return c.core.cancelOrder(orderID)
}

func (c *strategyContext) Positions() []types.PositionInfo {
	return c.core.ledger().AllPositions(c.core.currentPrices())
}

func (c *strategyContext) Position(symbol string) (types.PositionInfo, bool) {
	pos, ok := c.core.ledger().GetPosition(symbol)
	if !ok {
		return types.PositionInfo{}, false
	}
	if price, have := c.core.currentPrice(symbol); have {
		pos.CurrentPrice = price
		pos.UnrealizedPnL = types.UnrealizedPnL(pos.Side, pos.Quantity, pos.AvgEntryPrice, price)
		if basis := pos.AvgEntryPrice * float64(pos.Quantity); basis != 0 {
			pos.PnLPercent = pos.UnrealizedPnL / basis * 100
		}
	}
	return pos, true
}

func (c *strategyContext) PortfolioValue() float64 {
	return c.core.ledger().Value(c.core.currentPrices())
}

func (c *strategyContext) Cash() float64 {
	return c.core.ledger().Cash()
}

func (c *strategyContext) OpenOrders() []types.Order {
	return c.core.openOrders()
}

func (c *strategyContext) Param(key string, def any) any {
	if v, ok := c.params[key]; ok {
		return v
	}
	return def
}

func (c *strategyContext) Log(msg string) {
	c.core.logLine(msg)
}

// buildOrder normalizes an order request. The zero OrderOptions means a
// MARKET order on NSE for intraday settlement; SL kinds with no separate
// trigger use the supplied price as the trigger.
func buildOrder(id string, side types.Side, symbol string, quantity int, opts strategy.OrderOptions, ts time.Time) types.Order {
	kind := opts.Kind
	if kind == "" {
		kind = types.Market
	}
	exchange := opts.Exchange
	if exchange == "" {
		exchange = "NSE"
	}
	product := opts.Product
	if product == "" {
		product = types.Intraday
	}
	trigger := opts.TriggerPrice
	if trigger == 0 && (kind == types.StopLoss || kind == types.StopLossM) {
		trigger = opts.Price
	}
	return types.Order{
		ID:           id,
		Symbol:       symbol,
		Exchange:     exchange,
		Side:         side,
		Quantity:     quantity,
		Kind:         kind,
		Price:        opts.Price,
		TriggerPrice: trigger,
		Product:      product,
		Status:       types.StatusPending,
		PlacedAt:     ts,
	}
}
