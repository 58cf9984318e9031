package portfolio

import (
	"context"
	"math"
	"sync"
	"time"

	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/types"
)

// position is the internal open-position record. Exposed only through
// PositionInfo copies so callers cannot mutate ledger state.
type position struct {
	quantity     int
	avgPrice     float64
	side         types.PositionSide
	exchange     string
	totalCost    float64
	entryAt      time.Time
	entryOrderID string
}

// Portfolio is the in-memory ledger for one run: cash, open positions,
// equity curve, completed trades and order records. All methods are safe
// for concurrent use.
type Portfolio struct {
	mu sync.RWMutex

	initialCapital float64
	cash           float64
	positions      map[string]*position
	equityCurve    []types.EquityPoint
	trades         []types.Trade
	orders         []types.Order
	totalCharges   float64
}

func New(initialCapital float64) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*position),
	}
}

// UpdateOnFill applies a fill to the ledger. A buy against a short, or a
// sell against a long, reduces or closes that position; same-direction
// fills extend it at volume-weighted average price. Returns the completed
// trade when the fill closed or reduced a position, nil otherwise.
func (p *Portfolio) UpdateOnFill(fill types.Fill) *types.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applyFill(fill)
}

func (p *Portfolio) applyFill(fill types.Fill) *types.Trade {
	p.totalCharges += fill.Commission

	isBuy := fill.Side == types.Buy
	pos, ok := p.positions[fill.Symbol]

	if !ok {
		p.openPosition(fill)
		if isBuy {
			p.cash -= fill.Price*float64(fill.Quantity) + fill.Commission
		} else {
			p.cash += fill.Price*float64(fill.Quantity) - fill.Commission
		}
		return nil
	}

	if (isBuy && pos.side == types.Long) || (!isBuy && pos.side == types.Short) {
		p.addToPosition(pos, fill)
		if isBuy {
			p.cash -= fill.Price*float64(fill.Quantity) + fill.Commission
		} else {
			p.cash += fill.Price*float64(fill.Quantity) - fill.Commission
		}
		return nil
	}

	return p.reducePosition(pos, fill)
}

func (p *Portfolio) openPosition(fill types.Fill) {
	side := types.Short
	if fill.Side == types.Buy {
		side = types.Long
	}
	p.positions[fill.Symbol] = &position{
		quantity:     fill.Quantity,
		avgPrice:     fill.Price,
		side:         side,
		exchange:     fill.Exchange,
		totalCost:    fill.Price * float64(fill.Quantity),
		entryAt:      fill.Time,
		entryOrderID: fill.OrderID,
	}
	logger.Debug(context.Background(), "Opened position",
		"symbol", fill.Symbol, "side", side, "qty", fill.Quantity, "price", fill.Price)
}

func (p *Portfolio) addToPosition(pos *position, fill types.Fill) {
	totalQty := pos.quantity + fill.Quantity
	totalCost := pos.totalCost + fill.Price*float64(fill.Quantity)

	pos.quantity = totalQty
	pos.totalCost = totalCost
	pos.avgPrice = round2(totalCost / float64(totalQty))

	logger.Debug(context.Background(), "Added to position",
		"symbol", fill.Symbol, "side", pos.side, "qty", fill.Quantity,
		"price", fill.Price, "avg_price", pos.avgPrice, "total_qty", totalQty)
}

// reducePosition closes up to the open quantity, records the round trip,
// and opens a fresh position in the fill's direction with any excess.
func (p *Portfolio) reducePosition(pos *position, fill types.Fill) *types.Trade {
	closeQty := fill.Quantity
	if pos.quantity < closeQty {
		closeQty = pos.quantity
	}
	remainingQty := pos.quantity - closeQty
	excessQty := fill.Quantity - closeQty

	var pnl float64
	if pos.side == types.Long {
		pnl = (fill.Price - pos.avgPrice) * float64(closeQty)
		p.cash += fill.Price*float64(closeQty) - fill.Commission
	} else {
		pnl = (pos.avgPrice - fill.Price) * float64(closeQty)
		p.cash -= fill.Price*float64(closeQty) + fill.Commission
	}

	pnlPercent := 0.0
	if basis := pos.avgPrice * float64(closeQty); basis != 0 {
		pnlPercent = round4(pnl / basis * 100)
	}

	trade := types.Trade{
		Symbol:       fill.Symbol,
		Exchange:     fill.Exchange,
		Side:         pos.side,
		Quantity:     closeQty,
		EntryPrice:   pos.avgPrice,
		ExitPrice:    fill.Price,
		PnL:          round2(pnl),
		Charges:      round2(fill.Commission),
		NetPnL:       round2(pnl - fill.Commission),
		PnLPercent:   pnlPercent,
		EntryAt:      pos.entryAt,
		ExitAt:       fill.Time,
		EntryOrderID: pos.entryOrderID,
		ExitOrderID:  fill.OrderID,
	}
	p.trades = append(p.trades, trade)

	logger.Debug(context.Background(), "Closed position",
		"symbol", fill.Symbol, "side", pos.side, "qty", closeQty,
		"entry", pos.avgPrice, "exit", fill.Price, "pnl", trade.PnL)

	if remainingQty > 0 {
		pos.quantity = remainingQty
		pos.totalCost = pos.avgPrice * float64(remainingQty)
	} else {
		delete(p.positions, fill.Symbol)
	}

	if excessQty > 0 {
		newSide := types.Short
		if fill.Side == types.Buy {
			newSide = types.Long
		}
		p.positions[fill.Symbol] = &position{
			quantity:     excessQty,
			avgPrice:     fill.Price,
			side:         newSide,
			exchange:     fill.Exchange,
			totalCost:    fill.Price * float64(excessQty),
			entryAt:      fill.Time,
			entryOrderID: fill.OrderID,
		}
		if fill.Side == types.Buy {
			p.cash -= fill.Price * float64(excessQty)
		} else {
			p.cash += fill.Price * float64(excessQty)
		}
		logger.Debug(context.Background(), "Reversed position",
			"symbol", fill.Symbol, "side", newSide, "qty", excessQty, "price", fill.Price)
	}

	return &trade
}

// GetPosition returns the open position for symbol, or ok=false if flat.
// The returned view carries no mark-to-market fields; use AllPositions
// with prices for unrealized P&L.
func (p *Portfolio) GetPosition(symbol string) (types.PositionInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return types.PositionInfo{}, false
	}
	return types.PositionInfo{
		Symbol:        symbol,
		Exchange:      pos.exchange,
		Side:          pos.side,
		Quantity:      pos.quantity,
		AvgEntryPrice: pos.avgPrice,
	}, true
}

// AllPositions returns all open positions marked to the supplied prices.
// Symbols missing a price are marked at their entry price.
func (p *Portfolio) AllPositions(prices map[string]float64) []types.PositionInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.PositionInfo, 0, len(p.positions))
	for symbol, pos := range p.positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.avgPrice
		}
		unreal := types.UnrealizedPnL(pos.side, pos.quantity, pos.avgPrice, price)
		pct := 0.0
		if basis := pos.avgPrice * float64(pos.quantity); basis != 0 {
			pct = round4(unreal / basis * 100)
		}
		out = append(out, types.PositionInfo{
			Symbol:        symbol,
			Exchange:      pos.exchange,
			Side:          pos.side,
			Quantity:      pos.quantity,
			AvgEntryPrice: pos.avgPrice,
			CurrentPrice:  price,
			UnrealizedPnL: round2(unreal),
			PnLPercent:    pct,
		})
	}
	return out
}

// Value returns cash plus mark-to-market position value. Short positions
// contribute negatively: cash already holds the sale proceeds, so the
// liability is the buyback cost at the current price.
func (p *Portfolio) Value(prices map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value(prices)
}

func (p *Portfolio) value(prices map[string]float64) float64 {
	positionValue := 0.0
	for symbol, pos := range p.positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.avgPrice
		}
		if pos.side == types.Long {
			positionValue += price * float64(pos.quantity)
		} else {
			positionValue -= price * float64(pos.quantity)
		}
	}
	return p.cash + positionValue
}

// RecordEquity appends a mark-to-market snapshot to the equity curve.
func (p *Portfolio) RecordEquity(ts time.Time, prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.equityCurve = append(p.equityCurve, types.EquityPoint{
		Time:   ts,
		Equity: round2(p.value(prices)),
	})
}

// RecordOrder appends an order record for reference.
func (p *Portfolio) RecordOrder(order types.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
}

// UpdateOrderStatus moves a recorded order out of the pending state.
// Fill price and commission are stored on completion only.
func (p *Portfolio) UpdateOrderStatus(orderID string, status types.OrderStatus, fillPrice, commission float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.orders {
		if p.orders[i].ID != orderID {
			continue
		}
		p.orders[i].Status = status
		if status == types.StatusCompleted {
			p.orders[i].FillPrice = fillPrice
			p.orders[i].Commission = commission
		}
		return true
	}
	return false
}

// CloseAllPositions force-closes every open position at the supplied
// prices with synthetic zero-commission fills. Used at end of run so all
// round trips are recorded.
func (p *Portfolio) CloseAllPositions(prices map[string]float64, ts time.Time) []types.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()

	symbols := make([]string, 0, len(p.positions))
	for s := range p.positions {
		symbols = append(symbols, s)
	}

	var closed []types.Trade
	for _, symbol := range symbols {
		pos := p.positions[symbol]
		price, ok := prices[symbol]
		if !ok {
			price = pos.avgPrice
		}
		closeSide := types.Sell
		if pos.side == types.Short {
			closeSide = types.Buy
		}
		fill := types.Fill{
			Time:     ts,
			Symbol:   symbol,
			Exchange: pos.exchange,
			Side:     closeSide,
			Quantity: pos.quantity,
			Price:    price,
			OrderID:  "CLOSE-" + symbol,
		}
		if trade := p.applyFill(fill); trade != nil {
			closed = append(closed, *trade)
		}
	}
	return closed
}

func (p *Portfolio) InitialCapital() float64 {
	return p.initialCapital
}

func (p *Portfolio) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

func (p *Portfolio) TotalCharges() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalCharges
}

func (p *Portfolio) OpenPositionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions)
}

// Trades returns a copy of the completed trade list.
func (p *Portfolio) Trades() []types.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// EquityCurve returns a copy of the recorded equity snapshots.
func (p *Portfolio) EquityCurve() []types.EquityPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.EquityPoint, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}

// Orders returns a copy of all recorded orders.
func (p *Portfolio) Orders() []types.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Order, len(p.orders))
	copy(out, p.orders)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
