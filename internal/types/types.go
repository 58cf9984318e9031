package types

import "time"

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderKind matches the order types accepted by the broker.
type OrderKind string

const (
	Market    OrderKind = "MARKET"
	Limit     OrderKind = "LIMIT"
	StopLoss  OrderKind = "SL"   // stop with limit
	StopLossM OrderKind = "SL-M" // stop, fills at market once triggered
)

// Product is the settlement product of an order.
type Product string

const (
	Intraday   Product = "MIS" // margin intraday, squared off same day
	Delivery   Product = "CNC" // cash and carry
	Derivative Product = "NRML"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// Bar is one OHLCV aggregation over a fixed time window.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// IsZero reports whether the bar carries no data.
func (b Bar) IsZero() bool {
	return b.Time.IsZero() && b.Open == 0 && b.High == 0 && b.Low == 0 && b.Close == 0
}

// Quote is a single last-traded-price update from a live feed.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume int64     `json:"volume"`
	Time   time.Time `json:"time"`
}

// Order is an intent to trade. Orders are created by strategy context calls
// and mutated only by the runner and the fill simulators; a completed order
// is never touched again.
type Order struct {
	ID           string      `json:"order_id"`
	Symbol       string      `json:"symbol"`
	Exchange     string      `json:"exchange"`
	Side         Side        `json:"side"`
	Quantity     int         `json:"quantity"`
	Kind         OrderKind   `json:"order_type"`
	Price        float64     `json:"price,omitempty"`         // limit price, 0 if unset
	TriggerPrice float64     `json:"trigger_price,omitempty"` // stop trigger, 0 if unset
	Product      Product     `json:"product"`
	Status       OrderStatus `json:"status"`
	PlacedAt     time.Time   `json:"placed_at"`
	FillPrice    float64     `json:"fill_price,omitempty"`
	Commission   float64     `json:"commission,omitempty"`
	BrokerID     string      `json:"broker_order_id,omitempty"`
	Reason       string      `json:"reason,omitempty"` // rejection reason
}

// Fill is the executed result of an order, immutable once created.
type Fill struct {
	Time       time.Time `json:"time"`
	Symbol     string    `json:"symbol"`
	Exchange   string    `json:"exchange"`
	Side       Side      `json:"side"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"` // brokerage + all regulatory charges
	OrderID    string    `json:"order_id"`
}

// FilledOrder is the view of a fill handed to strategy callbacks.
type FilledOrder struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Side      Side      `json:"side"`
	Quantity  int       `json:"quantity"`
	FillPrice float64   `json:"fill_price"`
	Time      time.Time `json:"time"`
}

// Trade is a closed round trip, recorded when a fill reduces or closes a
// position. The trade list is append-only.
type Trade struct {
	Symbol       string       `json:"symbol"`
	Exchange     string       `json:"exchange"`
	Side         PositionSide `json:"side"`
	Quantity     int          `json:"quantity"`
	EntryPrice   float64      `json:"entry_price"`
	ExitPrice    float64      `json:"exit_price"`
	PnL          float64      `json:"pnl"`
	Charges      float64      `json:"charges"`
	NetPnL       float64      `json:"net_pnl"`
	PnLPercent   float64      `json:"pnl_percent"`
	EntryAt      time.Time    `json:"entry_at"`
	ExitAt       time.Time    `json:"exit_at"`
	EntryOrderID string       `json:"entry_order_id,omitempty"`
	ExitOrderID  string       `json:"exit_order_id,omitempty"`
}

// PositionInfo is a point-in-time view of an open position, with unrealized
// P&L against the latest known price.
type PositionInfo struct {
	Symbol        string       `json:"symbol"`
	Exchange      string       `json:"exchange"`
	Side          PositionSide `json:"side"`
	Quantity      int          `json:"quantity"`
	AvgEntryPrice float64      `json:"avg_price"`
	CurrentPrice  float64      `json:"current_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	PnLPercent    float64      `json:"pnl_percent"`
}

// EquityPoint is one sample of the mark-to-market portfolio value.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// StateSnapshot is a consistent point-in-time view of a running session,
// safe to serve while the runner keeps ingesting data.
type StateSnapshot struct {
	SessionID      string             `json:"session_id"`
	RunID          string             `json:"run_id"`
	Status         string             `json:"status"`
	PortfolioValue float64            `json:"portfolio_value"`
	Cash           float64            `json:"cash"`
	TotalPnL       float64            `json:"total_pnl"`
	Positions      []PositionInfo     `json:"positions"`
	OpenOrders     int                `json:"open_orders"`
	TotalTrades    int                `json:"total_trades"`
	TotalCharges   float64            `json:"total_charges"`
	Prices         map[string]float64 `json:"prices"`
}

// Instrument identifies one tradeable symbol on an exchange.
type Instrument struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Exchange string `json:"exchange" yaml:"exchange"`
	Token    uint32 `json:"token,omitempty" yaml:"token,omitempty"`
}

// UnrealizedPnL computes the open P&L of a position at price.
func UnrealizedPnL(side PositionSide, qty int, avgPrice, price float64) float64 {
	if side == Long {
		return (price - avgPrice) * float64(qty)
	}
	return (avgPrice - price) * float64(qty)
}
