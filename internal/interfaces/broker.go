package interfaces

import (
	"context"

	"algo-trading-engine/internal/types"
)

// OrderAck is the broker's response to a placement request.
type OrderAck struct {
	OrderID string
	Status  string
}

// BrokerOrderStatus is the broker-side view of an outstanding order.
// Status values follow the broker's vocabulary (OPEN, COMPLETE,
// REJECTED, CANCELLED).
type BrokerOrderStatus struct {
	OrderID    string
	Status     string
	AvgPrice   float64
	FilledQty  int
	StatusNote string
}

// Executor is the live-trading order surface. The live runner polls
// OrderStatus until each order reaches a terminal status.
type Executor interface {
	PlaceOrder(ctx context.Context, order types.Order) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (BrokerOrderStatus, error)
	Positions(ctx context.Context) ([]types.PositionInfo, error)
	SquareOffAll(ctx context.Context) ([]OrderAck, error)
}
