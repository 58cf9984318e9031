package kite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/types"
)

// DryRun mimics the broker surface without touching real money. Orders
// ack immediately and report COMPLETE at the last price supplied by the
// price source, so the live runner can be exercised end to end.
type DryRun struct {
	mu     sync.Mutex
	seq    int
	orders map[string]types.Order
	price  func(symbol string) (float64, bool)
}

var _ interfaces.Executor = (*DryRun)(nil)

func NewDryRun(price func(symbol string) (float64, bool)) *DryRun {
	return &DryRun{
		orders: make(map[string]types.Order),
		price:  price,
	}
}

func (d *DryRun) PlaceOrder(ctx context.Context, order types.Order) (interfaces.OrderAck, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := fmt.Sprintf("SIM-%d-%d", time.Now().UnixNano(), d.seq)
	d.orders[id] = order
	return interfaces.OrderAck{OrderID: id, Status: "SIMULATED"}, nil
}

func (d *DryRun) CancelOrder(ctx context.Context, orderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.orders[orderID]; !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	delete(d.orders, orderID)
	return nil
}

func (d *DryRun) OrderStatus(ctx context.Context, orderID string) (interfaces.BrokerOrderStatus, error) {
	d.mu.Lock()
	order, ok := d.orders[orderID]
	d.mu.Unlock()
	if !ok {
		return interfaces.BrokerOrderStatus{}, fmt.Errorf("unknown order %s", orderID)
	}

	ltp, have := d.price(order.Symbol)
	if !have {
		return interfaces.BrokerOrderStatus{OrderID: orderID, Status: "OPEN"}, nil
	}
	price := ltp
	if order.Kind == types.Limit && order.Price > 0 {
		price = order.Price
	}

	d.mu.Lock()
	delete(d.orders, orderID)
	d.mu.Unlock()
	return interfaces.BrokerOrderStatus{
		OrderID:   orderID,
		Status:    "COMPLETE",
		AvgPrice:  price,
		FilledQty: order.Quantity,
	}, nil
}

func (d *DryRun) Positions(ctx context.Context) ([]types.PositionInfo, error) {
	return nil, nil
}

func (d *DryRun) SquareOffAll(ctx context.Context) ([]interfaces.OrderAck, error) {
	return nil, nil
}
