package kite

import (
	"context"
	"fmt"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/types"
)

// Executor places orders through the Zerodha Kite Connect REST API.
type Executor struct {
	kc *kiteconnect.Client
}

var _ interfaces.Executor = (*Executor)(nil)

func NewExecutor(apiKey, accessToken string) (*Executor, error) {
	if apiKey == "" || accessToken == "" {
		return nil, fmt.Errorf("kite executor requires api key and access token")
	}
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	return &Executor{kc: kc}, nil
}

func (e *Executor) PlaceOrder(ctx context.Context, order types.Order) (interfaces.OrderAck, error) {
	params := kiteconnect.OrderParams{
		Exchange:        order.Exchange,
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.Kind),
		Product:         string(order.Product),
		Quantity:        order.Quantity,
		Validity:        "DAY",
		Tag:             order.ID,
	}
	if order.Kind == types.Limit || order.Kind == types.StopLoss {
		params.Price = order.Price
	}
	if order.Kind == types.StopLoss || order.Kind == types.StopLossM {
		params.TriggerPrice = order.TriggerPrice
	}

	resp, err := e.kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return interfaces.OrderAck{}, fmt.Errorf("placing order %s: %w", order.ID, err)
	}
	logger.Info(ctx, "Order placed at broker",
		"order_id", order.ID, "broker_order_id", resp.OrderID, "symbol", order.Symbol)
	return interfaces.OrderAck{OrderID: resp.OrderID, Status: "PLACED"}, nil
}

func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := e.kc.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// OrderStatus returns the latest state from the order history; Kite
// reports the full lifecycle, the last entry is current.
func (e *Executor) OrderStatus(ctx context.Context, orderID string) (interfaces.BrokerOrderStatus, error) {
	history, err := e.kc.GetOrderHistory(orderID)
	if err != nil {
		return interfaces.BrokerOrderStatus{}, fmt.Errorf("fetching order history %s: %w", orderID, err)
	}
	if len(history) == 0 {
		return interfaces.BrokerOrderStatus{}, fmt.Errorf("no history for order %s", orderID)
	}
	last := history[len(history)-1]
	return interfaces.BrokerOrderStatus{
		OrderID:    orderID,
		Status:     last.Status,
		AvgPrice:   last.AveragePrice,
		FilledQty:  int(last.FilledQuantity),
		StatusNote: last.StatusMessage,
	}, nil
}

func (e *Executor) Positions(ctx context.Context) ([]types.PositionInfo, error) {
	positions, err := e.kc.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	out := make([]types.PositionInfo, 0, len(positions.Net))
	for _, p := range positions.Net {
		if p.Quantity == 0 {
			continue
		}
		side := types.Long
		qty := p.Quantity
		if qty < 0 {
			side = types.Short
			qty = -qty
		}
		out = append(out, types.PositionInfo{
			Symbol:        p.Tradingsymbol,
			Exchange:      p.Exchange,
			Side:          side,
			Quantity:      qty,
			AvgEntryPrice: p.AveragePrice,
			CurrentPrice:  p.LastPrice,
			UnrealizedPnL: types.UnrealizedPnL(side, qty, p.AveragePrice, p.LastPrice),
		})
	}
	return out, nil
}

// SquareOffAll places opposing market orders for every open net position.
func (e *Executor) SquareOffAll(ctx context.Context) ([]interfaces.OrderAck, error) {
	open, err := e.Positions(ctx)
	if err != nil {
		return nil, err
	}
	var acks []interfaces.OrderAck
	for _, pos := range open {
		side := types.Sell
		if pos.Side == types.Short {
			side = types.Buy
		}
		ack, err := e.PlaceOrder(ctx, types.Order{
			ID:       fmt.Sprintf("SQOFF-%s", pos.Symbol),
			Symbol:   pos.Symbol,
			Exchange: pos.Exchange,
			Side:     side,
			Quantity: pos.Quantity,
			Kind:     types.Market,
			Product:  types.Intraday,
		})
		if err != nil {
			logger.ErrorWithErr(ctx, "Square-off order failed", err, "symbol", pos.Symbol)
			continue
		}
		acks = append(acks, ack)
	}
	return acks, nil
}
