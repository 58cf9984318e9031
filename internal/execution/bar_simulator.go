package execution

import (
	"context"
	"fmt"
	"math"

	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/types"
)

// FillAt selects the base price for market fills.
type FillAt string

const (
	// FillAtNextOpen fills at the next bar's open plus slippage. The
	// strategy decides after seeing the current bar, so the earliest
	// realistic execution is the next open.
	FillAtNextOpen FillAt = "next_open"
	// FillAtCurrentClose fills at the current bar's close plus slippage,
	// as if a market-on-close order were placed.
	FillAtCurrentClose FillAt = "current_close"
)

// BarSimulator fills orders against OHLCV bars with configurable slippage.
// Supports MARKET, LIMIT, SL and SL-M order kinds.
type BarSimulator struct {
	slippage float64 // fraction, e.g. 0.0005
	fillAt   FillAt
	charges  bool
}

// NewBarSimulator builds a simulator. slippagePct is in percent
// (0.05 means 5 bps); buys slip up, sells slip down.
func NewBarSimulator(slippagePct float64, fillAt FillAt, charges bool) (*BarSimulator, error) {
	if fillAt != FillAtNextOpen && fillAt != FillAtCurrentClose {
		return nil, fmt.Errorf("fill_at must be %q or %q, got %q", FillAtNextOpen, FillAtCurrentClose, fillAt)
	}
	return &BarSimulator{
		slippage: slippagePct / 100.0,
		fillAt:   fillAt,
		charges:  charges,
	}, nil
}

// ExecuteOrder attempts to fill order given the current bar and, when
// available, the following bar. Returns nil when the order cannot fill on
// this bar (limit never reached, stop never triggered).
func (s *BarSimulator) ExecuteOrder(order types.Order, current types.Bar, next *types.Bar) *types.Fill {
	switch order.Kind {
	case types.Market:
		return s.fillMarket(order, current, next)
	case types.Limit:
		return s.fillLimit(order, current, next)
	case types.StopLoss:
		return s.fillStopLoss(order, current, next)
	case types.StopLossM:
		return s.fillStopLossMarket(order, current, next)
	default:
		logger.Warn(context.Background(), "Unknown order type, treating as MARKET",
			"order_id", order.ID, "order_type", string(order.Kind))
		return s.fillMarket(order, current, next)
	}
}

func (s *BarSimulator) fillMarket(order types.Order, current types.Bar, next *types.Bar) *types.Fill {
	base := s.basePrice(current, next)
	price := s.applySlippage(base, order.Side)
	return s.createFill(order, price, current, next)
}

// fillLimit fills a limit order when the price was reachable during the
// execution bar. BUY fills when low <= limit, SELL when high >= limit; the
// fill price is the limit, improved to the open when the open is already
// through the limit.
func (s *BarSimulator) fillLimit(order types.Order, current types.Bar, next *types.Bar) *types.Fill {
	if order.Price == 0 {
		logger.Warn(context.Background(), "LIMIT order has no price, skipping",
			"order_id", order.ID, "symbol", order.Symbol)
		return nil
	}

	bar := s.executionBar(current, next)

	if order.Side == types.Buy {
		if bar.Low <= order.Price {
			price := math.Min(order.Price, bar.Open)
			return s.createFill(order, price, current, next)
		}
	} else {
		if bar.High >= order.Price {
			price := math.Max(order.Price, bar.Open)
			return s.createFill(order, price, current, next)
		}
	}
	return nil
}

// fillStopLoss handles SL orders: the trigger activates the order, which
// then behaves as a limit order at order.Price.
func (s *BarSimulator) fillStopLoss(order types.Order, current types.Bar, next *types.Bar) *types.Fill {
	if order.TriggerPrice == 0 {
		logger.Warn(context.Background(), "SL order has no trigger price, skipping",
			"order_id", order.ID, "symbol", order.Symbol)
		return nil
	}

	bar := s.executionBar(current, next)
	isBuy := order.Side == types.Buy

	var triggered bool
	if isBuy {
		triggered = bar.High >= order.TriggerPrice
	} else {
		triggered = bar.Low <= order.TriggerPrice
	}
	if !triggered {
		return nil
	}

	limit := order.Price
	if limit == 0 {
		limit = order.TriggerPrice
	}
	if isBuy {
		if bar.Low <= limit {
			price := math.Min(limit, math.Max(bar.Open, order.TriggerPrice))
			return s.createFill(order, price, current, next)
		}
	} else {
		if bar.High >= limit {
			price := math.Max(limit, math.Min(bar.Open, order.TriggerPrice))
			return s.createFill(order, price, current, next)
		}
	}
	return nil
}

// fillStopLossMarket handles SL-M orders: same trigger as SL, then fills
// as a market order at the worse of open and trigger, plus slippage.
func (s *BarSimulator) fillStopLossMarket(order types.Order, current types.Bar, next *types.Bar) *types.Fill {
	if order.TriggerPrice == 0 {
		logger.Warn(context.Background(), "SL-M order has no trigger price, skipping",
			"order_id", order.ID, "symbol", order.Symbol)
		return nil
	}

	bar := s.executionBar(current, next)

	if order.Side == types.Buy {
		if bar.High >= order.TriggerPrice {
			base := math.Max(bar.Open, order.TriggerPrice)
			price := s.applySlippage(base, order.Side)
			return s.createFill(order, price, current, next)
		}
	} else {
		if bar.Low <= order.TriggerPrice {
			base := math.Min(bar.Open, order.TriggerPrice)
			price := s.applySlippage(base, order.Side)
			return s.createFill(order, price, current, next)
		}
	}
	return nil
}

// basePrice picks the market fill base. In next_open mode the last bar of
// data has no successor, so the current close is used.
func (s *BarSimulator) basePrice(current types.Bar, next *types.Bar) float64 {
	if s.fillAt == FillAtNextOpen {
		if next == nil {
			return current.Close
		}
		return next.Open
	}
	return current.Close
}

// executionBar is the bar against which limit and stop conditions are
// evaluated.
func (s *BarSimulator) executionBar(current types.Bar, next *types.Bar) types.Bar {
	if s.fillAt == FillAtNextOpen && next != nil {
		return *next
	}
	return current
}

func (s *BarSimulator) applySlippage(price float64, side types.Side) float64 {
	if side == types.Buy {
		return round2(price * (1 + s.slippage))
	}
	return round2(price * (1 - s.slippage))
}

func (s *BarSimulator) createFill(order types.Order, price float64, current types.Bar, next *types.Bar) *types.Fill {
	var commission float64
	if s.charges {
		commission = CalculateCharges(order.Exchange, order.Side, order.Quantity, price, order.Product)
	}

	fillTime := current.Time
	if s.fillAt == FillAtNextOpen && next != nil {
		fillTime = next.Time
	}

	return &types.Fill{
		Time:       fillTime,
		Symbol:     order.Symbol,
		Exchange:   order.Exchange,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      round2(price),
		Commission: commission,
		OrderID:    order.ID,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
