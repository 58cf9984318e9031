package execution

import (
	"sync"
	"time"

	"algo-trading-engine/internal/types"
)

// QuoteSimulator fills orders against the last traded price from a live
// feed. Used by paper trading, where there is no bar to scan for limit and
// trigger levels.
type QuoteSimulator struct {
	mu      sync.RWMutex
	prices  map[string]float64
	charges bool
	now     func() time.Time
}

func NewQuoteSimulator(charges bool) *QuoteSimulator {
	return &QuoteSimulator{
		prices:  make(map[string]float64),
		charges: charges,
		now:     time.Now,
	}
}

// UpdatePrice records the latest traded price for a symbol.
func (s *QuoteSimulator) UpdatePrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// Price returns the last known price for symbol, ok=false before the
// first tick arrives.
func (s *QuoteSimulator) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// Prices returns a copy of all known last traded prices.
func (s *QuoteSimulator) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// TryFill attempts to fill order at the current LTP. MARKET orders fill
// immediately. LIMIT orders fill at the limit once the LTP is at or
// through it. SL and SL-M orders fill at the LTP once the trigger is hit.
// Returns nil while the order cannot fill.
func (s *QuoteSimulator) TryFill(order types.Order) *types.Fill {
	s.mu.RLock()
	ltp, ok := s.prices[order.Symbol]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	fillPrice := ltp

	switch order.Kind {
	case types.Limit:
		if order.Price > 0 {
			if order.Side == types.Buy && ltp > order.Price {
				return nil
			}
			if order.Side == types.Sell && ltp < order.Price {
				return nil
			}
			fillPrice = order.Price
		}

	case types.StopLoss, types.StopLossM:
		trigger := order.TriggerPrice
		if trigger == 0 {
			trigger = order.Price
		}
		if trigger == 0 {
			return nil
		}
		if order.Side == types.Buy && ltp < trigger {
			return nil
		}
		if order.Side == types.Sell && ltp > trigger {
			return nil
		}
	}

	var commission float64
	if s.charges {
		commission = CalculateCharges(order.Exchange, order.Side, order.Quantity, fillPrice, order.Product)
	}

	return &types.Fill{
		Time:       s.now(),
		Symbol:     order.Symbol,
		Exchange:   order.Exchange,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      round2(fillPrice),
		Commission: commission,
		OrderID:    order.ID,
	}
}
