package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/types"
)

var ist = time.FixedZone("IST", 19800)

// Limits configures the pre-trade safety rules.
type Limits struct {
	MaxPositionSize    int     // max quantity per order
	MaxOrderValue      float64 // price * quantity ceiling
	DailyLossLimit     float64 // positive number, loss beyond this halts new orders
	MaxOpenPositions   int
	OrdersPerMinute    int
	EnforceMarketHours bool
	MarketOpen         string // HH:MM IST
	MarketClose        string // HH:MM IST
}

// DefaultLimits mirrors the conservative production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:    100,
		MaxOrderValue:      500000,
		DailyLossLimit:     50000,
		MaxOpenPositions:   10,
		OrdersPerMinute:    10,
		EnforceMarketHours: true,
		MarketOpen:         "09:15",
		MarketClose:        "15:30",
	}
}

// Manager validates every order before it reaches the broker. Checks run
// in a fixed order and short-circuit on the first failure:
//
//  1. market hours (IST)
//  2. max position size
//  3. max order value
//  4. daily loss limit
//  5. max open positions (buy side, with short close-out exemption)
//  6. order rate limit (rolling 60s)
//
// Daily counters reset when the IST calendar date changes.
type Manager struct {
	mu sync.Mutex

	limits Limits
	now    func() time.Time

	dailyPnL      float64
	orderTimes    []time.Time
	positionCount int
	dailyDate     string
}

func NewManager(limits Limits) *Manager {
	return &Manager{
		limits: limits,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// ResetDaily clears the daily loss and rate-limit counters.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDaily()
}

func (m *Manager) resetDaily() {
	m.dailyPnL = 0
	m.orderTimes = m.orderTimes[:0]
	m.dailyDate = m.now().In(ist).Format("2006-01-02")
}

// UpdatePnL accumulates realized P&L into the daily total.
func (m *Manager) UpdatePnL(realized float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if today := m.now().In(ist).Format("2006-01-02"); today != m.dailyDate {
		m.resetDaily()
	}
	m.dailyPnL += realized
}

// UpdatePositionCount records the current number of open positions.
func (m *Manager) UpdatePositionCount(count int) {
	m.mu.Lock()
	m.positionCount = count
	m.mu.Unlock()
}

// DailyPnL returns the realized P&L accumulated today.
func (m *Manager) DailyPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL
}

// ValidateOrder runs all risk checks against the order. On success the
// order timestamp is recorded against the rate limit and nil is returned;
// otherwise the rejection reason is returned as an error.
func (m *Manager) ValidateOrder(ctx context.Context, order types.Order, positions []types.PositionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowIST := m.now().In(ist)
	if today := nowIST.Format("2006-01-02"); today != m.dailyDate {
		m.resetDaily()
	}

	if m.limits.EnforceMarketHours {
		open := atTime(nowIST, m.limits.MarketOpen)
		close := atTime(nowIST, m.limits.MarketClose)
		if nowIST.Before(open) || nowIST.After(close) {
			return m.reject(ctx, order, fmt.Sprintf("market is closed, trading hours %s - %s IST",
				m.limits.MarketOpen, m.limits.MarketClose))
		}
	}

	if order.Quantity > m.limits.MaxPositionSize {
		return m.reject(ctx, order, fmt.Sprintf("order quantity %d exceeds max position size %d",
			order.Quantity, m.limits.MaxPositionSize))
	}

	if order.Price > 0 {
		if value := order.Price * float64(order.Quantity); value > m.limits.MaxOrderValue {
			return m.reject(ctx, order, fmt.Sprintf("order value %.2f exceeds max %.2f",
				value, m.limits.MaxOrderValue))
		}
	}

	if m.dailyPnL < -m.limits.DailyLossLimit {
		return m.reject(ctx, order, fmt.Sprintf("daily loss limit reached: %.2f (limit: -%.2f)",
			m.dailyPnL, m.limits.DailyLossLimit))
	}

	if order.Side == types.Buy && m.positionCount >= m.limits.MaxOpenPositions {
		if !closesShort(order.Symbol, positions) {
			return m.reject(ctx, order, fmt.Sprintf("max open positions (%d) reached", m.limits.MaxOpenPositions))
		}
	}

	cutoff := m.now().Add(-time.Minute)
	kept := m.orderTimes[:0]
	for _, t := range m.orderTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.orderTimes = kept
	if len(m.orderTimes) >= m.limits.OrdersPerMinute {
		return m.reject(ctx, order, fmt.Sprintf("rate limit: max %d orders per minute", m.limits.OrdersPerMinute))
	}

	m.orderTimes = append(m.orderTimes, m.now())

	logger.Info(ctx, "Risk check passed",
		"symbol", order.Symbol, "side", string(order.Side), "qty", order.Quantity)
	return nil
}

func (m *Manager) reject(ctx context.Context, order types.Order, reason string) error {
	logger.Risk(ctx, order.Symbol, "ORDER_REJECTED",
		"side", string(order.Side), "qty", order.Quantity, "reason", reason)
	return fmt.Errorf("risk check failed: %s", reason)
}

// closesShort reports whether a buy for symbol would reduce an existing
// short. Such buys are exempt from the open-position cap.
func closesShort(symbol string, positions []types.PositionInfo) bool {
	for _, p := range positions {
		if p.Symbol == symbol && p.Side == types.Short {
			return true
		}
	}
	return false
}

// atTime replaces the clock time on day with the HH:MM value, keeping the
// IST date.
func atTime(day time.Time, hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return day
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, ist)
}
