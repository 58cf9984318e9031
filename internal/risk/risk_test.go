package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/types"
)

func testOrder(side types.Side, qty int, price float64) types.Order {
	return types.Order{
		ID: "R-1", Symbol: "RELIANCE", Exchange: "NSE",
		Side: side, Quantity: qty, Price: price,
		Kind: types.Market, Product: types.Intraday,
	}
}

// fixedClock pins the manager to a tradeable IST moment.
func fixedClock(m *Manager) time.Time {
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, ist)
	m.SetClock(func() time.Time { return at })
	return at
}

func TestValidOrderPasses(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultLimits())
	fixedClock(m)
	assert.NoError(t, m.ValidateOrder(context.Background(), testOrder(types.Buy, 10, 100), nil))
}

func TestMarketHoursCheck(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultLimits())
	m.SetClock(func() time.Time {
		return time.Date(2025, 1, 15, 8, 0, 0, 0, ist)
	})
	err := m.ValidateOrder(context.Background(), testOrder(types.Buy, 10, 100), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market is closed")
}

func TestMarketHoursDisabled(t *testing.T) {
	t.Parallel()
	limits := DefaultLimits()
	limits.EnforceMarketHours = false
	m := NewManager(limits)
	m.SetClock(func() time.Time {
		return time.Date(2025, 1, 15, 3, 0, 0, 0, ist)
	})
	assert.NoError(t, m.ValidateOrder(context.Background(), testOrder(types.Buy, 10, 100), nil))
}

func TestMaxPositionSize(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultLimits())
	fixedClock(m)
	err := m.ValidateOrder(context.Background(), testOrder(types.Buy, 101, 100), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max position size")
}

func TestMaxOrderValue(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultLimits())
	fixedClock(m)

	err := m.ValidateOrder(context.Background(), testOrder(types.Buy, 100, 6000), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order value")

	// zero price skips the notional check
	assert.NoError(t, m.ValidateOrder(context.Background(), testOrder(types.Buy, 100, 0), nil))
}

func TestDailyLossLimitHaltsOrders(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultLimits())
	fixedClock(m)
	m.ResetDaily()
	m.UpdatePnL(-50001)

	err := m.ValidateOrder(context.Background(), testOrder(types.Buy, 10, 100), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily loss limit")
}

func TestMaxOpenPositionsBlocksNewBuys(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultLimits())
	fixedClock(m)
	m.UpdatePositionCount(10)

	err := m.ValidateOrder(context.Background(), testOrder(types.Buy, 10, 100), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max open positions")

	// sells are not capped
	assert.NoError(t, m.ValidateOrder(context.Background(), testOrder(types.Sell, 10, 100), nil))

	// a buy that closes an existing short is exempt
	short := []types.PositionInfo{{Symbol: "RELIANCE", Side: types.Short, Quantity: 10}}
	assert.NoError(t, m.ValidateOrder(context.Background(), testOrder(types.Buy, 10, 100), short))
}

func TestOrderRateLimit(t *testing.T) {
	t.Parallel()
	limits := DefaultLimits()
	limits.OrdersPerMinute = 3
	m := NewManager(limits)

	at := time.Date(2025, 1, 15, 10, 0, 0, 0, ist)
	m.SetClock(func() time.Time { return at })

	for i := 0; i < 3; i++ {
		require.NoError(t, m.ValidateOrder(context.Background(), testOrder(types.Buy, 1, 100), nil))
	}
	err := m.ValidateOrder(context.Background(), testOrder(types.Buy, 1, 100), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")

	// window rolls forward and frees capacity
	at = at.Add(61 * time.Second)
	assert.NoError(t, m.ValidateOrder(context.Background(), testOrder(types.Buy, 1, 100), nil))
}

func TestDailyResetOnNewISTDate(t *testing.T) {
	t.Parallel()
	m := NewManager(DefaultLimits())

	at := time.Date(2025, 1, 15, 10, 0, 0, 0, ist)
	m.SetClock(func() time.Time { return at })
	m.ResetDaily()
	m.UpdatePnL(-60000)
	require.Error(t, m.ValidateOrder(context.Background(), testOrder(types.Buy, 1, 100), nil))

	at = at.Add(24 * time.Hour)
	assert.NoError(t, m.ValidateOrder(context.Background(), testOrder(types.Buy, 1, 100), nil))
	assert.Equal(t, 0.0, m.DailyPnL())
}
