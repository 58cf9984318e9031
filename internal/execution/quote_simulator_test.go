package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/types"
)

func TestQuoteMarketFillsAtLTP(t *testing.T) {
	t.Parallel()
	s := NewQuoteSimulator(false)

	assert.Nil(t, s.TryFill(order(types.Buy, types.Market, 10, 0, 0)))

	s.UpdatePrice("RELIANCE", 2500.55)
	fill := s.TryFill(order(types.Buy, types.Market, 10, 0, 0))
	require.NotNil(t, fill)
	assert.Equal(t, 2500.55, fill.Price)
}

func TestQuoteLimitFillsAtLimitPrice(t *testing.T) {
	t.Parallel()
	s := NewQuoteSimulator(false)
	s.UpdatePrice("RELIANCE", 105)

	// buy limit below the LTP stays open
	assert.Nil(t, s.TryFill(order(types.Buy, types.Limit, 10, 100, 0)))

	s.UpdatePrice("RELIANCE", 99)
	fill := s.TryFill(order(types.Buy, types.Limit, 10, 100, 0))
	require.NotNil(t, fill)
	assert.Equal(t, 100.0, fill.Price)
}

func TestQuoteSellLimit(t *testing.T) {
	t.Parallel()
	s := NewQuoteSimulator(false)
	s.UpdatePrice("RELIANCE", 95)

	assert.Nil(t, s.TryFill(order(types.Sell, types.Limit, 10, 100, 0)))

	s.UpdatePrice("RELIANCE", 101)
	fill := s.TryFill(order(types.Sell, types.Limit, 10, 100, 0))
	require.NotNil(t, fill)
	assert.Equal(t, 100.0, fill.Price)
}

func TestQuoteStopFillsAtLTPOnceTriggered(t *testing.T) {
	t.Parallel()
	s := NewQuoteSimulator(false)
	s.UpdatePrice("RELIANCE", 98)

	// sell stop at 95 stays open while LTP is above the trigger
	assert.Nil(t, s.TryFill(order(types.Sell, types.StopLossM, 10, 0, 95)))

	s.UpdatePrice("RELIANCE", 94.5)
	fill := s.TryFill(order(types.Sell, types.StopLossM, 10, 0, 95))
	require.NotNil(t, fill)
	assert.Equal(t, 94.5, fill.Price)
}

func TestQuoteStopTriggerFallsBackToPrice(t *testing.T) {
	t.Parallel()
	s := NewQuoteSimulator(false)
	s.UpdatePrice("RELIANCE", 106)

	fill := s.TryFill(order(types.Buy, types.StopLoss, 10, 105, 0))
	require.NotNil(t, fill)
	assert.Equal(t, 106.0, fill.Price)

	// no trigger and no price cannot arm
	assert.Nil(t, s.TryFill(order(types.Buy, types.StopLoss, 10, 0, 0)))
}
