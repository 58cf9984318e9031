package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"algo-trading-engine/internal/types"
)

func TestIntradayBuyCharges(t *testing.T) {
	t.Parallel()
	// turnover 10000: brokerage 3, no STT on intraday buy, exchange 0.345,
	// GST 0.6021, SEBI 0.01, stamp 1.5
	got := CalculateCharges("NSE", types.Buy, 100, 100, types.Intraday)
	assert.Equal(t, 5.46, got)
}

func TestIntradaySellCharges(t *testing.T) {
	t.Parallel()
	// sell side swaps stamp duty for STT at 0.025%
	got := CalculateCharges("NSE", types.Sell, 100, 100, types.Intraday)
	assert.Equal(t, 6.46, got)
}

func TestDeliveryBuyCharges(t *testing.T) {
	t.Parallel()
	// zero brokerage, STT 0.1% both legs
	got := CalculateCharges("NSE", types.Buy, 100, 100, types.Delivery)
	assert.Equal(t, 11.92, got)
}

func TestBrokerageCapAt20(t *testing.T) {
	t.Parallel()
	// turnover 10 lakh: 0.03% would be 300, capped at 20
	got := CalculateCharges("NSE", types.Buy, 10000, 100, types.Intraday)
	// 20 + 34.5 exchange + 9.81 GST + 1 SEBI + 150 stamp
	assert.Equal(t, 215.31, got)
}

func TestBSEExchangeRate(t *testing.T) {
	t.Parallel()
	nse := CalculateCharges("NSE", types.Sell, 1000, 500, types.Intraday)
	bse := CalculateCharges("BSE", types.Sell, 1000, 500, types.Intraday)
	assert.Greater(t, bse, nse)
}
