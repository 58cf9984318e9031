package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/types"
)

// stubContext is a minimal Context for registry and builtin tests.
type stubContext struct {
	params map[string]any
	bars   map[string][]types.Bar
	buys   []string
	sells  []string
	held   map[string]types.PositionInfo
	logs   []string
}

func newStubContext() *stubContext {
	return &stubContext{
		params: make(map[string]any),
		bars:   make(map[string][]types.Bar),
		held:   make(map[string]types.PositionInfo),
	}
}

func (c *stubContext) Historical(symbol string, periods int) []types.Bar {
	bars := c.bars[symbol]
	if len(bars) > periods {
		bars = bars[len(bars)-periods:]
	}
	return bars
}

func (c *stubContext) CurrentPrice(symbol string) (float64, bool) {
	bars := c.bars[symbol]
	if len(bars) == 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

func (c *stubContext) CurrentBar(symbol string) (types.Bar, bool) {
	bars := c.bars[symbol]
	if len(bars) == 0 {
		return types.Bar{}, false
	}
	return bars[len(bars)-1], true
}

func (c *stubContext) Buy(symbol string, quantity int, opts OrderOptions) string {
	c.buys = append(c.buys, symbol)
	return "B-1"
}

func (c *stubContext) Sell(symbol string, quantity int, opts OrderOptions) string {
	c.sells = append(c.sells, symbol)
	return "S-1"
}

func (c *stubContext) CancelOrder(orderID string) bool { return false }

func (c *stubContext) Positions() []types.PositionInfo { return nil }

func (c *stubContext) Position(symbol string) (types.PositionInfo, bool) {
	p, ok := c.held[symbol]
	return p, ok
}

func (c *stubContext) PortfolioValue() float64   { return 0 }
func (c *stubContext) Cash() float64             { return 0 }
func (c *stubContext) OpenOrders() []types.Order { return nil }
func (c *stubContext) Log(msg string)            { c.logs = append(c.logs, msg) }

func (c *stubContext) Param(key string, def any) any {
	if v, ok := c.params[key]; ok {
		return v
	}
	return def
}

func TestLoadUnknownStrategyReturnsCompileError(t *testing.T) {
	t.Parallel()
	_, err := Load("does_not_exist", nil)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "does_not_exist", ce.Name)
	assert.Contains(t, ce.Error(), "does_not_exist")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()
	Register("dup_check", func(params map[string]any) Strategy { return &buyAndHold{} })
	assert.Panics(t, func() {
		Register("dup_check", func(params map[string]any) Strategy { return &buyAndHold{} })
	})
}

func TestNamesIncludesBuiltins(t *testing.T) {
	t.Parallel()
	names := Names()
	assert.Contains(t, names, "buy_and_hold")
	assert.Contains(t, names, "sma_crossover")
	assert.Contains(t, names, "rsi_reversion")
}

func TestBuyAndHoldBuysEachSymbolOnce(t *testing.T) {
	t.Parallel()
	s, err := Load("buy_and_hold", nil)
	require.NoError(t, err)

	ctx := newStubContext()
	ctx.params["symbols"] = []string{"A", "B"}
	ctx.params["quantity"] = 5
	ctx.bars["A"] = []types.Bar{{Close: 100}}
	ctx.bars["B"] = []types.Bar{{Close: 200}}

	require.NoError(t, s.OnInit(ctx))
	s.OnData(ctx)
	s.OnData(ctx)

	assert.ElementsMatch(t, []string{"A", "B"}, ctx.buys)
}

func TestSMACrossoverRejectsBadWindows(t *testing.T) {
	t.Parallel()
	s, err := Load("sma_crossover", nil)
	require.NoError(t, err)

	ctx := newStubContext()
	ctx.params["fast"] = 30
	ctx.params["slow"] = 10
	assert.Error(t, s.OnInit(ctx))
}

func TestSMACrossoverEntersOnCross(t *testing.T) {
	t.Parallel()
	s, err := Load("sma_crossover", nil)
	require.NoError(t, err)

	ctx := newStubContext()
	ctx.params["symbols"] = []string{"A"}
	ctx.params["fast"] = 2
	ctx.params["slow"] = 3
	require.NoError(t, s.OnInit(ctx))

	// flat series then a sharp rally: fast SMA crosses above slow
	closes := []float64{100, 100, 100, 130}
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{Close: c}
	}
	ctx.bars["A"] = bars

	s.OnData(ctx)
	assert.Equal(t, []string{"A"}, ctx.buys)
	assert.Empty(t, ctx.sells)
}

func TestParamCoercion(t *testing.T) {
	t.Parallel()
	ctx := newStubContext()
	ctx.params["float_qty"] = 7.0 // YAML numbers decode as float64
	ctx.params["int_qty"] = 3

	assert.Equal(t, 7, paramInt(ctx, "float_qty", 1))
	assert.Equal(t, 3, paramInt(ctx, "int_qty", 1))
	assert.Equal(t, 1, paramInt(ctx, "missing", 1))
	assert.Equal(t, 3.0, paramFloat(ctx, "int_qty", 0))

	ctx.params["symbols"] = []any{"A", "B"}
	assert.Equal(t, []string{"A", "B"}, paramSymbols(ctx))
}
