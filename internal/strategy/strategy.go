// Package strategy defines the contract between the engine and trading
// strategies. Strategies are pre-compiled Go types registered by name;
// there is no dynamic code loading. The Context interface is the complete
// capability surface a strategy can reach, so strategy code has no access
// to the runner, broker, or ledger beyond what it exposes.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"algo-trading-engine/internal/types"
)

// OrderOptions refines a Buy or Sell call. The zero value means a MARKET
// order on NSE for intraday (MIS) settlement.
type OrderOptions struct {
	Kind         types.OrderKind
	Price        float64
	TriggerPrice float64
	Exchange     string
	Product      types.Product
}

// Context is the capability surface handed to strategy callbacks.
// Historical data never includes bars beyond the runner's current
// position, so look-ahead is structurally impossible.
type Context interface {
	// Historical returns up to periods bars for symbol, oldest first.
	Historical(symbol string, periods int) []types.Bar
	CurrentPrice(symbol string) (float64, bool)
	CurrentBar(symbol string) (types.Bar, bool)

	// Buy and Sell stage an order and return its id. An empty id means
	// the order was rejected by a risk check or time lock.
	Buy(symbol string, quantity int, opts OrderOptions) string
	Sell(symbol string, quantity int, opts OrderOptions) string
	CancelOrder(orderID string) bool

	Positions() []types.PositionInfo
	Position(symbol string) (types.PositionInfo, bool)
	PortfolioValue() float64
	Cash() float64
	OpenOrders() []types.Order

	// Param reads a strategy parameter, falling back to def when unset.
	Param(key string, def any) any
	// Log writes a line to the run log.
	Log(msg string)
}

// Strategy is the lifecycle every strategy implements. Callbacks run on
// the runner's single dispatch goroutine; an OnInit error aborts the run,
// panics in other callbacks are recovered and logged by the runner.
type Strategy interface {
	OnInit(ctx Context) error
	OnData(ctx Context)
	OnOrderFill(ctx Context, fill types.FilledOrder)
	OnStop(ctx Context)
}

// TickHandler is implemented by strategies that also want every raw quote
// in paper and live modes.
type TickHandler interface {
	OnTick(ctx Context, quote types.Quote)
}

// CompileError reports a strategy that could not be loaded. It surfaces
// before any run starts, never mid-run.
type CompileError struct {
	Name   string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("strategy %q: %s", e.Name, e.Reason)
}

// Factory builds a fresh strategy instance per run.
type Factory func(params map[string]any) Strategy

var (
	regMu    sync.RWMutex
	registry = make(map[string]Factory)
)

// Register adds a strategy factory under name. Panics on duplicates;
// registration happens in init functions where a duplicate is a
// programming error.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = f
}

// Load builds a strategy by name. Unknown names return *CompileError.
func Load(name string, params map[string]any) (Strategy, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, &CompileError{Name: name, Reason: "not found in registry"}
	}
	return f(params), nil
}

// Names lists all registered strategies, sorted.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
