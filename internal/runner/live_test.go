package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/feed"
	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/risk"
	"algo-trading-engine/internal/strategy"
	"algo-trading-engine/internal/types"
)

// fakeBroker acks everything and completes orders at a scripted price.
type fakeBroker struct {
	mu        sync.Mutex
	placed    []types.Order
	cancelled []string
	fillPrice float64
	reject    bool
	seq       int
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, order types.Order) (interfaces.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.placed = append(b.placed, order)
	return interfaces.OrderAck{OrderID: fmt.Sprintf("BRK-%d", b.seq), Status: "OPEN"}, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, orderID)
	return nil
}

func (b *fakeBroker) OrderStatus(ctx context.Context, orderID string) (interfaces.BrokerOrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reject {
		return interfaces.BrokerOrderStatus{OrderID: orderID, Status: "REJECTED", StatusNote: "margin shortfall"}, nil
	}
	return interfaces.BrokerOrderStatus{OrderID: orderID, Status: "COMPLETE", AvgPrice: b.fillPrice, FilledQty: 1}, nil
}

func (b *fakeBroker) Positions(ctx context.Context) ([]types.PositionInfo, error) { return nil, nil }

func (b *fakeBroker) SquareOffAll(ctx context.Context) ([]interfaces.OrderAck, error) {
	return nil, nil
}

func (b *fakeBroker) orders() []types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Order, len(b.placed))
	copy(out, b.placed)
	return out
}

// recordingNotifier collects events by name.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(ctx context.Context, event string, payload map[string]any) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) seen(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

func liveConfig() LiveConfig {
	return LiveConfig{
		RunID:          "run-live",
		StrategyName:   "test_tick_buy",
		Instruments:    []types.Instrument{{Symbol: "TEST", Exchange: "NSE"}},
		InitialCapital: 100000,
		BarInterval:    time.Minute,
		RiskLimits:     risk.DefaultLimits(),
		PollInterval:   10 * time.Millisecond,
	}
}

func TestLiveRequiresBroker(t *testing.T) {
	t.Parallel()
	_, err := NewLive(liveConfig(), feed.NewReplay(nil, 0), nil, nil)
	assert.Error(t, err)
}

func TestLiveOrderRoundTrip(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	broker := &fakeBroker{fillPrice: 104.5}
	notifier := &recordingNotifier{}
	cfg := liveConfig()
	cfg.RiskLimits.EnforceMarketHours = false

	replay := feed.NewReplay(paperQuotes(), 0)
	l, err := NewLive(cfg, replay, broker, notifier)
	require.NoError(t, err)
	require.NoError(t, l.Initialize(context.Background()))
	require.NoError(t, l.Start(context.Background(), nil))

	<-replay.Drained()

	// the strategy buys on the first completed bar; the poll loop settles
	// the fill at the broker's average price
	require.Eventually(t, func() bool {
		pos, ok := l.ledger().GetPosition("TEST")
		return ok && pos.AvgEntryPrice == 104.5
	}, 2*time.Second, 5*time.Millisecond)

	placed := broker.orders()
	require.Len(t, placed, 1)
	assert.Equal(t, "TEST", placed[0].Symbol)
	assert.Equal(t, types.Buy, placed[0].Side)
	// market orders go to the broker unpriced
	assert.Equal(t, 0.0, placed[0].Price)
	assert.Equal(t, "BRK-1", placed[0].BrokerID)

	assert.True(t, notifier.seen(interfaces.EventOrderFilled))
	assert.True(t, notifier.seen(interfaces.EventPositionOpened))

	orders := l.ledger().Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, types.StatusCompleted, orders[0].Status)
	assert.Equal(t, 104.5, orders[0].FillPrice)

	state := l.Stop(context.Background())
	assert.Equal(t, StateStopped, state)
	// live stop never force-closes broker positions
	_, ok := l.ledger().GetPosition("TEST")
	assert.True(t, ok)
}

func TestLiveBrokerRejectionNotifies(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	broker := &fakeBroker{reject: true}
	notifier := &recordingNotifier{}
	cfg := liveConfig()
	cfg.RiskLimits.EnforceMarketHours = false

	replay := feed.NewReplay(paperQuotes(), 0)
	l, err := NewLive(cfg, replay, broker, notifier)
	require.NoError(t, err)
	require.NoError(t, l.Initialize(context.Background()))
	require.NoError(t, l.Start(context.Background(), nil))

	<-replay.Drained()
	require.Eventually(t, func() bool {
		return notifier.seen(interfaces.EventOrderRejected)
	}, 2*time.Second, 5*time.Millisecond)

	l.Stop(context.Background())
	assert.Zero(t, l.Snapshot().OpenOrders)
	assert.Empty(t, l.Trades())

	orders := l.ledger().Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, types.StatusRejected, orders[0].Status)
}

func TestLiveRiskGateBlocksOversizedOrders(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	broker := &fakeBroker{}
	cfg := liveConfig()
	cfg.RiskLimits.EnforceMarketHours = false
	cfg.RiskLimits.MaxPositionSize = 1

	l, err := NewLive(cfg, feed.NewReplay(nil, 0), broker, nil)
	require.NoError(t, err)
	require.NoError(t, l.Initialize(context.Background()))

	id := l.stageOrder(types.Buy, "TEST", 50, strategy.OrderOptions{Price: 100, Kind: types.Limit})
	assert.Empty(t, id)
	assert.Empty(t, broker.orders())
	assert.NotEmpty(t, l.Logs())
}

func TestLiveStopWithoutStart(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	l, err := NewLive(liveConfig(), feed.NewReplay(nil, 0), &fakeBroker{}, nil)
	require.NoError(t, err)
	require.NoError(t, l.Initialize(context.Background()))

	done := make(chan State, 1)
	go func() { done <- l.Stop(context.Background()) }()
	select {
	case st := <-done:
		assert.Equal(t, StateStopped, st)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung on a session that never started")
	}
}

// overlapGuard trips a counter if any two callbacks ever run concurrently.
type overlapGuard struct {
	running  atomic.Int32
	overlaps atomic.Int32
	buys     atomic.Int32
	fills    atomic.Int32
}

func (s *overlapGuard) enter() func() {
	if !s.running.CompareAndSwap(0, 1) {
		s.overlaps.Add(1)
		return func() {}
	}
	time.Sleep(time.Millisecond) // widen the window
	return func() { s.running.Store(0) }
}

func (s *overlapGuard) OnInit(ctx strategy.Context) error {
	defer s.enter()()
	return nil
}

func (s *overlapGuard) OnTick(ctx strategy.Context, q types.Quote) {
	defer s.enter()()
	if s.buys.Load() < 8 {
		if ctx.Buy("TEST", 1, strategy.OrderOptions{}) != "" {
			s.buys.Add(1)
		}
	}
}

func (s *overlapGuard) OnData(ctx strategy.Context) { defer s.enter()() }

func (s *overlapGuard) OnOrderFill(ctx strategy.Context, f types.FilledOrder) {
	defer s.enter()()
	s.fills.Add(1)
}

func (s *overlapGuard) OnStop(ctx strategy.Context) { defer s.enter()() }

func init() {
	strategy.Register("test_overlap_guard", func(params map[string]any) strategy.Strategy {
		return &overlapGuard{}
	})
}

func TestLiveSettlementsShareDispatchGoroutine(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	base := time.Date(2025, 1, 15, 9, 15, 0, 0, ist)
	quotes := make([]types.Quote, 150)
	for i := range quotes {
		quotes[i] = types.Quote{Symbol: "TEST", Price: 100 + float64(i%5), Time: base.Add(time.Duration(i) * time.Second)}
	}

	broker := &fakeBroker{fillPrice: 100}
	cfg := liveConfig()
	cfg.StrategyName = "test_overlap_guard"
	cfg.RiskLimits.EnforceMarketHours = false
	cfg.RiskLimits.OrdersPerMinute = 1000
	cfg.PollInterval = time.Millisecond

	replay := feed.NewReplay(quotes, time.Millisecond)
	l, err := NewLive(cfg, replay, broker, nil)
	require.NoError(t, err)
	require.NoError(t, l.Initialize(context.Background()))
	require.NoError(t, l.Start(context.Background(), nil))

	<-replay.Drained()
	s := l.strat.(*overlapGuard)
	require.Eventually(t, func() bool { return s.fills.Load() >= 8 }, 5*time.Second, 5*time.Millisecond)

	l.Stop(context.Background())
	// ticks, bars and broker settlements all dispatched on one goroutine
	assert.Zero(t, s.overlaps.Load())
	assert.Equal(t, int32(8), s.fills.Load())
}

func TestLiveCancelRoutesToBroker(t *testing.T) {
	t.Setenv("ENGINE_LOG_DIR", t.TempDir())

	broker := &fakeBroker{}
	cfg := liveConfig()
	cfg.RiskLimits.EnforceMarketHours = false

	l, err := NewLive(cfg, feed.NewReplay(nil, 0), broker, nil)
	require.NoError(t, err)
	require.NoError(t, l.Initialize(context.Background()))

	id := l.stageOrder(types.Buy, "TEST", 1, strategy.OrderOptions{Price: 100, Kind: types.Limit})
	require.NotEmpty(t, id)
	require.Len(t, l.openOrders(), 1)

	assert.False(t, l.cancelOrder("unknown"))
	assert.True(t, l.cancelOrder(id))
	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, []string{"BRK-1"}, broker.cancelled)
}
