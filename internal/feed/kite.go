package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/logger"
	"algo-trading-engine/internal/types"
)

// Kite streams live quotes over the Kite Connect WebSocket.
type Kite struct {
	apiKey      string
	accessToken string

	ticker *kiteticker.Ticker
	quotes chan types.Quote

	mu            sync.RWMutex
	tokenToSymbol map[uint32]string
	stopped       bool

	stopOnce sync.Once
}

var _ interfaces.QuoteFeed = (*Kite)(nil)

func NewKite(apiKey, accessToken string) (*Kite, error) {
	if apiKey == "" || accessToken == "" {
		return nil, fmt.Errorf("kite feed requires api key and access token")
	}
	return &Kite{
		apiKey:        apiKey,
		accessToken:   accessToken,
		quotes:        make(chan types.Quote, 1024),
		tokenToSymbol: make(map[uint32]string),
	}, nil
}

func (k *Kite) Start(ctx context.Context) error {
	k.ticker = kiteticker.New(k.apiKey, k.accessToken)

	k.ticker.OnConnect(func() {
		logger.Info(ctx, "Kite ticker connected")
	})
	k.ticker.OnError(func(err error) {
		logger.ErrorWithErr(ctx, "Kite ticker error", err)
	})
	k.ticker.OnClose(func(code int, reason string) {
		logger.Warn(ctx, "Kite ticker closed", "code", code, "reason", reason)
	})
	k.ticker.OnReconnect(k.onReconnect)
	k.ticker.OnNoReconnect(func(attempt int) {
		logger.Error(ctx, "Kite ticker gave up reconnecting", "attempt", attempt)
	})
	k.ticker.OnTick(k.onTick)

	go func() {
		logger.Info(ctx, "Starting Kite WebSocket ticker")
		k.ticker.Serve()
	}()
	return nil
}

func (k *Kite) Subscribe(ctx context.Context, instruments []types.Instrument) error {
	tokens := make([]uint32, 0, len(instruments))
	k.mu.Lock()
	for _, in := range instruments {
		if in.Token == 0 {
			k.mu.Unlock()
			return fmt.Errorf("instrument %s has no token", in.Symbol)
		}
		k.tokenToSymbol[in.Token] = in.Symbol
		tokens = append(tokens, in.Token)
	}
	k.mu.Unlock()

	if err := k.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("subscribing tokens: %w", err)
	}
	if err := k.ticker.SetMode(kiteticker.ModeFull, tokens); err != nil {
		return fmt.Errorf("setting ticker mode: %w", err)
	}
	logger.Info(ctx, "Subscribed instruments", "count", len(tokens))
	return nil
}

func (k *Kite) onReconnect(attempt int, delay time.Duration) {
	logger.Warn(context.Background(), "Kite ticker reconnecting",
		"attempt", attempt, "delay_sec", delay.Seconds())
}

// onTick holds the read lock across the send so Stop cannot close the
// channel while a tick is in flight.
func (k *Kite) onTick(tick models.Tick) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.stopped {
		return
	}
	symbol, ok := k.tokenToSymbol[tick.InstrumentToken]
	if !ok {
		return
	}
	q := types.Quote{
		Symbol: symbol,
		Price:  tick.LastPrice,
		Volume: int64(tick.VolumeTraded),
		Time:   tick.Timestamp.Time,
	}
	// drop on backpressure rather than stall the websocket reader
	select {
	case k.quotes <- q:
	default:
	}
}

func (k *Kite) Quotes() <-chan types.Quote { return k.quotes }

func (k *Kite) Stop(ctx context.Context) {
	k.stopOnce.Do(func() {
		if k.ticker != nil {
			logger.Info(ctx, "Stopping Kite WebSocket ticker")
			k.ticker.Stop()
		}
		k.mu.Lock()
		k.stopped = true
		k.mu.Unlock()
		close(k.quotes)
	})
}
