package interfaces

import (
	"context"

	"algo-trading-engine/internal/types"
)

// QuoteFeed is a live quote source. Quotes() delivers ticks in arrival
// order; the channel closes after Stop returns.
type QuoteFeed interface {
	Start(ctx context.Context) error
	Subscribe(ctx context.Context, instruments []types.Instrument) error
	Quotes() <-chan types.Quote
	Stop(ctx context.Context)
}
