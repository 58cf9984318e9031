package feed

import (
	"context"
	"sync"
	"time"

	"algo-trading-engine/internal/interfaces"
	"algo-trading-engine/internal/types"
)

// Replay plays a fixed quote sequence into the channel, optionally
// pacing deliveries. Used for paper sessions against recorded data and
// in tests.
type Replay struct {
	sequence []types.Quote
	pace     time.Duration

	quotes   chan types.Quote
	stop     chan struct{}
	drained  chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

var _ interfaces.QuoteFeed = (*Replay)(nil)

func NewReplay(sequence []types.Quote, pace time.Duration) *Replay {
	return &Replay{
		sequence: sequence,
		pace:     pace,
		quotes:   make(chan types.Quote, 64),
		stop:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

func (r *Replay) Start(ctx context.Context) error {
	r.done.Add(1)
	go func() {
		defer r.done.Done()
		defer close(r.quotes)
		for _, q := range r.sequence {
			if r.pace > 0 {
				select {
				case <-time.After(r.pace):
				case <-r.stop:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case r.quotes <- q:
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
		close(r.drained)
		<-r.stop
	}()
	return nil
}

// Drained closes once every quote in the sequence has been delivered.
func (r *Replay) Drained() <-chan struct{} { return r.drained }

func (r *Replay) Subscribe(ctx context.Context, instruments []types.Instrument) error {
	return nil
}

func (r *Replay) Quotes() <-chan types.Quote { return r.quotes }

func (r *Replay) Stop(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stop) })
	r.done.Wait()
}
