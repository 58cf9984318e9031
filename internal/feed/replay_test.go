package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trading-engine/internal/types"
)

func TestReplayDeliversSequence(t *testing.T) {
	t.Parallel()
	seq := []types.Quote{
		{Symbol: "A", Price: 100},
		{Symbol: "A", Price: 101},
		{Symbol: "B", Price: 200},
	}
	r := NewReplay(seq, 0)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Subscribe(context.Background(), nil))

	var got []types.Quote
	for i := 0; i < len(seq); i++ {
		got = append(got, <-r.Quotes())
	}
	assert.Equal(t, seq, got)

	select {
	case <-r.Drained():
	case <-time.After(time.Second):
		t.Fatal("drained never closed")
	}

	r.Stop(context.Background())
	_, open := <-r.Quotes()
	assert.False(t, open)
}

func TestReplayStopInterruptsPlayback(t *testing.T) {
	t.Parallel()
	seq := make([]types.Quote, 1000)
	r := NewReplay(seq, time.Millisecond)
	require.NoError(t, r.Start(context.Background()))

	<-r.Quotes()
	r.Stop(context.Background())

	// channel closes without delivering the whole sequence
	n := 0
	for range r.Quotes() {
		n++
	}
	assert.Less(t, n, len(seq))
}

func TestReplayStopIsIdempotent(t *testing.T) {
	t.Parallel()
	r := NewReplay(nil, 0)
	require.NoError(t, r.Start(context.Background()))
	r.Stop(context.Background())
	r.Stop(context.Background())
}
