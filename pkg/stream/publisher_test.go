package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func TestPublisherSendsTakerLegsKeyedBySymbol(t *testing.T) {
	w := &recordingWriter{}
	p := NewTradePublisher(w, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	leg := types.Trade{ID: "T1", MatchID: "M1", Asset: types.Asset{Symbol: "MSFT"}, Liquidity: types.Taker,
		Quantity: types.NewQuantity(3), Price: types.NewPrice(410.5)}
	p.Publish(leg)
	maker := leg
	maker.Liquidity = types.Maker
	p.Publish(maker)

	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.True(t, w.closed)
	assert.Equal(t, "MSFT", string(w.msgs[0].Key))
	var got types.Trade
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "M1", got.MatchID)
	assert.Equal(t, "410.50", got.Price.String())
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	w := &recordingWriter{}
	p := NewTradePublisher(w, 1, nil)
	leg := types.Trade{Asset: types.Asset{Symbol: "AAPL"}, Liquidity: types.Taker}
	p.Publish(leg)
	p.Publish(leg)
	assert.Equal(t, uint64(1), p.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Run(ctx)
	assert.Equal(t, 1, w.count(), "queued trade is flushed on shutdown")
}
