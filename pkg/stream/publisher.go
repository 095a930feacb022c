package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer acknowledged by all replicas.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// TradePublisher forwards taker trade legs to Kafka, keyed by symbol. Publish
// never blocks the matching path: when the queue is full the trade is
// dropped and counted.
type TradePublisher struct {
	w       MessageWriter
	queue   chan types.Trade
	dropped atomic.Uint64
	log     *zap.SugaredLogger
}

func NewTradePublisher(w MessageWriter, buffer int, log *zap.SugaredLogger) *TradePublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TradePublisher{w: w, queue: make(chan types.Trade, buffer), log: log}
}

// Publish queues t. Maker legs are skipped; the taker leg carries the match.
func (p *TradePublisher) Publish(t types.Trade) {
	if t.Liquidity != types.Taker {
		return
	}
	select {
	case p.queue <- t:
	default:
		n := p.dropped.Add(1)
		p.log.Warnw("trade_publish_dropped", "trade_id", t.ID, "dropped", n)
	}
}

// Run drains the queue until ctx is done, then flushes what is left and
// closes the writer.
func (p *TradePublisher) Run(ctx context.Context) error {
	for {
		select {
		case t := <-p.queue:
			p.send(ctx, t)
		case <-ctx.Done():
			flush, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			p.drain(flush)
			cancel()
			return errors.Join(ctx.Err(), p.w.Close())
		}
	}
}

// Dropped is the number of trades discarded because the queue was full.
func (p *TradePublisher) Dropped() uint64 { return p.dropped.Load() }

func (p *TradePublisher) drain(ctx context.Context) {
	for {
		select {
		case t := <-p.queue:
			p.send(ctx, t)
		default:
			return
		}
	}
}

func (p *TradePublisher) send(ctx context.Context, t types.Trade) {
	value, err := json.Marshal(t)
	if err != nil {
		p.log.Errorw("trade_encode_failed", "trade_id", t.ID, "err", err)
		return
	}
	msg := kafka.Message{Key: []byte(t.Symbol()), Value: value, Time: t.Timestamp}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.log.Errorw("trade_publish_failed", "trade_id", t.ID, "err", err)
	}
}
