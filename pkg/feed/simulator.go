package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/order"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
	"github.com/uhyunpark/matchcore/pkg/util"
)

// Venue is what the simulator drives.
type Venue interface {
	ProcessMarketTick(tick types.MarketTick) []order.ExecutionResult
	SubmitOrder(o types.Order) order.ExecutionResult
	CancelOrder(id string) order.ExecutionResult
}

type Config struct {
	Markets    []Market
	Interval   time.Duration
	Volatility float64
	Seed       uint64

	// QuoteSize > 0 makes the simulator act as a market maker: after every
	// tick it replaces its resting bid and ask at the quoted prices.
	QuoteSize float64
	Account   string

	Clock  util.Clock
	Logger *zap.SugaredLogger
}

func DefaultConfig() Config {
	return Config{
		Interval:   time.Second,
		Volatility: 0.001,
		Seed:       1,
		QuoteSize:  100,
		Account:    "mm",
	}
}

// Simulator feeds random-walk ticks and optional maker quotes into a venue.
type Simulator struct {
	cfg    Config
	venue  Venue
	walk   *Walk
	quotes map[string][]string // symbol -> resting quote ids
	ticks  int
	log    *zap.SugaredLogger
}

func NewSimulator(v Venue, cfg Config) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Simulator{
		cfg:    cfg,
		venue:  v,
		walk:   NewWalk(cfg.Markets, cfg.Volatility, cfg.Seed),
		quotes: make(map[string][]string),
		log:    cfg.Logger,
	}
}

// Step publishes one tick per market and refreshes quotes.
func (s *Simulator) Step() {
	for _, tick := range s.walk.Step(s.cfg.Clock.Now()) {
		s.venue.ProcessMarketTick(tick)
		if s.cfg.QuoteSize > 0 {
			s.requote(tick)
		}
	}
	s.ticks++
}

func (s *Simulator) requote(tick types.MarketTick) {
	for _, id := range s.quotes[tick.Symbol] {
		s.venue.CancelOrder(id) // already-filled quotes fail harmlessly
	}
	s.quotes[tick.Symbol] = s.quotes[tick.Symbol][:0]

	for _, q := range []struct {
		side  types.Side
		price types.Price
	}{{types.Buy, tick.Bid}, {types.Sell, tick.Ask}} {
		res := s.venue.SubmitOrder(types.Order{
			Asset:      types.Asset{Symbol: tick.Symbol},
			Account:    s.cfg.Account,
			Type:       types.Limit,
			Side:       q.side,
			Quantity:   types.NewQuantity(s.cfg.QuoteSize),
			LimitPrice: types.SomePrice(q.price),
			TIF:        types.GTC,
		})
		if !res.Success {
			s.log.Debugw("quote_rejected", "symbol", tick.Symbol, "side", q.side.String(), "reason", res.Message)
			continue
		}
		if res.Order.IsActive() {
			s.quotes[tick.Symbol] = append(s.quotes[tick.Symbol], res.Order.ID)
		}
	}
}

// Run steps every Interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	s.log.Infow("feed_started", "markets", len(s.cfg.Markets), "interval", s.cfg.Interval.String(), "quote_size", s.cfg.QuoteSize)
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("feed_stopped", "steps", s.ticks, "elapsed", time.Since(start).Round(time.Second).String())
			return ctx.Err()
		case <-ticker.C:
			s.Step()
			if s.ticks%100 == 0 {
				s.log.Debugw("feed_progress", "steps", s.ticks)
			}
		}
	}
}

// Steps is the number of completed steps.
func (s *Simulator) Steps() int { return s.ticks }
