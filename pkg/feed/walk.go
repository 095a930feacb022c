package feed

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// Market describes one simulated symbol.
type Market struct {
	Symbol     string
	StartPrice float64
	TickSize   float64
}

// Walk produces geometric random-walk ticks for a set of markets. It is not
// safe for concurrent use.
type Walk struct {
	markets []Market
	last    map[string]float64
	vol     float64 // per-step standard deviation of log returns
	rng     *rand.Rand
}

func NewWalk(markets []Market, vol float64, seed uint64) *Walk {
	last := make(map[string]float64, len(markets))
	for _, m := range markets {
		last[m.Symbol] = m.StartPrice
	}
	return &Walk{
		markets: markets,
		last:    last,
		vol:     vol,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Step advances every market one step and returns the new ticks in market
// order.
func (w *Walk) Step(now time.Time) []types.MarketTick {
	out := make([]types.MarketTick, 0, len(w.markets))
	for _, m := range w.markets {
		prev := w.last[m.Symbol]
		next := roundToTick(prev*math.Exp(w.vol*w.rng.NormFloat64()), m.TickSize)
		if next <= 0 {
			next = m.TickSize
		}
		w.last[m.Symbol] = next

		half := m.TickSize
		if half <= 0 {
			half = 0.01
		}
		out = append(out, types.MarketTick{
			Symbol:    m.Symbol,
			Bid:       types.NewPrice(next - half),
			Ask:       types.NewPrice(next + half),
			Last:      types.NewPrice(next),
			BidSize:   types.NewQuantity(float64(1 + w.rng.IntN(500))),
			AskSize:   types.NewQuantity(float64(1 + w.rng.IntN(500))),
			Volume:    float64(w.rng.IntN(10000)),
			Timestamp: now,
		})
	}
	return out
}

// Last returns the most recent simulated price of symbol.
func (w *Walk) Last(symbol string) float64 { return w.last[symbol] }

func roundToTick(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(v).Div(t).Round(0).Mul(t).Float64()
	return f
}
