package order

import (
	"math"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// trigger tracks a parked STOP, STOP_LIMIT or TRAILING_STOP order. Trailing
// stops ratchet once per observed tick, never between ticks.
type trigger struct {
	order  *types.Order
	offset float64
	water  float64 // high for sells, low for buys
	seen   bool
}

func newTrigger(o *types.Order) *trigger {
	t := &trigger{order: o}
	if off, ok := o.TrailingOffset.Get(); ok {
		t.offset = off.Value
	}
	return t
}

// observe feeds one reference price. Only trailing stops change state.
func (t *trigger) observe(last float64) {
	o := t.order
	if o.Type != types.TrailingStop || last <= 0 {
		return
	}
	stop, hasStop := o.StopPrice.Get()
	if !t.seen {
		t.seen = true
		t.water = last
		if !o.TrailingOffset.IsSome() && hasStop {
			t.offset = math.Abs(last - stop.Value)
		}
	}

	var candidate float64
	switch o.Side {
	case types.Sell:
		t.water = math.Max(t.water, last)
		candidate = t.water - t.offset
		if hasStop && candidate <= stop.Value {
			return
		}
	case types.Buy:
		t.water = math.Min(t.water, last)
		candidate = t.water + t.offset
		if hasStop && candidate >= stop.Value {
			return
		}
	default:
		return
	}
	o.StopPrice = types.SomePrice(types.NewPrice(candidate))
}

// fired reports whether last has reached the stop.
func (t *trigger) fired(last float64) bool {
	stop, ok := t.order.StopPrice.Get()
	if !ok || last <= 0 {
		return false
	}
	p := types.NewPrice(last)
	switch t.order.Side {
	case types.Buy:
		return !p.Less(stop)
	case types.Sell:
		return !p.Greater(stop)
	default:
		return false
	}
}

// referencePrice extracts the trigger reference from a tick: last trade,
// else the mid when both quotes are present.
func referencePrice(tick types.MarketTick) float64 {
	if tick.Last.IsPositive() {
		return tick.Last.Value
	}
	if tick.Bid.IsPositive() && tick.Ask.IsPositive() {
		return tick.Mid().Value
	}
	return 0
}
