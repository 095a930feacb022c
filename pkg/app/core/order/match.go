package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// matchLocked walks the opposite side best price first, FIFO within a
// level, until taker is filled, the side is empty or prices stop crossing.
// Every fill yields a taker leg and a maker leg sharing a match id, both at
// the resting price.
func (m *Manager) matchLocked(tx *orderbook.Tx, taker *types.Order, limit types.OptionalPrice, inst market.Instrument) (legs []types.Trade, makers []*types.Order) {
	for taker.Remaining().IsPositive() {
		maker := tx.Front(taker.Side.Opposite())
		if maker == nil {
			break
		}
		price, _ := maker.LimitPrice.Get()
		if !orderbook.Crosses(taker.Side, limit, price) {
			break
		}

		qty := taker.Remaining().Min(maker.Remaining())
		taker.Fill(qty, price)
		maker.Fill(qty, price)
		if maker.Status == types.Filled {
			tx.RemoveOrder(maker.ID)
		} else {
			tx.UpdateOrder(maker)
		}

		matchID := uuid.NewString()
		now := m.clock.Now()
		legs = append(legs,
			newLeg(taker, qty, price, types.Taker, matchID, inst, now),
			newLeg(maker, qty, price, types.Maker, matchID, inst, now),
		)
		makers = append(makers, maker)
	}
	return legs, makers
}

func newLeg(o *types.Order, qty types.Quantity, price types.Price, liq types.Liquidity, matchID string, inst market.Instrument, at time.Time) types.Trade {
	t := types.Trade{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		OrderID:   o.ID,
		Account:   o.Account,
		Asset:     o.Asset,
		Side:      o.Side,
		Quantity:  qty,
		Price:     price,
		Liquidity: liq,
		Timestamp: at,
	}
	t.Commission = inst.Fee(t.Notional(), liq)
	return t
}
