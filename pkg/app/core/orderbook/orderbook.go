package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// Level is an aggregated view of one price level.
type Level struct {
	Price    types.Price    `json:"price"`
	Quantity types.Quantity `json:"quantity"`
	Orders   int            `json:"orders"`
}

// Snapshot is a point-in-time copy of the top of a book.
type Snapshot struct {
	Symbol    string              `json:"symbol"`
	Bids      []Level             `json:"bids"`
	Asks      []Level             `json:"asks"`
	BestBid   types.OptionalPrice `json:"bestBid"`
	BestAsk   types.OptionalPrice `json:"bestAsk"`
	Spread    types.OptionalPrice `json:"spread"`
	Timestamp time.Time           `json:"timestamp"`
}

// OrderBook holds the resting limit orders of one symbol. It holds live
// order pointers owned by the caller; matching logic lives elsewhere and
// mutates the book through Apply.
type OrderBook struct {
	mu sync.RWMutex

	symbol string
	bids   bookSide
	asks   bookSide

	// order ID -> slot, for O(1) removal
	index map[string]*entry
	seq   uint64
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   newBookSide(true),
		asks:   newBookSide(false),
		index:  make(map[string]*entry),
	}
}

func (ob *OrderBook) Symbol() string { return ob.symbol }

// Tx is the unlocked view of a book handed to Apply. It must not escape the
// callback.
type Tx struct {
	ob *OrderBook
}

// Apply runs fn with the write lock held so several mutations appear atomic
// to readers. Mutations already made are not rolled back if fn fails.
func (ob *OrderBook) Apply(fn func(tx *Tx) error) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return fn(&Tx{ob: ob})
}

// View runs fn with the read lock held.
func (ob *OrderBook) View(fn func(tx *Tx)) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	fn(&Tx{ob: ob})
}

func (tx *Tx) AddOrder(o *types.Order) error      { return tx.ob.addOrder(o) }
func (tx *Tx) RemoveOrder(id string) bool         { return tx.ob.removeOrder(id) }
func (tx *Tx) UpdateOrder(o *types.Order) bool    { return tx.ob.updateOrder(o) }
func (tx *Tx) Front(side types.Side) *types.Order { return tx.ob.front(side) }
func (tx *Tx) BestBid() types.OptionalPrice       { return tx.ob.bestPrice(types.Buy) }
func (tx *Tx) BestAsk() types.OptionalPrice       { return tx.ob.bestPrice(types.Sell) }
func (tx *Tx) Depth(side types.Side) int          { return tx.ob.side(side).levels.Len() }
func (tx *Tx) Len() int                           { return len(tx.ob.index) }

func (tx *Tx) Contains(id string) bool {
	_, ok := tx.ob.index[id]
	return ok
}

func (tx *Tx) TopLevels(n int) (bids, asks []Level) { return tx.ob.topLevels(n) }

func (tx *Tx) CrossingQuantity(taker types.Side, limit types.OptionalPrice) types.Quantity {
	return tx.ob.crossingQuantity(taker, limit)
}

// SweepPrice is the volume-weighted price a taker on side would pay for qty,
// walking the opposite side best first. When the side holds less than qty the
// average covers what rests. NoPrice for an empty side.
func (tx *Tx) SweepPrice(taker types.Side, qty types.Quantity) types.OptionalPrice {
	return tx.ob.sweepPrice(taker, qty)
}

// AddOrder rests a limit order at its limit price behind everything already
// at that price.
func (ob *OrderBook) AddOrder(o *types.Order) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.addOrder(o)
}

// RemoveOrder unlinks an order. Unknown ids are a no-op returning false.
func (ob *OrderBook) RemoveOrder(id string) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.removeOrder(id)
}

// UpdateOrder refreshes level totals after the order's filled quantity
// changed. Priority is unchanged.
func (ob *OrderBook) UpdateOrder(o *types.Order) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.updateOrder(o)
}

// TopLevels returns up to n levels per side, best first. n <= 0 means all.
func (ob *OrderBook) TopLevels(n int) (bids, asks []Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.topLevels(n)
}

// BestBid returns NoPrice when there are no bids.
func (ob *OrderBook) BestBid() types.OptionalPrice {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bestPrice(types.Buy)
}

// BestAsk returns NoPrice when there are no asks.
func (ob *OrderBook) BestAsk() types.OptionalPrice {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bestPrice(types.Sell)
}

// Spread is defined only when both sides have liquidity.
func (ob *OrderBook) Spread() types.OptionalPrice {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.spread()
}

func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.index)
}

func (ob *OrderBook) Contains(id string) bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	_, ok := ob.index[id]
	return ok
}

// Snapshot copies the top depth levels of both sides.
func (ob *OrderBook) Snapshot(depth int) Snapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bids, asks := ob.topLevels(depth)
	return Snapshot{
		Symbol:    ob.symbol,
		Bids:      bids,
		Asks:      asks,
		BestBid:   ob.bestPrice(types.Buy),
		BestAsk:   ob.bestPrice(types.Sell),
		Spread:    ob.spread(),
		Timestamp: time.Now(),
	}
}

// Clear drops every resting order.
func (ob *OrderBook) Clear() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.bids.clear()
	ob.asks.clear()
	ob.index = make(map[string]*entry)
}

func (ob *OrderBook) side(s types.Side) *bookSide {
	if s == types.Buy {
		return &ob.bids
	}
	return &ob.asks
}

func (ob *OrderBook) addOrder(o *types.Order) error {
	price, ok := o.LimitPrice.Get()
	if !ok {
		return fmt.Errorf("%w: order %s has no limit price", types.ErrInvalidOrder, o.ID)
	}
	if _, dup := ob.index[o.ID]; dup {
		return fmt.Errorf("%w: order %s already resting", types.ErrInvalidOrder, o.ID)
	}
	remaining := o.Remaining()
	if !remaining.IsPositive() {
		return fmt.Errorf("%w: order %s has nothing left to rest", types.ErrInvalidOrder, o.ID)
	}
	ob.seq++
	e := &entry{order: o, seq: ob.seq, remaining: remaining}
	ob.side(o.Side).levelFor(price).enqueue(e)
	ob.index[o.ID] = e
	return nil
}

func (ob *OrderBook) removeOrder(id string) bool {
	e, ok := ob.index[id]
	if !ok {
		return false
	}
	l := e.level
	l.unlink(e)
	if l.empty() {
		ob.side(e.order.Side).drop(l)
	}
	delete(ob.index, id)
	return true
}

func (ob *OrderBook) updateOrder(o *types.Order) bool {
	e, ok := ob.index[o.ID]
	if !ok {
		return false
	}
	remaining := o.Remaining()
	e.level.qty = e.level.qty.Sub(e.remaining).Add(remaining)
	e.remaining = remaining
	return true
}

func (ob *OrderBook) front(s types.Side) *types.Order {
	l := ob.side(s).best()
	if l == nil || l.head == nil {
		return nil
	}
	return l.head.order
}

func (ob *OrderBook) bestPrice(s types.Side) types.OptionalPrice {
	l := ob.side(s).best()
	if l == nil {
		return types.NoPrice()
	}
	return types.SomePrice(l.price)
}

func (ob *OrderBook) spread() types.OptionalPrice {
	bid, okBid := ob.bestPrice(types.Buy).Get()
	ask, okAsk := ob.bestPrice(types.Sell).Get()
	if !okBid || !okAsk {
		return types.NoPrice()
	}
	return types.SomePrice(ask.Sub(bid))
}

func (ob *OrderBook) topLevels(n int) (bids, asks []Level) {
	collect := func(s *bookSide) []Level {
		out := []Level{}
		s.walk(func(l *priceLevel) bool {
			out = append(out, Level{Price: l.price, Quantity: l.qty, Orders: l.count})
			return n <= 0 || len(out) < n
		})
		return out
	}
	return collect(&ob.bids), collect(&ob.asks)
}

// crossingQuantity sums resting quantity on the side opposite taker that a
// taker limited to limit could trade against. NoPrice means unlimited.
func (ob *OrderBook) crossingQuantity(taker types.Side, limit types.OptionalPrice) types.Quantity {
	total := types.NewQuantity(0)
	ob.side(taker.Opposite()).walk(func(l *priceLevel) bool {
		if !Crosses(taker, limit, l.price) {
			return false
		}
		total = total.Add(l.qty)
		return true
	})
	return total
}

func (ob *OrderBook) sweepPrice(taker types.Side, qty types.Quantity) types.OptionalPrice {
	var notional float64
	taken := types.NewQuantity(0)
	ob.side(taker.Opposite()).walk(func(l *priceLevel) bool {
		take := l.qty.Min(qty.Sub(taken))
		notional += types.Notional(l.price, take)
		taken = taken.Add(take)
		return taken.Less(qty)
	})
	if !taken.IsPositive() {
		return types.NoPrice()
	}
	return types.SomePrice(types.NewPrice(notional / taken.Value))
}

// Crosses reports whether a taker on side with the given limit may trade at
// a resting price.
func Crosses(taker types.Side, limit types.OptionalPrice, resting types.Price) bool {
	lp, ok := limit.Get()
	if !ok {
		return true
	}
	switch taker {
	case types.Buy:
		return !resting.Greater(lp)
	case types.Sell:
		return !resting.Less(lp)
	default:
		return false
	}
}
