package orderbook

import (
	"github.com/tidwall/btree"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// entry is a resting order's slot in a level's FIFO.
type entry struct {
	order     *types.Order
	seq       uint64
	remaining types.Quantity // cached so level totals update in O(1)
	level     *priceLevel
	prev      *entry
	next      *entry
}

// priceLevel is an intrusive FIFO of entries at one price.
type priceLevel struct {
	price types.Price
	key   int64
	qty   types.Quantity
	count int
	head  *entry
	tail  *entry
}

func (l *priceLevel) enqueue(e *entry) {
	e.level = l
	e.prev = l.tail
	if l.tail != nil {
		l.tail.next = e
	} else {
		l.head = e
	}
	l.tail = e
	l.count++
	l.qty = l.qty.Add(e.remaining)
}

func (l *priceLevel) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next, e.level = nil, nil, nil
	l.count--
	l.qty = l.qty.Sub(e.remaining)
	if l.count == 0 {
		l.qty = types.Quantity{}
	}
}

func (l *priceLevel) empty() bool { return l.count == 0 }

// bookSide orders levels by key; bids walk it in reverse.
type bookSide struct {
	levels     *btree.Map[int64, *priceLevel]
	descending bool
}

func newBookSide(descending bool) bookSide {
	return bookSide{levels: btree.NewMap[int64, *priceLevel](32), descending: descending}
}

func (s *bookSide) best() *priceLevel {
	var (
		l  *priceLevel
		ok bool
	)
	if s.descending {
		_, l, ok = s.levels.Max()
	} else {
		_, l, ok = s.levels.Min()
	}
	if !ok {
		return nil
	}
	return l
}

// walk visits levels best first until fn returns false.
func (s *bookSide) walk(fn func(*priceLevel) bool) {
	iter := func(_ int64, l *priceLevel) bool { return fn(l) }
	if s.descending {
		s.levels.Reverse(iter)
	} else {
		s.levels.Scan(iter)
	}
}

func (s *bookSide) levelFor(p types.Price) *priceLevel {
	key := p.Key()
	if l, ok := s.levels.Get(key); ok {
		return l
	}
	l := &priceLevel{price: p, key: key}
	s.levels.Set(key, l)
	return l
}

func (s *bookSide) drop(l *priceLevel) {
	s.levels.Delete(l.key)
}

func (s *bookSide) clear() {
	s.levels = btree.NewMap[int64, *priceLevel](32)
}
