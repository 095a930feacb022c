package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// ErrNotFound is returned for ids the journal has never seen.
var ErrNotFound = errors.New("not found")

// Journal is an append-only audit trail of orders and trades. It is written
// from subscriber callbacks and never read back into the core.
type Journal struct {
	db *pebble.DB
}

// OpenJournal opens or creates a journal at dir.
func OpenJournal(dir string) (*Journal, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MemTableSize: 16 << 20,
		BytesPerSync: 512 << 10,
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// RecordOrder stores the latest state of an order, replacing earlier ones.
func (j *Journal) RecordOrder(o types.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := j.db.Set(orderKey(o.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// RecordTrades writes the legs of one execution in a single batch. Like
// order updates, trades are not synced individually; Close syncs the WAL.
func (j *Journal) RecordTrades(trades []types.Trade) error {
	b := j.db.NewBatch()
	defer b.Close()
	for _, t := range trades {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal trade: %w", err)
		}
		if err := b.Set(tradeKey(t.Timestamp, t.ID), data, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.NoSync)
}

// Order loads the last recorded state of id.
func (j *Journal) Order(id string) (types.Order, error) {
	data, closer, err := j.db.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return types.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Order{}, fmt.Errorf("get order: %w", err)
	}
	defer closer.Close()

	var o types.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return types.Order{}, fmt.Errorf("unmarshal order: %w", err)
	}
	return o, nil
}

// RecentTrades returns up to n trades, newest first.
func (j *Journal) RecentTrades(n int) ([]types.Trade, error) {
	prefix := []byte(prefixTrade)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("trade iterator: %w", err)
	}
	defer iter.Close()

	trades := []types.Trade{}
	for iter.Last(); iter.Valid() && len(trades) < n; iter.Prev() {
		var t types.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // skip corrupt entries
		}
		trades = append(trades, t)
	}
	return trades, nil
}
