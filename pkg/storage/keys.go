package storage

import (
	"fmt"
	"time"
)

// Key schema:
//
//	trade/<unix-nanos, 20 digits>/<trade id> -> types.Trade
//	order/<order id>                          -> types.Order (latest state)
const (
	prefixTrade = "trade/"
	prefixOrder = "order/"
)

// tradeKey zero-pads the timestamp so keys sort chronologically.
func tradeKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixTrade, ts.UnixNano(), id))
}

func orderKey(id string) []byte {
	return []byte(prefixOrder + id)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
