package order

import (
	"github.com/uhyunpark/matchcore/pkg/app/core/risk"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// ExecutionResult is returned by every mutating operation. Failures are
// reported here, never by panicking.
type ExecutionResult struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	Err        error                 `json:"-"`
	Order      *types.Order          `json:"order,omitempty"`
	Trades     []types.Trade         `json:"trades"`
	Violations []types.RiskViolation `json:"violations,omitempty"`
	Remainder  types.Quantity        `json:"remainder"`
	Replaces   string                `json:"replaces,omitempty"`
}

func failure(o *types.Order, err error) ExecutionResult {
	res := ExecutionResult{Success: false, Message: err.Error(), Err: err, Trades: []types.Trade{}}
	if o != nil {
		res.Order = o.Clone()
		res.Violations = res.Order.Violations
		res.Remainder = o.Remaining()
	}
	return res
}

func success(o *types.Order, trades []types.Trade, msg string) ExecutionResult {
	if trades == nil {
		trades = []types.Trade{}
	}
	return ExecutionResult{
		Success:   true,
		Message:   msg,
		Order:     o.Clone(),
		Trades:    trades,
		Remainder: o.Remaining(),
	}
}

// outbox buffers subscriber payloads until every lock is released.
type outbox struct {
	trades     []types.Trade
	orders     []types.Order
	execs      []ExecutionResult
	violations []types.RiskViolation
	metrics    []risk.Metrics
}

func (ob *outbox) order(o *types.Order) { ob.orders = append(ob.orders, *o.Clone()) }

func (ob *outbox) exec(r ExecutionResult) ExecutionResult {
	ob.execs = append(ob.execs, r)
	return r
}
