package order

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/risk"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
	"github.com/uhyunpark/matchcore/pkg/util"
)

func newTestManager(t require.TestingT, gate RiskGate) *Manager {
	reg := market.NewRegistry()
	for _, in := range market.DefaultInstruments() {
		require.NoError(t, reg.Register(in))
	}
	return NewManager(Config{
		Instruments: reg,
		Risk:        gate,
		Clock:       util.NewManualClock(time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)),
	})
}

func asset(sym string) types.Asset { return types.Asset{Symbol: sym} }

func limitOrder(side types.Side, qty, price float64, tif types.TimeInForce) types.Order {
	return types.Order{
		Asset:      asset("AAPL"),
		Type:       types.Limit,
		Side:       side,
		Quantity:   types.NewQuantity(qty),
		LimitPrice: types.SomePrice(types.NewPrice(price)),
		TIF:        tif,
	}
}

func marketOrder(side types.Side, qty float64) types.Order {
	return types.Order{
		Asset:    asset("AAPL"),
		Type:     types.Market,
		Side:     side,
		Quantity: types.NewQuantity(qty),
		TIF:      types.IOC,
	}
}

func stopOrder(typ types.OrderType, side types.Side, qty, stop float64) types.Order {
	return types.Order{
		Asset:     asset("AAPL"),
		Type:      typ,
		Side:      side,
		Quantity:  types.NewQuantity(qty),
		StopPrice: types.SomePrice(types.NewPrice(stop)),
		TIF:       types.GTC,
	}
}

func tick(last float64) types.MarketTick {
	return types.MarketTick{
		Symbol: "AAPL",
		Bid:    types.NewPrice(last - 0.01),
		Ask:    types.NewPrice(last + 0.01),
		Last:   types.NewPrice(last),
	}
}

func mustSubmit(t *testing.T, m *Manager, o types.Order) ExecutionResult {
	t.Helper()
	res := m.SubmitOrder(o)
	require.True(t, res.Success, res.Message)
	return res
}

func status(t *testing.T, m *Manager, id string) types.OrderStatus {
	t.Helper()
	o, err := m.GetOrder(id)
	require.NoError(t, err)
	return o.Status
}

func TestMarketOrderSweepsSingleAsk(t *testing.T) {
	m := newTestManager(t, nil)
	ask := mustSubmit(t, m, limitOrder(types.Sell, 100, 150.10, types.GTC))

	res := m.SubmitOrder(marketOrder(types.Buy, 100))
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "150.10", res.Trades[0].Price.String())
	assert.Equal(t, 100.0, res.Trades[0].Quantity.Value)
	assert.Equal(t, types.Taker, res.Trades[0].Liquidity)

	assert.Equal(t, types.Filled, res.Order.Status)
	assert.Equal(t, types.Filled, status(t, m, ask.Order.ID))

	book, err := m.GetOrderBook("AAPL", 5)
	require.NoError(t, err)
	assert.Empty(t, book.Asks)
	assert.False(t, book.BestAsk.IsSome())
}

func TestGTCLimitRestsOnEmptyBook(t *testing.T) {
	m := newTestManager(t, nil)
	res := mustSubmit(t, m, limitOrder(types.Sell, 50, 151.00, types.GTC))
	assert.Empty(t, res.Trades)
	assert.Equal(t, types.Pending, res.Order.Status)

	book, err := m.GetOrderBook("AAPL", 5)
	require.NoError(t, err)
	best, ok := book.BestAsk.Get()
	require.True(t, ok)
	assert.Equal(t, "151.00", best.String())
	require.Len(t, book.Asks, 1)
	assert.Equal(t, 50.0, book.Asks[0].Quantity.Value)
	assert.Equal(t, 1, m.ActiveOrderCount())
}

func TestFOKIsAllOrNothing(t *testing.T) {
	tests := []struct {
		name  string
		order types.Order
	}{
		{"limit", limitOrder(types.Buy, 200, 150, types.FOK)},
		{"market", func() types.Order { o := marketOrder(types.Buy, 200); o.TIF = types.FOK; return o }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, nil)
			ask := mustSubmit(t, m, limitOrder(types.Sell, 100, 150, types.GTC))

			res := m.SubmitOrder(tt.order)
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, types.ErrInsufficientLiquidity)
			assert.Empty(t, res.Trades)
			assert.Equal(t, types.Rejected, res.Order.Status)

			resting, err := m.GetOrder(ask.Order.ID)
			require.NoError(t, err)
			assert.Equal(t, types.Pending, resting.Status)
			assert.True(t, resting.FilledQuantity.IsZero())
			_, asks := bookLevels(t, m)
			assert.Equal(t, 100.0, asks[0])
		})
	}

	m := newTestManager(t, nil)
	mustSubmit(t, m, limitOrder(types.Sell, 100, 150, types.GTC))
	mustSubmit(t, m, limitOrder(types.Sell, 100, 151, types.GTC))
	res := mustSubmit(t, m, limitOrder(types.Buy, 200, 151, types.FOK))
	assert.Len(t, res.Trades, 2)
	assert.Equal(t, types.Filled, res.Order.Status)
}

func bookLevels(t *testing.T, m *Manager) (bids, asks []float64) {
	t.Helper()
	snap, err := m.GetOrderBook("AAPL", 0)
	require.NoError(t, err)
	for _, l := range snap.Bids {
		bids = append(bids, l.Quantity.Value)
	}
	for _, l := range snap.Asks {
		asks = append(asks, l.Quantity.Value)
	}
	return bids, asks
}

func TestPriceTimePriority(t *testing.T) {
	m := newTestManager(t, nil)
	a1 := mustSubmit(t, m, limitOrder(types.Sell, 10, 100, types.GTC)).Order.ID
	a2 := mustSubmit(t, m, limitOrder(types.Sell, 10, 100, types.GTC)).Order.ID
	a3 := mustSubmit(t, m, limitOrder(types.Sell, 10, 100, types.GTC)).Order.ID
	better := mustSubmit(t, m, limitOrder(types.Sell, 5, 99.99, types.GTC)).Order.ID

	var makers []string
	m.OnTrade(func(tr types.Trade) {
		if tr.Liquidity == types.Maker {
			makers = append(makers, tr.OrderID)
		}
	})

	res := mustSubmit(t, m, marketOrder(types.Buy, 25))
	require.Len(t, res.Trades, 3)
	assert.Equal(t, []string{better, a1, a2}, makers)
	assert.Equal(t, "99.99", res.Trades[0].Price.String())
	assert.Equal(t, "100.00", res.Trades[1].Price.String())

	assert.Equal(t, types.Filled, status(t, m, a1))
	o2, _ := m.GetOrder(a2)
	assert.Equal(t, types.Partial, o2.Status)
	assert.Equal(t, 10.0, o2.FilledQuantity.Value)
	assert.Equal(t, types.Pending, status(t, m, a3))

	_, asks := bookLevels(t, m)
	assert.Equal(t, []float64{20}, asks)
}

func TestPartialFillBehaviourByTIF(t *testing.T) {
	tests := []struct {
		name       string
		order      types.Order
		wantStatus types.OrderStatus
		wantBid    bool
	}{
		{"gtc rests remainder", limitOrder(types.Buy, 15, 100, types.GTC), types.Partial, true},
		{"day rests remainder", limitOrder(types.Buy, 15, 100, types.Day), types.Partial, true},
		{"ioc cancels remainder", limitOrder(types.Buy, 15, 100, types.IOC), types.Cancelled, false},
		{"market cancels remainder", marketOrder(types.Buy, 15), types.Cancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, nil)
			mustSubmit(t, m, limitOrder(types.Sell, 10, 100, types.GTC))

			res := mustSubmit(t, m, tt.order)
			require.Len(t, res.Trades, 1)
			assert.Equal(t, tt.wantStatus, res.Order.Status)
			assert.Equal(t, 10.0, res.Order.FilledQuantity.Value)
			assert.Equal(t, 5.0, res.Remainder.Value)

			bids, _ := bookLevels(t, m)
			if tt.wantBid {
				assert.Equal(t, []float64{5}, bids)
			} else {
				assert.Empty(t, bids)
			}
		})
	}
}

func TestNoLiquidity(t *testing.T) {
	m := newTestManager(t, nil)

	res := m.SubmitOrder(marketOrder(types.Buy, 10))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, types.ErrInsufficientLiquidity)
	assert.Equal(t, types.Rejected, res.Order.Status)

	res = mustSubmit(t, m, limitOrder(types.Buy, 10, 100, types.IOC))
	assert.Equal(t, types.Cancelled, res.Order.Status)
	assert.Empty(t, res.Trades)
}

func TestNonCrossingLimitsRest(t *testing.T) {
	m := newTestManager(t, nil)
	mustSubmit(t, m, limitOrder(types.Sell, 10, 101, types.GTC))
	res := mustSubmit(t, m, limitOrder(types.Buy, 10, 100, types.GTC))
	assert.Empty(t, res.Trades)

	snap, err := m.GetOrderBook("AAPL", 1)
	require.NoError(t, err)
	spread, ok := snap.Spread.Get()
	require.True(t, ok)
	assert.Equal(t, "1.00", spread.String())
}

func TestValidationRejects(t *testing.T) {
	noPrice := limitOrder(types.Buy, 10, 100, types.GTC)
	noPrice.LimitPrice = types.NoPrice()
	stopLimitNoLimit := stopOrder(types.StopLimit, types.Buy, 1, 100)
	trailingBare := stopOrder(types.TrailingStop, types.Sell, 1, 100)
	trailingBare.StopPrice = types.NoPrice()
	unknown := limitOrder(types.Buy, 10, 100, types.GTC)
	unknown.Asset = asset("ZZZZ")

	tests := []struct {
		name  string
		order types.Order
		want  error
	}{
		{"zero quantity", limitOrder(types.Buy, 0, 100, types.GTC), types.ErrInvalidOrder},
		{"negative quantity", limitOrder(types.Buy, -5, 100, types.GTC), types.ErrInvalidOrder},
		{"limit without price", noPrice, types.ErrInvalidOrder},
		{"stop limit without limit", stopLimitNoLimit, types.ErrInvalidOrder},
		{"trailing without stop or offset", trailingBare, types.ErrInvalidOrder},
		{"unknown asset", unknown, types.ErrUnknownAsset},
		{"bad type", func() types.Order { o := marketOrder(types.Buy, 1); o.Type = types.OrderType(99); return o }(), types.ErrInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, nil)
			res := m.SubmitOrder(tt.order)
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tt.want)
			require.NotNil(t, res.Order)
			assert.Equal(t, types.Rejected, res.Order.Status)
			assert.NotEmpty(t, res.Order.RejectReason)

			stored, err := m.GetOrder(res.Order.ID)
			require.NoError(t, err, "rejected orders stay queryable")
			assert.Equal(t, types.Rejected, stored.Status)
			assert.Zero(t, m.OrderBookCount(), "no book was touched")
		})
	}
}

func TestIDsAreUniqueAndIncreasing(t *testing.T) {
	m := newTestManager(t, nil)
	a := m.SubmitOrder(limitOrder(types.Buy, 1, 100, types.GTC)).Order.ID
	b := m.SubmitOrder(limitOrder(types.Buy, 0, 100, types.GTC)).Order.ID
	c := m.SubmitOrder(limitOrder(types.Buy, 1, 100, types.GTC)).Order.ID
	assert.Equal(t, []string{"ORD-1", "ORD-2", "ORD-3"}, []string{a, b, c})
}

func TestCancelOrder(t *testing.T) {
	m := newTestManager(t, nil)
	id := mustSubmit(t, m, limitOrder(types.Buy, 10, 100, types.GTC)).Order.ID

	var updates int
	m.OnOrderUpdate(func(types.Order) { updates++ })

	res := m.CancelOrder(id)
	require.True(t, res.Success)
	assert.Equal(t, types.Cancelled, res.Order.Status)
	bids, _ := bookLevels(t, m)
	assert.Empty(t, bids)
	assert.Equal(t, 1, updates)

	res = m.CancelOrder(id)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, types.ErrInvalidStateTransition)
	assert.Equal(t, 1, updates, "failed cancel has no side effects")
	assert.Equal(t, types.Cancelled, status(t, m, id))

	res = m.CancelOrder("ORD-999")
	assert.ErrorIs(t, res.Err, types.ErrUnknownOrder)
}

func TestCancelFilledOrderFails(t *testing.T) {
	m := newTestManager(t, nil)
	ask := mustSubmit(t, m, limitOrder(types.Sell, 10, 100, types.GTC)).Order.ID
	mustSubmit(t, m, marketOrder(types.Buy, 10))

	res := m.CancelOrder(ask)
	assert.ErrorIs(t, res.Err, types.ErrInvalidStateTransition)
	trades, err := m.GetOrderTrades(ask)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestModifyLosesPriority(t *testing.T) {
	m := newTestManager(t, nil)
	first := mustSubmit(t, m, limitOrder(types.Buy, 10, 100, types.GTC)).Order.ID
	second := mustSubmit(t, m, limitOrder(types.Buy, 10, 100, types.GTC)).Order.ID

	repl := limitOrder(types.Buy, 12, 100, types.GTC)
	repl.Asset = types.Asset{}
	res := m.ModifyOrder(first, repl)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, first, res.Replaces)
	assert.NotEqual(t, first, res.Order.ID)
	assert.Equal(t, "AAPL", res.Order.Symbol(), "symbol inherited")
	assert.Equal(t, types.Cancelled, status(t, m, first))

	fill := mustSubmit(t, m, marketOrder(types.Sell, 10))
	require.Len(t, fill.Trades, 1)
	assert.Equal(t, types.Filled, status(t, m, second), "untouched order now has priority")
	assert.Equal(t, types.Pending, status(t, m, res.Order.ID))

	assert.ErrorIs(t, m.ModifyOrder(first, repl).Err, types.ErrInvalidStateTransition)
	assert.ErrorIs(t, m.ModifyOrder("nope", repl).Err, types.ErrUnknownOrder)
}

func TestStopOrderTriggers(t *testing.T) {
	m := newTestManager(t, nil)
	mustSubmit(t, m, limitOrder(types.Buy, 20, 94, types.GTC))
	m.ProcessMarketTick(tick(100))

	stop := mustSubmit(t, m, stopOrder(types.Stop, types.Sell, 10, 95))
	assert.Equal(t, types.Pending, stop.Order.Status)
	assert.Equal(t, []string{stop.Order.ID}, m.ParkedStops("AAPL"))

	assert.Empty(t, m.ProcessMarketTick(tick(96)))
	results := m.ProcessMarketTick(tick(95))
	require.Len(t, results, 1)
	res := results[0]
	assert.True(t, res.Success)
	assert.True(t, res.Order.Triggered)
	assert.Equal(t, types.Filled, res.Order.Status)
	assert.Equal(t, "94.00", res.Trades[0].Price.String())
	assert.Empty(t, m.ParkedStops("AAPL"))
}

func TestStopLimitTriggersAsLimit(t *testing.T) {
	m := newTestManager(t, nil)
	mustSubmit(t, m, limitOrder(types.Sell, 10, 105.50, types.GTC))
	mustSubmit(t, m, limitOrder(types.Sell, 10, 107, types.GTC))

	o := stopOrder(types.StopLimit, types.Buy, 15, 105)
	o.LimitPrice = types.SomePrice(types.NewPrice(106))
	id := mustSubmit(t, m, o).Order.ID

	results := m.ProcessMarketTick(tick(105))
	require.Len(t, results, 1)
	assert.Len(t, results[0].Trades, 1)
	got, _ := m.GetOrder(id)
	assert.Equal(t, types.Partial, got.Status, "remainder rests at the limit")
	bids, _ := bookLevels(t, m)
	assert.Equal(t, []float64{5}, bids)
}

func TestStopFiresAtSubmissionAgainstLastTick(t *testing.T) {
	m := newTestManager(t, nil)
	mustSubmit(t, m, limitOrder(types.Buy, 10, 89, types.GTC))
	m.ProcessMarketTick(tick(90))

	res := mustSubmit(t, m, stopOrder(types.Stop, types.Sell, 10, 95))
	assert.True(t, res.Order.Triggered)
	assert.Equal(t, types.Filled, res.Order.Status)
}

func TestTrailingStopRatchets(t *testing.T) {
	m := newTestManager(t, nil)
	mustSubmit(t, m, limitOrder(types.Buy, 10, 80, types.GTC))

	o := stopOrder(types.TrailingStop, types.Sell, 10, 0)
	o.StopPrice = types.NoPrice()
	o.TrailingOffset = types.SomePrice(types.NewPrice(5))
	id := mustSubmit(t, m, o).Order.ID

	stopAt := func() string {
		got, err := m.GetOrder(id)
		require.NoError(t, err)
		return got.StopPrice.String()
	}

	assert.Empty(t, m.ProcessMarketTick(tick(100)))
	assert.Equal(t, "95.00", stopAt())
	assert.Empty(t, m.ProcessMarketTick(tick(110)))
	assert.Equal(t, "105.00", stopAt())
	assert.Empty(t, m.ProcessMarketTick(tick(107)))
	assert.Equal(t, "105.00", stopAt(), "stop never loosens")

	results := m.ProcessMarketTick(tick(104))
	require.Len(t, results, 1)
	assert.Equal(t, types.Filled, results[0].Order.Status)
	assert.Equal(t, "80.00", results[0].Trades[0].Price.String())
}

func TestTrailingBuyStopDerivesOffset(t *testing.T) {
	m := newTestManager(t, nil)
	mustSubmit(t, m, limitOrder(types.Sell, 10, 101, types.GTC))

	id := mustSubmit(t, m, stopOrder(types.TrailingStop, types.Buy, 10, 105)).Order.ID
	m.ProcessMarketTick(tick(100)) // offset becomes 5
	m.ProcessMarketTick(tick(95))
	got, _ := m.GetOrder(id)
	assert.Equal(t, "100.00", got.StopPrice.String())

	assert.Empty(t, m.ProcessMarketTick(tick(99)))
	results := m.ProcessMarketTick(tick(100))
	require.Len(t, results, 1)
	assert.Equal(t, types.Filled, results[0].Order.Status)
}

func TestExpireDayOrders(t *testing.T) {
	m := newTestManager(t, nil)
	day := mustSubmit(t, m, limitOrder(types.Buy, 10, 100, types.Day)).Order.ID
	gtc := mustSubmit(t, m, limitOrder(types.Buy, 10, 99, types.GTC)).Order.ID
	dayStop := stopOrder(types.Stop, types.Sell, 1, 50)
	dayStop.TIF = types.Day
	stopID := mustSubmit(t, m, dayStop).Order.ID

	expired := m.ExpireDayOrders()
	require.Len(t, expired, 2)
	assert.Equal(t, day, expired[0].ID)
	assert.Equal(t, types.Expired, status(t, m, day))
	assert.Equal(t, types.Expired, status(t, m, stopID))
	assert.Equal(t, types.Pending, status(t, m, gtc))
	assert.Empty(t, m.ParkedStops("AAPL"))

	bids, _ := bookLevels(t, m)
	assert.Equal(t, []float64{10}, bids)
	assert.Empty(t, m.ExpireDayOrders())
}

func TestQueries(t *testing.T) {
	m := newTestManager(t, nil)
	a := mustSubmit(t, m, limitOrder(types.Sell, 10, 100, types.GTC)).Order.ID
	msft := limitOrder(types.Buy, 1, 300, types.GTC)
	msft.Asset = asset("MSFT")
	mustSubmit(t, m, msft)
	taker := mustSubmit(t, m, marketOrder(types.Buy, 4)).Order.ID

	assert.Equal(t, []string{"AAPL", "MSFT"}, m.GetSymbols())
	assert.Equal(t, 2, m.OrderBookCount())
	assert.Len(t, m.GetActiveOrders(), 2)
	assert.Len(t, m.GetOrdersBySymbol("AAPL"), 2)

	legs, err := m.GetOrderTrades(taker)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	makerLegs, err := m.GetOrderTrades(a)
	require.NoError(t, err)
	require.Len(t, makerLegs, 1)
	assert.Equal(t, legs[0].MatchID, makerLegs[0].MatchID)
	assert.Equal(t, types.Sell, makerLegs[0].Side)
	assert.InDelta(t, 0.04, legs[0].Commission, 1e-9, "1bp taker fee on 400")
	assert.Zero(t, makerLegs[0].Commission)

	_, err = m.GetOrderTrades("missing")
	assert.ErrorIs(t, err, types.ErrUnknownOrder)

	_, err = m.GetOrderBook("SPY", 5)
	assert.NoError(t, err, "known instrument without a book")
	_, err = m.GetOrderBook("NOPE", 5)
	assert.ErrorIs(t, err, types.ErrUnknownAsset)

	_, ok := m.GetLastTick("AAPL")
	assert.False(t, ok)
	m.ProcessMarketTick(tick(100))
	last, ok := m.GetLastTick("AAPL")
	require.True(t, ok)
	assert.Equal(t, "100.00", last.Last.String())
}

func TestCancelAllAndClear(t *testing.T) {
	m := newTestManager(t, nil)
	mustSubmit(t, m, limitOrder(types.Buy, 1, 100, types.GTC))
	mustSubmit(t, m, limitOrder(types.Sell, 1, 101, types.GTC))
	msft := limitOrder(types.Buy, 1, 300, types.GTC)
	msft.Asset = asset("MSFT")
	mustSubmit(t, m, msft)

	assert.Len(t, m.CancelAllOrders("AAPL"), 2)
	assert.Equal(t, 1, m.ActiveOrderCount())

	m.ClearOrderBooks()
	assert.Zero(t, m.ActiveOrderCount())
	assert.Zero(t, m.OrderBookCount())
}

func TestSubscribersMayReenter(t *testing.T) {
	m := newTestManager(t, nil)
	var seen []types.OrderStatus
	m.OnTrade(func(tr types.Trade) {
		o, err := m.GetOrder(tr.OrderID)
		require.NoError(t, err)
		seen = append(seen, o.Status)
	})
	var execs int
	m.OnExecution(func(ExecutionResult) { execs++ })
	m.OnExecution(func(ExecutionResult) { execs++ })

	mustSubmit(t, m, limitOrder(types.Sell, 10, 100, types.GTC))
	mustSubmit(t, m, marketOrder(types.Buy, 10))
	assert.Equal(t, []types.OrderStatus{types.Filled, types.Filled}, seen)
	assert.Equal(t, 4, execs)
}

// submitWithin fails the test if SubmitOrder does not return promptly.
func submitWithin(t *testing.T, m *Manager, o types.Order) ExecutionResult {
	t.Helper()
	done := make(chan ExecutionResult, 1)
	go func() { done <- m.SubmitOrder(o) }()
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitOrder blocked")
		return ExecutionResult{}
	}
}

func TestRiskSubscribersMayReenter(t *testing.T) {
	rm := risk.NewManager(risk.Config{Account: "paper"})
	m := newTestManager(t, rm)
	var active []int
	rm.OnMetrics(func(risk.Metrics) { active = append(active, m.ActiveOrderCount()) })
	var rejected []types.ViolationType
	rm.OnViolation(func(v types.RiskViolation) {
		m.GetActiveOrders()
		rejected = append(rejected, v.Type)
	})

	mm := limitOrder(types.Sell, 10, 100, types.GTC)
	mm.Account = "mm"
	mustSubmit(t, m, mm)

	buy := marketOrder(types.Buy, 4)
	buy.Account = "paper"
	res := submitWithin(t, m, buy)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, []int{1}, active, "one tracked leg, maker still resting")

	short := limitOrder(types.Sell, 10, 100, types.GTC)
	short.Account = "paper"
	res = submitWithin(t, m, short)
	assert.ErrorIs(t, res.Err, types.ErrRiskRejected)
	assert.Equal(t, []types.ViolationType{types.ProductRestriction}, rejected)
}

func TestMarketOrderValuedAtBookSweep(t *testing.T) {
	limits := types.DefaultRiskLimits()
	limits.MaxPositionSize = 1000
	rm := risk.NewManager(risk.Config{Limits: &limits, Account: "paper"})
	m := newTestManager(t, rm)

	mm := limitOrder(types.Sell, 1000, 150, types.GTC)
	mm.Account = "mm"
	mustSubmit(t, m, mm)

	o := marketOrder(types.Buy, 1000)
	o.Account = "paper"
	res := m.SubmitOrder(o)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, types.ErrRiskRejected)
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, types.PositionSize, res.Violations[0].Type)
	assert.InDelta(t, 150000, res.Violations[0].CurrentValue, 1e-6)
	_, asks := bookLevels(t, m)
	assert.Equal(t, []float64{150}, asks)
	_, ok := rm.GetPosition("AAPL")
	assert.False(t, ok)

	o.Quantity = types.NewQuantity(5)
	mustSubmit(t, m, o)
	pos, ok := rm.GetPosition("AAPL")
	require.True(t, ok)
	assert.Equal(t, 5.0, pos.Quantity)
}

func TestUnpricedMarketOrderIsRiskRejected(t *testing.T) {
	rm := risk.NewManager(risk.Config{Account: "paper"})
	m := newTestManager(t, rm)

	o := marketOrder(types.Buy, 1)
	o.Account = "paper"
	res := m.SubmitOrder(o)
	assert.ErrorIs(t, res.Err, types.ErrRiskRejected)
	assert.Contains(t, res.Message, "no reference price")

	m.ProcessMarketTick(tick(100))
	res = m.SubmitOrder(o)
	assert.ErrorIs(t, res.Err, types.ErrInsufficientLiquidity, "a mark prices it; the empty book then rejects it")
}

func TestTradeBatchCarriesAllLegs(t *testing.T) {
	m := newTestManager(t, nil)
	var batches [][]types.Trade
	m.OnTradeBatch(func(legs []types.Trade) { batches = append(batches, legs) })

	mustSubmit(t, m, limitOrder(types.Sell, 5, 100, types.GTC))
	mustSubmit(t, m, limitOrder(types.Sell, 5, 101, types.GTC))
	assert.Empty(t, batches)

	mustSubmit(t, m, marketOrder(types.Buy, 8))
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 4, "two maker and two taker legs")
	var taker int
	for _, l := range batches[0] {
		if l.Liquidity == types.Taker {
			taker++
		}
	}
	assert.Equal(t, 2, taker)
}

func TestRiskGateRejectsWithoutTouchingBook(t *testing.T) {
	limits := types.DefaultRiskLimits()
	limits.MaxPositionSize = 1000
	rm := risk.NewManager(risk.Config{Limits: &limits, Account: "paper"})
	m := newTestManager(t, rm)

	mm := limitOrder(types.Sell, 100, 100, types.GTC)
	mm.Account = "mm"
	mustSubmit(t, m, mm)

	o := limitOrder(types.Buy, 20, 100, types.GTC)
	o.Account = "paper"
	res := m.SubmitOrder(o)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, types.ErrRiskRejected)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, types.PositionSize, res.Violations[0].Type)
	_, asks := bookLevels(t, m)
	assert.Equal(t, []float64{100}, asks)

	o.Quantity = types.NewQuantity(5)
	mustSubmit(t, m, o)
	pos, ok := rm.GetPosition("AAPL")
	require.True(t, ok)
	assert.Equal(t, 5.0, pos.Quantity)
	assert.Len(t, rm.DailyTrades(), 1, "only the tracked account's leg is booked")
}

func TestConcurrentSubmitAndCancel(t *testing.T) {
	m := newTestManager(t, nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				side := types.Side((w + i) % 2)
				price := 99.0 + float64(i%3)
				res := m.SubmitOrder(limitOrder(side, float64(1+i%5), price, types.GTC))
				if i%4 == 0 && res.Order != nil {
					m.CancelOrder(res.Order.ID)
				}
				m.GetActiveOrders()
				_, _ = m.GetOrderBook("AAPL", 3)
			}
		}(w)
	}
	wg.Wait()
	assertInvariants(t, m)
}

func TestConcurrentSubmitsRespectPositionLimit(t *testing.T) {
	limits := types.DefaultRiskLimits()
	limits.MaxPositionSize = 1000
	rm := risk.NewManager(risk.Config{Limits: &limits, Account: "paper"})
	m := newTestManager(t, rm)

	mm := limitOrder(types.Sell, 1000, 100, types.GTC)
	mm.Account = "mm"
	mustSubmit(t, m, mm)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := limitOrder(types.Buy, 3, 100, types.IOC)
			o.Account = "paper"
			if m.SubmitOrder(o).Success {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	pos, ok := rm.GetPosition("AAPL")
	require.True(t, ok)
	assert.LessOrEqual(t, pos.Quantity*100, limits.MaxPositionSize)
	assert.Equal(t, 9.0, pos.Quantity)
	assert.Equal(t, 3, accepted)
}

// assertInvariants checks per-order fill accounting and an uncrossed book.
func assertInvariants(t require.TestingT, m *Manager) {
	for _, o := range m.GetOrdersBySymbol("AAPL") {
		assert.False(t, o.FilledQuantity.Greater(o.Quantity), o.ID)
		legs, err := m.GetOrderTrades(o.ID)
		require.NoError(t, err)
		sum := types.NewQuantity(0)
		for _, l := range legs {
			sum = sum.Add(l.Quantity)
		}
		assert.True(t, sum.Equal(o.FilledQuantity), "%s: trades %s filled %s", o.ID, sum, o.FilledQuantity)
		if o.TIF == types.FOK {
			assert.True(t, sum.IsZero() || sum.Equal(o.Quantity), o.ID)
		}
	}
	snap, err := m.GetOrderBook("AAPL", 1)
	require.NoError(t, err)
	bid, okB := snap.BestBid.Get()
	ask, okA := snap.BestAsk.Get()
	if okB && okA {
		assert.True(t, bid.Less(ask), "book crossed: %s >= %s", bid, ask)
	}
}

func TestMatchingInvariantsHoldForRandomFlow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := newTestManager(rt, nil)
		n := rapid.IntRange(1, 60).Draw(rt, "orders")
		for i := 0; i < n; i++ {
			side := types.Side(rapid.IntRange(0, 1).Draw(rt, "side"))
			qty := float64(rapid.IntRange(1, 20).Draw(rt, "qty"))
			var o types.Order
			if rapid.IntRange(0, 4).Draw(rt, "kind") == 0 {
				o = marketOrder(side, qty)
			} else {
				price := 95 + float64(rapid.IntRange(0, 1000).Draw(rt, "cents"))/100
				tif := types.TimeInForce(rapid.IntRange(0, 3).Draw(rt, "tif"))
				o = limitOrder(side, qty, price, tif)
			}
			res := m.SubmitOrder(o)
			if res.Order != nil && rapid.IntRange(0, 9).Draw(rt, "cancel") == 0 {
				m.CancelOrder(res.Order.ID)
			}
		}
		assertInvariants(rt, m)
	})
}
