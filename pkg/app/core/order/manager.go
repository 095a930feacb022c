package order

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/risk"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
	"github.com/uhyunpark/matchcore/pkg/util"
)

// Instruments resolves and validates the assets orders refer to.
type Instruments interface {
	Get(symbol string) (market.Instrument, error)
	ValidateOrder(o *types.Order) (types.Asset, error)
}

// RiskGate approves orders before matching and absorbs the resulting trades.
// Evaluate and Book run under the manager's lock and must not notify; the
// Notify methods are called once every lock is released.
type RiskGate interface {
	EvaluateOrder(o *types.Order, book types.OptionalPrice) risk.Check
	BookTrade(t types.Trade) (risk.Metrics, bool)
	NotifyViolations(vs []types.RiskViolation)
	NotifyMetrics(metrics risk.Metrics)
	UpdateMarkPrice(symbol string, price float64)
}

type Config struct {
	Instruments Instruments
	Risk        RiskGate // optional
	IDPrefix    string
	Clock       util.Clock
	Logger      *zap.SugaredLogger
}

// Manager owns order identity and lifecycle and runs matching against the
// per-symbol books.
//
// Locking: mu guards the order, trade and trigger indices and the books map.
// It is always taken before a book's lock and before the risk gate's.
// Subscribers, risk subscribers included, are called after all of them are
// released, so they may call back into the manager.
type Manager struct {
	mu sync.RWMutex

	orders   map[string]*types.Order
	arrival  []*types.Order
	trades   map[string][]types.Trade // order ID -> legs, append-only
	books    map[string]*orderbook.OrderBook
	triggers map[string][]*trigger // symbol -> parked stops in arrival order
	ticks    map[string]types.MarketTick

	nextID   atomic.Uint64
	idPrefix string

	instruments Instruments
	risk        RiskGate
	clock       util.Clock
	log         *zap.SugaredLogger

	subMu   sync.RWMutex
	onOrder []func(types.Order)
	onTrade []func(types.Trade)
	onBatch []func([]types.Trade)
	onExec  []func(ExecutionResult)
	onTick  []func(types.MarketTick)
}

func NewManager(cfg Config) *Manager {
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "ORD"
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Manager{
		orders:      make(map[string]*types.Order),
		trades:      make(map[string][]types.Trade),
		books:       make(map[string]*orderbook.OrderBook),
		triggers:    make(map[string][]*trigger),
		ticks:       make(map[string]types.MarketTick),
		idPrefix:    cfg.IDPrefix,
		instruments: cfg.Instruments,
		risk:        cfg.Risk,
		clock:       cfg.Clock,
		log:         cfg.Logger,
	}
}

// OnOrderUpdate registers fn for every order state change.
func (m *Manager) OnOrderUpdate(fn func(types.Order)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.onOrder = append(m.onOrder, fn)
}

// OnTrade registers fn for every trade leg, maker and taker.
func (m *Manager) OnTrade(fn func(types.Trade)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.onTrade = append(m.onTrade, fn)
}

// OnTradeBatch registers fn for all legs produced by one submission or tick,
// delivered together. It is not called for operations without fills.
func (m *Manager) OnTradeBatch(fn func([]types.Trade)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.onBatch = append(m.onBatch, fn)
}

// OnExecution registers fn for the result of every submission, cancel and
// triggered stop.
func (m *Manager) OnExecution(fn func(ExecutionResult)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.onExec = append(m.onExec, fn)
}

// OnTick registers fn for every processed market tick.
func (m *Manager) OnTick(fn func(types.MarketTick)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.onTick = append(m.onTick, fn)
}

func (m *Manager) dispatch(out *outbox) {
	if m.risk != nil {
		if len(out.violations) > 0 {
			m.risk.NotifyViolations(out.violations)
		}
		for _, mt := range out.metrics {
			m.risk.NotifyMetrics(mt)
		}
	}

	m.subMu.RLock()
	onTrade, onBatch, onOrder, onExec := m.onTrade, m.onBatch, m.onOrder, m.onExec
	m.subMu.RUnlock()

	if len(out.trades) > 0 {
		for _, fn := range onBatch {
			fn(out.trades)
		}
	}

	for _, t := range out.trades {
		for _, fn := range onTrade {
			fn(t)
		}
	}
	for _, o := range out.orders {
		for _, fn := range onOrder {
			fn(o)
		}
	}
	for _, r := range out.execs {
		for _, fn := range onExec {
			fn(r)
		}
	}
}

func (m *Manager) newID() string {
	return m.idPrefix + "-" + strconv.FormatUint(m.nextID.Add(1), 10)
}

// SubmitOrder assigns an id to req and runs it through validation, the risk
// gate and matching. The caller's value is not modified.
func (m *Manager) SubmitOrder(req types.Order) ExecutionResult {
	o := req.Clone()
	o.ID = m.newID()
	o.Status = types.Pending
	o.FilledQuantity = types.NewQuantity(0)
	o.AvgFillPrice = types.Price{}
	o.Triggered = false
	o.RejectReason = ""
	o.Violations = nil
	o.Timestamp = m.clock.Now()

	if err := m.validate(o); err != nil {
		return m.reject(o, err)
	}

	var (
		out outbox
		res ExecutionResult
	)
	m.mu.Lock()
	if err := m.checkRiskLocked(o, &out); err != nil {
		res = m.rejectLocked(o, err, &out)
	} else {
		res = m.admitLocked(o, &out)
	}
	m.mu.Unlock()

	m.dispatch(&out)
	return res
}

// checkRiskLocked runs the pre-trade check under mu, so the projected
// position includes every fill booked before this order matches. Orders
// without a price of their own are valued at the book's sweep price.
func (m *Manager) checkRiskLocked(o *types.Order, out *outbox) error {
	if m.risk == nil {
		return nil
	}
	check := m.risk.EvaluateOrder(o, m.sweepPriceLocked(o.Symbol(), o.Side, o.Remaining()))
	out.violations = append(out.violations, check.Violations...)
	if check.Approved {
		return nil
	}
	o.Violations = check.Violations
	return fmt.Errorf("%w: %s", types.ErrRiskRejected, check.Violations[0].Message)
}

func (m *Manager) sweepPriceLocked(symbol string, side types.Side, qty types.Quantity) types.OptionalPrice {
	b, ok := m.books[symbol]
	if !ok {
		return types.NoPrice()
	}
	var p types.OptionalPrice
	b.View(func(tx *orderbook.Tx) { p = tx.SweepPrice(side, qty) })
	return p
}

// SweepPrice is the average price a taker on side would pay for qty of
// symbol against the current book.
func (m *Manager) SweepPrice(symbol string, side types.Side, qty types.Quantity) types.OptionalPrice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sweepPriceLocked(symbol, side, qty)
}

// validate checks field presence per order type, then the instrument rules.
func (m *Manager) validate(o *types.Order) error {
	if !o.Side.Valid() {
		return fmt.Errorf("%w: invalid side", types.ErrInvalidOrder)
	}
	if !o.TIF.Valid() {
		return fmt.Errorf("%w: invalid time in force", types.ErrInvalidOrder)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", types.ErrInvalidOrder)
	}

	switch o.Type {
	case types.Market:
	case types.Limit:
		if !o.LimitPrice.IsSome() {
			return fmt.Errorf("%w: limit order requires a limit price", types.ErrInvalidOrder)
		}
	case types.Stop:
		if !o.StopPrice.IsSome() {
			return fmt.Errorf("%w: stop order requires a stop price", types.ErrInvalidOrder)
		}
	case types.StopLimit:
		if !o.StopPrice.IsSome() || !o.LimitPrice.IsSome() {
			return fmt.Errorf("%w: stop-limit order requires stop and limit prices", types.ErrInvalidOrder)
		}
	case types.TrailingStop:
		if !o.StopPrice.IsSome() && !o.TrailingOffset.IsSome() {
			return fmt.Errorf("%w: trailing stop requires a stop price or trailing offset", types.ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown order type %s", types.ErrInvalidOrder, o.Type)
	}

	if m.instruments == nil {
		return nil
	}
	asset, err := m.instruments.ValidateOrder(o)
	if err != nil {
		return err
	}
	o.Asset = asset
	return nil
}

// reject records o as REJECTED without touching any book.
func (m *Manager) reject(o *types.Order, err error) ExecutionResult {
	var out outbox
	m.mu.Lock()
	res := m.rejectLocked(o, err, &out)
	m.mu.Unlock()

	m.dispatch(&out)
	return res
}

func (m *Manager) rejectLocked(o *types.Order, err error, out *outbox) ExecutionResult {
	o.Status = types.Rejected
	o.RejectReason = err.Error()
	m.indexLocked(o)
	out.order(o)
	m.log.Infow("order_rejected", "order_id", o.ID, "symbol", o.Symbol(), "reason", o.RejectReason)
	return out.exec(failure(o, err))
}

func (m *Manager) indexLocked(o *types.Order) {
	m.orders[o.ID] = o
	m.arrival = append(m.arrival, o)
}

func (m *Manager) bookLocked(symbol string) *orderbook.OrderBook {
	b, ok := m.books[symbol]
	if !ok {
		b = orderbook.NewOrderBook(symbol)
		m.books[symbol] = b
	}
	return b
}

// admitLocked indexes a validated order and either matches it or parks it
// until its trigger fires.
func (m *Manager) admitLocked(o *types.Order, out *outbox) ExecutionResult {
	m.indexLocked(o)

	switch o.Type {
	case types.Market, types.Limit:
		return m.executeLocked(o, out)
	case types.Stop, types.StopLimit, types.TrailingStop:
		t := newTrigger(o)
		if tick, ok := m.ticks[o.Symbol()]; ok {
			last := referencePrice(tick)
			t.observe(last)
			if t.fired(last) {
				return m.fireLocked(t, out)
			}
		}
		m.triggers[o.Symbol()] = append(m.triggers[o.Symbol()], t)
		out.order(o)
		return out.exec(success(o, nil, "order accepted, awaiting trigger"))
	default:
		// validate rejects unknown types before we get here
		return out.exec(failure(o, fmt.Errorf("%w: unknown order type %s", types.ErrInvalidOrder, o.Type)))
	}
}

// fireLocked converts a triggered stop into its market or limit form and
// executes it.
func (m *Manager) fireLocked(t *trigger, out *outbox) ExecutionResult {
	o := t.order
	o.Triggered = true
	m.log.Infow("stop_triggered", "order_id", o.ID, "symbol", o.Symbol(), "type", o.Type.String(), "stop", o.StopPrice.String())
	return m.executeLocked(o, out)
}

// executionStyle maps an order type to the limit it matches with and whether
// its remainder may rest.
func executionStyle(o *types.Order) (limit types.OptionalPrice, restable bool) {
	canRest := o.TIF == types.Day || o.TIF == types.GTC
	switch o.Type {
	case types.Market, types.Stop, types.TrailingStop:
		return types.NoPrice(), false
	case types.Limit, types.StopLimit:
		return o.LimitPrice, canRest
	default:
		return types.NoPrice(), false
	}
}

// executeLocked matches o against its book. Book mutations and trade
// creation happen under one book lock, so readers never observe a half
// applied match.
func (m *Manager) executeLocked(o *types.Order, out *outbox) ExecutionResult {
	limit, restable := executionStyle(o)
	book := m.bookLocked(o.Symbol())
	inst, _ := m.instrumentFor(o.Symbol())

	var (
		legs    []types.Trade
		makers  []*types.Order
		starved bool
		restErr error
	)
	_ = book.Apply(func(tx *orderbook.Tx) error {
		if o.TIF == types.FOK && tx.CrossingQuantity(o.Side, limit).Less(o.Remaining()) {
			starved = true
			return nil
		}
		legs, makers = m.matchLocked(tx, o, limit, inst)
		if restable && o.Remaining().IsPositive() {
			restErr = tx.AddOrder(o)
		}
		return nil
	})

	takerLegs := m.commitTradesLocked(legs, out)
	for _, mk := range makers {
		out.order(mk)
	}

	remaining := o.Remaining()
	var res ExecutionResult
	switch {
	case starved:
		o.Status = types.Rejected
		err := fmt.Errorf("%w: fill-or-kill needs %s", types.ErrInsufficientLiquidity, remaining)
		o.RejectReason = err.Error()
		res = failure(o, err)
	case restErr != nil:
		// resting is the only step that can fail after matching; keep the fills
		m.log.Errorw("rest_failed", "order_id", o.ID, "err", restErr)
		m.setStatus(o, types.Cancelled)
		res = failure(o, restErr)
		res.Trades = takerLegs
	case !remaining.IsPositive():
		res = success(o, takerLegs, "order filled")
	case restable:
		res = success(o, takerLegs, "order resting")
	case o.FilledQuantity.IsPositive():
		m.setStatus(o, types.Cancelled)
		res = success(o, takerLegs, fmt.Sprintf("partially filled, remainder %s cancelled", remaining))
	case o.TIF == types.IOC && limit.IsSome():
		m.setStatus(o, types.Cancelled)
		res = success(o, takerLegs, "no crossing liquidity, order cancelled")
	default:
		o.Status = types.Rejected
		err := fmt.Errorf("%w: no liquidity for %s", types.ErrInsufficientLiquidity, o.Symbol())
		o.RejectReason = err.Error()
		res = failure(o, err)
	}

	out.order(o)
	if len(legs) > 0 {
		m.log.Debugw("order_matched", "order_id", o.ID, "symbol", o.Symbol(), "fills", len(takerLegs), "filled", o.FilledQuantity.String(), "status", o.Status.String())
	}
	return out.exec(res)
}

// setStatus applies a transition, refusing edges the status DAG forbids.
func (m *Manager) setStatus(o *types.Order, to types.OrderStatus) bool {
	if !o.Status.CanTransition(to) {
		m.log.Errorw("illegal_status_transition", "order_id", o.ID, "from", o.Status.String(), "to", to.String())
		return false
	}
	o.Status = to
	return true
}

func (m *Manager) instrumentFor(symbol string) (market.Instrument, bool) {
	if m.instruments == nil {
		return market.Instrument{}, false
	}
	in, err := m.instruments.Get(symbol)
	if err != nil {
		return market.Instrument{}, false
	}
	return in, true
}

// commitTradesLocked indexes legs, books them with the risk gate and queues
// them for subscribers. It returns the taker legs.
func (m *Manager) commitTradesLocked(legs []types.Trade, out *outbox) []types.Trade {
	var taker []types.Trade
	for _, t := range legs {
		m.trades[t.OrderID] = append(m.trades[t.OrderID], t)
		if m.risk != nil {
			if mt, ok := m.risk.BookTrade(t); ok {
				out.metrics = append(out.metrics, mt)
			}
		}
		out.trades = append(out.trades, t)
		if t.Liquidity == types.Taker {
			taker = append(taker, t)
		}
	}
	return taker
}

// CancelOrder cancels a PENDING or PARTIAL order. Unknown ids and terminal
// orders fail without side effects.
func (m *Manager) CancelOrder(id string) ExecutionResult {
	var out outbox
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return failure(nil, fmt.Errorf("%w: %s", types.ErrUnknownOrder, id))
	}
	if o.Status.Terminal() {
		res := failure(o, fmt.Errorf("%w: order %s is %s", types.ErrInvalidStateTransition, id, o.Status))
		m.mu.Unlock()
		return res
	}
	m.detachLocked(o)
	m.setStatus(o, types.Cancelled)
	out.order(o)
	res := out.exec(success(o, nil, "order cancelled"))
	m.mu.Unlock()

	m.log.Infow("order_cancelled", "order_id", id, "symbol", o.Symbol())
	m.dispatch(&out)
	return res
}

// detachLocked removes o from its book or trigger list, whichever holds it.
func (m *Manager) detachLocked(o *types.Order) {
	if b, ok := m.books[o.Symbol()]; ok && b.RemoveOrder(o.ID) {
		return
	}
	parked := m.triggers[o.Symbol()]
	for i, t := range parked {
		if t.order == o {
			m.triggers[o.Symbol()] = append(parked[:i:i], parked[i+1:]...)
			return
		}
	}
}

// ModifyOrder cancels id and submits replacement as a new order with a new
// id. The replacement queues behind orders already at its price. Empty
// symbol, account and client id are inherited from the original.
func (m *Manager) ModifyOrder(id string, replacement types.Order) ExecutionResult {
	m.mu.RLock()
	orig, ok := m.orders[id]
	var prev types.Order
	if ok {
		prev = *orig.Clone()
	}
	m.mu.RUnlock()
	if !ok {
		return failure(nil, fmt.Errorf("%w: %s", types.ErrUnknownOrder, id))
	}

	if cancel := m.CancelOrder(id); !cancel.Success {
		return cancel
	}

	if replacement.Asset.Symbol == "" {
		replacement.Asset = prev.Asset
	}
	if replacement.Account == "" {
		replacement.Account = prev.Account
	}
	if replacement.ClientOrderID == "" {
		replacement.ClientOrderID = prev.ClientOrderID
	}
	res := m.SubmitOrder(replacement)
	res.Replaces = id
	return res
}

// ProcessMarketTick records the tick as the symbol's reference, marks risk
// and evaluates parked stops against it. Triggered orders execute in arrival
// order.
func (m *Manager) ProcessMarketTick(tick types.MarketTick) []ExecutionResult {
	if tick.Timestamp.IsZero() {
		tick.Timestamp = m.clock.Now()
	}
	last := referencePrice(tick)
	if m.risk != nil && last > 0 {
		m.risk.UpdateMarkPrice(tick.Symbol, last)
	}

	var (
		out     outbox
		results []ExecutionResult
	)
	m.mu.Lock()
	m.ticks[tick.Symbol] = tick
	if last > 0 {
		var fired, kept []*trigger
		for _, t := range m.triggers[tick.Symbol] {
			t.observe(last)
			if t.fired(last) {
				fired = append(fired, t)
			} else {
				kept = append(kept, t)
			}
		}
		m.triggers[tick.Symbol] = kept
		for _, t := range fired {
			results = append(results, m.fireLocked(t, &out))
		}
	}
	m.mu.Unlock()

	m.subMu.RLock()
	onTick := m.onTick
	m.subMu.RUnlock()
	for _, fn := range onTick {
		fn(tick)
	}
	m.dispatch(&out)
	return results
}

// ExpireDayOrders is the end-of-day sweep: every active DAY order becomes
// EXPIRED and leaves its book.
func (m *Manager) ExpireDayOrders() []types.Order {
	var (
		out     outbox
		expired []types.Order
	)
	m.mu.Lock()
	for _, o := range m.arrival {
		if o.TIF != types.Day || o.Status.Terminal() {
			continue
		}
		m.detachLocked(o)
		m.setStatus(o, types.Expired)
		out.order(o)
		expired = append(expired, *o.Clone())
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.log.Infow("day_orders_expired", "count", len(expired))
	}
	m.dispatch(&out)
	return expired
}

// CancelAllOrders cancels every active order for symbol, or for all symbols
// when symbol is empty.
func (m *Manager) CancelAllOrders(symbol string) []ExecutionResult {
	var (
		out     outbox
		results []ExecutionResult
	)
	m.mu.Lock()
	for _, o := range m.arrival {
		if o.Status.Terminal() || (symbol != "" && o.Symbol() != symbol) {
			continue
		}
		m.detachLocked(o)
		m.setStatus(o, types.Cancelled)
		out.order(o)
		results = append(results, out.exec(success(o, nil, "order cancelled")))
	}
	m.mu.Unlock()

	m.dispatch(&out)
	return results
}

// ClearOrderBooks cancels everything and drops all books and parked stops.
func (m *Manager) ClearOrderBooks() {
	m.CancelAllOrders("")
	m.mu.Lock()
	m.books = make(map[string]*orderbook.OrderBook)
	m.triggers = make(map[string][]*trigger)
	m.mu.Unlock()
}

func (m *Manager) GetOrder(id string) (types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return types.Order{}, fmt.Errorf("%w: %s", types.ErrUnknownOrder, id)
	}
	return *o.Clone(), nil
}

// GetActiveOrders returns PENDING and PARTIAL orders in arrival order.
func (m *Manager) GetActiveOrders() []types.Order {
	return m.collect(func(o *types.Order) bool { return o.IsActive() })
}

// GetOrdersBySymbol returns every order ever admitted for symbol, including
// terminal ones, in arrival order.
func (m *Manager) GetOrdersBySymbol(symbol string) []types.Order {
	return m.collect(func(o *types.Order) bool { return o.Symbol() == symbol })
}

func (m *Manager) collect(keep func(*types.Order) bool) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.Order{}
	for _, o := range m.arrival {
		if keep(o) {
			out = append(out, *o.Clone())
		}
	}
	return out
}

func (m *Manager) GetOrderTrades(id string) ([]types.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.orders[id]; !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownOrder, id)
	}
	return append([]types.Trade{}, m.trades[id]...), nil
}

// GetOrderBook snapshots the top depth levels. Symbols without a book yet
// return an empty snapshot if the instrument exists.
func (m *Manager) GetOrderBook(symbol string, depth int) (orderbook.Snapshot, error) {
	m.mu.RLock()
	b, ok := m.books[symbol]
	m.mu.RUnlock()
	if ok {
		return b.Snapshot(depth), nil
	}
	if _, known := m.instrumentFor(symbol); !known && m.instruments != nil {
		return orderbook.Snapshot{}, fmt.Errorf("%w: %s", types.ErrUnknownAsset, symbol)
	}
	return orderbook.NewOrderBook(symbol).Snapshot(depth), nil
}

// GetSymbols returns the symbols that have a book, sorted.
func (m *Manager) GetSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.books))
	for s := range m.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) GetLastTick(symbol string) (types.MarketTick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.ticks[symbol]
	return t, ok
}

func (m *Manager) ActiveOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.arrival {
		if o.IsActive() {
			n++
		}
	}
	return n
}

func (m *Manager) OrderBookCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.books)
}

// ParkedStops lists untriggered stop orders, for diagnostics.
func (m *Manager) ParkedStops(symbol string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, t := range m.triggers[symbol] {
		ids = append(ids, t.order.ID)
	}
	return ids
}
