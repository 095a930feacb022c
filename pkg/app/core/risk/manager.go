package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
	"github.com/uhyunpark/matchcore/pkg/util"
)

const DefaultInitialCapital = 100000.0

// AccountSource supplies the ledger's cash view for leverage and margin
// checks.
type AccountSource interface {
	Snapshot() types.Account
}

// Metrics aggregates portfolio-level risk.
type Metrics struct {
	PortfolioValue    float64 `json:"portfolioValue"`
	TotalPnL          float64 `json:"totalPnl"`
	DailyPnL          float64 `json:"dailyPnl"`
	MaxDrawdown       float64 `json:"maxDrawdown"`
	CurrentDrawdown   float64 `json:"currentDrawdown"`
	Leverage          float64 `json:"leverage"`
	GrossExposure     float64 `json:"grossExposure"`
	NetExposure       float64 `json:"netExposure"`
	VaR95             float64 `json:"var95"`
	VaR99             float64 `json:"var99"`
	ExpectedShortfall float64 `json:"expectedShortfall"`
	Volatility        float64 `json:"volatility"`
	SharpeRatio       float64 `json:"sharpeRatio"`
	Beta              float64 `json:"beta"`
	Observations      int     `json:"observations"`
	Timestamp         int64   `json:"timestamp"`
}

// PositionRisk is the risk view of one open position.
type PositionRisk struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	MarketValue   float64 `json:"marketValue"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	RealizedPnL   float64 `json:"realizedPnl"`
	Exposure      float64 `json:"exposure"`
	Concentration float64 `json:"concentration"`
	VaR95         float64 `json:"var95"`
	MaxLoss       float64 `json:"maxLoss"`
}

// Check is the outcome of a pre-trade risk check.
type Check struct {
	Approved   bool                  `json:"approved"`
	Violations []types.RiskViolation `json:"violations,omitempty"`
}

// Config configures a Manager. Zero fields take defaults.
type Config struct {
	InitialCapital float64
	Limits         *types.RiskLimits

	// Account restricts the manager to one owner's orders and trades.
	// Empty tracks everything.
	Account string

	Clock  util.Clock
	Logger *zap.SugaredLogger
}

// Manager holds positions, the portfolio value series and limit state. It
// gates orders before they reach the book and absorbs trades after.
type Manager struct {
	mu sync.RWMutex

	limits  atomic.Pointer[types.RiskLimits]
	account string
	source  AccountSource

	positions     map[string]*types.Position
	marks         map[string]float64
	realized      float64
	fees          float64
	dailyTrades   []types.Trade
	violations    []types.RiskViolation
	values        []float64
	returns       []float64
	marketReturns []float64
	peak          float64
	dayStart      float64
	capital       float64

	subMu       sync.RWMutex
	onViolation []func(types.RiskViolation)
	onMetrics   []func(Metrics)

	clock util.Clock
	log   *zap.SugaredLogger
}

func NewManager(cfg Config) *Manager {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = DefaultInitialCapital
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	limits := types.DefaultRiskLimits()
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}
	m := &Manager{
		account:   cfg.Account,
		positions: make(map[string]*types.Position),
		marks:     make(map[string]float64),
		values:    []float64{cfg.InitialCapital},
		peak:      cfg.InitialCapital,
		dayStart:  cfg.InitialCapital,
		capital:   cfg.InitialCapital,
		clock:     cfg.Clock,
		log:       cfg.Logger,
	}
	m.limits.Store(&limits)
	return m
}

// Tracks reports whether orders and trades of account belong to this
// portfolio.
func (m *Manager) Tracks(account string) bool {
	return m.account == "" || m.account == account
}

// SetRiskLimits replaces the limits atomically.
func (m *Manager) SetRiskLimits(l types.RiskLimits) {
	m.limits.Store(&l)
	m.log.Infow("risk_limits_updated",
		"max_position", l.MaxPositionSize,
		"max_leverage", l.MaxLeverage,
		"max_daily_loss", l.MaxDailyLoss,
		"max_drawdown", l.MaxDrawdown)
}

func (m *Manager) GetRiskLimits() types.RiskLimits { return *m.limits.Load() }

func (m *Manager) SetAccountSource(src AccountSource) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()
}

// SetMarketReturns supplies the benchmark series used for beta.
func (m *Manager) SetMarketReturns(r []float64) {
	m.mu.Lock()
	m.marketReturns = append([]float64(nil), r...)
	m.mu.Unlock()
}

// OnViolation registers fn for every recorded violation. Subscribers run
// after the manager's lock is released.
func (m *Manager) OnViolation(fn func(types.RiskViolation)) {
	m.subMu.Lock()
	m.onViolation = append(m.onViolation, fn)
	m.subMu.Unlock()
}

// OnMetrics registers fn for the metrics recomputed after each trade.
func (m *Manager) OnMetrics(fn func(Metrics)) {
	m.subMu.Lock()
	m.onMetrics = append(m.onMetrics, fn)
	m.subMu.Unlock()
}

// referencePrice picks the price an order is evaluated at. book is what
// taking the order's size from the opposite side would average; it is used
// when the order carries no price of its own.
func (m *Manager) referencePrice(o *types.Order, book types.OptionalPrice) float64 {
	if p, ok := o.LimitPrice.Get(); ok {
		return p.Value
	}
	if p, ok := o.StopPrice.Get(); ok {
		return p.Value
	}
	if p, ok := book.Get(); ok && p.IsPositive() {
		return p.Value
	}
	if pos, ok := m.positions[o.Symbol()]; ok {
		if pos.CurrentPrice > 0 {
			return pos.CurrentPrice
		}
		return pos.AveragePrice
	}
	return m.marks[o.Symbol()]
}

// CheckOrderRisk evaluates the position that would exist if o filled
// completely. Every breached limit is recorded, not just the first.
func (m *Manager) CheckOrderRisk(o *types.Order) Check {
	return m.CheckOrderRiskAt(o, types.NoPrice())
}

// CheckOrderRiskAt is CheckOrderRisk with the book's sweep price for o.
func (m *Manager) CheckOrderRiskAt(o *types.Order, book types.OptionalPrice) Check {
	c := m.EvaluateOrder(o, book)
	m.NotifyViolations(c.Violations)
	return c
}

// EvaluateOrder records the violations o would cause without calling
// subscribers. Callers holding their own locks hand the violations to
// NotifyViolations once those are released.
func (m *Manager) EvaluateOrder(o *types.Order, book types.OptionalPrice) Check {
	if !m.Tracks(o.Account) {
		return Check{Approved: true}
	}
	limits := m.GetRiskLimits()
	now := m.clock.Now()

	m.mu.Lock()
	var vs []types.RiskViolation
	add := func(t types.ViolationType, current, limit float64, format string, args ...any) {
		vs = append(vs, types.RiskViolation{
			Type:         t,
			Message:      fmt.Sprintf(format, args...),
			CurrentValue: current,
			LimitValue:   limit,
			Symbol:       o.Symbol(),
			Timestamp:    now,
		})
	}

	sym := o.Symbol()
	price := m.referencePrice(o, book)
	var currentQty float64
	if pos, ok := m.positions[sym]; ok {
		currentQty = pos.Quantity
	}
	delta := o.Side.Sign() * o.Remaining().Value
	projectedQty := currentQty + delta
	projected := math.Abs(projectedQty) * price
	orderNotional := math.Abs(delta) * price
	increasing := math.Abs(projectedQty) > math.Abs(currentQty)

	if price <= 0 && increasing {
		add(types.PositionSize, math.Abs(projectedQty), limits.MaxPositionSize,
			"no reference price for %s; notional cannot be bounded", sym)
	}
	if projected > limits.MaxPositionSize {
		add(types.PositionSize, projected, limits.MaxPositionSize,
			"projected %s position notional %.2f exceeds %.2f", sym, projected, limits.MaxPositionSize)
	}

	gross := projected
	for s, pos := range m.positions {
		if s != sym {
			gross += math.Abs(pos.MarketValue())
		}
	}
	equity := m.equityLocked()
	if increasing && gross > 0 {
		if equity <= 0 {
			add(types.Leverage, gross, limits.MaxLeverage, "equity %.2f is not positive", equity)
		} else if lev := gross / equity; lev > limits.MaxLeverage {
			add(types.Leverage, lev, limits.MaxLeverage, "projected leverage %.2fx exceeds %.2fx", lev, limits.MaxLeverage)
		}
	}

	if m.source != nil && increasing {
		if bp := m.source.Snapshot().BuyingPower; orderNotional > bp {
			add(types.Margin, orderNotional, bp, "order notional %.2f exceeds buying power %.2f", orderNotional, bp)
		}
	}

	if limits.MaxConcentration > 0 && limits.MaxConcentration < 1 && gross > 0 && increasing {
		if c := projected / gross; c > limits.MaxConcentration {
			add(types.Concentration, c, limits.MaxConcentration, "%s would be %.1f%% of exposure", sym, c*100)
		}
	}

	if projectedQty < 0 && delta < 0 && !limits.AllowShortSelling {
		add(types.ProductRestriction, projectedQty, 0, "short selling %s is not allowed", sym)
	}
	switch o.Asset.Type {
	case types.Options:
		if !limits.AllowOptions {
			add(types.ProductRestriction, 1, 0, "options trading is not allowed")
		}
	case types.Futures:
		if !limits.AllowFutures {
			add(types.ProductRestriction, 1, 0, "futures trading is not allowed")
		}
	case types.Stock, types.ETF, types.Crypto, types.Forex:
	}

	// Loss and drawdown limits block new exposure only; reducing orders pass.
	if loss := -m.dailyPnLLocked(); increasing && loss > limits.MaxDailyLoss {
		add(types.DailyLoss, loss, limits.MaxDailyLoss, "daily loss %.2f exceeds %.2f", loss, limits.MaxDailyLoss)
	}

	if dd := m.currentDrawdownLocked(); increasing && dd > limits.MaxDrawdown {
		add(types.Drawdown, dd, limits.MaxDrawdown, "drawdown %.2f%% exceeds %.2f%%", dd*100, limits.MaxDrawdown*100)
	}

	m.violations = append(m.violations, vs...)
	m.mu.Unlock()

	if len(vs) > 0 {
		m.log.Warnw("risk_check_failed",
			"order_id", o.ID,
			"symbol", sym,
			"violations", len(vs),
			"first", vs[0].Type.String())
	}
	return Check{Approved: len(vs) == 0, Violations: vs}
}

// ProcessTrade books a fill into the portfolio, extends the value series and
// notifies metrics subscribers.
func (m *Manager) ProcessTrade(t types.Trade) {
	if metrics, ok := m.BookTrade(t); ok {
		m.NotifyMetrics(metrics)
	}
}

// BookTrade is ProcessTrade without notification. It reports false for
// trades of accounts the manager does not track.
func (m *Manager) BookTrade(t types.Trade) (Metrics, bool) {
	if !m.Tracks(t.Account) {
		return Metrics{}, false
	}
	m.mu.Lock()
	sym := t.Symbol()
	pos, ok := m.positions[sym]
	if !ok {
		pos = &types.Position{Asset: t.Asset}
		m.positions[sym] = pos
	}
	m.realized += pos.ApplyFill(t.SignedQuantity(), t.Price.Value)
	m.fees += t.Commission
	if pos.IsFlat() {
		delete(m.positions, sym)
	}
	m.dailyTrades = append(m.dailyTrades, t)
	m.appendValueLocked(m.portfolioValueLocked())
	metrics := m.metricsLocked()
	m.mu.Unlock()
	return metrics, true
}

func (m *Manager) NotifyMetrics(metrics Metrics) {
	m.subMu.RLock()
	subs := m.onMetrics
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(metrics)
	}
}

// UpdateMarkPrice revalues an open position. The mark also prices market
// orders for symbols without a position.
func (m *Manager) UpdateMarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	m.marks[symbol] = price
	if pos, ok := m.positions[symbol]; ok {
		pos.Mark(price)
	}
	m.mu.Unlock()
}

// UpdatePosition replaces a position outright. A flat position is removed.
func (m *Manager) UpdatePosition(p types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.IsFlat() {
		delete(m.positions, p.Asset.Symbol)
		return
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = p.AveragePrice
	}
	p.Mark(p.CurrentPrice)
	m.positions[p.Asset.Symbol] = &p
}

func (m *Manager) RemovePosition(symbol string) {
	m.mu.Lock()
	delete(m.positions, symbol)
	m.mu.Unlock()
}

// GetPositions returns copies sorted by symbol.
func (m *Manager) GetPositions() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Symbol < out[j].Asset.Symbol })
	return out
}

func (m *Manager) GetPosition(symbol string) (types.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

func (m *Manager) GetViolations() []types.RiskViolation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.RiskViolation(nil), m.violations...)
}

func (m *Manager) ClearViolations() {
	m.mu.Lock()
	m.violations = nil
	m.mu.Unlock()
}

func (m *Manager) DailyTrades() []types.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Trade(nil), m.dailyTrades...)
}

// PortfolioValues returns the value series, oldest first.
func (m *Manager) PortfolioValues() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.values...)
}

// ResetDailyMetrics starts a new trading day at the current value.
func (m *Manager) ResetDailyMetrics() {
	m.mu.Lock()
	m.dailyTrades = nil
	m.violations = nil
	m.dayStart = m.portfolioValueLocked()
	m.mu.Unlock()
}

// ResetAllMetrics additionally restarts the value series and peak.
func (m *Manager) ResetAllMetrics() {
	m.mu.Lock()
	v := m.portfolioValueLocked()
	m.dailyTrades = nil
	m.violations = nil
	m.dayStart = v
	m.values = []float64{v}
	m.returns = nil
	m.peak = v
	m.mu.Unlock()
}

func (m *Manager) GetRiskMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metricsLocked()
}

// GetPositionRisks returns per-position risk sorted by symbol.
func (m *Manager) GetPositionRisks() []PositionRisk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gross, _ := m.exposureLocked()
	vol := Volatility(m.returns)
	out := make([]PositionRisk, 0, len(m.positions))
	for sym, p := range m.positions {
		mv := p.MarketValue()
		pr := PositionRisk{
			Symbol:        sym,
			Quantity:      p.Quantity,
			MarketValue:   mv,
			UnrealizedPnL: p.UnrealizedPnL,
			RealizedPnL:   p.RealizedPnL,
			Exposure:      math.Abs(mv),
			VaR95:         math.Abs(mv) * ZScore(0.95) * vol,
			MaxLoss:       calculateMaxLoss(p),
		}
		if gross > 0 {
			pr.Concentration = math.Abs(mv) / gross
		}
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// CalculateMaxLoss is the position's absolute market value, long or short.
func (m *Manager) CalculateMaxLoss(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return 0
	}
	return calculateMaxLoss(p)
}

func calculateMaxLoss(p *types.Position) float64 {
	return math.Abs(p.MarketValue())
}

// CalculateConcentration is the symbol's share of gross exposure.
func (m *Manager) CalculateConcentration(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	gross, _ := m.exposureLocked()
	if !ok || gross == 0 {
		return 0
	}
	return math.Abs(p.MarketValue()) / gross
}

// CalculatePositionSize sizes a position so that a move of stopDistance
// against it loses riskFraction of equity, capped by MaxPositionSize.
func (m *Manager) CalculatePositionSize(price, riskFraction, stopDistance float64) float64 {
	if price <= 0 || stopDistance <= 0 || riskFraction <= 0 {
		return 0
	}
	m.mu.RLock()
	equity := m.equityLocked()
	m.mu.RUnlock()
	size := equity * riskFraction / stopDistance
	if maxSize := m.GetRiskLimits().MaxPositionSize / price; size > maxSize {
		size = maxSize
	}
	return math.Max(0, size)
}

func (m *Manager) NotifyViolations(vs []types.RiskViolation) {
	m.subMu.RLock()
	subs := m.onViolation
	m.subMu.RUnlock()
	for _, v := range vs {
		for _, fn := range subs {
			fn(v)
		}
	}
}

func (m *Manager) exposureLocked() (gross, net float64) {
	for _, p := range m.positions {
		mv := p.MarketValue()
		gross += math.Abs(mv)
		net += mv
	}
	return gross, net
}

func (m *Manager) unrealizedLocked() float64 {
	var u float64
	for _, p := range m.positions {
		u += p.UnrealizedPnL
	}
	return u
}

func (m *Manager) totalPnLLocked() float64 {
	return m.realized - m.fees + m.unrealizedLocked()
}

func (m *Manager) portfolioValueLocked() float64 {
	return m.capital + m.totalPnLLocked()
}

func (m *Manager) dailyPnLLocked() float64 {
	return m.portfolioValueLocked() - m.dayStart
}

func (m *Manager) equityLocked() float64 {
	if m.source != nil {
		return m.source.Snapshot().Equity
	}
	return m.portfolioValueLocked()
}

func (m *Manager) currentDrawdownLocked() float64 {
	if m.peak <= 0 {
		return 0
	}
	return math.Max(0, (m.peak-m.portfolioValueLocked())/m.peak)
}

func (m *Manager) appendValueLocked(v float64) {
	if n := len(m.values); n > 0 && m.values[n-1] != 0 {
		m.returns = append(m.returns, (v-m.values[n-1])/m.values[n-1])
	}
	m.values = append(m.values, v)
	if v > m.peak {
		m.peak = v
	}
}

func (m *Manager) metricsLocked() Metrics {
	value := m.portfolioValueLocked()
	gross, net := m.exposureLocked()
	equity := m.equityLocked()

	leverage := 1.0
	if equity > 0 {
		leverage = gross / equity
	}
	beta := 1.0
	if len(m.marketReturns) >= 2 && len(m.returns) >= 2 {
		beta = Beta(m.returns, m.marketReturns)
	}

	return Metrics{
		PortfolioValue:    value,
		TotalPnL:          m.totalPnLLocked(),
		DailyPnL:          m.dailyPnLLocked(),
		MaxDrawdown:       MaxDrawdown(m.values),
		CurrentDrawdown:   m.currentDrawdownLocked(),
		Leverage:          leverage,
		GrossExposure:     gross,
		NetExposure:       net,
		VaR95:             HistoricalVaR(m.returns, 0.95, value),
		VaR99:             HistoricalVaR(m.returns, 0.99, value),
		ExpectedShortfall: ExpectedShortfall(m.returns, 0.95, value),
		Volatility:        Volatility(m.returns),
		SharpeRatio:       SharpeRatio(m.returns, 0),
		Beta:              beta,
		Observations:      len(m.returns),
		Timestamp:         m.clock.Now().UnixMilli(),
	}
}
