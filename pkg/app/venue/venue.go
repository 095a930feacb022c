package venue

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/account"
	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/order"
	"github.com/uhyunpark/matchcore/pkg/app/core/risk"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
	"github.com/uhyunpark/matchcore/pkg/metrics"
	"github.com/uhyunpark/matchcore/pkg/storage"
	"github.com/uhyunpark/matchcore/pkg/stream"
	"github.com/uhyunpark/matchcore/pkg/util"
)

// DefaultAccount owns orders submitted without an account.
const DefaultAccount = "paper"

type Config struct {
	Account        string
	InitialCapital float64
	Limits         types.RiskLimits
	Instruments    []*market.Instrument // nil loads market.DefaultInstruments

	// Optional sinks. Nil disables each.
	Journal   *storage.Journal
	Metrics   *metrics.Collector
	Publisher *stream.TradePublisher

	Clock  util.Clock
	Logger *zap.SugaredLogger
}

// Venue wires the registry, order manager, risk manager and ledger together
// and fans their events out to the configured sinks.
type Venue struct {
	account string

	registry *market.Registry
	orders   *order.Manager
	risk     *risk.Manager
	ledger   *account.Ledger

	journal *storage.Journal
	metrics *metrics.Collector

	clock util.Clock
	log   *zap.SugaredLogger
}

func New(cfg Config) (*Venue, error) {
	if cfg.Account == "" {
		cfg.Account = DefaultAccount
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Limits == (types.RiskLimits{}) {
		cfg.Limits = types.DefaultRiskLimits()
	}
	if cfg.Instruments == nil {
		cfg.Instruments = market.DefaultInstruments()
	}

	reg := market.NewRegistry()
	for _, in := range cfg.Instruments {
		if err := reg.Register(in); err != nil {
			return nil, fmt.Errorf("register %s: %w", in.Symbol, err)
		}
	}

	ledger := account.NewLedger(account.Config{
		Account:      cfg.Account,
		StartingCash: cfg.InitialCapital,
		MaxLeverage:  cfg.Limits.MaxLeverage,
		Logger:       cfg.Logger.Named("ledger"),
	})
	limits := cfg.Limits
	rm := risk.NewManager(risk.Config{
		InitialCapital: cfg.InitialCapital,
		Limits:         &limits,
		Account:        cfg.Account,
		Clock:          cfg.Clock,
		Logger:         cfg.Logger.Named("risk"),
	})
	rm.SetAccountSource(ledger)

	om := order.NewManager(order.Config{
		Instruments: reg,
		Risk:        rm,
		Clock:       cfg.Clock,
		Logger:      cfg.Logger.Named("orders"),
	})

	v := &Venue{
		account:  cfg.Account,
		registry: reg,
		orders:   om,
		risk:     rm,
		ledger:   ledger,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		log:      cfg.Logger,
	}
	v.subscribe(cfg.Publisher)
	return v, nil
}

func (v *Venue) subscribe(pub *stream.TradePublisher) {
	v.orders.OnTrade(func(t types.Trade) { v.ledger.ApplyTrade(t) })
	v.orders.OnTick(func(t types.MarketTick) {
		if p := markPrice(t); p > 0 {
			v.ledger.MarkToMarket(t.Symbol, p)
		}
	})

	if v.journal != nil {
		v.orders.OnTradeBatch(func(legs []types.Trade) {
			if err := v.journal.RecordTrades(legs); err != nil {
				v.log.Errorw("journal_trades_failed", "legs", len(legs), "first_trade_id", legs[0].ID, "err", err)
			}
		})
		v.orders.OnOrderUpdate(func(o types.Order) {
			if err := v.journal.RecordOrder(o); err != nil {
				v.log.Errorw("journal_order_failed", "order_id", o.ID, "err", err)
			}
		})
	}

	if v.metrics != nil {
		m := v.metrics
		v.orders.OnTrade(m.ObserveTrade)
		v.orders.OnOrderUpdate(func(o types.Order) {
			m.ObserveOrder(o)
			m.SetActiveOrders(v.orders.ActiveOrderCount())
		})
		v.risk.OnViolation(m.ObserveViolation)
		v.risk.OnMetrics(m.ObserveRisk)
	}

	if pub != nil {
		v.orders.OnTrade(pub.Publish)
	}
}

func markPrice(t types.MarketTick) float64 {
	if t.Last.IsPositive() {
		return t.Last.Value
	}
	if t.Bid.IsPositive() && t.Ask.IsPositive() {
		return t.Mid().Value
	}
	return 0
}

func (v *Venue) Account() string             { return v.account }
func (v *Venue) Registry() *market.Registry  { return v.registry }
func (v *Venue) Orders() *order.Manager      { return v.orders }
func (v *Venue) Risk() *risk.Manager         { return v.risk }
func (v *Venue) Ledger() *account.Ledger     { return v.ledger }
func (v *Venue) Metrics() *metrics.Collector { return v.metrics }

// SubmitOrder defaults the account to the venue's paper account.
func (v *Venue) SubmitOrder(o types.Order) order.ExecutionResult {
	if o.Account == "" {
		o.Account = v.account
	}
	start := time.Now()
	res := v.orders.SubmitOrder(o)
	if v.metrics != nil {
		v.metrics.ObserveSubmit(time.Since(start))
	}
	return res
}

func (v *Venue) CancelOrder(id string) order.ExecutionResult {
	return v.orders.CancelOrder(id)
}

func (v *Venue) ModifyOrder(id string, o types.Order) order.ExecutionResult {
	return v.orders.ModifyOrder(id, o)
}

func (v *Venue) ProcessMarketTick(t types.MarketTick) []order.ExecutionResult {
	return v.orders.ProcessMarketTick(t)
}

// CheckOrderRisk runs the pre-trade check without submitting. The order is
// resolved against the registry first so product rules see the asset type.
func (v *Venue) CheckOrderRisk(o types.Order) (risk.Check, error) {
	if o.Account == "" {
		o.Account = v.account
	}
	asset, err := v.registry.ValidateOrder(&o)
	if err != nil {
		return risk.Check{}, err
	}
	o.Asset = asset
	return v.risk.CheckOrderRiskAt(&o, v.orders.SweepPrice(o.Symbol(), o.Side, o.Remaining())), nil
}

// SetRiskLimits replaces the limits and keeps the ledger's leverage in step.
func (v *Venue) SetRiskLimits(l types.RiskLimits) {
	v.risk.SetRiskLimits(l)
	v.ledger.SetMaxLeverage(l.MaxLeverage)
}

// EndOfDay summarises one end-of-day run.
type EndOfDay struct {
	Expired []types.Order `json:"expired"`
	Metrics risk.Metrics  `json:"metrics"`
	At      time.Time     `json:"at"`
}

// RunEndOfDay expires DAY orders and starts a new risk day.
func (v *Venue) RunEndOfDay() EndOfDay {
	expired := v.orders.ExpireDayOrders()
	closing := v.risk.GetRiskMetrics()
	v.risk.ResetDailyMetrics()
	v.log.Infow("end_of_day",
		"expired", len(expired),
		"daily_pnl", closing.DailyPnL,
		"portfolio_value", closing.PortfolioValue)
	return EndOfDay{Expired: expired, Metrics: closing, At: v.clock.Now()}
}
