package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/matchcore/pkg/app/core/risk"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

const namespace = "matchcore"

// Collector owns the venue's Prometheus series. Each collector has its own
// registry so several venues can live in one process.
type Collector struct {
	reg *prometheus.Registry

	Orders         *prometheus.CounterVec
	Trades         *prometheus.CounterVec
	TradedNotional *prometheus.CounterVec
	Violations     *prometheus.CounterVec
	SubmitLatency  prometheus.Histogram
	ActiveOrders   prometheus.Gauge
	Drawdown       prometheus.Gauge
	DailyPnL       prometheus.Gauge
	PortfolioValue prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_updates_total",
			Help:      "Order state changes by resulting status.",
		}, []string{"status"}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Matched trades by symbol, counted once per match.",
		}, []string{"symbol"}),
		TradedNotional: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_notional_total",
			Help:      "Traded notional by symbol.",
		}, []string{"symbol"}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "violations_total",
			Help:      "Pre-trade risk violations by type.",
		}, []string{"type"}),
		SubmitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_duration_seconds",
			Help:      "Time from order submission to execution result.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		ActiveOrders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_orders",
			Help:      "Orders in PENDING or PARTIAL state.",
		}),
		Drawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "current_drawdown_ratio",
			Help:      "Current drawdown from the portfolio peak.",
		}),
		DailyPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_pnl",
			Help:      "P&L since the last daily reset.",
		}),
		PortfolioValue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "portfolio_value",
			Help:      "Initial capital plus total P&L.",
		}),
	}
}

func (c *Collector) ObserveOrder(o types.Order) {
	c.Orders.WithLabelValues(o.Status.String()).Inc()
}

// ObserveTrade counts taker legs only, so each match is counted once.
func (c *Collector) ObserveTrade(t types.Trade) {
	if t.Liquidity != types.Taker {
		return
	}
	c.Trades.WithLabelValues(t.Symbol()).Inc()
	c.TradedNotional.WithLabelValues(t.Symbol()).Add(t.Notional())
}

func (c *Collector) ObserveViolation(v types.RiskViolation) {
	c.Violations.WithLabelValues(v.Type.String()).Inc()
}

func (c *Collector) ObserveRisk(m risk.Metrics) {
	c.Drawdown.Set(m.CurrentDrawdown)
	c.DailyPnL.Set(m.DailyPnL)
	c.PortfolioValue.Set(m.PortfolioValue)
}

func (c *Collector) ObserveSubmit(d time.Duration) {
	c.SubmitLatency.Observe(d.Seconds())
}

func (c *Collector) SetActiveOrders(n int) {
	c.ActiveOrders.Set(float64(n))
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
