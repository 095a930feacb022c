package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/matchcore/pkg/app/core/risk"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

func TestObserveTradeCountsTakerLegsOnly(t *testing.T) {
	c := NewCollector()
	leg := types.Trade{
		Asset:     types.Asset{Symbol: "AAPL"},
		Quantity:  types.NewQuantity(10),
		Price:     types.NewPrice(150),
		Liquidity: types.Taker,
	}
	c.ObserveTrade(leg)
	leg.Liquidity = types.Maker
	c.ObserveTrade(leg)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Trades.WithLabelValues("AAPL")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(c.TradedNotional.WithLabelValues("AAPL")))
}

func TestOrderAndViolationCounters(t *testing.T) {
	c := NewCollector()
	c.ObserveOrder(types.Order{Status: types.Filled})
	c.ObserveOrder(types.Order{Status: types.Filled})
	c.ObserveOrder(types.Order{Status: types.Rejected})
	c.ObserveViolation(types.RiskViolation{Type: types.Leverage})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Orders.WithLabelValues("FILLED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Orders.WithLabelValues("REJECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Violations.WithLabelValues(types.Leverage.String())))
}

func TestGaugesAndHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveRisk(risk.Metrics{CurrentDrawdown: 0.05, DailyPnL: -120, PortfolioValue: 99880})
	c.SetActiveOrders(3)
	c.ObserveSubmit(150 * time.Microsecond)

	assert.Equal(t, 0.05, testutil.ToFloat64(c.Drawdown))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.ActiveOrders))
	assert.Equal(t, 1, testutil.CollectAndCount(c.SubmitLatency))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "matchcore_risk_daily_pnl -120"))
}
