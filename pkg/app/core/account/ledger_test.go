package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

func fill(account string, side types.Side, qty, price, fee float64) types.Trade {
	return types.Trade{
		ID:         "t",
		Account:    account,
		Asset:      types.Asset{Symbol: "AAPL"},
		Side:       side,
		Quantity:   types.NewQuantity(qty),
		Price:      types.NewPrice(price),
		Commission: fee,
	}
}

func TestNewLedgerDefaults(t *testing.T) {
	l := NewLedger(Config{})
	snap := l.Snapshot()
	assert.Equal(t, DefaultStartingCash, snap.Cash)
	assert.Equal(t, DefaultStartingCash, snap.Equity)
	assert.Equal(t, DefaultStartingCash*DefaultMaxLeverage, snap.BuyingPower)
	assert.Zero(t, snap.MarginUsed)
}

func TestApplyTradeBooksCashAndPosition(t *testing.T) {
	l := NewLedger(Config{Account: "paper"})

	assert.False(t, l.ApplyTrade(fill("mm", types.Buy, 10, 100, 0)))
	require.True(t, l.ApplyTrade(fill("paper", types.Buy, 10, 100, 1)))

	snap := l.Snapshot()
	assert.InDelta(t, 100000-1000-1, snap.Cash, 1e-9)
	assert.InDelta(t, 99999, snap.Equity, 1e-9)
	assert.InDelta(t, 99999*2-1000, snap.BuyingPower, 1e-9)
	assert.InDelta(t, 500, snap.MarginUsed, 1e-9)

	l.MarkToMarket("AAPL", 110)
	pos, ok := l.Position("AAPL")
	require.True(t, ok)
	assert.InDelta(t, 100, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 100099, l.Snapshot().Equity, 1e-9)

	require.True(t, l.ApplyTrade(fill("paper", types.Sell, 10, 110, 1)))
	_, ok = l.Position("AAPL")
	assert.False(t, ok, "flat positions are dropped")
	assert.InDelta(t, 100098, l.Snapshot().Cash, 1e-9)

	stats := l.Stats()
	assert.InDelta(t, 100, stats.RealizedPnL, 1e-9)
	assert.InDelta(t, 2, stats.Fees, 1e-9)
	assert.Equal(t, 2, stats.Fills)
}

func TestShortPositionMarks(t *testing.T) {
	l := NewLedger(Config{})
	l.MarkToMarket("AAPL", 50)
	l.ApplyTrade(fill("", types.Sell, 4, 50, 0))
	l.MarkToMarket("AAPL", 45)

	pos, _ := l.Position("AAPL")
	assert.Equal(t, -4.0, pos.Quantity)
	assert.InDelta(t, 20, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 100000+200-180, l.Snapshot().Equity, 1e-9)
}

func TestResetAndLeverage(t *testing.T) {
	l := NewLedger(Config{StartingCash: 5000})
	l.ApplyTrade(fill("", types.Buy, 1, 100, 0))
	l.SetMaxLeverage(4)
	assert.InDelta(t, 5000*4-100, l.Snapshot().BuyingPower, 1e-9)

	l.Reset()
	assert.Empty(t, l.Positions())
	assert.Equal(t, 5000.0, l.Snapshot().Cash)
}
