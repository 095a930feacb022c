package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecentTradesNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	base := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordTrades([]types.Trade{{
			ID:        fmt.Sprintf("T%d", i),
			Asset:     types.Asset{Symbol: "AAPL"},
			Quantity:  types.NewQuantity(1),
			Price:     types.NewPrice(100 + float64(i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}}))
	}

	got, err := j.RecentTrades(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"T4", "T3", "T2"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, "104.00", got[0].Price.String())

	all, err := j.RecentTrades(100)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRecordTradesBatch(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now()
	require.NoError(t, j.RecordTrades([]types.Trade{
		{ID: "a", Timestamp: now},
		{ID: "b", Timestamp: now.Add(time.Millisecond)},
	}))
	got, err := j.RecentTrades(10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, j.RecordTrades(nil))
}

func TestUnsyncedWritesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.RecordOrder(types.Order{ID: "ORD-1", Status: types.Filled}))
	require.NoError(t, j.RecordTrades([]types.Trade{{ID: "T1", OrderID: "ORD-1", Timestamp: time.Now()}}))
	require.NoError(t, j.Close())

	j, err = OpenJournal(dir)
	require.NoError(t, err)
	defer j.Close()
	o, err := j.Order("ORD-1")
	require.NoError(t, err)
	assert.Equal(t, types.Filled, o.Status)
	trades, err := j.RecentTrades(1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "T1", trades[0].ID)
}

func TestOrderKeepsLatestState(t *testing.T) {
	j := openTestJournal(t)
	o := types.Order{
		ID:         "ORD-1",
		Asset:      types.Asset{Symbol: "AAPL"},
		Type:       types.Limit,
		Side:       types.Buy,
		Quantity:   types.NewQuantity(10),
		LimitPrice: types.SomePrice(types.NewPrice(150.25)),
		Status:     types.Pending,
	}
	require.NoError(t, j.RecordOrder(o))
	o.Status = types.Cancelled
	require.NoError(t, j.RecordOrder(o))

	got, err := j.Order("ORD-1")
	require.NoError(t, err)
	assert.Equal(t, types.Cancelled, got.Status)
	price, ok := got.LimitPrice.Get()
	require.True(t, ok)
	assert.Equal(t, "150.25", price.String())

	_, err = j.Order("ORD-404")
	assert.ErrorIs(t, err, ErrNotFound)
}
