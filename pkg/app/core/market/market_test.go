package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, in := range DefaultInstruments() {
		require.NoError(t, r.Register(in))
	}
	return r
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, len(DefaultInstruments()), r.Count())
	assert.True(t, r.Exists("AAPL"))

	in, err := r.Get("AAPL")
	require.NoError(t, err)
	assert.Equal(t, types.Stock, in.Type)

	_, err = r.Get("NOPE")
	assert.ErrorIs(t, err, types.ErrUnknownAsset)
	assert.ErrorIs(t, err, types.ErrInvalidOrder)

	err = r.Register(DefaultInstruments()[0])
	assert.Error(t, err, "duplicate symbol")

	list := r.List()
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Symbol, list[i].Symbol)
	}
}

func TestInstrumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Instrument
		wantErr bool
	}{
		{"ok", Instrument{Asset: types.Asset{Symbol: "X", TickSize: 0.01, LotSize: 1}, TakerFeeBps: 5, MakerFeeBps: -2}, false},
		{"empty symbol", Instrument{}, true},
		{"negative tick", Instrument{Asset: types.Asset{Symbol: "X", TickSize: -1}}, true},
		{"rebate exceeds fee", Instrument{Asset: types.Asset{Symbol: "X"}, TakerFeeBps: 1, MakerFeeBps: -2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOrder(t *testing.T) {
	r := newTestRegistry(t)
	base := func() *types.Order {
		return &types.Order{
			Asset:      types.Asset{Symbol: "AAPL"},
			Type:       types.Limit,
			Side:       types.Buy,
			Quantity:   types.NewQuantity(10),
			LimitPrice: types.SomePrice(types.NewPrice(150.10)),
		}
	}

	asset, err := r.ValidateOrder(base())
	require.NoError(t, err)
	assert.Equal(t, "NASDAQ", asset.Exchange, "registered asset replaces client copy")

	tests := []struct {
		name   string
		mutate func(o *types.Order)
		want   error
	}{
		{"zero quantity", func(o *types.Order) { o.Quantity = types.NewQuantity(0) }, types.ErrInvalidOrder},
		{"fractional lot", func(o *types.Order) { o.Quantity = types.NewQuantity(1.5) }, types.ErrInvalidOrder},
		{"off tick", func(o *types.Order) { o.LimitPrice = types.SomePrice(types.NewPriceWithPrecision(150.105, 3)) }, types.ErrInvalidOrder},
		{"negative price", func(o *types.Order) { o.LimitPrice = types.SomePrice(types.NewPrice(-1)) }, types.ErrInvalidOrder},
		{"unknown symbol", func(o *types.Order) { o.Asset.Symbol = "ZZZ" }, types.ErrUnknownAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base()
			tt.mutate(o)
			_, err := r.ValidateOrder(o)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHaltedMarketRejects(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.UpdateStatus("AAPL", Halted))

	o := &types.Order{Asset: types.Asset{Symbol: "AAPL"}, Type: types.Market, Side: types.Buy, Quantity: types.NewQuantity(1)}
	_, err := r.ValidateOrder(o)
	assert.ErrorIs(t, err, types.ErrMarketClosed)

	require.NoError(t, r.UpdateStatus("AAPL", Delisted))
	assert.Error(t, r.UpdateStatus("AAPL", Active), "delisted is terminal")
}

func TestFee(t *testing.T) {
	in := Instrument{TakerFeeBps: 5, MakerFeeBps: -2}
	assert.InDelta(t, 5.0, in.Fee(10000, types.Taker), 1e-9)
	assert.InDelta(t, -2.0, in.Fee(10000, types.Maker), 1e-9)
}
