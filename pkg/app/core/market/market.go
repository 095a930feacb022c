package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// Status defines the trading status of an instrument
type Status int8

const (
	Active Status = iota // Trading enabled
	Halted               // Trading suspended, orders rejected
	Delisted             // Terminal
)

func (s Status) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Halted:
		return "HALTED"
	case Delisted:
		return "DELISTED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Instrument is a tradable asset plus venue parameters.
type Instrument struct {
	types.Asset

	Status Status `json:"status"`

	// MinNotional rejects dust orders; zero disables the check.
	MinNotional float64 `json:"minNotional"`

	// Fees in basis points of notional. Maker fees may be negative (rebate).
	MakerFeeBps float64 `json:"makerFeeBps"`
	TakerFeeBps float64 `json:"takerFeeBps"`
}

// NewInstrument creates an active instrument with validation
func NewInstrument(asset types.Asset, makerFeeBps, takerFeeBps float64) (*Instrument, error) {
	in := &Instrument{
		Asset:       asset,
		Status:      Active,
		MakerFeeBps: makerFeeBps,
		TakerFeeBps: takerFeeBps,
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrument params: %w", err)
	}
	return in, nil
}

// Validate checks parameter sanity
func (in *Instrument) Validate() error {
	if in.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if !in.Type.Valid() {
		return fmt.Errorf("invalid asset type %d", in.Type)
	}
	if in.TickSize < 0 || in.LotSize < 0 {
		return fmt.Errorf("tick and lot size cannot be negative")
	}
	if in.TakerFeeBps < 0 {
		return fmt.Errorf("taker fee cannot be negative")
	}
	if in.MakerFeeBps < -in.TakerFeeBps {
		return fmt.Errorf("maker rebate (%v bps) exceeds taker fee (%v bps)", -in.MakerFeeBps, in.TakerFeeBps)
	}
	return nil
}

// Fee returns the commission for a fill of the given notional.
func (in *Instrument) Fee(notional float64, liq types.Liquidity) float64 {
	bps := in.TakerFeeBps
	if liq == types.Maker {
		bps = in.MakerFeeBps
	}
	return decimal.NewFromFloat(notional).
		Mul(decimal.NewFromFloat(bps)).
		Div(decimal.NewFromInt(10000)).
		Round(4).
		InexactFloat64()
}

// ValidateOrder checks an order against the instrument's trading rules.
// Field presence is the order manager's concern; this checks values.
func (in *Instrument) ValidateOrder(o *types.Order) error {
	if in.Status != Active {
		return fmt.Errorf("%w: %s is %s", types.ErrMarketClosed, in.Symbol, in.Status)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", types.ErrInvalidOrder)
	}
	if !aligned(o.Quantity.Decimal(), in.LotSize) {
		return fmt.Errorf("%w: quantity %s is not a multiple of lot size %v", types.ErrInvalidOrder, o.Quantity, in.LotSize)
	}
	for _, op := range []types.OptionalPrice{o.LimitPrice, o.StopPrice} {
		p, ok := op.Get()
		if !ok {
			continue
		}
		if !p.IsPositive() {
			return fmt.Errorf("%w: price %s must be positive", types.ErrInvalidOrder, p)
		}
		if !aligned(p.Decimal(), in.TickSize) {
			return fmt.Errorf("%w: price %s is not a multiple of tick size %v", types.ErrInvalidOrder, p, in.TickSize)
		}
	}
	if off, ok := o.TrailingOffset.Get(); ok && !off.IsPositive() {
		return fmt.Errorf("%w: trailing offset must be positive", types.ErrInvalidOrder)
	}
	if in.MinNotional > 0 {
		if p, ok := o.LimitPrice.Get(); ok && types.Notional(p, o.Quantity) < in.MinNotional {
			return fmt.Errorf("%w: notional below minimum %v", types.ErrInvalidOrder, in.MinNotional)
		}
	}
	return nil
}

func aligned(v decimal.Decimal, step float64) bool {
	if step <= 0 {
		return true
	}
	return v.Mod(decimal.NewFromFloat(step)).IsZero()
}

// DefaultInstruments is the paper-trading universe loaded at startup.
func DefaultInstruments() []*Instrument {
	mk := func(sym, exch string, t types.AssetType, tick, lot, maker, taker float64) *Instrument {
		return &Instrument{
			Asset:       types.Asset{Symbol: sym, Exchange: exch, Type: t, TickSize: tick, LotSize: lot},
			Status:      Active,
			MakerFeeBps: maker,
			TakerFeeBps: taker,
		}
	}
	return []*Instrument{
		mk("AAPL", "NASDAQ", types.Stock, 0.01, 1, 0, 1),
		mk("MSFT", "NASDAQ", types.Stock, 0.01, 1, 0, 1),
		mk("SPY", "NYSE", types.ETF, 0.01, 1, 0, 1),
		mk("BTC-USD", "PAPER", types.Crypto, 0.01, 0.0001, 2, 5),
		mk("ES", "CME", types.Futures, 0.25, 1, 0, 1),
	}
}
