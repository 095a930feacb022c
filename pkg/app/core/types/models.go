package types

import (
	"math"
	"slices"
	"time"
)

// Asset identifies a tradable instrument. Immutable after creation.
type Asset struct {
	Symbol   string    `json:"symbol"`
	Exchange string    `json:"exchange"`
	Type     AssetType `json:"type"`
	TickSize float64   `json:"tickSize"`
	LotSize  float64   `json:"lotSize"`
}

// Order is mutated only by the order manager; everything else sees clones.
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"clientOrderId,omitempty"`
	Account        string          `json:"account,omitempty"`
	Asset          Asset           `json:"asset"`
	Type           OrderType       `json:"type"`
	Side           Side            `json:"side"`
	Quantity       Quantity        `json:"quantity"`
	LimitPrice     OptionalPrice   `json:"limitPrice"`
	StopPrice      OptionalPrice   `json:"stopPrice"`
	TrailingOffset OptionalPrice   `json:"trailingOffset"`
	TIF            TimeInForce     `json:"timeInForce"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity Quantity        `json:"filledQuantity"`
	AvgFillPrice   Price           `json:"avgFillPrice"`
	Timestamp      time.Time       `json:"timestamp"`
	Triggered      bool            `json:"triggered,omitempty"`
	RejectReason   string          `json:"rejectReason,omitempty"`
	Violations     []RiskViolation `json:"violations,omitempty"`
}

func (o *Order) Symbol() string { return o.Asset.Symbol }

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() Quantity { return o.Quantity.Sub(o.FilledQuantity) }

func (o *Order) IsActive() bool { return !o.Status.Terminal() }

// Clone returns a copy that shares no mutable state with o.
func (o *Order) Clone() *Order {
	c := *o
	c.Violations = slices.Clone(o.Violations)
	return &c
}

// Fill records an execution of qty at price, updating the average fill price
// and status. The caller guarantees qty does not exceed Remaining.
func (o *Order) Fill(qty Quantity, price Price) {
	prev := o.FilledQuantity.Value
	filled := o.FilledQuantity.Add(qty)
	if filled.Value > 0 {
		avg := (o.AvgFillPrice.Value*prev + price.Value*qty.Value) / filled.Value
		o.AvgFillPrice = NewPriceWithPrecision(avg, price.prec())
	}
	o.FilledQuantity = filled
	if o.Remaining().IsZero() {
		o.FilledQuantity = o.Quantity
		o.Status = Filled
	} else {
		o.Status = Partial
	}
}

// Trade is one side of a fill. Immutable once created.
type Trade struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"matchId"`
	OrderID    string    `json:"orderId"`
	Account    string    `json:"account,omitempty"`
	Asset      Asset     `json:"asset"`
	Side       Side      `json:"side"`
	Quantity   Quantity  `json:"quantity"`
	Price      Price     `json:"price"`
	Commission float64   `json:"commission"`
	Liquidity  Liquidity `json:"liquidity"`
	Timestamp  time.Time `json:"timestamp"`
}

func (t Trade) Symbol() string { return t.Asset.Symbol }

func (t Trade) Notional() float64 { return Notional(t.Price, t.Quantity) }

// SignedQuantity is positive for buys and negative for sells.
func (t Trade) SignedQuantity() float64 { return t.Side.Sign() * t.Quantity.Value }

// Position is a signed holding in one asset.
type Position struct {
	Asset         Asset   `json:"asset"`
	Quantity      float64 `json:"quantity"`
	AveragePrice  float64 `json:"averagePrice"`
	CurrentPrice  float64 `json:"currentPrice"`
	RealizedPnL   float64 `json:"realizedPnl"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

const qtyEpsilon = 1e-9

func (p *Position) IsFlat() bool { return math.Abs(p.Quantity) < qtyEpsilon }

func (p *Position) MarketValue() float64 { return p.Quantity * p.CurrentPrice }

func (p *Position) TotalPnL() float64 { return p.RealizedPnL + p.UnrealizedPnL }

// ApplyFill books a signed fill at weighted-average cost and returns the P&L
// realized by the closing portion. A fill larger than the open quantity
// flips the position at the fill price.
func (p *Position) ApplyFill(signedQty, price float64) float64 {
	var realized float64
	switch {
	case p.IsFlat() || (p.Quantity > 0) == (signedQty > 0):
		next := p.Quantity + signedQty
		p.AveragePrice = (p.AveragePrice*math.Abs(p.Quantity) + price*math.Abs(signedQty)) / math.Abs(next)
		p.Quantity = next
	default:
		closing := math.Min(math.Abs(signedQty), math.Abs(p.Quantity))
		direction := 1.0
		if p.Quantity < 0 {
			direction = -1
		}
		realized = (price - p.AveragePrice) * closing * direction
		next := p.Quantity + signedQty
		switch {
		case math.Abs(next) < qtyEpsilon:
			p.Quantity, p.AveragePrice = 0, 0
		case (next > 0) == (p.Quantity > 0):
			p.Quantity = next
		default:
			p.Quantity, p.AveragePrice = next, price
		}
	}
	p.RealizedPnL += realized
	p.Mark(price)
	return realized
}

// Mark revalues the position at price.
func (p *Position) Mark(price float64) {
	p.CurrentPrice = price
	if p.IsFlat() {
		p.UnrealizedPnL = 0
		return
	}
	p.UnrealizedPnL = (price - p.AveragePrice) * p.Quantity
}

// Account is the ledger's cash view. Read-only to the core.
type Account struct {
	Cash            float64 `json:"cash"`
	BuyingPower     float64 `json:"buyingPower"`
	Equity          float64 `json:"equity"`
	MarginUsed      float64 `json:"marginUsed"`
	MarginAvailable float64 `json:"marginAvailable"`
}

// RiskLimits is swapped as a whole; never mutate a published value.
type RiskLimits struct {
	MaxPositionSize   float64 `json:"maxPositionSize"`
	MaxDailyLoss      float64 `json:"maxDailyLoss"`
	MaxDrawdown       float64 `json:"maxDrawdown"`
	MaxLeverage       float64 `json:"maxLeverage"`
	MaxConcentration  float64 `json:"maxConcentration"`
	AllowShortSelling bool    `json:"allowShortSelling"`
	AllowOptions      bool    `json:"allowOptions"`
	AllowFutures      bool    `json:"allowFutures"`
}

func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:  100000,
		MaxDailyLoss:     5000,
		MaxDrawdown:      0.10,
		MaxLeverage:      2.0,
		MaxConcentration: 1.0,
	}
}

// MarketTick is a top-of-book snapshot from the market data source.
type MarketTick struct {
	Symbol    string    `json:"symbol"`
	Bid       Price     `json:"bid"`
	Ask       Price     `json:"ask"`
	Last      Price     `json:"last"`
	BidSize   Quantity  `json:"bidSize"`
	AskSize   Quantity  `json:"askSize"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

func (t MarketTick) Spread() Price { return t.Ask.Sub(t.Bid) }

func (t MarketTick) Mid() Price { return NewPrice((t.Bid.Value + t.Ask.Value) / 2) }

// RiskViolation describes one breached limit.
type RiskViolation struct {
	Type         ViolationType `json:"type"`
	Message      string        `json:"message"`
	CurrentValue float64       `json:"currentValue"`
	LimitValue   float64       `json:"limitValue"`
	Symbol       string        `json:"symbol,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}
