package types

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	DefaultPricePrecision    = 2
	DefaultQuantityPrecision = 8

	// keyScale is the fixed decimal scale of book keys, wide enough for any
	// supported precision.
	keyScale = 8
)

// Price is a fixed-precision price. A zero Precision means the default.
type Price struct {
	Value     float64
	Precision int
}

// NewPrice returns a price at the default precision, rounded.
func NewPrice(v float64) Price {
	return NewPriceWithPrecision(v, DefaultPricePrecision)
}

func NewPriceWithPrecision(v float64, precision int) Price {
	if precision <= 0 {
		precision = DefaultPricePrecision
	}
	return Price{Value: roundTo(v, precision), Precision: precision}
}

// ParsePrice parses a fixed-point decimal string.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	return NewPrice(d.InexactFloat64()), nil
}

func (p Price) prec() int {
	if p.Precision <= 0 {
		return DefaultPricePrecision
	}
	return p.Precision
}

// Equal compares at the coarser precision of the two operands.
func (p Price) Equal(o Price) bool {
	return approxEqual(p.Value, o.Value, min(p.prec(), o.prec()))
}

func (p Price) Less(o Price) bool    { return !p.Equal(o) && p.Value < o.Value }
func (p Price) Greater(o Price) bool { return !p.Equal(o) && p.Value > o.Value }
func (p Price) IsZero() bool         { return approxEqual(p.Value, 0, p.prec()) }
func (p Price) IsPositive() bool     { return p.Value > 0 && !p.IsZero() }

func (p Price) Add(o Price) Price { return Price{Value: roundTo(p.Value+o.Value, p.prec()), Precision: p.Precision} }
func (p Price) Sub(o Price) Price { return Price{Value: roundTo(p.Value-o.Value, p.prec()), Precision: p.Precision} }

// Ticks returns the value in units of 10^-precision.
func (p Price) Ticks() int64 {
	return p.Decimal().Shift(int32(p.prec())).Round(0).IntPart()
}

// Key returns an ordering key independent of precision.
func (p Price) Key() int64 {
	return p.Decimal().Round(int32(p.prec())).Shift(keyScale).IntPart()
}

// PriceFromKey inverts Key at the default precision.
func PriceFromKey(k int64) Price {
	return NewPrice(decimal.New(k, -keyScale).InexactFloat64())
}

func (p Price) Decimal() decimal.Decimal { return decimal.NewFromFloat(p.Value) }

func (p Price) String() string {
	return p.Decimal().StringFixed(int32(p.prec()))
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(b []byte) error {
	v, err := decodeNumber(b)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	*p = NewPrice(v)
	return nil
}

// Quantity is a fixed-precision unsigned amount. A zero Precision means the
// default.
type Quantity struct {
	Value     float64
	Precision int
}

func NewQuantity(v float64) Quantity {
	return Quantity{Value: roundTo(v, DefaultQuantityPrecision), Precision: DefaultQuantityPrecision}
}

func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return NewQuantity(d.InexactFloat64()), nil
}

func (q Quantity) prec() int {
	if q.Precision <= 0 {
		return DefaultQuantityPrecision
	}
	return q.Precision
}

func (q Quantity) Equal(o Quantity) bool {
	return approxEqual(q.Value, o.Value, min(q.prec(), o.prec()))
}

func (q Quantity) Less(o Quantity) bool    { return !q.Equal(o) && q.Value < o.Value }
func (q Quantity) Greater(o Quantity) bool { return !q.Equal(o) && q.Value > o.Value }
func (q Quantity) IsZero() bool            { return approxEqual(q.Value, 0, q.prec()) }
func (q Quantity) IsPositive() bool        { return q.Value > 0 && !q.IsZero() }

func (q Quantity) Add(o Quantity) Quantity {
	return Quantity{Value: roundTo(q.Value+o.Value, q.prec()), Precision: q.Precision}
}

// Sub never goes below zero.
func (q Quantity) Sub(o Quantity) Quantity {
	v := roundTo(q.Value-o.Value, q.prec())
	if v < 0 {
		v = 0
	}
	return Quantity{Value: v, Precision: q.Precision}
}

func (q Quantity) Min(o Quantity) Quantity {
	if o.Less(q) {
		return o
	}
	return q
}

func (q Quantity) Decimal() decimal.Decimal { return decimal.NewFromFloat(q.Value) }

// String trims trailing zeros; quantities are usually whole lots.
func (q Quantity) String() string {
	return q.Decimal().Round(int32(q.prec())).String()
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	v, err := decodeNumber(b)
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	*q = NewQuantity(v)
	return nil
}

// Notional returns price × quantity.
func Notional(p Price, q Quantity) float64 {
	return p.Decimal().Mul(q.Decimal()).InexactFloat64()
}

// OptionalPrice is either a price or nothing. The zero value is nothing.
type OptionalPrice struct {
	price Price
	ok    bool
}

func SomePrice(p Price) OptionalPrice { return OptionalPrice{price: p, ok: true} }
func NoPrice() OptionalPrice          { return OptionalPrice{} }

func (o OptionalPrice) Get() (Price, bool) { return o.price, o.ok }
func (o OptionalPrice) IsSome() bool       { return o.ok }

func (o OptionalPrice) String() string {
	if !o.ok {
		return "none"
	}
	return o.price.String()
}

func (o OptionalPrice) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return o.price.MarshalJSON()
}

func (o *OptionalPrice) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || string(b) == `""` {
		*o = NoPrice()
		return nil
	}
	var p Price
	if err := p.UnmarshalJSON(b); err != nil {
		return err
	}
	*o = SomePrice(p)
	return nil
}

func decodeNumber(b []byte) (float64, error) {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return 0, err
	}
	return f, nil
}

func roundTo(v float64, precision int) float64 {
	return decimal.NewFromFloat(v).Round(int32(precision)).InexactFloat64()
}

// approxEqual treats values within half a unit of the last place as equal.
func approxEqual(a, b float64, precision int) bool {
	return math.Abs(a-b) < math.Pow10(-precision)/2
}
