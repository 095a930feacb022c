package types

import "fmt"

// OrderType is the execution style of an order.
type OrderType int8

const (
	Market OrderType = iota
	Limit
	Stop
	StopLimit
	TrailingStop
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	case Stop:
		return "STOP"
	case StopLimit:
		return "STOP_LIMIT"
	case TrailingStop:
		return "TRAILING_STOP"
	default:
		return fmt.Sprintf("OrderType(%d)", int8(t))
	}
}

// RequiresLimitPrice reports whether the type needs a limit price.
func (t OrderType) RequiresLimitPrice() bool {
	switch t {
	case Limit, StopLimit:
		return true
	case Market, Stop, TrailingStop:
		return false
	default:
		return false
	}
}

// RequiresStopPrice reports whether the type needs a stop (trigger) price.
func (t OrderType) RequiresStopPrice() bool {
	switch t {
	case Stop, StopLimit, TrailingStop:
		return true
	case Market, Limit:
		return false
	default:
		return false
	}
}

// IsTriggered reports whether orders of this type wait for a tick before
// matching.
func (t OrderType) IsTriggered() bool { return t.RequiresStopPrice() }

func (t OrderType) Valid() bool { return t >= Market && t <= TrailingStop }

func (t OrderType) MarshalText() ([]byte, error) { return marshalEnum(t.Valid(), t.String()) }

func (t *OrderType) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, "order type", []OrderType{Market, Limit, Stop, StopLimit, TrailingStop}, t)
}

// Side is BUY or SELL.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int8(s))
	}
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for BUY and -1 for SELL.
func (s Side) Sign() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (s Side) MarshalText() ([]byte, error) { return marshalEnum(s.Valid(), s.String()) }

func (s *Side) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, "side", []Side{Buy, Sell}, s)
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus int8

const (
	Pending OrderStatus = iota
	Partial
	Filled
	Cancelled
	Rejected
	Expired
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Partial:
		return "PARTIAL"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	case Expired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("OrderStatus(%d)", int8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case Filled, Cancelled, Rejected, Expired:
		return true
	case Pending, Partial:
		return false
	default:
		return true
	}
}

// CanTransition reports whether s -> to is an edge of the status DAG.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case Pending:
		return to != Pending && to.Valid()
	case Partial:
		return to == Partial || to == Filled || to == Cancelled || to == Expired
	case Filled, Cancelled, Rejected, Expired:
		return false
	default:
		return false
	}
}

func (s OrderStatus) Valid() bool { return s >= Pending && s <= Expired }

func (s OrderStatus) MarshalText() ([]byte, error) { return marshalEnum(s.Valid(), s.String()) }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, "order status", []OrderStatus{Pending, Partial, Filled, Cancelled, Rejected, Expired}, s)
}

// TimeInForce controls how long an unfilled remainder lives.
type TimeInForce int8

const (
	Day TimeInForce = iota
	GTC
	IOC
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case Day:
		return "DAY"
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return fmt.Sprintf("TimeInForce(%d)", int8(t))
	}
}

func (t TimeInForce) Valid() bool { return t >= Day && t <= FOK }

func (t TimeInForce) MarshalText() ([]byte, error) { return marshalEnum(t.Valid(), t.String()) }

func (t *TimeInForce) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, "time in force", []TimeInForce{Day, GTC, IOC, FOK}, t)
}

// AssetType classifies an instrument.
type AssetType int8

const (
	Stock AssetType = iota
	ETF
	Crypto
	Forex
	Futures
	Options
)

func (t AssetType) String() string {
	switch t {
	case Stock:
		return "STOCK"
	case ETF:
		return "ETF"
	case Crypto:
		return "CRYPTO"
	case Forex:
		return "FOREX"
	case Futures:
		return "FUTURES"
	case Options:
		return "OPTIONS"
	default:
		return fmt.Sprintf("AssetType(%d)", int8(t))
	}
}

func (t AssetType) Valid() bool { return t >= Stock && t <= Options }

func (t AssetType) MarshalText() ([]byte, error) { return marshalEnum(t.Valid(), t.String()) }

func (t *AssetType) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, "asset type", []AssetType{Stock, ETF, Crypto, Forex, Futures, Options}, t)
}

// Liquidity marks which side of a match a trade leg was on.
type Liquidity int8

const (
	Taker Liquidity = iota
	Maker
)

func (l Liquidity) String() string {
	switch l {
	case Taker:
		return "TAKER"
	case Maker:
		return "MAKER"
	default:
		return fmt.Sprintf("Liquidity(%d)", int8(l))
	}
}

func (l Liquidity) MarshalText() ([]byte, error) { return marshalEnum(l == Taker || l == Maker, l.String()) }

func (l *Liquidity) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, "liquidity", []Liquidity{Taker, Maker}, l)
}

// ViolationType names the limit a risk check breached.
type ViolationType int8

const (
	PositionSize ViolationType = iota
	Leverage
	Concentration
	Margin
	DailyLoss
	Drawdown
	ProductRestriction
)

func (v ViolationType) String() string {
	switch v {
	case PositionSize:
		return "POSITION_SIZE"
	case Leverage:
		return "LEVERAGE"
	case Concentration:
		return "CONCENTRATION"
	case Margin:
		return "MARGIN"
	case DailyLoss:
		return "DAILY_LOSS"
	case Drawdown:
		return "DRAWDOWN"
	case ProductRestriction:
		return "PRODUCT_RESTRICTION"
	default:
		return fmt.Sprintf("ViolationType(%d)", int8(v))
	}
}

func (v ViolationType) Valid() bool { return v >= PositionSize && v <= ProductRestriction }

func (v ViolationType) MarshalText() ([]byte, error) { return marshalEnum(v.Valid(), v.String()) }

func (v *ViolationType) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, "violation type", []ViolationType{PositionSize, Leverage, Concentration, Margin, DailyLoss, Drawdown, ProductRestriction}, v)
}

func marshalEnum(valid bool, name string) ([]byte, error) {
	if !valid {
		return nil, fmt.Errorf("cannot marshal %s", name)
	}
	return []byte(name), nil
}

func unmarshalEnum[T fmt.Stringer](b []byte, what string, values []T, dst *T) error {
	for _, v := range values {
		if v.String() == string(b) {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("unknown %s %q", what, string(b))
}
