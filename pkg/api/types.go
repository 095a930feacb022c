package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/account"
	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/order"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// Prices, quantities and money travel as fixed-point decimal strings.

// ==============================
// Requests
// ==============================

// OrderRequest is the body of POST /api/v1/orders and the submitOrder and
// modifyOrder RPC params.
type OrderRequest struct {
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Quantity       string `json:"quantity"`
	LimitPrice     string `json:"limitPrice,omitempty"`
	StopPrice      string `json:"stopPrice,omitempty"`
	TrailingOffset string `json:"trailingOffset,omitempty"`
	TimeInForce    string `json:"timeInForce,omitempty"` // default GTC, IOC for MARKET
	Account        string `json:"account,omitempty"`
	ClientOrderID  string `json:"clientOrderId,omitempty"`
}

// toOrder parses the request. Empty fields are left for the order manager
// to reject or inherit.
func (r OrderRequest) toOrder() (types.Order, error) {
	var o types.Order
	o.Asset = types.Asset{Symbol: r.Symbol}
	o.Account = r.Account
	o.ClientOrderID = r.ClientOrderID

	if err := o.Side.UnmarshalText([]byte(strings.ToUpper(r.Side))); err != nil {
		return o, err
	}
	if err := o.Type.UnmarshalText([]byte(strings.ToUpper(r.Type))); err != nil {
		return o, err
	}
	switch {
	case r.TimeInForce != "":
		if err := o.TIF.UnmarshalText([]byte(strings.ToUpper(r.TimeInForce))); err != nil {
			return o, err
		}
	case o.Type == types.Market:
		o.TIF = types.IOC
	default:
		o.TIF = types.GTC
	}

	if r.Quantity != "" {
		q, err := types.ParseQuantity(r.Quantity)
		if err != nil {
			return o, fmt.Errorf("quantity: %w", err)
		}
		o.Quantity = q
	}
	var err error
	if o.LimitPrice, err = optionalPrice("limitPrice", r.LimitPrice); err != nil {
		return o, err
	}
	if o.StopPrice, err = optionalPrice("stopPrice", r.StopPrice); err != nil {
		return o, err
	}
	if o.TrailingOffset, err = optionalPrice("trailingOffset", r.TrailingOffset); err != nil {
		return o, err
	}
	return o, nil
}

func optionalPrice(field, s string) (types.OptionalPrice, error) {
	if s == "" {
		return types.NoPrice(), nil
	}
	p, err := types.ParsePrice(s)
	if err != nil {
		return types.NoPrice(), fmt.Errorf("%s: %w", field, err)
	}
	return types.SomePrice(p), nil
}

// TickRequest is the body of POST /api/v1/ticks.
type TickRequest struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid,omitempty"`
	Ask    string `json:"ask,omitempty"`
	Last   string `json:"last,omitempty"`
	Volume string `json:"volume,omitempty"`
}

func (r TickRequest) toTick() (types.MarketTick, error) {
	t := types.MarketTick{Symbol: r.Symbol}
	for _, f := range []struct {
		name string
		raw  string
		dst  *types.Price
	}{{"bid", r.Bid, &t.Bid}, {"ask", r.Ask, &t.Ask}, {"last", r.Last, &t.Last}} {
		if f.raw == "" {
			continue
		}
		p, err := types.ParsePrice(f.raw)
		if err != nil {
			return t, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = p
	}
	if r.Volume != "" {
		v, err := decimal.NewFromString(r.Volume)
		if err != nil {
			return t, fmt.Errorf("volume: %w", err)
		}
		t.Volume = v.InexactFloat64()
	}
	return t, nil
}

// ==============================
// Responses
// ==============================

type OrderInfo struct {
	ID             string                `json:"id"`
	ClientOrderID  string                `json:"clientOrderId,omitempty"`
	Account        string                `json:"account,omitempty"`
	Symbol         string                `json:"symbol"`
	Side           string                `json:"side"`
	Type           string                `json:"type"`
	TimeInForce    string                `json:"timeInForce"`
	Quantity       string                `json:"quantity"`
	FilledQuantity string                `json:"filledQuantity"`
	Remaining      string                `json:"remaining"`
	LimitPrice     *string               `json:"limitPrice"`
	StopPrice      *string               `json:"stopPrice"`
	AvgFillPrice   string                `json:"avgFillPrice"`
	Status         string                `json:"status"`
	Triggered      bool                  `json:"triggered,omitempty"`
	RejectReason   string                `json:"rejectReason,omitempty"`
	Violations     []types.RiskViolation `json:"violations,omitempty"`
	Timestamp      int64                 `json:"timestamp"` // unix millis
}

func optString(p types.OptionalPrice) *string {
	v, ok := p.Get()
	if !ok {
		return nil
	}
	s := v.String()
	return &s
}

func orderInfo(o types.Order) OrderInfo {
	return OrderInfo{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Account:        o.Account,
		Symbol:         o.Symbol(),
		Side:           o.Side.String(),
		Type:           o.Type.String(),
		TimeInForce:    o.TIF.String(),
		Quantity:       o.Quantity.String(),
		FilledQuantity: o.FilledQuantity.String(),
		Remaining:      o.Remaining().String(),
		LimitPrice:     optString(o.LimitPrice),
		StopPrice:      optString(o.StopPrice),
		AvgFillPrice:   o.AvgFillPrice.String(),
		Status:         o.Status.String(),
		Triggered:      o.Triggered,
		RejectReason:   o.RejectReason,
		Violations:     o.Violations,
		Timestamp:      o.Timestamp.UnixMilli(),
	}
}

func orderInfos(list []types.Order) []OrderInfo {
	out := make([]OrderInfo, len(list))
	for i, o := range list {
		out[i] = orderInfo(o)
	}
	return out
}

type TradeInfo struct {
	ID         string `json:"id"`
	MatchID    string `json:"matchId"`
	OrderID    string `json:"orderId"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Commission string `json:"commission"`
	Liquidity  string `json:"liquidity"`
	Timestamp  int64  `json:"timestamp"`
}

func money(v float64) string { return decimal.NewFromFloat(v).StringFixed(2) }

func tradeInfo(t types.Trade) TradeInfo {
	return TradeInfo{
		ID:         t.ID,
		MatchID:    t.MatchID,
		OrderID:    t.OrderID,
		Symbol:     t.Symbol(),
		Side:       t.Side.String(),
		Price:      t.Price.String(),
		Quantity:   t.Quantity.String(),
		Commission: decimal.NewFromFloat(t.Commission).StringFixed(4),
		Liquidity:  t.Liquidity.String(),
		Timestamp:  t.Timestamp.UnixMilli(),
	}
}

func tradeInfos(ts []types.Trade) []TradeInfo {
	out := make([]TradeInfo, len(ts))
	for i, t := range ts {
		out[i] = tradeInfo(t)
	}
	return out
}

// ExecutionResponse mirrors order.ExecutionResult.
type ExecutionResponse struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	Order      *OrderInfo            `json:"order,omitempty"`
	Trades     []TradeInfo           `json:"trades"`
	Violations []types.RiskViolation `json:"violations,omitempty"`
	Remainder  string                `json:"remainder"`
	Replaces   string                `json:"replaces,omitempty"`
}

func executionResponse(r order.ExecutionResult) ExecutionResponse {
	resp := ExecutionResponse{
		Success:    r.Success,
		Message:    r.Message,
		Trades:     tradeInfos(r.Trades),
		Violations: r.Violations,
		Remainder:  r.Remainder.String(),
		Replaces:   r.Replaces,
	}
	if r.Order != nil {
		info := orderInfo(*r.Order)
		resp.Order = &info
	}
	return resp
}

func executionResponses(rs []order.ExecutionResult) []ExecutionResponse {
	out := make([]ExecutionResponse, len(rs))
	for i, r := range rs {
		out[i] = executionResponse(r)
	}
	return out
}

// PriceLevel is one aggregated book level.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

type OrderbookSnapshot struct {
	Type      string       `json:"type,omitempty"` // "orderbook" on the websocket
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // high to low
	Asks      []PriceLevel `json:"asks"` // low to high
	BestBid   *string      `json:"bestBid"`
	BestAsk   *string      `json:"bestAsk"`
	Spread    *string      `json:"spread"`
	Timestamp int64        `json:"timestamp"`
}

func levels(ls []orderbook.Level) []PriceLevel {
	out := make([]PriceLevel, len(ls))
	for i, l := range ls {
		out[i] = PriceLevel{Price: l.Price.String(), Quantity: l.Quantity.String(), Orders: l.Orders}
	}
	return out
}

func orderbookSnapshot(s orderbook.Snapshot) OrderbookSnapshot {
	return OrderbookSnapshot{
		Symbol:    s.Symbol,
		Bids:      levels(s.Bids),
		Asks:      levels(s.Asks),
		BestBid:   optString(s.BestBid),
		BestAsk:   optString(s.BestAsk),
		Spread:    optString(s.Spread),
		Timestamp: s.Timestamp.UnixMilli(),
	}
}

type InstrumentInfo struct {
	Symbol      string  `json:"symbol"`
	Exchange    string  `json:"exchange"`
	AssetType   string  `json:"assetType"`
	Status      string  `json:"status"`
	TickSize    string  `json:"tickSize"`
	LotSize     string  `json:"lotSize"`
	MinNotional string  `json:"minNotional"`
	MakerFeeBps float64 `json:"makerFeeBps"`
	TakerFeeBps float64 `json:"takerFeeBps"`
	HasBook     bool    `json:"hasBook"`
}

func instrumentInfo(in market.Instrument, hasBook bool) InstrumentInfo {
	return InstrumentInfo{
		Symbol:      in.Symbol,
		Exchange:    in.Exchange,
		AssetType:   in.Type.String(),
		Status:      in.Status.String(),
		TickSize:    decimal.NewFromFloat(in.TickSize).String(),
		LotSize:     decimal.NewFromFloat(in.LotSize).String(),
		MinNotional: money(in.MinNotional),
		MakerFeeBps: in.MakerFeeBps,
		TakerFeeBps: in.TakerFeeBps,
		HasBook:     hasBook,
	}
}

type PositionInfo struct {
	Symbol        string `json:"symbol"`
	Quantity      string `json:"quantity"`
	AveragePrice  string `json:"averagePrice"`
	MarkPrice     string `json:"markPrice"`
	MarketValue   string `json:"marketValue"`
	UnrealizedPnL string `json:"unrealizedPnl"`
	RealizedPnL   string `json:"realizedPnl"`
}

func positionInfo(p types.Position) PositionInfo {
	return PositionInfo{
		Symbol:        p.Asset.Symbol,
		Quantity:      decimal.NewFromFloat(p.Quantity).String(),
		AveragePrice:  money(p.AveragePrice),
		MarkPrice:     money(p.CurrentPrice),
		MarketValue:   money(p.MarketValue()),
		UnrealizedPnL: money(p.UnrealizedPnL),
		RealizedPnL:   money(p.RealizedPnL),
	}
}

// AccountInfo is the paper account's cash view.
type AccountInfo struct {
	Account         string         `json:"account"`
	Cash            string         `json:"cash"`
	Equity          string         `json:"equity"`
	BuyingPower     string         `json:"buyingPower"`
	MarginUsed      string         `json:"marginUsed"`
	MarginAvailable string         `json:"marginAvailable"`
	RealizedPnL     string         `json:"realizedPnl"`
	Fees            string         `json:"fees"`
	Fills           int            `json:"fills"`
	Positions       []PositionInfo `json:"positions"`
}

func accountInfo(id string, l *account.Ledger) AccountInfo {
	snap, stats := l.Snapshot(), l.Stats()
	positions := l.Positions()
	infos := make([]PositionInfo, len(positions))
	for i, p := range positions {
		infos[i] = positionInfo(p)
	}
	return AccountInfo{
		Account:         id,
		Cash:            money(snap.Cash),
		Equity:          money(snap.Equity),
		BuyingPower:     money(snap.BuyingPower),
		MarginUsed:      money(snap.MarginUsed),
		MarginAvailable: money(snap.MarginAvailable),
		RealizedPnL:     money(stats.RealizedPnL),
		Fees:            money(stats.Fees),
		Fills:           stats.Fills,
		Positions:       infos,
	}
}

// ErrorResponse is returned for all REST errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket
// ==============================

// WSMessage wraps every pushed event.
type WSMessage struct {
	Type      string `json:"type"` // "trade", "orderbook", "order", "violation", "metrics"
	Channel   string `json:"channel"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

func wsMessage(typ, channel string, data any) WSMessage {
	return WSMessage{Type: typ, Channel: channel, Data: data, Timestamp: time.Now().UnixMilli()}
}

// WSSubscribeRequest is sent by clients.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
