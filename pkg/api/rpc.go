package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc %d: %s", e.Code, e.Message) }

func rpcErr(code int, msg string) *RPCError { return &RPCError{Code: code, Message: msg} }

func rpcDomainErr(err error) *RPCError {
	_, code := classify(err)
	return rpcErr(code, err.Error())
}

type idParams struct {
	OrderID string `json:"orderId"`
}

type symbolParams struct {
	Symbol string `json:"symbol"`
	Depth  int    `json:"depth,omitempty"`
}

type modifyParams struct {
	OrderID string       `json:"orderId"`
	Order   OrderRequest `json:"order"`
}

type rpcHandler func(s *Server, params json.RawMessage) (any, *RPCError)

var rpcMethods = map[string]rpcHandler{
	"submitOrder":       rpcSubmitOrder,
	"cancelOrder":       rpcCancelOrder,
	"modifyOrder":       rpcModifyOrder,
	"getOrder":          rpcGetOrder,
	"getActiveOrders":   rpcGetActiveOrders,
	"getOrdersBySymbol": rpcGetOrdersBySymbol,
	"getOrderTrades":    rpcGetOrderTrades,
	"getOrderBook":      rpcGetOrderBook,
	"getSymbols":        rpcGetSymbols,
	"checkOrderRisk":    rpcCheckOrderRisk,
	"getRiskMetrics":    rpcGetRiskMetrics,
	"getPositionRisks":  rpcGetPositionRisks,
	"getAccount":        rpcGetAccount,
	"processMarketTick": rpcProcessMarketTick,
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeRPC(w, RPCResponse{Error: rpcErr(CodeParseError, "parse error"), ID: json.RawMessage("null")})
		return
	}
	if len(req.ID) == 0 {
		req.ID = json.RawMessage("null")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(w, RPCResponse{Error: rpcErr(CodeInvalidRequest, "invalid request"), ID: req.ID})
		return
	}
	h, ok := rpcMethods[req.Method]
	if !ok {
		writeRPC(w, RPCResponse{Error: rpcErr(CodeMethodNotFound, "method not found: "+req.Method), ID: req.ID})
		return
	}
	result, rerr := h(s, req.Params)
	if rerr != nil {
		s.log.Debugw("rpc_error", "method", req.Method, "code", rerr.Code, "err", rerr.Message)
	}
	writeRPC(w, RPCResponse{Result: result, Error: rerr, ID: req.ID})
}

// RPC errors travel in the body; the HTTP status is always 200.
func writeRPC(w http.ResponseWriter, resp RPCResponse) {
	resp.JSONRPC = "2.0"
	respondJSON(w, http.StatusOK, resp)
}

func decodeParams(raw json.RawMessage, dst any) *RPCError {
	if len(raw) == 0 {
		return rpcErr(CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return rpcErr(CodeInvalidParams, err.Error())
	}
	return nil
}

func parseOrderParams(raw json.RawMessage) (types.Order, *RPCError) {
	var req OrderRequest
	if rerr := decodeParams(raw, &req); rerr != nil {
		return types.Order{}, rerr
	}
	o, err := req.toOrder()
	if err != nil {
		return o, rpcErr(CodeInvalidParams, err.Error())
	}
	return o, nil
}

// executionResult reports a failed execution as an error carrying the full
// response so callers still see the order id and violations.
func executionResult(resp ExecutionResponse, err error) (any, *RPCError) {
	if resp.Success {
		return resp, nil
	}
	rerr := rpcDomainErr(err)
	rerr.Data = resp
	return nil, rerr
}

func rpcSubmitOrder(s *Server, params json.RawMessage) (any, *RPCError) {
	o, rerr := parseOrderParams(params)
	if rerr != nil {
		return nil, rerr
	}
	res := s.venue.SubmitOrder(o)
	return executionResult(executionResponse(res), res.Err)
}

func rpcCancelOrder(s *Server, params json.RawMessage) (any, *RPCError) {
	var p idParams
	if rerr := decodeParams(params, &p); rerr != nil {
		return nil, rerr
	}
	res := s.venue.CancelOrder(p.OrderID)
	return executionResult(executionResponse(res), res.Err)
}

func rpcModifyOrder(s *Server, params json.RawMessage) (any, *RPCError) {
	var p modifyParams
	if rerr := decodeParams(params, &p); rerr != nil {
		return nil, rerr
	}
	o, err := p.Order.toOrder()
	if err != nil {
		return nil, rpcErr(CodeInvalidParams, err.Error())
	}
	res := s.venue.ModifyOrder(p.OrderID, o)
	return executionResult(executionResponse(res), res.Err)
}

func rpcGetOrder(s *Server, params json.RawMessage) (any, *RPCError) {
	var p idParams
	if rerr := decodeParams(params, &p); rerr != nil {
		return nil, rerr
	}
	o, err := s.venue.Orders().GetOrder(p.OrderID)
	if err != nil {
		return nil, rpcDomainErr(err)
	}
	return orderInfo(o), nil
}

func rpcGetActiveOrders(s *Server, _ json.RawMessage) (any, *RPCError) {
	return orderInfos(s.venue.Orders().GetActiveOrders()), nil
}

func rpcGetOrdersBySymbol(s *Server, params json.RawMessage) (any, *RPCError) {
	var p symbolParams
	if rerr := decodeParams(params, &p); rerr != nil {
		return nil, rerr
	}
	return orderInfos(s.venue.Orders().GetOrdersBySymbol(p.Symbol)), nil
}

func rpcGetOrderTrades(s *Server, params json.RawMessage) (any, *RPCError) {
	var p idParams
	if rerr := decodeParams(params, &p); rerr != nil {
		return nil, rerr
	}
	trades, err := s.venue.Orders().GetOrderTrades(p.OrderID)
	if err != nil {
		return nil, rpcDomainErr(err)
	}
	return tradeInfos(trades), nil
}

func rpcGetOrderBook(s *Server, params json.RawMessage) (any, *RPCError) {
	var p symbolParams
	if rerr := decodeParams(params, &p); rerr != nil {
		return nil, rerr
	}
	if p.Depth <= 0 {
		p.Depth = defaultDepth
	}
	snap, err := s.venue.Orders().GetOrderBook(p.Symbol, p.Depth)
	if err != nil {
		return nil, rpcDomainErr(err)
	}
	return orderbookSnapshot(snap), nil
}

func rpcGetSymbols(s *Server, _ json.RawMessage) (any, *RPCError) {
	return s.venue.Orders().GetSymbols(), nil
}

func rpcCheckOrderRisk(s *Server, params json.RawMessage) (any, *RPCError) {
	o, rerr := parseOrderParams(params)
	if rerr != nil {
		return nil, rerr
	}
	check, err := s.venue.CheckOrderRisk(o)
	if err != nil {
		return nil, rpcDomainErr(err)
	}
	return check, nil
}

func rpcGetRiskMetrics(s *Server, _ json.RawMessage) (any, *RPCError) {
	return s.venue.Risk().GetRiskMetrics(), nil
}

func rpcGetPositionRisks(s *Server, _ json.RawMessage) (any, *RPCError) {
	return s.venue.Risk().GetPositionRisks(), nil
}

func rpcGetAccount(s *Server, _ json.RawMessage) (any, *RPCError) {
	return accountInfo(s.venue.Account(), s.venue.Ledger()), nil
}

func rpcProcessMarketTick(s *Server, params json.RawMessage) (any, *RPCError) {
	var req TickRequest
	if rerr := decodeParams(params, &req); rerr != nil {
		return nil, rerr
	}
	tick, err := req.toTick()
	if err != nil {
		return nil, rpcErr(CodeInvalidParams, err.Error())
	}
	if !s.venue.Registry().Exists(tick.Symbol) {
		return nil, rpcDomainErr(fmt.Errorf("%w: %s", types.ErrUnknownAsset, tick.Symbol))
	}
	return executionResponses(s.venue.ProcessMarketTick(tick)), nil
}
