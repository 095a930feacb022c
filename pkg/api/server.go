package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/order"
	"github.com/uhyunpark/matchcore/pkg/app/core/risk"
	"github.com/uhyunpark/matchcore/pkg/app/core/types"
	"github.com/uhyunpark/matchcore/pkg/app/venue"
	"github.com/uhyunpark/matchcore/pkg/storage"
)

const (
	defaultDepth  = 10
	maxBodyBytes  = 1 << 20
	defaultTrades = 50
)

type Options struct {
	Journal        *storage.Journal // backs GET /trades; optional
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server exposes the venue over REST, JSON-RPC and websockets.
type Server struct {
	venue   *venue.Venue
	journal *storage.Journal
	router  *mux.Router
	hub     *Hub
	origins []string
	http    *http.Server
	log     *zap.SugaredLogger
}

func NewServer(v *venue.Venue, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s := &Server{
		venue:   v,
		journal: opts.Journal,
		router:  mux.NewRouter(),
		hub:     NewHub(opts.Logger.Named("ws")),
		origins: opts.AllowedOrigins,
		log:     opts.Logger,
	}
	s.setupRoutes()
	s.attach()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{id}", s.handleModifyOrder).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id}/trades", s.handleOrderTrades).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleRecentTrades).Methods(http.MethodGet)

	api.HandleFunc("/symbols", s.handleSymbols).Methods(http.MethodGet)
	api.HandleFunc("/orderbook/{symbol}", s.handleOrderbook).Methods(http.MethodGet)
	api.HandleFunc("/ticks", s.handleTick).Methods(http.MethodPost)

	api.HandleFunc("/risk/check", s.handleRiskCheck).Methods(http.MethodPost)
	api.HandleFunc("/risk/metrics", s.handleRiskMetrics).Methods(http.MethodGet)
	api.HandleFunc("/risk/positions", s.handleRiskPositions).Methods(http.MethodGet)
	api.HandleFunc("/risk/violations", s.handleViolations).Methods(http.MethodGet)
	api.HandleFunc("/risk/limits", s.handleGetLimits).Methods(http.MethodGet)
	api.HandleFunc("/risk/limits", s.handleSetLimits).Methods(http.MethodPut)
	api.HandleFunc("/risk/report", s.handleRiskReport).Methods(http.MethodGet)
	api.HandleFunc("/risk/export", s.handleRiskExport).Methods(http.MethodGet)

	api.HandleFunc("/account", s.handleAccount).Methods(http.MethodGet)
	api.HandleFunc("/admin/eod", s.handleEndOfDay).Methods(http.MethodPost)

	s.router.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if m := s.venue.Metrics(); m != nil {
		s.router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
}

// attach pushes venue events to websocket channels.
func (s *Server) attach() {
	om := s.venue.Orders()
	om.OnTrade(func(t types.Trade) {
		if t.Liquidity != types.Taker {
			return
		}
		ch := "trades:" + t.Symbol()
		s.hub.BroadcastToChannel(ch, wsMessage("trade", ch, tradeInfo(t)))
	})
	om.OnOrderUpdate(func(o types.Order) {
		s.hub.BroadcastToChannel("orders", wsMessage("order", "orders", orderInfo(o)))
		snap, err := om.GetOrderBook(o.Symbol(), defaultDepth)
		if err != nil {
			return
		}
		ch := "orderbook:" + o.Symbol()
		book := orderbookSnapshot(snap)
		book.Type = "orderbook"
		s.hub.BroadcastToChannel(ch, wsMessage("orderbook", ch, book))
	})
	rm := s.venue.Risk()
	rm.OnViolation(func(v types.RiskViolation) {
		s.hub.BroadcastToChannel("risk", wsMessage("violation", "risk", v))
	})
	rm.OnMetrics(func(m risk.Metrics) {
		s.hub.BroadcastToChannel("risk", wsMessage("metrics", "risk", m))
	})
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown. The websocket hub runs until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// Orders
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := req.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	respondExecution(w, s.venue.SubmitOrder(o))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	om := s.venue.Orders()
	q := r.URL.Query()
	var list []types.Order
	if sym := q.Get("symbol"); sym != "" {
		list = om.GetOrdersBySymbol(sym)
		if q.Get("active") == "true" {
			active := list[:0]
			for _, o := range list {
				if o.IsActive() {
					active = append(active, o)
				}
			}
			list = active
		}
	} else {
		list = om.GetActiveOrders()
	}
	respondJSON(w, http.StatusOK, orderInfos(list))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.venue.Orders().GetOrder(mux.Vars(r)["id"])
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	respondExecution(w, s.venue.CancelOrder(mux.Vars(r)["id"]))
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := req.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	respondExecution(w, s.venue.ModifyOrder(mux.Vars(r)["id"], o))
}

func (s *Server) handleOrderTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.venue.Orders().GetOrderTrades(mux.Vars(r)["id"])
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tradeInfos(trades))
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "journal disabled", "")
		return
	}
	limit := queryInt(r, "limit", defaultTrades)
	trades, err := s.journal.RecentTrades(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tradeInfos(trades))
}

// ==============================
// Market data
// ==============================

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	books := make(map[string]bool)
	for _, sym := range s.venue.Orders().GetSymbols() {
		books[sym] = true
	}
	list := s.venue.Registry().List()
	out := make([]InstrumentInfo, len(list))
	for i, in := range list {
		out[i] = instrumentInfo(in, books[in.Symbol])
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	snap, err := s.venue.Orders().GetOrderBook(mux.Vars(r)["symbol"], queryInt(r, "depth", defaultDepth))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderbookSnapshot(snap))
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tick, err := req.toTick()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tick", err.Error())
		return
	}
	if !s.venue.Registry().Exists(tick.Symbol) {
		respondError(w, http.StatusNotFound, "unknown symbol", tick.Symbol)
		return
	}
	respondJSON(w, http.StatusOK, executionResponses(s.venue.ProcessMarketTick(tick)))
}

// ==============================
// Risk and account
// ==============================

func (s *Server) handleRiskCheck(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := req.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	check, err := s.venue.CheckOrderRisk(o)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, check)
}

func (s *Server) handleRiskMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.venue.Risk().GetRiskMetrics())
}

func (s *Server) handleRiskPositions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.venue.Risk().GetPositionRisks())
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.venue.Risk().GetViolations())
}

func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.venue.Risk().GetRiskLimits())
}

func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	limits := s.venue.Risk().GetRiskLimits()
	if !decodeBody(w, r, &limits) {
		return
	}
	if limits.MaxLeverage <= 0 || limits.MaxPositionSize <= 0 {
		respondError(w, http.StatusBadRequest, "invalid limits", "maxLeverage and maxPositionSize must be positive")
		return
	}
	s.venue.SetRiskLimits(limits)
	s.log.Infow("risk_limits_updated", "max_position", limits.MaxPositionSize, "max_leverage", limits.MaxLeverage)
	respondJSON(w, http.StatusOK, limits)
}

func (s *Server) handleRiskReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.venue.Risk().GenerateRiskReport()))
}

func (s *Server) handleRiskExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.venue.Risk().ExportRiskData()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "export failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, accountInfo(s.venue.Account(), s.venue.Ledger()))
}

func (s *Server) handleEndOfDay(w http.ResponseWriter, r *http.Request) {
	eod := s.venue.RunEndOfDay()
	respondJSON(w, http.StatusOK, map[string]any{
		"expired": orderInfos(eod.Expired),
		"metrics": eod.Metrics,
		"at":      eod.At,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"activeOrders": s.venue.Orders().ActiveOrderCount(),
		"books":        s.venue.Orders().OrderBookCount(),
		"wsClients":    s.hub.Clients(),
	})
}

// ==============================
// Helpers
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Message: detail})
}

func respondDomainError(w http.ResponseWriter, err error) {
	status, _ := classify(err)
	respondError(w, status, http.StatusText(status), err.Error())
}

// respondExecution returns the full result; failures keep the body so
// clients still see the assigned id and violations.
func respondExecution(w http.ResponseWriter, res order.ExecutionResult) {
	status := http.StatusOK
	if !res.Success {
		status, _ = classify(res.Err)
	}
	respondJSON(w, status, executionResponse(res))
}
