// Package api exposes the ledger's write operations and the
// projector's read views over REST, plus a websocket feed of the event
// log. This is the boundary any UI talks to; nothing here holds state
// of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/sangwoo-bae/etherdex/pkg/events"
	"github.com/sangwoo-bae/etherdex/pkg/exchange"
	"github.com/sangwoo-bae/etherdex/pkg/projector"
)

// Server handles REST API and WebSocket connections
type Server struct {
	ledger *exchange.Ledger
	proj   *projector.Projector
	log    *events.Log
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
}

func NewServer(ledger *exchange.Ledger, proj *projector.Projector, elog *events.Log, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger: ledger,
		proj:   proj,
		log:    elog,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger.Sugar(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Read surface (projector views)
	api.HandleFunc("/orders", s.handleGetOpenOrders).Methods("GET")
	api.HandleFunc("/orders/cancelled", s.handleGetCancelledOrders).Methods("GET")
	api.HandleFunc("/orderbook", s.handleGetOrderBook).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/trades/candles", s.handleGetCandles).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetUserOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/trades", s.handleGetUserTrades).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")

	// Write surface (ledger operations)
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until ctx is cancelled. Every event appended to the log
// after startup is broadcast to websocket subscribers.
func (s *Server) Start(ctx context.Context, addr string, corsOrigins []string) error {
	go s.hub.Run(ctx)
	go s.streamEvents(ctx)

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{Addr: addr, Handler: c.Handler(s.router)}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	s.logger.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// streamEvents tails the log from the current head and fans new events
// out to the hub, per-kind and on the catch-all "events" channel.
func (s *Server) streamEvents(ctx context.Context) {
	from := s.log.Len()
outer:
	for {
		sub := s.log.Subscribe(from, 1024)
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case ev, ok := <-sub.C:
				if !ok {
					if errors.Is(sub.Err(), events.ErrSlowConsumer) {
						s.logger.Warnw("ws_feed_lagged", "resume_from", sub.Pos())
						from = sub.Pos()
						continue outer
					}
					return
				}
				s.hub.BroadcastToChannel(string(ev.Kind), WSEvent{Channel: string(ev.Kind), Data: ev})
				s.hub.BroadcastToChannel("events", WSEvent{Channel: "events", Data: ev})
			}
		}
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proj.OpenOrders())
}

func (s *Server) handleGetCancelledOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proj.CancelledOrders())
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	buys, sells := s.proj.OrderBook()
	writeJSON(w, http.StatusOK, OrderBookResponse{Buys: buys, Sells: sells})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proj.TradeHistory())
}

func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proj.Candles())
}

func (s *Server) handleGetUserOrders(w http.ResponseWriter, r *http.Request) {
	user := common.HexToAddress(mux.Vars(r)["address"])
	writeJSON(w, http.StatusOK, s.proj.OpenOrdersForUser(user))
}

func (s *Server) handleGetUserTrades(w http.ResponseWriter, r *http.Request) {
	user := common.HexToAddress(mux.Vars(r)["address"])
	writeJSON(w, http.StatusOK, s.proj.TradeHistoryForUser(user))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := common.HexToAddress(vars["address"])
	asset := common.HexToAddress(vars["asset"])
	writeJSON(w, http.StatusOK, BalanceResponse{
		Asset:   asset.Hex(),
		User:    user.Hex(),
		Balance: s.proj.Balance(asset, user).String(),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner := common.HexToAddress(req.Owner)
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid amount"})
		return
	}

	var err error
	if asset := common.HexToAddress(req.Asset); asset == exchange.NativeAsset {
		err = s.ledger.DepositNative(owner, amount, amount)
	} else {
		err = s.ledger.DepositToken(asset, owner, amount)
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner := common.HexToAddress(req.Owner)
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid amount"})
		return
	}

	var err error
	if asset := common.HexToAddress(req.Asset); asset == exchange.NativeAsset {
		err = s.ledger.WithdrawNative(owner, amount)
	} else {
		err = s.ledger.WithdrawToken(asset, owner, amount)
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountGet, ok1 := parseAmount(req.AmountGet)
	amountGive, ok2 := parseAmount(req.AmountGive)
	if !ok1 || !ok2 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid amount"})
		return
	}

	id, err := s.ledger.MakeOrder(
		common.HexToAddress(req.Owner),
		common.HexToAddress(req.TokenGet), amountGet,
		common.HexToAddress(req.TokenGive), amountGive,
	)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MakeOrderResponse{ID: id, Status: "open"})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.ledger.CancelOrder)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.ledger.FillOrder)
}

func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, action func(common.Address, uint64) error) {
	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, ok := parseOrderID(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order id"})
		return
	}
	if err := action(common.HexToAddress(req.Caller), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"events":    s.log.Len(),
		"projected": s.proj.Pos(),
	})
}

// ==============================
// Helpers
// ==============================

func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

func parseOrderID(s string) (uint64, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

// writeLedgerError maps the ledger's error kinds onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, exchange.ErrNotOrderOwner),
		errors.Is(err, exchange.ErrTransferNotAuthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, exchange.ErrOrderNotOpen):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, exchange.ErrInvalidAsset),
		errors.Is(err, exchange.ErrInvalidDeposit),
		errors.Is(err, exchange.ErrInvalidOrder),
		errors.Is(err, exchange.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
