// Package api provides the HTTP handlers for listing pairs, opening and
// closing leveraged positions, margin-ratio reads, and pool liquidity
// operations.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/engine"
	"github.com/levx/margin-engine/internal/metrics"
	"github.com/levx/margin-engine/internal/model"
	"github.com/levx/margin-engine/internal/risk"
	"github.com/levx/margin-engine/internal/store"
	"github.com/levx/margin-engine/internal/ticker"
	"github.com/levx/margin-engine/internal/vault"
)

// Service exposes the margin engine over HTTP. The engine serializes trade
// execution internally; handlers stay lock-free.
type Service struct {
	engine *engine.Engine
	store  store.Store
	vault  *vault.Vault
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(eng *engine.Engine, st store.Store, v *vault.Vault, hub *WSHub) *Service {
	return &Service{engine: eng, store: st, vault: v, wsHub: hub}
}

// Routes mounts all API routes on the given router.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/pairs", s.ListPairs)
	r.Post("/pairs", s.CreatePair)
	r.Get("/pairs/{pairID}", s.GetPair)
	r.Get("/pairs/{pairID}/events", s.GetPairEvents)
	r.Post("/pairs/{pairID}/supply", s.SupplyPool)
	r.Post("/pairs/{pairID}/redeem", s.RedeemPool)

	r.Post("/trade/open", s.OpenTrade)
	r.Post("/trade/close", s.CloseTrade)
	r.Get("/trade/ratio", s.GetMarginRatio)

	r.Get("/positions/{trader}", s.GetPositions)
	r.Post("/vault/credit", s.CreditVault)
}

// --- Request/Response types ---

// CreatePairRequest is the JSON body for pair listing.
type CreatePairRequest struct {
	Ticker      string `json:"ticker"`       // ASSET0-ASSET1, e.g. BTC-USDT
	MarginLimit int64  `json:"margin_limit"` // basis points; 0 → default
}

// OpenRequest is the JSON body for POST /trade/open.
type OpenRequest struct {
	Trader       string          `json:"trader"`
	PairID       int             `json:"pair_id"`
	LongToken    bool            `json:"long_token"`
	DepositToken bool            `json:"deposit_token"`
	Deposit      decimal.Decimal `json:"deposit"`
	Borrow       decimal.Decimal `json:"borrow"`
	MinHeld      decimal.Decimal `json:"min_held"`
	Referrer     string          `json:"referrer,omitempty"`
}

// CloseRequest is the JSON body for POST /trade/close.
type CloseRequest struct {
	Trader      string          `json:"trader"`
	PairID      int             `json:"pair_id"`
	LongToken   bool            `json:"long_token"`
	CloseAmount decimal.Decimal `json:"close_amount"`
	MinOut      decimal.Decimal `json:"min_out"`
}

// PoolRequest is the JSON body for pool supply/redeem.
type PoolRequest struct {
	Account string          `json:"account"`
	Side    bool            `json:"side"` // false = asset0 pool, true = asset1 pool
	Amount  decimal.Decimal `json:"amount"`
}

// CreditRequest is the JSON body for POST /vault/credit (ops funding).
type CreditRequest struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// --- HTTP Handlers ---

// CreatePair handles POST /api/v1/pairs
func (s *Service) CreatePair(w http.ResponseWriter, r *http.Request) {
	var req CreatePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	parsed, err := ticker.Parse(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	pair, err := s.engine.ListPair(r.Context(), parsed.Asset0, parsed.Asset1, req.MarginLimit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.ActivePairs.Set(float64(len(s.engine.Pairs())))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pair)
}

// ListPairs handles GET /api/v1/pairs
func (s *Service) ListPairs(w http.ResponseWriter, _ *http.Request) {
	pairs := s.engine.Pairs()
	if pairs == nil {
		pairs = []model.Pair{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pairs)
}

// GetPair handles GET /api/v1/pairs/{pairID}
func (s *Service) GetPair(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "pairID"))
	if err != nil {
		writeError(w, "invalid pair id", http.StatusBadRequest)
		return
	}
	pair, err := s.engine.Pair(id)
	if err != nil {
		writeError(w, "pair not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pair)
}

// GetPairEvents handles GET /api/v1/pairs/{pairID}/events
// Returns the immutable trade ledger for one pair.
func (s *Service) GetPairEvents(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "pairID"))
	if err != nil {
		writeError(w, "invalid pair id", http.StatusBadRequest)
		return
	}
	events, err := s.store.ListTradeEventsByPair(r.Context(), id)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.TradeEvent{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// SupplyPool handles POST /api/v1/pairs/{pairID}/supply
func (s *Service) SupplyPool(w http.ResponseWriter, r *http.Request) {
	s.poolOp(w, r, true)
}

// RedeemPool handles POST /api/v1/pairs/{pairID}/redeem
func (s *Service) RedeemPool(w http.ResponseWriter, r *http.Request) {
	s.poolOp(w, r, false)
}

func (s *Service) poolOp(w http.ResponseWriter, r *http.Request, supply bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "pairID"))
	if err != nil {
		writeError(w, "invalid pair id", http.StatusBadRequest)
		return
	}
	var req PoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	pool, err := s.engine.Pool(id, req.Side)
	if err != nil {
		writeError(w, "pair not found", http.StatusNotFound)
		return
	}
	if supply {
		err = pool.Supply(req.Account, req.Amount)
	} else {
		err = pool.Redeem(req.Account, req.Amount)
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"available": pool.Available().String(),
		"cash":      pool.Cash().String(),
	})
}

// OpenTrade handles POST /api/v1/trade/open
func (s *Service) OpenTrade(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	ev, err := s.engine.Open(r.Context(), engine.OpenParams{
		Trader:       req.Trader,
		PairID:       req.PairID,
		LongToken:    req.LongToken,
		DepositToken: req.DepositToken,
		Deposit:      req.Deposit,
		Borrow:       req.Borrow,
		MinHeld:      req.MinHeld,
		Referrer:     req.Referrer,
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(model.EventOpen, errorReason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.TradesTotal.WithLabelValues(model.EventOpen).Inc()
	metrics.TradeLatency.WithLabelValues(model.EventOpen).Observe(time.Since(start).Seconds())
	s.observeInsurance(ev.PairID)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade_opened",
			Trader:    ev.Trader,
			PairID:    ev.PairID,
			LongToken: ev.LongToken,
			Deposited: ev.Deposited.String(),
			Borrowed:  ev.Borrowed.String(),
			Held:      ev.Held.String(),
			Fees:      ev.Fees.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

// CloseTrade handles POST /api/v1/trade/close
func (s *Service) CloseTrade(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	ev, err := s.engine.Close(r.Context(), engine.CloseParams{
		Trader:      req.Trader,
		PairID:      req.PairID,
		LongToken:   req.LongToken,
		CloseAmount: req.CloseAmount,
		MinOut:      req.MinOut,
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(model.EventClose, errorReason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.TradesTotal.WithLabelValues(model.EventClose).Inc()
	metrics.TradeLatency.WithLabelValues(model.EventClose).Observe(time.Since(start).Seconds())
	s.observeInsurance(ev.PairID)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "trade_closed",
			Trader:      ev.Trader,
			PairID:      ev.PairID,
			LongToken:   ev.LongToken,
			CloseAmount: ev.CloseAmount.String(),
			Proceeds:    ev.Proceeds.String(),
			Fees:        ev.Fees.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

// GetMarginRatio handles GET /api/v1/trade/ratio?trader=&pair_id=&long_token=
func (s *Service) GetMarginRatio(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}
	pairID, err := strconv.Atoi(r.URL.Query().Get("pair_id"))
	if err != nil {
		writeError(w, "invalid pair_id", http.StatusBadRequest)
		return
	}
	longToken := r.URL.Query().Get("long_token") == "true"

	ratio, err := s.engine.MarginRatio(trader, pairID, longToken)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ratio)
}

// GetPositions handles GET /api/v1/positions/{trader}
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")
	positions := s.engine.Positions(trader)
	if positions == nil {
		positions = []model.Position{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// CreditVault handles POST /api/v1/vault/credit
// Ops-only funding of ledger accounts; deployments front this with auth.
func (s *Service) CreditVault(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" || req.Asset == "" {
		writeError(w, "account and asset are required", http.StatusBadRequest)
		return
	}
	if err := s.vault.Credit(req.Account, req.Asset, req.Amount); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("vault credited", "account", req.Account, "asset", req.Asset, "amount", req.Amount.String())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"balance": s.vault.Balance(req.Account, req.Asset).String(),
	})
}

func (s *Service) observeInsurance(pairID int) {
	pair, err := s.engine.Pair(pairID)
	if err != nil {
		return
	}
	label := strconv.Itoa(pairID)
	metrics.InsuranceReserve.WithLabelValues(label, pair.Asset0).Set(pair.Pool0Insurance.InexactFloat64())
	metrics.InsuranceReserve.WithLabelValues(label, pair.Asset1).Set(pair.Pool1Insurance.InexactFloat64())
}

// writeEngineError maps engine errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownPair),
		errors.Is(err, engine.ErrNoActivePosition):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientLiquidity),
		errors.Is(err, engine.ErrSlippageExceeded),
		errors.Is(err, engine.ErrDirectionMismatch),
		errors.Is(err, engine.ErrInsolventClose),
		errors.Is(err, risk.ErrPairLimitExceeded),
		errors.Is(err, risk.ErrTotalLimitExceeded):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

// errorReason produces a low-cardinality label for rejection metrics.
func errorReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, engine.ErrUnknownPair):
		return "unknown_pair"
	case errors.Is(err, engine.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, engine.ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, engine.ErrDirectionMismatch):
		return "direction_mismatch"
	case errors.Is(err, engine.ErrInsolventClose):
		return "insolvent_close"
	case errors.Is(err, engine.ErrNoActivePosition):
		return "no_position"
	case errors.Is(err, risk.ErrPairLimitExceeded), errors.Is(err, risk.ErrTotalLimitExceeded):
		return "exposure_limit"
	default:
		return "other"
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
