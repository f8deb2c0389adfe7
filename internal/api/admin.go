// Package api — ops endpoints for publishing oracle prices and seeding
// exchange liquidity. Deployments front these with auth.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/amm"
	"github.com/levx/margin-engine/internal/oracle"
	"github.com/levx/margin-engine/internal/ticker"
	"github.com/levx/margin-engine/internal/vault"
)

// Admin exposes the ops-only mutation surface: oracle prices and AMM pools.
type Admin struct {
	oracle *oracle.Memory
	router *amm.Router
	vault  *vault.Vault
	lpFee  decimal.Decimal
}

// NewAdmin creates the admin surface.
func NewAdmin(o *oracle.Memory, r *amm.Router, v *vault.Vault, lpFee decimal.Decimal) *Admin {
	return &Admin{oracle: o, router: r, vault: v, lpFee: lpFee}
}

// Routes mounts the admin routes.
func (a *Admin) Routes(r chi.Router) {
	r.Post("/oracle/price", a.SetPrice)
	r.Post("/amm/pools", a.CreateAMMPool)
}

// PriceRequest is the JSON body for POST /admin/oracle/price.
type PriceRequest struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Price decimal.Decimal `json:"price"`
}

// SetPrice publishes one direction of a pair price. Publishers that want a
// symmetric book set both directions explicitly.
func (a *Admin) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Base == "" || req.Quote == "" {
		writeError(w, "base and quote are required", http.StatusBadRequest)
		return
	}
	if err := a.oracle.SetPrice(req.Base, req.Quote, req.Price); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("oracle price published", "base", req.Base, "quote", req.Quote, "price", req.Price.String())
	w.WriteHeader(http.StatusNoContent)
}

// AMMPoolRequest is the JSON body for POST /admin/amm/pools.
type AMMPoolRequest struct {
	Ticker   string          `json:"ticker"` // ASSET0-ASSET1
	Reserve0 decimal.Decimal `json:"reserve0"`
	Reserve1 decimal.Decimal `json:"reserve1"`
}

// CreateAMMPool registers a constant-product pool and mints its initial
// reserves into the pool's vault account.
func (a *Admin) CreateAMMPool(w http.ResponseWriter, r *http.Request) {
	var req AMMPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	parsed, err := ticker.Parse(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Reserve0.IsPositive() || !req.Reserve1.IsPositive() {
		writeError(w, "reserves must be positive", http.StatusBadRequest)
		return
	}

	account := "amm:" + parsed.Ticker()
	pool := amm.NewPool(a.vault, account, parsed.Asset0, parsed.Asset1, a.lpFee)
	if err := a.vault.Credit(account, parsed.Asset0, req.Reserve0); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.vault.Credit(account, parsed.Asset1, req.Reserve1); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.router.AddPool(pool)

	slog.Info("amm pool created",
		"ticker", parsed.Ticker(),
		"reserve0", req.Reserve0.String(),
		"reserve1", req.Reserve1.String(),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"account": account})
}
