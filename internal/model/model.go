// Package model defines the core domain types shared across the margin engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade event kinds recorded in the immutable ledger.
const (
	EventOpen  = "open"
	EventClose = "close"
)

// Pair is one listed trading pair: two assets, one lending pool per side,
// and the per-side insurance reserves funded by trading fees.
type Pair struct {
	ID             int             `json:"id" db:"id"`
	Asset0         string          `json:"asset0" db:"asset0"`
	Asset1         string          `json:"asset1" db:"asset1"`
	MarginLimit    int64           `json:"margin_limit" db:"margin_limit"` // basis points, e.g. 3000 = 30%
	Pool0Insurance decimal.Decimal `json:"pool0_insurance" db:"pool0_insurance"`
	Pool1Insurance decimal.Decimal `json:"pool1_insurance" db:"pool1_insurance"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Position is one trader's leveraged position in one (pair, direction) slot.
//
// Deposited, DepositFixedValue and MarketValueOpen are denominated in the
// deposit asset at entry prices; Held is the quantity of the held asset.
// All four are zero simultaneously iff the position is closed.
type Position struct {
	Trader    string `json:"trader" db:"trader"`
	PairID    int    `json:"pair_id" db:"pair_id"`
	LongToken bool   `json:"long_token" db:"long_token"` // false = long asset0, true = long asset1

	// DepositToken records which side the collateral was paid in.
	// Fixed at first open; a later open into the same slot must match.
	DepositToken bool `json:"deposit_token" db:"deposit_token"` // false = asset0, true = asset1

	Deposited         decimal.Decimal `json:"deposited" db:"deposited"`
	DepositFixedValue decimal.Decimal `json:"deposit_fixed_value" db:"deposit_fixed_value"`
	Held              decimal.Decimal `json:"held" db:"held"`
	MarketValueOpen   decimal.Decimal `json:"market_value_open" db:"market_value_open"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Closed reports whether the position slot is logically empty.
func (p *Position) Closed() bool {
	return p.Held.IsZero()
}

// HeldAsset returns the asset the position is long.
func (p *Position) HeldAsset(pair *Pair) string {
	if p.LongToken {
		return pair.Asset1
	}
	return pair.Asset0
}

// BorrowAsset returns the asset borrowed to fund the position — always the
// counter side of the held asset.
func (p *Position) BorrowAsset(pair *Pair) string {
	if p.LongToken {
		return pair.Asset0
	}
	return pair.Asset1
}

// DepositAsset returns the asset the collateral was paid in.
func (p *Position) DepositAsset(pair *Pair) string {
	if p.DepositToken {
		return pair.Asset1
	}
	return pair.Asset0
}

// TradeEvent is an immutable record of an open or close execution.
// Once created, these are never modified or deleted.
type TradeEvent struct {
	ID        string `json:"id" db:"id"`
	Kind      string `json:"kind" db:"kind"` // "open" or "close"
	Trader    string `json:"trader" db:"trader"`
	PairID    int    `json:"pair_id" db:"pair_id"`
	LongToken bool   `json:"long_token" db:"long_token"`

	// Open fields.
	Deposited decimal.Decimal `json:"deposited" db:"deposited"`
	Borrowed  decimal.Decimal `json:"borrowed" db:"borrowed"`
	Held      decimal.Decimal `json:"held" db:"held"`
	Fees      decimal.Decimal `json:"fees" db:"fees"`

	// Close fields.
	CloseAmount decimal.Decimal `json:"close_amount" db:"close_amount"`
	Proceeds    decimal.Decimal `json:"proceeds" db:"proceeds"`

	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Ratio is the result of a margin-ratio read: the position's current ratio in
// basis points against the pair's configured limit.
type Ratio struct {
	Current  int64 `json:"current"`  // basis points, 10000 = 100%
	Limit    int64 `json:"limit"`    // pair margin limit in basis points
	Eligible bool  `json:"eligible"` // true when Current < Limit
}
