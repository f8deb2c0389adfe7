// Package risk implements per-trader notional exposure limits.
//
// A trader opening leveraged positions across several pairs concentrates
// borrow-side risk on the shared lending pools. This package enforces a cap
// on open notional per pair and an aggregate cap across all of a trader's
// positions; the engine consults it before committing an open.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPairLimitExceeded is returned when an open would push a trader's
	// notional in a single pair beyond the per-pair maximum.
	ErrPairLimitExceeded = errors.New("risk: per-pair exposure limit exceeded")

	// ErrTotalLimitExceeded is returned when an open would push a trader's
	// aggregate notional across all pairs beyond the total maximum.
	ErrTotalLimitExceeded = errors.New("risk: total exposure limit exceeded")
)

// Limiter enforces notional exposure limits. Zero-valued limits disable the
// corresponding check.
type Limiter struct {
	// MaxPerPair is the maximum open notional (deposit-asset terms at entry
	// prices) a trader may hold in any single pair.
	MaxPerPair decimal.Decimal

	// MaxTotal is the maximum aggregate open notional across all pairs.
	MaxTotal decimal.Decimal
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxPerPair, maxTotal decimal.Decimal) *Limiter {
	return &Limiter{MaxPerPair: maxPerPair, MaxTotal: maxTotal}
}

// CheckLimit validates adding delta notional in one pair, given the trader's
// current notional in that pair and across all pairs.
func (l *Limiter) CheckLimit(pairNotional, totalNotional, delta decimal.Decimal) error {
	if l == nil {
		return nil
	}
	if l.MaxPerPair.IsPositive() && pairNotional.Add(delta).GreaterThan(l.MaxPerPair) {
		return ErrPairLimitExceeded
	}
	if l.MaxTotal.IsPositive() && totalNotional.Add(delta).GreaterThan(l.MaxTotal) {
		return ErrTotalLimitExceeded
	}
	return nil
}
