package engine

import "github.com/shopspring/decimal"

// Config carries the engine's trading parameters. These are governance
// inputs read at construction and pair-listing time, never mutated by
// trading operations.
type Config struct {
	// FeeRate is the protocol fee charged on the combined deposit+borrow
	// notional at open and on the unwound amount at close, e.g. 0.003.
	FeeRate decimal.Decimal

	// InsuranceRate is the fraction of each fee retained in the pair's
	// insurance reserve; the remainder goes to the treasury.
	InsuranceRate decimal.Decimal

	// PoolBorrowCap is the fraction of supplied pool liquidity that may be
	// lent out, applied to pools the engine creates at pair listing.
	PoolBorrowCap decimal.Decimal

	// PoolRatePerSecond is the linear borrow interest rate for engine-created
	// pools, per second. Zero disables interest.
	PoolRatePerSecond decimal.Decimal

	// DefaultMarginLimit is the margin-ratio threshold (basis points)
	// applied when a pair is listed without an explicit limit.
	DefaultMarginLimit int64
}

// DefaultConfig returns the parameters observed in production deployments:
// 0.3% fee with a third retained as insurance, pools lending out at most
// 80% of supply, and a 30% margin limit.
func DefaultConfig() Config {
	return Config{
		FeeRate:            decimal.NewFromFloat(0.003),
		InsuranceRate:      decimal.NewFromFloat(0.33),
		PoolBorrowCap:      decimal.NewFromFloat(0.8),
		PoolRatePerSecond:  decimal.Zero,
		DefaultMarginLimit: 3000,
	}
}
