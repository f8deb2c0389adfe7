package engine

import "errors"

// Operation errors surfaced to callers. Every failure aborts the whole
// operation with no partial state change; retry is the caller's
// responsibility with fresh inputs.
var (
	// ErrInvalidAmount is returned for zero, negative, or otherwise
	// malformed amounts.
	ErrInvalidAmount = errors.New("engine: invalid amount")

	// ErrUnknownPair is returned when an operation targets an unlisted pair.
	ErrUnknownPair = errors.New("engine: unknown pair")

	// ErrInsufficientLiquidity is returned when a borrow exceeds the
	// lending pool's available-to-borrow amount.
	ErrInsufficientLiquidity = errors.New("engine: insufficient pool liquidity")

	// ErrSlippageExceeded is returned when swap output falls below the
	// caller's guard, on open or close.
	ErrSlippageExceeded = errors.New("engine: slippage guard violated")

	// ErrDirectionMismatch is returned when an open targets a slot whose
	// existing position has a conflicting deposit side.
	ErrDirectionMismatch = errors.New("engine: position direction mismatch")

	// ErrInsolventClose is returned when close proceeds plus the insurance
	// reserve cannot cover the proportional pool repayment. The close fails
	// rather than under-repay the pool.
	ErrInsolventClose = errors.New("engine: close would under-repay pool")

	// ErrNoActivePosition is returned when an operation targets an empty
	// position slot.
	ErrNoActivePosition = errors.New("engine: no active position")
)
