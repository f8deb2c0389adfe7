// Package amm implements the exchange adapter the margin engine swaps
// through: constant-product (x·y=k) liquidity pools with an LP fee.
//
// Swap output is bounded by the caller's minimum-output guard; a guard
// violation fails the swap before any funds move, so the enclosing engine
// operation can abort with nothing to undo. Arithmetic is fixed-point
// decimal truncated to 18 places, matching on-chain integer math.
// All monetary values use shopspring/decimal — never float64 for money.
package amm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/vault"
)

var (
	// ErrMinAmountOut is returned when a swap's output would fall below the
	// caller-supplied minimum.
	ErrMinAmountOut = errors.New("amm: output below minimum")

	// ErrMaxAmountIn is returned when an exact-output swap would require
	// more input than the caller allows.
	ErrMaxAmountIn = errors.New("amm: input above maximum")

	// ErrInsufficientReserve is returned when a swap would drain a reserve.
	ErrInsufficientReserve = errors.New("amm: insufficient reserve")

	// ErrUnknownRoute is returned when no pool trades the requested assets.
	ErrUnknownRoute = errors.New("amm: no pool for asset pair")
)

// scale is the fixed-point precision for swap arithmetic.
const scale = 18

// Exchange is the swap surface the engine depends on. Quotes are pure reads;
// swaps atomically move funds between the counterparty account and the pool.
type Exchange interface {
	// Quote returns the output for an exact-input swap without executing it.
	Quote(assetIn, assetOut string, amountIn decimal.Decimal) (decimal.Decimal, error)

	// QuoteForExact returns the input required to receive exactly amountOut.
	QuoteForExact(assetIn, assetOut string, amountOut decimal.Decimal) (decimal.Decimal, error)

	// Swap trades amountIn of assetIn for assetOut, failing with
	// ErrMinAmountOut if the output is below minAmountOut.
	Swap(account, assetIn, assetOut string, amountIn, minAmountOut decimal.Decimal) (decimal.Decimal, error)

	// SwapForExact trades just enough assetIn for exactly amountOut of
	// assetOut, failing with ErrMaxAmountIn if more than maxAmountIn would
	// be consumed. Returns the input actually spent.
	SwapForExact(account, assetIn, assetOut string, amountOut, maxAmountIn decimal.Decimal) (decimal.Decimal, error)
}

// Pool is one constant-product pool between two assets. Reserves are the
// pool account's vault balances, so swap legs conserve by construction.
type Pool struct {
	mu      sync.Mutex
	vault   *vault.Vault
	account string
	asset0  string
	asset1  string
	lpFee   decimal.Decimal // e.g. 0.003
}

// NewPool creates a pool for the given asset pair. Liquidity is provided by
// crediting the pool's vault account.
func NewPool(v *vault.Vault, account, asset0, asset1 string, lpFee decimal.Decimal) *Pool {
	return &Pool{vault: v, account: account, asset0: asset0, asset1: asset1, lpFee: lpFee}
}

// Reserves returns the current pool reserves (asset0, asset1).
func (p *Pool) Reserves() (decimal.Decimal, decimal.Decimal) {
	return p.vault.Balance(p.account, p.asset0), p.vault.Balance(p.account, p.asset1)
}

func (p *Pool) trades(assetIn, assetOut string) bool {
	return (assetIn == p.asset0 && assetOut == p.asset1) ||
		(assetIn == p.asset1 && assetOut == p.asset0)
}

// quoteOut computes the exact-input output: out = Rout·in' / (Rin + in')
// with in' = in·(1 − lpFee). Truncated to 18 places.
func (p *Pool) quoteOut(assetIn, assetOut string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	if !p.trades(assetIn, assetOut) {
		return decimal.Zero, fmt.Errorf("%w: %s→%s", ErrUnknownRoute, assetIn, assetOut)
	}
	if !amountIn.IsPositive() {
		return decimal.Zero, fmt.Errorf("amm: amountIn must be positive, got %s", amountIn)
	}
	reserveIn := p.vault.Balance(p.account, assetIn)
	reserveOut := p.vault.Balance(p.account, assetOut)
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return decimal.Zero, ErrInsufficientReserve
	}

	inAfterFee := amountIn.Mul(decimal.NewFromInt(1).Sub(p.lpFee))
	out := reserveOut.Mul(inAfterFee).
		DivRound(reserveIn.Add(inAfterFee), scale+10).
		Truncate(scale)
	if out.GreaterThanOrEqual(reserveOut) {
		return decimal.Zero, ErrInsufficientReserve
	}
	return out, nil
}

// quoteIn computes the exact-output input: in = Rin·out / ((Rout − out)·(1 − lpFee)),
// rounded up so the pool never under-collects.
func (p *Pool) quoteIn(assetIn, assetOut string, amountOut decimal.Decimal) (decimal.Decimal, error) {
	if !p.trades(assetIn, assetOut) {
		return decimal.Zero, fmt.Errorf("%w: %s→%s", ErrUnknownRoute, assetIn, assetOut)
	}
	if !amountOut.IsPositive() {
		return decimal.Zero, fmt.Errorf("amm: amountOut must be positive, got %s", amountOut)
	}
	reserveIn := p.vault.Balance(p.account, assetIn)
	reserveOut := p.vault.Balance(p.account, assetOut)
	if amountOut.GreaterThanOrEqual(reserveOut) {
		return decimal.Zero, ErrInsufficientReserve
	}

	den := reserveOut.Sub(amountOut).Mul(decimal.NewFromInt(1).Sub(p.lpFee))
	in := reserveIn.Mul(amountOut).
		DivRound(den, scale+10).
		RoundUp(scale)
	return in, nil
}

// Quote implements Exchange.
func (p *Pool) Quote(assetIn, assetOut string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quoteOut(assetIn, assetOut, amountIn)
}

// QuoteForExact implements Exchange.
func (p *Pool) QuoteForExact(assetIn, assetOut string, amountOut decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quoteIn(assetIn, assetOut, amountOut)
}

// Swap implements Exchange. The guard is checked before any transfer, so a
// failed swap moves no funds.
func (p *Pool) Swap(account, assetIn, assetOut string, amountIn, minAmountOut decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out, err := p.quoteOut(assetIn, assetOut, amountIn)
	if err != nil {
		return decimal.Zero, err
	}
	if out.LessThan(minAmountOut) {
		return decimal.Zero, fmt.Errorf("%w: got %s, want at least %s", ErrMinAmountOut, out, minAmountOut)
	}
	if err := p.vault.Transfer(account, p.account, assetIn, amountIn); err != nil {
		return decimal.Zero, err
	}
	if err := p.vault.Transfer(p.account, account, assetOut, out); err != nil {
		// Undo the input leg; reserves were just validated so this is a
		// ledger inconsistency, not a normal failure.
		_ = p.vault.Transfer(p.account, account, assetIn, amountIn)
		return decimal.Zero, err
	}
	return out, nil
}

// SwapForExact implements Exchange.
func (p *Pool) SwapForExact(account, assetIn, assetOut string, amountOut, maxAmountIn decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	in, err := p.quoteIn(assetIn, assetOut, amountOut)
	if err != nil {
		return decimal.Zero, err
	}
	if in.GreaterThan(maxAmountIn) {
		return decimal.Zero, fmt.Errorf("%w: need %s, allowed %s", ErrMaxAmountIn, in, maxAmountIn)
	}
	if err := p.vault.Transfer(account, p.account, assetIn, in); err != nil {
		return decimal.Zero, err
	}
	if err := p.vault.Transfer(p.account, account, assetOut, amountOut); err != nil {
		_ = p.vault.Transfer(p.account, account, assetIn, in)
		return decimal.Zero, err
	}
	return in, nil
}

// Router multiplexes swaps across pools by asset pair.
type Router struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{pools: make(map[string]*Pool)}
}

// AddPool registers a pool for both trade directions.
func (r *Router) AddPool(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[routeKey(p.asset0, p.asset1)] = p
	r.pools[routeKey(p.asset1, p.asset0)] = p
}

func (r *Router) pool(assetIn, assetOut string) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[routeKey(assetIn, assetOut)]
	if !ok {
		return nil, fmt.Errorf("%w: %s→%s", ErrUnknownRoute, assetIn, assetOut)
	}
	return p, nil
}

// Quote implements Exchange.
func (r *Router) Quote(assetIn, assetOut string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	p, err := r.pool(assetIn, assetOut)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Quote(assetIn, assetOut, amountIn)
}

// QuoteForExact implements Exchange.
func (r *Router) QuoteForExact(assetIn, assetOut string, amountOut decimal.Decimal) (decimal.Decimal, error) {
	p, err := r.pool(assetIn, assetOut)
	if err != nil {
		return decimal.Zero, err
	}
	return p.QuoteForExact(assetIn, assetOut, amountOut)
}

// Swap implements Exchange.
func (r *Router) Swap(account, assetIn, assetOut string, amountIn, minAmountOut decimal.Decimal) (decimal.Decimal, error) {
	p, err := r.pool(assetIn, assetOut)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Swap(account, assetIn, assetOut, amountIn, minAmountOut)
}

// SwapForExact implements Exchange.
func (r *Router) SwapForExact(account, assetIn, assetOut string, amountOut, maxAmountIn decimal.Decimal) (decimal.Decimal, error) {
	p, err := r.pool(assetIn, assetOut)
	if err != nil {
		return decimal.Zero, err
	}
	return p.SwapForExact(account, assetIn, assetOut, amountOut, maxAmountIn)
}

func routeKey(assetIn, assetOut string) string {
	return assetIn + "→" + assetOut
}
