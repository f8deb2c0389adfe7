// Package lpool implements the per-asset lending pools the margin engine
// borrows from.
//
// Savers supply liquidity; the engine draws borrows against it and repays
// principal plus interest. Interest accrues linearly per second on each
// borrow record — share-based supplier accounting is intentionally out of
// scope, the engine only depends on Available/Borrow/Repay/Owed.
// All monetary values use shopspring/decimal — never float64 for money.
package lpool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/vault"
)

var (
	// ErrInsufficientLiquidity is returned when a borrow exceeds the pool's
	// available-to-borrow amount.
	ErrInsufficientLiquidity = errors.New("lpool: borrow exceeds available liquidity")

	// ErrUnknownBorrow is returned when a repay references no open borrow.
	ErrUnknownBorrow = errors.New("lpool: unknown borrow reference")
)

// Config carries the pool parameters fixed at creation.
type Config struct {
	// BorrowCap is the fraction of total supplied liquidity that may be
	// outstanding as borrows, e.g. 0.8.
	BorrowCap decimal.Decimal

	// RatePerSecond is the linear interest rate applied to outstanding
	// principal, per second. Zero disables interest.
	RatePerSecond decimal.Decimal
}

type borrowRecord struct {
	principal decimal.Decimal
	accruedAt time.Time
}

// Pool is one lending pool for a single asset. Cash is the pool account's
// vault balance; the borrow ledger is keyed by an opaque position reference.
type Pool struct {
	mu      sync.Mutex
	vault   *vault.Vault
	account string
	asset   string
	cfg     Config

	totalSupply  decimal.Decimal
	totalBorrows decimal.Decimal
	supplies     map[string]decimal.Decimal
	borrows      map[string]*borrowRecord

	now func() time.Time // injectable clock for interest tests
}

// New creates a pool for asset backed by the given vault account.
func New(v *vault.Vault, account, asset string, cfg Config) *Pool {
	return &Pool{
		vault:    v,
		account:  account,
		asset:    asset,
		cfg:      cfg,
		supplies: make(map[string]decimal.Decimal),
		borrows:  make(map[string]*borrowRecord),
		now:      time.Now,
	}
}

// SetClock overrides the pool's clock. Test hook.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Asset returns the asset this pool lends.
func (p *Pool) Asset() string {
	return p.asset
}

// Account returns the pool's vault account name.
func (p *Pool) Account() string {
	return p.account
}

// Supply deposits amount of the pool asset from a saver.
func (p *Pool) Supply(saver string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lpool: supply must be positive, got %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.vault.Transfer(saver, p.account, p.asset, amount); err != nil {
		return err
	}
	p.totalSupply = p.totalSupply.Add(amount)
	p.supplies[saver] = p.supplies[saver].Add(amount)
	return nil
}

// Redeem withdraws previously supplied liquidity. Fails if the saver has not
// supplied that much or the pool's cash cannot cover it.
func (p *Pool) Redeem(saver string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lpool: redeem must be positive, got %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.supplies[saver].LessThan(amount) {
		return fmt.Errorf("lpool: saver %s supplied %s, cannot redeem %s", saver, p.supplies[saver], amount)
	}
	if err := p.vault.Transfer(p.account, saver, p.asset, amount); err != nil {
		return err
	}
	p.totalSupply = p.totalSupply.Sub(amount)
	p.supplies[saver] = p.supplies[saver].Sub(amount)
	return nil
}

// Available returns the amount currently available to borrow:
// BorrowCap × total supply − outstanding borrows, bounded by pool cash.
func (p *Pool) Available() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available()
}

func (p *Pool) available() decimal.Decimal {
	avail := p.totalSupply.Mul(p.cfg.BorrowCap).Sub(p.totalBorrows)
	if cash := p.vault.Balance(p.account, p.asset); avail.GreaterThan(cash) {
		avail = cash
	}
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Borrow draws amount from the pool into the to account, recording it as
// principal owed under ref. The availability check and the draw are one
// atomic step — availability is never trusted from an earlier read.
func (p *Pool) Borrow(to, ref string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lpool: borrow must be positive, got %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.GreaterThan(p.available()) {
		return fmt.Errorf("%w: want %s, available %s", ErrInsufficientLiquidity, amount, p.available())
	}
	if err := p.vault.Transfer(p.account, to, p.asset, amount); err != nil {
		return err
	}

	rec, ok := p.borrows[ref]
	if !ok {
		rec = &borrowRecord{principal: decimal.Zero, accruedAt: p.now()}
		p.borrows[ref] = rec
	}
	p.accrue(rec)
	rec.principal = rec.principal.Add(amount)
	p.totalBorrows = p.totalBorrows.Add(amount)
	return nil
}

// Repay returns amount of the pool asset from the payer, reducing the
// principal owed under ref. Overpayment is rejected.
func (p *Pool) Repay(from, ref string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lpool: repay must be positive, got %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.borrows[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBorrow, ref)
	}
	p.accrue(rec)
	if amount.GreaterThan(rec.principal) {
		return fmt.Errorf("lpool: repay %s exceeds owed %s for %s", amount, rec.principal, ref)
	}
	if err := p.vault.Transfer(from, p.account, p.asset, amount); err != nil {
		return err
	}
	rec.principal = rec.principal.Sub(amount)
	p.totalBorrows = p.totalBorrows.Sub(amount)
	if rec.principal.IsZero() {
		delete(p.borrows, ref)
	}
	return nil
}

// Owed returns the current principal plus accrued interest under ref.
// Zero when ref has no open borrow.
func (p *Pool) Owed(ref string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.borrows[ref]
	if !ok {
		return decimal.Zero
	}
	return p.owedLocked(rec)
}

// accrue folds accrued interest into the record's principal. The accrued
// amount is added to outstanding borrows so availability reflects it.
func (p *Pool) accrue(rec *borrowRecord) {
	owed := p.owedLocked(rec)
	p.totalBorrows = p.totalBorrows.Add(owed.Sub(rec.principal))
	rec.principal = owed
	rec.accruedAt = p.now()
}

func (p *Pool) owedLocked(rec *borrowRecord) decimal.Decimal {
	if p.cfg.RatePerSecond.IsZero() || rec.principal.IsZero() {
		return rec.principal
	}
	elapsed := decimal.NewFromFloat(p.now().Sub(rec.accruedAt).Seconds())
	if elapsed.IsNegative() {
		return rec.principal
	}
	interest := rec.principal.Mul(p.cfg.RatePerSecond).Mul(elapsed)
	return rec.principal.Add(interest).Truncate(18)
}

// TotalBorrows returns the outstanding borrowed principal.
func (p *Pool) TotalBorrows() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBorrows
}

// Cash returns the pool's on-hand balance.
func (p *Pool) Cash() decimal.Decimal {
	return p.vault.Balance(p.account, p.asset)
}
