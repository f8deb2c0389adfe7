// Package vault implements the token custody ledger for the margin engine.
//
// Every fund movement — trader deposits, pool borrows and repayments, swap
// legs, fee transfers — is a transfer between vault accounts, so the sum of
// balances per asset is invariant and conservation is directly observable.
// All monetary values use shopspring/decimal — never float64 for money.
package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrInsufficientBalance is returned when a transfer exceeds the payer's balance.
var ErrInsufficientBalance = errors.New("vault: insufficient balance")

// Vault is an in-memory double-entry token ledger: account × asset → balance.
type Vault struct {
	mu       sync.RWMutex
	balances map[string]map[string]decimal.Decimal
}

// New creates an empty vault.
func New() *Vault {
	return &Vault{balances: make(map[string]map[string]decimal.Decimal)}
}

// Credit mints amount of asset into account. Used to fund accounts from
// outside the ledger (ops credit, test setup); internal movements must use
// Transfer so conservation holds.
func (v *Vault) Credit(account, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("vault: credit amount must be non-negative, got %s", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.add(account, asset, amount)
	return nil
}

// Balance returns the balance of asset held by account.
func (v *Vault) Balance(account, asset string) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[account][asset]
}

// Transfer moves amount of asset from one account to another.
// Fails with ErrInsufficientBalance if the payer cannot cover it.
func (v *Vault) Transfer(from, to, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("vault: transfer amount must be non-negative, got %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balances[from][asset].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, need %s",
			ErrInsufficientBalance, from, v.balances[from][asset], asset, amount)
	}
	v.balances[from][asset] = v.balances[from][asset].Sub(amount)
	v.add(to, asset, amount)
	return nil
}

func (v *Vault) add(account, asset string, amount decimal.Decimal) {
	if v.balances[account] == nil {
		v.balances[account] = make(map[string]decimal.Decimal)
	}
	v.balances[account][asset] = v.balances[account][asset].Add(amount)
}

// TotalSupply returns the ledger-wide sum for one asset. Invariant under
// Transfer; changes only through Credit.
func (v *Vault) TotalSupply(asset string) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()

	total := decimal.Zero
	for _, assets := range v.balances {
		total = total.Add(assets[asset])
	}
	return total
}
