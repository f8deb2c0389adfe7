// Package treasury custodies protocol fee revenue.
//
// The treasury is a plain vault account plus a per-asset revenue tally;
// ReceiveFee is an unconditional credit with no failure path for a
// well-formed amount, matching the contract the engine expects.
package treasury

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/vault"
)

// Treasury collects protocol fees into its own vault account.
type Treasury struct {
	mu      sync.RWMutex
	vault   *vault.Vault
	account string
	revenue map[string]decimal.Decimal
}

// New creates a treasury backed by the given vault account.
func New(v *vault.Vault, account string) *Treasury {
	return &Treasury{
		vault:   v,
		account: account,
		revenue: make(map[string]decimal.Decimal),
	}
}

// Account returns the treasury's vault account name.
func (t *Treasury) Account() string {
	return t.account
}

// ReceiveFee moves a fee payment from the payer's vault account into the
// treasury and records it as revenue.
func (t *Treasury) ReceiveFee(from, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("treasury: fee must be non-negative, got %s", amount)
	}
	if err := t.vault.Transfer(from, t.account, asset, amount); err != nil {
		return err
	}
	t.mu.Lock()
	t.revenue[asset] = t.revenue[asset].Add(amount)
	t.mu.Unlock()
	return nil
}

// Refund returns a previously received fee to an account. Used only by the
// engine's rollback path when a later step of an operation fails.
func (t *Treasury) Refund(to, asset string, amount decimal.Decimal) error {
	if err := t.vault.Transfer(t.account, to, asset, amount); err != nil {
		return err
	}
	t.mu.Lock()
	t.revenue[asset] = t.revenue[asset].Sub(amount)
	t.mu.Unlock()
	return nil
}

// Revenue returns the cumulative fee revenue collected in one asset.
func (t *Treasury) Revenue(asset string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.revenue[asset]
}
