// Package oracle defines the price oracle contract the margin engine depends
// on, plus a settable in-memory implementation.
//
// The engine treats the oracle as authoritative and synchronous and queries
// it fresh on every open, close, and margin-ratio read — prices are never
// cached across operations.
package oracle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when no price has been published for an asset pair.
var ErrNoPrice = errors.New("oracle: no price for pair")

// Oracle returns the price of base quoted in quote units
// (quote-per-base, fixed-point decimal).
type Oracle interface {
	Price(base, quote string) (decimal.Decimal, error)
}

// Memory is a settable in-memory oracle. Prices for the two directions of a
// pair are independent — publishers set each explicitly.
type Memory struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewMemory creates an empty in-memory oracle.
func NewMemory() *Memory {
	return &Memory{prices: make(map[string]decimal.Decimal)}
}

// SetPrice publishes the price of base quoted in quote units.
func (m *Memory) SetPrice(base, quote string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("oracle: price must be positive, got %s", price)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[key(base, quote)] = price
	return nil
}

// Price returns the published price for base quoted in quote.
// The identity price (base == quote) is always 1.
func (m *Memory) Price(base, quote string) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.prices[key(base, quote)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrNoPrice, base, quote)
	}
	return p, nil
}

func key(base, quote string) string {
	return base + "/" + quote
}
