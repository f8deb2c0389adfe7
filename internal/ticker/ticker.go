// Package ticker handles trading-pair ticker parsing and validation.
package ticker

import (
	"errors"
	"regexp"
)

// tickerRegex matches: {ASSET0}-{ASSET1}
// Example: BTC-USDT
var tickerRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z0-9]{2,10})$`)

var (
	ErrInvalidTicker = errors.New("ticker: invalid pair ticker format")
	ErrSameAsset     = errors.New("ticker: pair assets must differ")
)

// Pair is a parsed trading-pair ticker.
type Pair struct {
	Asset0 string
	Asset1 string
}

// Ticker renders the canonical ticker string.
func (p Pair) Ticker() string {
	return p.Asset0 + "-" + p.Asset1
}

// Parse validates and splits a pair ticker like "BTC-USDT".
func Parse(s string) (Pair, error) {
	m := tickerRegex.FindStringSubmatch(s)
	if m == nil {
		return Pair{}, ErrInvalidTicker
	}
	if m[1] == m[2] {
		return Pair{}, ErrSameAsset
	}
	return Pair{Asset0: m[1], Asset1: m[2]}, nil
}
