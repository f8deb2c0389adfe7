package ticker_test

import (
	"errors"
	"testing"

	"github.com/levx/margin-engine/internal/ticker"
)

func TestParse_Valid(t *testing.T) {
	p, err := ticker.Parse("BTC-USDT")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Asset0 != "BTC" || p.Asset1 != "USDT" {
		t.Errorf("parsed = %+v", p)
	}
	if p.Ticker() != "BTC-USDT" {
		t.Errorf("ticker = %s", p.Ticker())
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{"", "BTC", "btc-usdt", "BTC_USDT", "B-USDT", "BTC-USDT-X", "VERYLONGASSET-USDT"}
	for _, c := range cases {
		if _, err := ticker.Parse(c); !errors.Is(err, ticker.ErrInvalidTicker) {
			t.Errorf("Parse(%q): got %v, want ErrInvalidTicker", c, err)
		}
	}
}

func TestParse_SameAsset(t *testing.T) {
	if _, err := ticker.Parse("DAI-DAI"); !errors.Is(err, ticker.ErrSameAsset) {
		t.Errorf("got %v, want ErrSameAsset", err)
	}
}
