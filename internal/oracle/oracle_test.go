package oracle_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/oracle"
)

func TestMemoryOracle(t *testing.T) {
	o := oracle.NewMemory()

	if _, err := o.Price("OLE", "DAI"); !errors.Is(err, oracle.ErrNoPrice) {
		t.Errorf("unset price: got %v, want ErrNoPrice", err)
	}

	if err := o.SetPrice("OLE", "DAI", decimal.NewFromFloat(1.5)); err != nil {
		t.Fatalf("set: %v", err)
	}
	p, err := o.Price("OLE", "DAI")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !p.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("price = %s, want 1.5", p)
	}

	// Directions are independent.
	if _, err := o.Price("DAI", "OLE"); !errors.Is(err, oracle.ErrNoPrice) {
		t.Errorf("reverse direction: got %v, want ErrNoPrice", err)
	}

	// Identity price needs no publication.
	p, err = o.Price("DAI", "DAI")
	if err != nil || !p.Equal(decimal.NewFromInt(1)) {
		t.Errorf("identity price = %s, %v", p, err)
	}

	if err := o.SetPrice("OLE", "DAI", decimal.Zero); err == nil {
		t.Error("zero price accepted")
	}
}
