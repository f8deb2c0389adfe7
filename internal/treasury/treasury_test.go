package treasury_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/treasury"
	"github.com/levx/margin-engine/internal/vault"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestReceiveFeeAndRevenue(t *testing.T) {
	v := vault.New()
	tre := treasury.New(v, "treasury")
	if err := v.Credit("engine", "OLE", d("10")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := tre.ReceiveFee("engine", "OLE", d("1.809")); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !tre.Revenue("OLE").Equal(d("1.809")) {
		t.Errorf("revenue = %s, want 1.809", tre.Revenue("OLE"))
	}
	if !v.Balance("treasury", "OLE").Equal(d("1.809")) {
		t.Errorf("treasury balance = %s, want 1.809", v.Balance("treasury", "OLE"))
	}

	// A payer that cannot cover the fee leaves revenue untouched.
	if err := tre.ReceiveFee("engine", "OLE", d("100")); err == nil {
		t.Error("uncovered fee accepted")
	}
	if !tre.Revenue("OLE").Equal(d("1.809")) {
		t.Errorf("revenue after failed fee = %s", tre.Revenue("OLE"))
	}
}

func TestRefund(t *testing.T) {
	v := vault.New()
	tre := treasury.New(v, "treasury")
	v.Credit("engine", "OLE", d("10"))

	if err := tre.ReceiveFee("engine", "OLE", d("3")); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := tre.Refund("engine", "OLE", d("3")); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !tre.Revenue("OLE").IsZero() {
		t.Errorf("revenue = %s, want 0", tre.Revenue("OLE"))
	}
	if !v.Balance("engine", "OLE").Equal(d("10")) {
		t.Errorf("engine balance = %s, want 10", v.Balance("engine", "OLE"))
	}
}
