package vault_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/vault"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCreditAndBalance(t *testing.T) {
	v := vault.New()

	if err := v.Credit("alice", "DAI", d("100")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !v.Balance("alice", "DAI").Equal(d("100")) {
		t.Errorf("balance = %s, want 100", v.Balance("alice", "DAI"))
	}
	if !v.Balance("alice", "OLE").IsZero() {
		t.Errorf("unfunded asset balance = %s, want 0", v.Balance("alice", "OLE"))
	}
	if err := v.Credit("alice", "DAI", d("-1")); err == nil {
		t.Error("negative credit accepted")
	}
}

func TestTransfer(t *testing.T) {
	v := vault.New()
	if err := v.Credit("alice", "DAI", d("100")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := v.Transfer("alice", "bob", "DAI", d("40")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !v.Balance("alice", "DAI").Equal(d("60")) || !v.Balance("bob", "DAI").Equal(d("40")) {
		t.Errorf("balances = %s / %s, want 60 / 40", v.Balance("alice", "DAI"), v.Balance("bob", "DAI"))
	}

	err := v.Transfer("alice", "bob", "DAI", d("60.000000000000000001"))
	if !errors.Is(err, vault.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if !v.Balance("alice", "DAI").Equal(d("60")) {
		t.Errorf("balance moved on failed transfer: %s", v.Balance("alice", "DAI"))
	}

	// Zero transfers are a no-op, negative ones rejected.
	if err := v.Transfer("alice", "bob", "DAI", d("0")); err != nil {
		t.Errorf("zero transfer: %v", err)
	}
	if err := v.Transfer("alice", "bob", "DAI", d("-1")); err == nil {
		t.Error("negative transfer accepted")
	}
}

func TestTotalSupply_InvariantUnderTransfer(t *testing.T) {
	v := vault.New()
	v.Credit("alice", "DAI", d("100"))
	v.Credit("bob", "DAI", d("50"))

	if !v.TotalSupply("DAI").Equal(d("150")) {
		t.Fatalf("total supply = %s, want 150", v.TotalSupply("DAI"))
	}
	if err := v.Transfer("alice", "bob", "DAI", d("33.33")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !v.TotalSupply("DAI").Equal(d("150")) {
		t.Errorf("total supply changed under transfer: %s", v.TotalSupply("DAI"))
	}
}
