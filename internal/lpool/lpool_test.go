package lpool_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/lpool"
	"github.com/levx/margin-engine/internal/vault"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newPool(t *testing.T, cfg lpool.Config) (*vault.Vault, *lpool.Pool) {
	t.Helper()
	v := vault.New()
	if err := v.Credit("saver", "DAI", d("5000")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := v.Credit("borrower", "DAI", d("5000")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	return v, lpool.New(v, "lpool:0:DAI", "DAI", cfg)
}

func TestSupplyRedeem(t *testing.T) {
	v, p := newPool(t, lpool.Config{BorrowCap: d("0.8")})

	if err := p.Supply("saver", d("1000")); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !p.Cash().Equal(d("1000")) {
		t.Errorf("cash = %s, want 1000", p.Cash())
	}
	if !v.Balance("saver", "DAI").Equal(d("4000")) {
		t.Errorf("saver balance = %s, want 4000", v.Balance("saver", "DAI"))
	}

	if err := p.Redeem("saver", d("400")); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !p.Cash().Equal(d("600")) {
		t.Errorf("cash = %s, want 600", p.Cash())
	}

	// Cannot redeem more than supplied.
	if err := p.Redeem("saver", d("601")); err == nil {
		t.Error("over-redeem accepted")
	}
	if err := p.Supply("saver", d("0")); err == nil {
		t.Error("zero supply accepted")
	}
}

func TestAvailable_CapFactor(t *testing.T) {
	_, p := newPool(t, lpool.Config{BorrowCap: d("0.8")})

	if err := p.Supply("saver", d("1000")); err != nil {
		t.Fatalf("supply: %v", err)
	}
	// 80% of supply is lendable.
	if !p.Available().Equal(d("800")) {
		t.Errorf("available = %s, want 800", p.Available())
	}

	if err := p.Borrow("borrower", "pos1", d("500")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if !p.Available().Equal(d("300")) {
		t.Errorf("available = %s, want 300", p.Available())
	}
	if !p.TotalBorrows().Equal(d("500")) {
		t.Errorf("total borrows = %s, want 500", p.TotalBorrows())
	}
}

func TestBorrow_BeyondAvailable(t *testing.T) {
	v, p := newPool(t, lpool.Config{BorrowCap: d("0.8")})
	if err := p.Supply("saver", d("1000")); err != nil {
		t.Fatalf("supply: %v", err)
	}

	err := p.Borrow("borrower", "pos1", d("800.5"))
	if !errors.Is(err, lpool.ErrInsufficientLiquidity) {
		t.Fatalf("got %v, want ErrInsufficientLiquidity", err)
	}
	if !p.Owed("pos1").IsZero() {
		t.Errorf("owed = %s after failed borrow", p.Owed("pos1"))
	}
	if !v.Balance("borrower", "DAI").Equal(d("5000")) {
		t.Errorf("borrower balance moved: %s", v.Balance("borrower", "DAI"))
	}
}

func TestRepay(t *testing.T) {
	_, p := newPool(t, lpool.Config{BorrowCap: d("0.8")})
	if err := p.Supply("saver", d("1000")); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := p.Borrow("borrower", "pos1", d("500")); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := p.Repay("borrower", "pos1", d("200")); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if !p.Owed("pos1").Equal(d("300")) {
		t.Errorf("owed = %s, want 300", p.Owed("pos1"))
	}

	// Overpay and unknown refs are rejected.
	if err := p.Repay("borrower", "pos1", d("301")); err == nil {
		t.Error("overpay accepted")
	}
	if err := p.Repay("borrower", "nope", d("1")); !errors.Is(err, lpool.ErrUnknownBorrow) {
		t.Errorf("unknown ref: got %v", err)
	}

	// Full repay clears the record.
	if err := p.Repay("borrower", "pos1", d("300")); err != nil {
		t.Fatalf("final repay: %v", err)
	}
	if !p.Owed("pos1").IsZero() {
		t.Errorf("owed = %s, want 0", p.Owed("pos1"))
	}
	if !p.Available().Equal(d("800")) {
		t.Errorf("available = %s, want 800", p.Available())
	}
}

func TestInterestAccrual(t *testing.T) {
	_, p := newPool(t, lpool.Config{
		BorrowCap:     d("0.8"),
		RatePerSecond: d("0.0001"),
	})
	if err := p.Supply("saver", d("1000")); err != nil {
		t.Fatalf("supply: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	p.SetClock(func() time.Time { return now })
	if err := p.Borrow("borrower", "pos1", d("500")); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if !p.Owed("pos1").Equal(d("500")) {
		t.Errorf("owed at t0 = %s, want 500", p.Owed("pos1"))
	}

	// 1000 seconds at 0.0001/s on 500 principal = 50 interest.
	now = now.Add(1000 * time.Second)
	if !p.Owed("pos1").Equal(d("550")) {
		t.Errorf("owed = %s, want 550", p.Owed("pos1"))
	}

	// Accrued interest counts against availability once folded in.
	if err := p.Repay("borrower", "pos1", d("550")); err != nil {
		t.Fatalf("repay with interest: %v", err)
	}
	if !p.Owed("pos1").IsZero() {
		t.Errorf("owed = %s, want 0", p.Owed("pos1"))
	}
}
