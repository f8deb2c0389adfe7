package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/amm"
	"github.com/levx/margin-engine/internal/api"
	"github.com/levx/margin-engine/internal/engine"
	"github.com/levx/margin-engine/internal/model"
	"github.com/levx/margin-engine/internal/oracle"
	"github.com/levx/margin-engine/internal/store"
	"github.com/levx/margin-engine/internal/treasury"
	"github.com/levx/margin-engine/internal/vault"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// newTestRouter wires the full service against in-memory collaborators and
// mounts it the way cmd/server does.
func newTestRouter(t *testing.T) chi.Router {
	t.Helper()

	v := vault.New()
	orc := oracle.NewMemory()
	router := amm.NewRouter()
	tre := treasury.New(v, "treasury")
	ms := store.NewMemoryStore()
	eng := engine.New(engine.DefaultConfig(), engine.Deps{
		Vault:    v,
		Oracle:   orc,
		Exchange: router,
		Treasury: tre,
		Store:    ms,
	})

	svc := api.NewService(eng, ms, v, nil)
	admin := api.NewAdmin(orc, router, v, d("0.003"))

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	r.Route("/admin", admin.Routes)
	return r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// seedMarket runs the full ops flow over HTTP: oracle prices, AMM liquidity,
// the pair listing, trader funding, and lending-pool supply.
func seedMarket(t *testing.T, router chi.Router) model.Pair {
	t.Helper()

	for _, p := range []api.PriceRequest{
		{Base: "OLE", Quote: "DAI", Price: d("1")},
		{Base: "DAI", Quote: "OLE", Price: d("1")},
	} {
		if w := doJSON(t, router, "POST", "/admin/oracle/price", p); w.Code != http.StatusNoContent {
			t.Fatalf("set price: %d %s", w.Code, w.Body.String())
		}
	}

	w := doJSON(t, router, "POST", "/admin/amm/pools", api.AMMPoolRequest{
		Ticker: "OLE-DAI", Reserve0: d("10000"), Reserve1: d("10000"),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create amm pool: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/pairs", api.CreatePairRequest{Ticker: "OLE-DAI", MarginLimit: 3000})
	if w.Code != http.StatusCreated {
		t.Fatalf("create pair: %d %s", w.Code, w.Body.String())
	}
	var pair model.Pair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode pair: %v", err)
	}

	for _, acct := range []string{"alice", "saver"} {
		for _, asset := range []string{"OLE", "DAI"} {
			if w := doJSON(t, router, "POST", "/api/v1/vault/credit", api.CreditRequest{
				Account: acct, Asset: asset, Amount: d("10000"),
			}); w.Code != http.StatusOK {
				t.Fatalf("credit: %d %s", w.Code, w.Body.String())
			}
		}
	}

	for _, side := range []bool{false, true} {
		if w := doJSON(t, router, "POST", "/api/v1/pairs/0/supply", api.PoolRequest{
			Account: "saver", Side: side, Amount: d("1000"),
		}); w.Code != http.StatusOK {
			t.Fatalf("supply: %d %s", w.Code, w.Body.String())
		}
	}
	return pair
}

func openStandard(t *testing.T, router chi.Router) model.TradeEvent {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/trade/open", api.OpenRequest{
		Trader:       "alice",
		PairID:       0,
		LongToken:    false,
		DepositToken: false,
		Deposit:      d("400"),
		Borrow:       d("500"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("open: %d %s", w.Code, w.Body.String())
	}
	var ev model.TradeEvent
	if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestCreatePair(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "POST", "/api/v1/pairs", api.CreatePairRequest{Ticker: "OLE-DAI"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var pair model.Pair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pair.Asset0 != "OLE" || pair.Asset1 != "DAI" {
		t.Errorf("pair = %+v", pair)
	}
	if pair.MarginLimit != 3000 {
		t.Errorf("default margin limit = %d, want 3000", pair.MarginLimit)
	}

	// Listed pair shows up in the listing and by id.
	w = doJSON(t, router, "GET", "/api/v1/pairs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var pairs []model.Pair
	if err := json.Unmarshal(w.Body.Bytes(), &pairs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}

	if w := doJSON(t, router, "GET", "/api/v1/pairs/0", nil); w.Code != http.StatusOK {
		t.Errorf("get pair: %d", w.Code)
	}
	if w := doJSON(t, router, "GET", "/api/v1/pairs/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing pair: %d, want 404", w.Code)
	}
}

func TestCreatePair_InvalidTicker(t *testing.T) {
	router := newTestRouter(t)

	for _, ticker := range []string{"", "OLEDAI", "ole-dai", "DAI-DAI"} {
		w := doJSON(t, router, "POST", "/api/v1/pairs", api.CreatePairRequest{Ticker: ticker})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ticker %q: %d, want 400", ticker, w.Code)
		}
	}
}

func TestOpenTrade(t *testing.T) {
	router := newTestRouter(t)
	seedMarket(t, router)

	ev := openStandard(t, router)
	if ev.Kind != model.EventOpen {
		t.Errorf("kind = %s", ev.Kind)
	}
	if !ev.Fees.Equal(d("2.7")) {
		t.Errorf("fees = %s, want 2.7", ev.Fees)
	}
	if !ev.Held.Equal(d("872.129737581559270371")) {
		t.Errorf("held = %s", ev.Held)
	}
	if ev.ID == "" {
		t.Error("event id missing")
	}

	// The position is visible through the API.
	w := doJSON(t, router, "GET", "/api/v1/positions/alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("positions: %d", w.Code)
	}
	var positions []model.Position
	if err := json.Unmarshal(w.Body.Bytes(), &positions); err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if !positions[0].Deposited.Equal(d("397.3")) {
		t.Errorf("deposited = %s, want 397.3", positions[0].Deposited)
	}
}

func TestOpenTrade_ErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	seedMarket(t, router)

	cases := []struct {
		name string
		req  api.OpenRequest
		want int
	}{
		{
			"missing trader",
			api.OpenRequest{PairID: 0, Deposit: d("400"), Borrow: d("500")},
			http.StatusBadRequest,
		},
		{
			"zero deposit",
			api.OpenRequest{Trader: "alice", PairID: 0, Deposit: d("0"), Borrow: d("500")},
			http.StatusBadRequest,
		},
		{
			"unknown pair",
			api.OpenRequest{Trader: "alice", PairID: 42, Deposit: d("400"), Borrow: d("500")},
			http.StatusNotFound,
		},
		{
			"insufficient liquidity",
			api.OpenRequest{Trader: "alice", PairID: 0, Deposit: d("400"), Borrow: d("5000")},
			http.StatusConflict,
		},
		{
			"slippage",
			api.OpenRequest{Trader: "alice", PairID: 0, Deposit: d("400"), Borrow: d("500"), MinHeld: d("900")},
			http.StatusConflict,
		},
	}
	for _, tc := range cases {
		w := doJSON(t, router, "POST", "/api/v1/trade/open", tc.req)
		if w.Code != tc.want {
			t.Errorf("%s: %d, want %d (%s)", tc.name, w.Code, tc.want, w.Body.String())
		}
	}
}

func TestCloseTrade(t *testing.T) {
	router := newTestRouter(t)
	seedMarket(t, router)
	openStandard(t, router)

	w := doJSON(t, router, "POST", "/api/v1/trade/close", api.CloseRequest{
		Trader:      "alice",
		PairID:      0,
		LongToken:   false,
		CloseAmount: d("400"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}
	var ev model.TradeEvent
	if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != model.EventClose {
		t.Errorf("kind = %s", ev.Kind)
	}
	if !ev.Fees.Equal(d("1.2")) {
		t.Errorf("fees = %s, want 1.2", ev.Fees)
	}
	if !ev.Proceeds.IsPositive() {
		t.Errorf("proceeds = %s, want > 0", ev.Proceeds)
	}

	// Both trades appear in the pair's event ledger.
	w = doJSON(t, router, "GET", "/api/v1/pairs/0/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events: %d", w.Code)
	}
	var events []model.TradeEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestCloseTrade_NoPosition(t *testing.T) {
	router := newTestRouter(t)
	seedMarket(t, router)

	w := doJSON(t, router, "POST", "/api/v1/trade/close", api.CloseRequest{
		Trader: "alice", PairID: 0, CloseAmount: d("100"),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("close without position: %d, want 404", w.Code)
	}
}

func TestGetMarginRatio(t *testing.T) {
	router := newTestRouter(t)
	seedMarket(t, router)
	openStandard(t, router)

	w := doJSON(t, router, "GET", "/api/v1/trade/ratio?trader=alice&pair_id=0&long_token=false", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ratio: %d %s", w.Code, w.Body.String())
	}
	var ratio model.Ratio
	if err := json.Unmarshal(w.Body.Bytes(), &ratio); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ratio.Current != 7442 {
		t.Errorf("current = %d, want 7442", ratio.Current)
	}
	if ratio.Eligible {
		t.Error("healthy position flagged eligible")
	}

	if w := doJSON(t, router, "GET", "/api/v1/trade/ratio?pair_id=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing trader: %d, want 400", w.Code)
	}
	if w := doJSON(t, router, "GET", "/api/v1/trade/ratio?trader=bob&pair_id=0", nil); w.Code != http.StatusNotFound {
		t.Errorf("no position: %d, want 404", w.Code)
	}
}

func TestPoolSupplyRedeem(t *testing.T) {
	router := newTestRouter(t)
	seedMarket(t, router)

	w := doJSON(t, router, "POST", "/api/v1/pairs/0/redeem", api.PoolRequest{
		Account: "saver", Side: true, Amount: d("400"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("redeem: %d %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["cash"] != "600" {
		t.Errorf("cash = %s, want 600", resp["cash"])
	}

	// Over-redeeming is a conflict.
	w = doJSON(t, router, "POST", "/api/v1/pairs/0/redeem", api.PoolRequest{
		Account: "saver", Side: true, Amount: d("10000"),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("over-redeem: %d, want 409", w.Code)
	}
}
