// Package engine implements the position lifecycle and margin-accounting
// core: opening leveraged positions, fee and insurance splits, margin-ratio
// reads, and closing/unwinding with settlement across trader, lending pools,
// and treasury.
//
// Every public operation executes under one engine-wide mutex as a single
// logical transaction: all balance checks are re-validated inside the
// operation that consumes them, external legs (swap, borrow, repay) are
// sequenced so the last fallible step runs before any position or insurance
// mutation, and earlier fund movements are journaled for rollback. A failed
// operation leaves custody balances, the pool borrow ledger, insurance
// reserves, and position records exactly as they were.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/amm"
	"github.com/levx/margin-engine/internal/lpool"
	"github.com/levx/margin-engine/internal/model"
	"github.com/levx/margin-engine/internal/oracle"
	"github.com/levx/margin-engine/internal/risk"
	"github.com/levx/margin-engine/internal/store"
	"github.com/levx/margin-engine/internal/treasury"
	"github.com/levx/margin-engine/internal/vault"
)

// scale is the fixed-point precision for position arithmetic.
const scale = 18

// RatioUnleveraged is the margin ratio reported for a position with no
// outstanding borrow, where the true ratio is unbounded.
const RatioUnleveraged = int64(math.MaxInt64)

// Deps are the engine's collaborators. The engine only calls their public
// operations; it never reaches into their state.
type Deps struct {
	Vault    *vault.Vault
	Oracle   oracle.Oracle
	Exchange amm.Exchange
	Treasury *treasury.Treasury
	Store    store.Store

	// Limiter is optional; nil disables exposure limits.
	Limiter *risk.Limiter

	// Account is the engine's custody account in the vault.
	// Defaults to "margin-engine".
	Account string
}

type positionKey struct {
	trader    string
	pairID    int
	longToken bool
}

// pairState couples a pair's market record with its two lending pools.
type pairState struct {
	pair  model.Pair
	pool0 *lpool.Pool
	pool1 *lpool.Pool
}

func (ps *pairState) poolFor(asset string) *lpool.Pool {
	if asset == ps.pair.Asset0 {
		return ps.pool0
	}
	return ps.pool1
}

func (ps *pairState) insuranceOf(asset string) decimal.Decimal {
	if asset == ps.pair.Asset0 {
		return ps.pair.Pool0Insurance
	}
	return ps.pair.Pool1Insurance
}

func (ps *pairState) addInsurance(asset string, amount decimal.Decimal) {
	if asset == ps.pair.Asset0 {
		ps.pair.Pool0Insurance = ps.pair.Pool0Insurance.Add(amount)
		return
	}
	ps.pair.Pool1Insurance = ps.pair.Pool1Insurance.Add(amount)
}

// Engine owns the global pair table and the per-(trader,pair,slot) position
// table. No other component writes them.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	vault    *vault.Vault
	oracle   oracle.Oracle
	exchange amm.Exchange
	treasury *treasury.Treasury
	store    store.Store
	limiter  *risk.Limiter
	account  string

	pairs      map[int]*pairState
	positions  map[positionKey]*model.Position
	nextPairID int

	now func() time.Time
}

// New creates an engine with the given configuration and collaborators.
func New(cfg Config, d Deps) *Engine {
	account := d.Account
	if account == "" {
		account = "margin-engine"
	}
	return &Engine{
		cfg:       cfg,
		vault:     d.Vault,
		oracle:    d.Oracle,
		exchange:  d.Exchange,
		treasury:  d.Treasury,
		store:     d.Store,
		limiter:   d.Limiter,
		account:   account,
		pairs:     make(map[int]*pairState),
		positions: make(map[positionKey]*model.Position),
		now:       time.Now,
	}
}

// Account returns the engine's custody account name.
func (e *Engine) Account() string {
	return e.account
}

// ListPair lists a new trading pair and creates its two lending pools.
// marginLimit ≤ 0 selects the configured default.
func (e *Engine) ListPair(ctx context.Context, asset0, asset1 string, marginLimit int64) (model.Pair, error) {
	if asset0 == "" || asset1 == "" || asset0 == asset1 {
		return model.Pair{}, fmt.Errorf("%w: assets %q/%q", ErrInvalidAmount, asset0, asset1)
	}
	if marginLimit <= 0 {
		marginLimit = e.cfg.DefaultMarginLimit
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextPairID
	poolCfg := lpool.Config{BorrowCap: e.cfg.PoolBorrowCap, RatePerSecond: e.cfg.PoolRatePerSecond}
	ps := &pairState{
		pair: model.Pair{
			ID:          id,
			Asset0:      asset0,
			Asset1:      asset1,
			MarginLimit: marginLimit,
			CreatedAt:   e.now().UTC(),
		},
		pool0: lpool.New(e.vault, fmt.Sprintf("lpool:%d:%s", id, asset0), asset0, poolCfg),
		pool1: lpool.New(e.vault, fmt.Sprintf("lpool:%d:%s", id, asset1), asset1, poolCfg),
	}
	e.pairs[id] = ps
	e.nextPairID++

	if err := e.store.CreatePair(ctx, &ps.pair); err != nil {
		delete(e.pairs, id)
		e.nextPairID--
		return model.Pair{}, fmt.Errorf("persist pair: %w", err)
	}

	slog.Info("pair listed", "pair", id, "asset0", asset0, "asset1", asset1, "margin_limit", marginLimit)
	return ps.pair, nil
}

// Pair returns a snapshot of one listed pair.
func (e *Engine) Pair(id int) (model.Pair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, ok := e.pairs[id]
	if !ok {
		return model.Pair{}, fmt.Errorf("%w: %d", ErrUnknownPair, id)
	}
	return ps.pair, nil
}

// Pairs returns snapshots of all listed pairs, ordered by id.
func (e *Engine) Pairs() []model.Pair {
	e.mu.Lock()
	defer e.mu.Unlock()

	pairs := make([]model.Pair, 0, len(e.pairs))
	for id := 0; id < e.nextPairID; id++ {
		if ps, ok := e.pairs[id]; ok {
			pairs = append(pairs, ps.pair)
		}
	}
	return pairs
}

// Pool returns one side's lending pool: side false = asset0, true = asset1.
// Savers supply and redeem against it directly.
func (e *Engine) Pool(pairID int, side bool) (*lpool.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, ok := e.pairs[pairID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPair, pairID)
	}
	if side {
		return ps.pool1, nil
	}
	return ps.pool0, nil
}

// Position returns a snapshot of one position slot.
func (e *Engine) Position(trader string, pairID int, longToken bool) (model.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[positionKey{trader, pairID, longToken}]
	if !ok || pos.Closed() {
		return model.Position{}, fmt.Errorf("%w: %s pair %d", ErrNoActivePosition, trader, pairID)
	}
	return *pos, nil
}

// Positions returns snapshots of all of a trader's open positions.
func (e *Engine) Positions(trader string) []model.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result []model.Position
	for key, pos := range e.positions {
		if key.trader == trader && !pos.Closed() {
			result = append(result, *pos)
		}
	}
	return result
}

// OpenParams are the inputs to Open.
type OpenParams struct {
	Trader    string
	PairID    int
	LongToken bool // false = long asset0, true = long asset1

	// DepositToken selects the collateral asset side.
	DepositToken bool

	Deposit decimal.Decimal // collateral, deposit-asset units, > 0
	Borrow  decimal.Decimal // drawn from the counter-side pool, ≥ 0
	MinHeld decimal.Decimal // slippage guard on held-asset received

	// Referrer is passed through opaquely for affiliate accounting.
	Referrer string
}

// Open opens or adds to a leveraged position: pulls the deposit, draws the
// borrow, captures the fee split, swaps the funding into the held asset
// under the caller's guard, and blends the position record.
func (e *Engine) Open(ctx context.Context, p OpenParams) (*model.TradeEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !p.Deposit.IsPositive() || p.Borrow.IsNegative() {
		return nil, fmt.Errorf("%w: deposit=%s borrow=%s", ErrInvalidAmount, p.Deposit, p.Borrow)
	}
	ps, ok := e.pairs[p.PairID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPair, p.PairID)
	}
	pair := &ps.pair

	heldAsset := sideAsset(pair, p.LongToken)
	borrowAsset := sideAsset(pair, !p.LongToken)
	depositAsset := sideAsset(pair, p.DepositToken)

	key := positionKey{p.Trader, p.PairID, p.LongToken}
	pos := e.positions[key]
	if pos != nil && !pos.Closed() && pos.DepositToken != p.DepositToken {
		return nil, fmt.Errorf("%w: slot holds %s deposits", ErrDirectionMismatch, pos.DepositAsset(pair))
	}

	borrowPool := ps.poolFor(borrowAsset)
	if p.Borrow.IsPositive() && p.Borrow.GreaterThan(borrowPool.Available()) {
		return nil, fmt.Errorf("%w: borrow %s, available %s", ErrInsufficientLiquidity, p.Borrow, borrowPool.Available())
	}

	borrowValue, err := e.convert(p.Borrow, borrowAsset, depositAsset)
	if err != nil {
		return nil, err
	}
	notional := p.Deposit.Add(borrowValue)
	fee := notional.Mul(e.cfg.FeeRate).Truncate(scale)
	insuranceFee := fee.Mul(e.cfg.InsuranceRate).Truncate(scale)
	treasuryFee := fee.Sub(insuranceFee)

	if fee.GreaterThanOrEqual(p.Deposit) {
		return nil, fmt.Errorf("%w: fee %s consumes deposit %s", ErrInvalidAmount, fee, p.Deposit)
	}
	depositIsHeld := depositAsset == heldAsset
	netDeposit := p.Deposit.Sub(fee)

	if e.limiter != nil {
		pairNotional := decimal.Zero
		if pos != nil {
			pairNotional = pos.MarketValueOpen
		}
		totalNotional := decimal.Zero
		for k, other := range e.positions {
			if k.trader == p.Trader {
				totalNotional = totalNotional.Add(other.MarketValueOpen)
			}
		}
		if err := e.limiter.CheckLimit(pairNotional, totalNotional, notional.Sub(fee)); err != nil {
			return nil, err
		}
	}

	// Plan the swap leg against fresh quotes so the guard is enforced
	// before any funds move.
	var swapQuote decimal.Decimal
	swapInput := decimal.Zero
	heldGained := netDeposit
	if depositIsHeld {
		if p.Borrow.IsPositive() {
			swapInput = p.Borrow
			swapQuote, err = e.exchange.Quote(borrowAsset, heldAsset, swapInput)
			if err != nil {
				return nil, err
			}
			heldGained = netDeposit.Add(swapQuote)
		}
	} else {
		swapInput = p.Deposit.Add(p.Borrow).Sub(fee)
		swapQuote, err = e.exchange.Quote(depositAsset, heldAsset, swapInput)
		if err != nil {
			return nil, err
		}
		heldGained = swapQuote
	}
	if heldGained.LessThan(p.MinHeld) {
		return nil, fmt.Errorf("%w: held %s below guard %s", ErrSlippageExceeded, heldGained, p.MinHeld)
	}

	// Commit. Fund movements before the swap are journaled; the swap is the
	// last fallible step, everything after is in-memory bookkeeping.
	j := &journal{}
	committed := false
	defer func() {
		if !committed {
			j.rollback()
		}
	}()

	if err := e.vault.Transfer(p.Trader, e.account, depositAsset, p.Deposit); err != nil {
		return nil, err
	}
	j.add(func() error { return e.vault.Transfer(e.account, p.Trader, depositAsset, p.Deposit) })

	ref := borrowRef(p.Trader, p.PairID, p.LongToken)
	if p.Borrow.IsPositive() {
		if err := e.borrow(borrowPool, ref, p.Borrow); err != nil {
			return nil, err
		}
		j.add(func() error { return borrowPool.Repay(e.account, ref, p.Borrow) })
	}

	if err := e.treasury.ReceiveFee(e.account, depositAsset, treasuryFee); err != nil {
		return nil, err
	}
	j.add(func() error { return e.treasury.Refund(e.account, depositAsset, treasuryFee) })

	if swapInput.IsPositive() {
		swapInAsset := depositAsset
		if depositIsHeld {
			swapInAsset = borrowAsset
		}
		out, err := e.exchange.Swap(e.account, swapInAsset, heldAsset, swapInput, swapQuote)
		if err != nil {
			return nil, wrapSwapErr(err)
		}
		if depositIsHeld {
			heldGained = netDeposit.Add(out)
		} else {
			heldGained = out
		}
	}

	ps.addInsurance(depositAsset, insuranceFee)

	if pos == nil {
		pos = &model.Position{
			Trader:       p.Trader,
			PairID:       p.PairID,
			LongToken:    p.LongToken,
			DepositToken: p.DepositToken,
		}
		e.positions[key] = pos
	}
	pos.DepositToken = p.DepositToken
	pos.Deposited = pos.Deposited.Add(netDeposit)
	pos.DepositFixedValue = pos.DepositFixedValue.Add(netDeposit)
	pos.Held = pos.Held.Add(heldGained)
	pos.MarketValueOpen = pos.MarketValueOpen.Add(notional.Sub(fee))
	pos.UpdatedAt = e.now().UTC()
	committed = true

	ev := &model.TradeEvent{
		ID:        uuid.New().String(),
		Kind:      model.EventOpen,
		Trader:    p.Trader,
		PairID:    p.PairID,
		LongToken: p.LongToken,
		Deposited: p.Deposit,
		Borrowed:  p.Borrow,
		Held:      heldGained,
		Fees:      fee,
		Timestamp: pos.UpdatedAt,
	}
	e.persist(ctx, ps, pos, ev)

	slog.Info("position opened",
		"trader", p.Trader,
		"pair", p.PairID,
		"long_token", p.LongToken,
		"deposited", p.Deposit.String(),
		"borrowed", p.Borrow.String(),
		"held", heldGained.String(),
		"fees", fee.String(),
		"referrer", p.Referrer,
	)
	return ev, nil
}

// CloseParams are the inputs to Close.
type CloseParams struct {
	Trader    string
	PairID    int
	LongToken bool

	CloseAmount decimal.Decimal // held-asset units, 0 < amount ≤ held
	MinOut      decimal.Decimal // slippage guard on the trader payout
}

// Close unwinds part or all of a position: captures the close-side fee,
// converts enough of the unwound amount to repay the proportional borrow
// (drawing on the insurance reserve if proceeds fall short), pays the
// trader the remainder, and scales the position record down.
func (e *Engine) Close(ctx context.Context, p CloseParams) (*model.TradeEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, ok := e.pairs[p.PairID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPair, p.PairID)
	}
	pair := &ps.pair

	key := positionKey{p.Trader, p.PairID, p.LongToken}
	pos := e.positions[key]
	if pos == nil || pos.Closed() {
		return nil, fmt.Errorf("%w: %s pair %d", ErrNoActivePosition, p.Trader, p.PairID)
	}
	if !p.CloseAmount.IsPositive() || p.CloseAmount.GreaterThan(pos.Held) {
		return nil, fmt.Errorf("%w: close %s of held %s", ErrInvalidAmount, p.CloseAmount, pos.Held)
	}

	heldAsset := pos.HeldAsset(pair)
	borrowAsset := pos.BorrowAsset(pair)
	depositAsset := pos.DepositAsset(pair)
	depositIsHeld := depositAsset == heldAsset

	full := p.CloseAmount.Equal(pos.Held)
	ratio := p.CloseAmount.DivRound(pos.Held, scale+10)

	fee := p.CloseAmount.Mul(e.cfg.FeeRate).Truncate(scale)
	insuranceFee := fee.Mul(e.cfg.InsuranceRate).Truncate(scale)
	treasuryFee := fee.Sub(insuranceFee)
	remaining := p.CloseAmount.Sub(fee)

	ref := borrowRef(p.Trader, p.PairID, p.LongToken)
	borrowPool := ps.poolFor(borrowAsset)
	owed := borrowPool.Owed(ref)
	repay := owed
	if !full {
		repay = owed.Mul(ratio).Truncate(scale)
	}

	// Plan the unwind against fresh quotes: how much of the remaining held
	// amount the repay leg consumes, whether insurance must cover a
	// shortfall, and what the trader receives.
	plan, err := e.planClose(ps, heldAsset, borrowAsset, depositAsset, depositIsHeld, remaining, repay)
	if err != nil {
		return nil, err
	}
	if plan.payout.LessThan(p.MinOut) {
		return nil, fmt.Errorf("%w: payout %s below guard %s", ErrSlippageExceeded, plan.payout, p.MinOut)
	}

	j := &journal{}
	committed := false
	defer func() {
		if !committed {
			j.rollback()
		}
	}()

	if err := e.treasury.ReceiveFee(e.account, heldAsset, treasuryFee); err != nil {
		return nil, err
	}
	j.add(func() error { return e.treasury.Refund(e.account, heldAsset, treasuryFee) })

	payout := plan.payout
	shortfall := plan.shortfall
	switch {
	case plan.swapExactOut:
		spent, err := e.exchange.SwapForExact(e.account, heldAsset, borrowAsset, repay, remaining)
		if err != nil {
			return nil, wrapSwapErr(err)
		}
		payout = remaining.Sub(spent)
	case plan.swapInput.IsPositive():
		out, err := e.exchange.Swap(e.account, heldAsset, plan.swapOutAsset, plan.swapInput, plan.swapQuote)
		if err != nil {
			return nil, wrapSwapErr(err)
		}
		if shortfall.IsPositive() {
			shortfall = repay.Sub(out)
			if shortfall.IsNegative() {
				payout = out.Sub(repay)
				shortfall = decimal.Zero
			}
		} else if !depositIsHeld {
			payout = out.Sub(repay)
		}
	}
	if payout.LessThan(p.MinOut) {
		return nil, fmt.Errorf("%w: payout %s below guard %s", ErrSlippageExceeded, payout, p.MinOut)
	}

	if repay.IsPositive() {
		if err := borrowPool.Repay(e.account, ref, repay); err != nil {
			slog.Error("close repay failed after swap", "err", err, "trader", p.Trader, "pair", p.PairID)
			return nil, err
		}
	}
	if shortfall.IsPositive() {
		ps.addInsurance(borrowAsset, shortfall.Neg())
	}
	if payout.IsPositive() {
		payoutAsset := depositAsset
		if err := e.vault.Transfer(e.account, p.Trader, payoutAsset, payout); err != nil {
			slog.Error("close payout failed after repay", "err", err, "trader", p.Trader, "pair", p.PairID)
			return nil, err
		}
	}

	ps.addInsurance(heldAsset, insuranceFee)

	if full {
		pos.Deposited = decimal.Zero
		pos.DepositFixedValue = decimal.Zero
		pos.Held = decimal.Zero
		pos.MarketValueOpen = decimal.Zero
	} else {
		pos.Held = pos.Held.Sub(p.CloseAmount)
		pos.Deposited = scaleDown(pos.Deposited, ratio)
		pos.DepositFixedValue = scaleDown(pos.DepositFixedValue, ratio)
		pos.MarketValueOpen = scaleDown(pos.MarketValueOpen, ratio)
	}
	pos.UpdatedAt = e.now().UTC()
	committed = true

	ev := &model.TradeEvent{
		ID:          uuid.New().String(),
		Kind:        model.EventClose,
		Trader:      p.Trader,
		PairID:      p.PairID,
		LongToken:   p.LongToken,
		Fees:        fee,
		CloseAmount: p.CloseAmount,
		Proceeds:    payout,
		Timestamp:   pos.UpdatedAt,
	}
	e.persist(ctx, ps, pos, ev)

	slog.Info("position closed",
		"trader", p.Trader,
		"pair", p.PairID,
		"long_token", p.LongToken,
		"close_amount", p.CloseAmount.String(),
		"proceeds", payout.String(),
		"fees", fee.String(),
		"full", full,
	)
	return ev, nil
}

// closePlan is the precomputed unwind: swap shape, insurance draw, payout.
type closePlan struct {
	swapExactOut bool
	swapInput    decimal.Decimal
	swapOutAsset string
	swapQuote    decimal.Decimal
	shortfall    decimal.Decimal
	payout       decimal.Decimal
}

func (e *Engine) planClose(ps *pairState, heldAsset, borrowAsset, depositAsset string, depositIsHeld bool, remaining, repay decimal.Decimal) (closePlan, error) {
	var plan closePlan

	if depositIsHeld {
		// Payout stays in the held (= deposit) asset; only the repay leg
		// converts to the borrow asset.
		if repay.IsZero() {
			plan.payout = remaining
			return plan, nil
		}
		needIn, err := e.exchange.QuoteForExact(heldAsset, borrowAsset, repay)
		if err == nil && needIn.LessThanOrEqual(remaining) {
			plan.swapExactOut = true
			plan.payout = remaining.Sub(needIn)
			return plan, nil
		}
		// Selling the whole remainder cannot cover the repay: shortfall
		// comes out of the borrow-side insurance reserve.
		proceeds, err := e.exchange.Quote(heldAsset, borrowAsset, remaining)
		if err != nil {
			return plan, err
		}
		plan.swapInput = remaining
		plan.swapOutAsset = borrowAsset
		plan.swapQuote = proceeds
		plan.shortfall = repay.Sub(proceeds)
		if ps.insuranceOf(borrowAsset).LessThan(plan.shortfall) {
			return plan, fmt.Errorf("%w: shortfall %s, insurance %s",
				ErrInsolventClose, plan.shortfall, ps.insuranceOf(borrowAsset))
		}
		plan.payout = decimal.Zero
		return plan, nil
	}

	// Deposit side is the borrow side: unwind everything into it.
	proceeds, err := e.exchange.Quote(heldAsset, depositAsset, remaining)
	if err != nil {
		return plan, err
	}
	plan.swapInput = remaining
	plan.swapOutAsset = depositAsset
	plan.swapQuote = proceeds
	if proceeds.GreaterThanOrEqual(repay) {
		plan.payout = proceeds.Sub(repay)
		return plan, nil
	}
	plan.shortfall = repay.Sub(proceeds)
	if ps.insuranceOf(borrowAsset).LessThan(plan.shortfall) {
		return plan, fmt.Errorf("%w: shortfall %s, insurance %s",
			ErrInsolventClose, plan.shortfall, ps.insuranceOf(borrowAsset))
	}
	plan.payout = decimal.Zero
	return plan, nil
}

// MarginRatio computes a position's current margin ratio in basis points
// against the pair's limit. Read-only; callable by any party.
func (e *Engine) MarginRatio(trader string, pairID int, longToken bool) (model.Ratio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, ok := e.pairs[pairID]
	if !ok {
		return model.Ratio{}, fmt.Errorf("%w: %d", ErrUnknownPair, pairID)
	}
	pair := &ps.pair

	pos := e.positions[positionKey{trader, pairID, longToken}]
	if pos == nil || pos.Closed() {
		return model.Ratio{}, fmt.Errorf("%w: %s pair %d", ErrNoActivePosition, trader, pairID)
	}

	heldAsset := pos.HeldAsset(pair)
	borrowAsset := pos.BorrowAsset(pair)
	depositAsset := pos.DepositAsset(pair)

	owed := ps.poolFor(borrowAsset).Owed(borrowRef(trader, pairID, longToken))
	borrowValue, err := e.convert(owed, borrowAsset, depositAsset)
	if err != nil {
		return model.Ratio{}, err
	}
	if borrowValue.IsZero() {
		return model.Ratio{Current: RatioUnleveraged, Limit: pair.MarginLimit}, nil
	}

	heldValue, err := e.convert(pos.Held, heldAsset, depositAsset)
	if err != nil {
		return model.Ratio{}, err
	}

	q := heldValue.Sub(borrowValue).
		DivRound(borrowValue, scale).
		Mul(decimal.NewFromInt(10000)).
		Truncate(0)
	current := RatioUnleveraged
	if q.LessThan(decimal.NewFromInt(math.MaxInt64)) {
		current = q.IntPart()
	}
	return model.Ratio{
		Current:  current,
		Limit:    pair.MarginLimit,
		Eligible: current < pair.MarginLimit,
	}, nil
}

// Owed returns the outstanding borrow (principal + accrued interest) backing
// one position slot.
func (e *Engine) Owed(trader string, pairID int, longToken bool) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, ok := e.pairs[pairID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrUnknownPair, pairID)
	}
	borrowAsset := sideAsset(&ps.pair, !longToken)
	return ps.poolFor(borrowAsset).Owed(borrowRef(trader, pairID, longToken)), nil
}

// --- internals ---

func sideAsset(pair *model.Pair, side bool) string {
	if side {
		return pair.Asset1
	}
	return pair.Asset0
}

func borrowRef(trader string, pairID int, longToken bool) string {
	return fmt.Sprintf("%s|%d|%t", trader, pairID, longToken)
}

// convert values amount of the from asset in to-asset units at the fresh
// oracle price.
func (e *Engine) convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if amount.IsZero() || from == to {
		return amount, nil
	}
	price, err := e.oracle.Price(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(price).Truncate(scale), nil
}

func (e *Engine) borrow(pool *lpool.Pool, ref string, amount decimal.Decimal) error {
	if err := pool.Borrow(e.account, ref, amount); err != nil {
		if errors.Is(err, lpool.ErrInsufficientLiquidity) {
			return fmt.Errorf("%w: %v", ErrInsufficientLiquidity, err)
		}
		return err
	}
	return nil
}

// persist mirrors the post-commit state to the store. The in-memory tables
// are authoritative; a mirror failure is logged, not surfaced, so a trade
// that already settled cannot be reported as failed.
func (e *Engine) persist(ctx context.Context, ps *pairState, pos *model.Position, ev *model.TradeEvent) {
	if err := e.store.UpsertPosition(ctx, pos); err != nil {
		slog.Warn("store position mirror failed", "err", err, "trader", pos.Trader, "pair", pos.PairID)
	}
	if err := e.store.UpdatePairInsurance(ctx, ps.pair.ID, ps.pair.Pool0Insurance, ps.pair.Pool1Insurance); err != nil {
		slog.Warn("store insurance mirror failed", "err", err, "pair", ps.pair.ID)
	}
	if err := e.store.InsertTradeEvent(ctx, ev); err != nil {
		slog.Warn("store event mirror failed", "err", err, "event", ev.ID)
	}
}

func scaleDown(v, ratio decimal.Decimal) decimal.Decimal {
	return v.Sub(v.Mul(ratio).Truncate(scale))
}

func wrapSwapErr(err error) error {
	if errors.Is(err, amm.ErrMinAmountOut) || errors.Is(err, amm.ErrMaxAmountIn) {
		return fmt.Errorf("%w: %v", ErrSlippageExceeded, err)
	}
	return err
}

// journal collects undo steps for fund movements applied before the last
// fallible step of an operation.
type journal struct {
	undos []func() error
}

func (j *journal) add(undo func() error) {
	j.undos = append(j.undos, undo)
}

func (j *journal) rollback() {
	for i := len(j.undos) - 1; i >= 0; i-- {
		if err := j.undos[i](); err != nil {
			slog.Error("rollback step failed", "err", err)
		}
	}
}
