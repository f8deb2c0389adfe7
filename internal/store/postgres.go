package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the durable backend.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL for the store's tables. Applied by deployment tooling,
// kept here so the column set stays next to the queries that use it.
const Schema = `
CREATE TABLE IF NOT EXISTS pairs (
    id              INTEGER PRIMARY KEY,
    asset0          TEXT NOT NULL,
    asset1          TEXT NOT NULL,
    margin_limit    BIGINT NOT NULL,
    pool0_insurance NUMERIC NOT NULL DEFAULT 0,
    pool1_insurance NUMERIC NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    trader              TEXT NOT NULL,
    pair_id             INTEGER NOT NULL REFERENCES pairs(id),
    long_token          BOOLEAN NOT NULL,
    deposit_token       BOOLEAN NOT NULL,
    deposited           NUMERIC NOT NULL,
    deposit_fixed_value NUMERIC NOT NULL,
    held                NUMERIC NOT NULL,
    market_value_open   NUMERIC NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (trader, pair_id, long_token)
);

CREATE TABLE IF NOT EXISTS trade_events (
    id           TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    trader       TEXT NOT NULL,
    pair_id      INTEGER NOT NULL,
    long_token   BOOLEAN NOT NULL,
    deposited    NUMERIC NOT NULL,
    borrowed     NUMERIC NOT NULL,
    held         NUMERIC NOT NULL,
    fees         NUMERIC NOT NULL,
    close_amount NUMERIC NOT NULL,
    proceeds     NUMERIC NOT NULL,
    timestamp    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trade_events_pair_idx ON trade_events (pair_id, timestamp);
CREATE INDEX IF NOT EXISTS trade_events_trader_idx ON trade_events (trader, timestamp);
`

func (s *PostgresStore) CreatePair(ctx context.Context, p *model.Pair) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pairs (id, asset0, asset1, margin_limit, pool0_insurance, pool1_insurance, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
		p.ID, p.Asset0, p.Asset1, p.MarginLimit,
		p.Pool0Insurance.String(), p.Pool1Insurance.String(), p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPair(ctx context.Context, id int) (*model.Pair, error) {
	var p model.Pair
	var ins0, ins1 string

	err := s.pool.QueryRow(ctx,
		`SELECT id, asset0, asset1, margin_limit,
		        pool0_insurance::TEXT, pool1_insurance::TEXT, created_at
		 FROM pairs WHERE id = $1`, id).
		Scan(&p.ID, &p.Asset0, &p.Asset1, &p.MarginLimit, &ins0, &ins1, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: pair %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pair %d: %w", id, err)
	}

	p.Pool0Insurance, _ = decimal.NewFromString(ins0)
	p.Pool1Insurance, _ = decimal.NewFromString(ins1)
	return &p, nil
}

func (s *PostgresStore) ListPairs(ctx context.Context) ([]model.Pair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset0, asset1, margin_limit,
		        pool0_insurance::TEXT, pool1_insurance::TEXT, created_at
		 FROM pairs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []model.Pair
	for rows.Next() {
		var p model.Pair
		var ins0, ins1 string
		if err := rows.Scan(&p.ID, &p.Asset0, &p.Asset1, &p.MarginLimit, &ins0, &ins1, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Pool0Insurance, _ = decimal.NewFromString(ins0)
		p.Pool1Insurance, _ = decimal.NewFromString(ins1)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (s *PostgresStore) UpdatePairInsurance(ctx context.Context, id int, ins0, ins1 decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pairs SET pool0_insurance = $2::NUMERIC, pool1_insurance = $3::NUMERIC WHERE id = $1`,
		id, ins0.String(), ins1.String())
	if err != nil {
		return fmt.Errorf("update pair %d insurance: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pair %d", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (trader, pair_id, long_token, deposit_token,
		                        deposited, deposit_fixed_value, held, market_value_open, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
		 ON CONFLICT (trader, pair_id, long_token) DO UPDATE SET
		     deposit_token = EXCLUDED.deposit_token,
		     deposited = EXCLUDED.deposited,
		     deposit_fixed_value = EXCLUDED.deposit_fixed_value,
		     held = EXCLUDED.held,
		     market_value_open = EXCLUDED.market_value_open,
		     updated_at = EXCLUDED.updated_at`,
		pos.Trader, pos.PairID, pos.LongToken, pos.DepositToken,
		pos.Deposited.String(), pos.DepositFixedValue.String(),
		pos.Held.String(), pos.MarketValueOpen.String(), pos.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, trader string, pairID int, longToken bool) (*model.Position, error) {
	var pos model.Position
	var dep, dfv, held, mvo string

	err := s.pool.QueryRow(ctx,
		`SELECT trader, pair_id, long_token, deposit_token,
		        deposited::TEXT, deposit_fixed_value::TEXT, held::TEXT, market_value_open::TEXT,
		        updated_at
		 FROM positions WHERE trader = $1 AND pair_id = $2 AND long_token = $3`,
		trader, pairID, longToken).
		Scan(&pos.Trader, &pos.PairID, &pos.LongToken, &pos.DepositToken,
			&dep, &dfv, &held, &mvo, &pos.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s/%d", ErrNotFound, trader, pairID)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%d: %w", trader, pairID, err)
	}

	pos.Deposited, _ = decimal.NewFromString(dep)
	pos.DepositFixedValue, _ = decimal.NewFromString(dfv)
	pos.Held, _ = decimal.NewFromString(held)
	pos.MarketValueOpen, _ = decimal.NewFromString(mvo)
	return &pos, nil
}

func (s *PostgresStore) ListPositionsByTrader(ctx context.Context, trader string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT trader, pair_id, long_token, deposit_token,
		        deposited::TEXT, deposit_fixed_value::TEXT, held::TEXT, market_value_open::TEXT,
		        updated_at
		 FROM positions WHERE trader = $1 ORDER BY pair_id, long_token`, trader)
	if err != nil {
		return nil, fmt.Errorf("list positions for %s: %w", trader, err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var pos model.Position
		var dep, dfv, held, mvo string
		if err := rows.Scan(&pos.Trader, &pos.PairID, &pos.LongToken, &pos.DepositToken,
			&dep, &dfv, &held, &mvo, &pos.UpdatedAt); err != nil {
			return nil, err
		}
		pos.Deposited, _ = decimal.NewFromString(dep)
		pos.DepositFixedValue, _ = decimal.NewFromString(dfv)
		pos.Held, _ = decimal.NewFromString(held)
		pos.MarketValueOpen, _ = decimal.NewFromString(mvo)
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertTradeEvent(ctx context.Context, ev *model.TradeEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_events (id, kind, trader, pair_id, long_token,
		                           deposited, borrowed, held, fees, close_amount, proceeds, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12)`,
		ev.ID, ev.Kind, ev.Trader, ev.PairID, ev.LongToken,
		ev.Deposited.String(), ev.Borrowed.String(), ev.Held.String(),
		ev.Fees.String(), ev.CloseAmount.String(), ev.Proceeds.String(), ev.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListTradeEventsByPair(ctx context.Context, pairID int) ([]model.TradeEvent, error) {
	return s.listEvents(ctx,
		`SELECT id, kind, trader, pair_id, long_token,
		        deposited::TEXT, borrowed::TEXT, held::TEXT, fees::TEXT,
		        close_amount::TEXT, proceeds::TEXT, timestamp
		 FROM trade_events WHERE pair_id = $1 ORDER BY timestamp`, pairID)
}

func (s *PostgresStore) ListTradeEventsByTrader(ctx context.Context, trader string) ([]model.TradeEvent, error) {
	return s.listEvents(ctx,
		`SELECT id, kind, trader, pair_id, long_token,
		        deposited::TEXT, borrowed::TEXT, held::TEXT, fees::TEXT,
		        close_amount::TEXT, proceeds::TEXT, timestamp
		 FROM trade_events WHERE trader = $1 ORDER BY timestamp`, trader)
}

func (s *PostgresStore) listEvents(ctx context.Context, query string, arg any) ([]model.TradeEvent, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list trade events: %w", err)
	}
	defer rows.Close()

	var events []model.TradeEvent
	for rows.Next() {
		var ev model.TradeEvent
		var dep, bor, held, fees, closeAmt, proceeds string
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Trader, &ev.PairID, &ev.LongToken,
			&dep, &bor, &held, &fees, &closeAmt, &proceeds, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Deposited, _ = decimal.NewFromString(dep)
		ev.Borrowed, _ = decimal.NewFromString(bor)
		ev.Held, _ = decimal.NewFromString(held)
		ev.Fees, _ = decimal.NewFromString(fees)
		ev.CloseAmount, _ = decimal.NewFromString(closeAmt)
		ev.Proceeds, _ = decimal.NewFromString(proceeds)
		events = append(events, ev)
	}
	return events, rows.Err()
}
