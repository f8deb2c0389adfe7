package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func pairKey(id int) string {
	return fmt.Sprintf("pair:%d", id)
}

func positionsKey(trader string) string {
	return "positions:" + trader
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePair(ctx context.Context, p *model.Pair) error {
	if err := s.primary.CreatePair(ctx, p); err != nil {
		return err
	}
	s.cachePair(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePairInsurance(ctx context.Context, id int, ins0, ins1 decimal.Decimal) error {
	if err := s.primary.UpdatePairInsurance(ctx, id, ins0, ins1); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, pairKey(id))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(pos.Trader))
	return nil
}

func (s *CachedStore) InsertTradeEvent(ctx context.Context, ev *model.TradeEvent) error {
	// The event ledger is append-only and uncached.
	return s.primary.InsertTradeEvent(ctx, ev)
}

// --- Read-through ---

func (s *CachedStore) GetPair(ctx context.Context, id int) (*model.Pair, error) {
	if data, err := s.rdb.Get(ctx, pairKey(id)).Bytes(); err == nil {
		var p model.Pair
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPair(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePair(ctx, p)
	return p, nil
}

func (s *CachedStore) ListPairs(ctx context.Context) ([]model.Pair, error) {
	// Listing is rare; always hit the primary.
	return s.primary.ListPairs(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, trader string, pairID int, longToken bool) (*model.Position, error) {
	return s.primary.GetPosition(ctx, trader, pairID, longToken)
}

func (s *CachedStore) ListPositionsByTrader(ctx context.Context, trader string) ([]model.Position, error) {
	if data, err := s.rdb.Get(ctx, positionsKey(trader)).Bytes(); err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositionsByTrader(ctx, trader)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(trader), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) ListTradeEventsByPair(ctx context.Context, pairID int) ([]model.TradeEvent, error) {
	return s.primary.ListTradeEventsByPair(ctx, pairID)
}

func (s *CachedStore) ListTradeEventsByTrader(ctx context.Context, trader string) ([]model.TradeEvent, error) {
	return s.primary.ListTradeEventsByTrader(ctx, trader)
}

func (s *CachedStore) cachePair(ctx context.Context, p *model.Pair) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, pairKey(p.ID), data, s.ttl)
	}
}
