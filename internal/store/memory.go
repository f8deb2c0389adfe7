package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	pairs     map[int]*model.Pair
	positions map[string]*model.Position
	events    []model.TradeEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairs:     make(map[int]*model.Pair),
		positions: make(map[string]*model.Position),
	}
}

func posKey(trader string, pairID int, longToken bool) string {
	return fmt.Sprintf("%s|%d|%t", trader, pairID, longToken)
}

func (s *MemoryStore) CreatePair(_ context.Context, p *model.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pairs[p.ID]; ok {
		return fmt.Errorf("store: pair %d already exists", p.ID)
	}
	// Store a copy to avoid external mutation.
	cp := *p
	s.pairs[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPair(_ context.Context, id int) (*model.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pairs[id]
	if !ok {
		return nil, fmt.Errorf("%w: pair %d", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPairs(_ context.Context) ([]model.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]model.Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		pairs = append(pairs, *p)
	}
	return pairs, nil
}

func (s *MemoryStore) UpdatePairInsurance(_ context.Context, id int, ins0, ins1 decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pairs[id]
	if !ok {
		return fmt.Errorf("%w: pair %d", ErrNotFound, id)
	}
	p.Pool0Insurance = ins0
	p.Pool1Insurance = ins1
	return nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pos
	s.positions[posKey(pos.Trader, pos.PairID, pos.LongToken)] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, trader string, pairID int, longToken bool) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(trader, pairID, longToken)]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%d", ErrNotFound, trader, pairID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositionsByTrader(_ context.Context, trader string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.Trader == trader {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertTradeEvent(_ context.Context, ev *model.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) ListTradeEventsByPair(_ context.Context, pairID int) ([]model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeEvent
	for _, ev := range s.events {
		if ev.PairID == pairID {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTradeEventsByTrader(_ context.Context, trader string) ([]model.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeEvent
	for _, ev := range s.events {
		if ev.Trader == trader {
			result = append(result, ev)
		}
	}
	return result, nil
}
