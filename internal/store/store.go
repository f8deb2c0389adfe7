// Package store defines the persistence interface for the margin engine.
// Implementations include PostgreSQL (source of truth for the audit
// surface), Redis (read-through cache), and in-memory (for testing).
//
// The engine's in-process tables stay authoritative for trading decisions;
// the store carries pair and position snapshots plus the immutable trade
// event ledger for history and integration reads.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/model"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// --- Pair snapshots ---

	// CreatePair persists a newly listed pair.
	CreatePair(ctx context.Context, pair *model.Pair) error

	// GetPair retrieves a pair by id.
	GetPair(ctx context.Context, id int) (*model.Pair, error)

	// ListPairs returns all listed pairs.
	ListPairs(ctx context.Context) ([]model.Pair, error)

	// UpdatePairInsurance updates a pair's insurance reserves after a trade.
	UpdatePairInsurance(ctx context.Context, id int, ins0, ins1 decimal.Decimal) error

	// --- Position snapshots ---

	// UpsertPosition writes the post-trade state of a position slot.
	UpsertPosition(ctx context.Context, pos *model.Position) error

	// GetPosition retrieves one position slot.
	GetPosition(ctx context.Context, trader string, pairID int, longToken bool) (*model.Position, error)

	// ListPositionsByTrader returns all of a trader's position slots.
	ListPositionsByTrader(ctx context.Context, trader string) ([]model.Position, error)

	// --- Immutable trade event ledger ---

	// InsertTradeEvent appends an immutable open/close record.
	InsertTradeEvent(ctx context.Context, ev *model.TradeEvent) error

	// ListTradeEventsByPair returns all events for a pair.
	ListTradeEventsByPair(ctx context.Context, pairID int) ([]model.TradeEvent, error)

	// ListTradeEventsByTrader returns all events for a trader.
	ListTradeEventsByTrader(ctx context.Context, trader string) ([]model.TradeEvent, error)
}
