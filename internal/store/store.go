// Package store persists the engine's trade history and event journal.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing). The store is an append-only observer
// of the engine: matching never reads from it, so persistence latency and
// availability cannot affect determinism.
package store

import (
	"context"

	"github.com/stormvane/pool-engine/internal/events"
	"github.com/stormvane/pool-engine/internal/model"
)

// Store is the persistence interface for trades and events.
type Store interface {
	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// ListTradesByPolicy returns a policy's trades, oldest first.
	ListTradesByPolicy(ctx context.Context, policy model.PolicyID) ([]model.Trade, error)

	// ListTradesByAccount returns trades where the account was the buyer.
	ListTradesByAccount(ctx context.Context, account string) ([]model.Trade, error)

	// AppendEvent appends one observable event to the journal.
	AppendEvent(ctx context.Context, ev events.Event) error

	// ListEventsByPolicy returns up to limit of a policy's most recent
	// journal entries, newest first.
	ListEventsByPolicy(ctx context.Context, policy model.PolicyID, limit int) ([]events.Event, error)
}
