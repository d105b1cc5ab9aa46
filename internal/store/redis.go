package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stormvane/pool-engine/internal/events"
	"github.com/stormvane/pool-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for per-policy trade history. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back.
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

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, tradesKey(t.PolicyID))
	return nil
}

func (s *CachedStore) AppendEvent(ctx context.Context, ev events.Event) error {
	return s.primary.AppendEvent(ctx, ev)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListTradesByPolicy(ctx context.Context, policy model.PolicyID) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, tradesKey(policy)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	// Cache miss: read from primary.
	trades, err := s.primary.ListTradesByPolicy(ctx, policy)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, tradesKey(policy), data, s.ttl)
	}
	return trades, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTradesByAccount(ctx context.Context, account string) ([]model.Trade, error) {
	return s.primary.ListTradesByAccount(ctx, account)
}

func (s *CachedStore) ListEventsByPolicy(ctx context.Context, policy model.PolicyID, limit int) ([]events.Event, error) {
	return s.primary.ListEventsByPolicy(ctx, policy, limit)
}

func tradesKey(policy model.PolicyID) string {
	return fmt.Sprintf("trades:%d", policy)
}
