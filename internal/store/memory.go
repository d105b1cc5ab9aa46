package store

import (
	"context"
	"sync"

	"github.com/stormvane/pool-engine/internal/events"
	"github.com/stormvane/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	trades  []model.Trade
	journal []events.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertTrade(_ context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	t := *trade
	t.Fills = append([]model.Fill(nil), trade.Fills...)
	s.trades = append(s.trades, t)
	return nil
}

func (s *MemoryStore) ListTradesByPolicy(_ context.Context, policy model.PolicyID) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.PolicyID == policy {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTradesByAccount(_ context.Context, account string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.Buyer == account {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, ev)
	return nil
}

func (s *MemoryStore) ListEventsByPolicy(_ context.Context, policy model.PolicyID, limit int) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []events.Event
	for i := len(s.journal) - 1; i >= 0 && len(result) < limit; i-- {
		if s.journal[i].PolicyID == policy {
			result = append(result, s.journal[i])
		}
	}
	return result, nil
}
