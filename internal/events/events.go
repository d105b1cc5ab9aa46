// Package events carries the engine's observable event stream. Every
// successful mutation publishes exactly one event (plus one trade-executed
// per fill during a buy); external indexers, the metrics layer, and the
// WebSocket hub subscribe to the same bus.
package events

import (
	"sync"
	"time"

	"github.com/stormvane/pool-engine/internal/model"
)

// Type enumerates the observable event kinds.
type Type string

const (
	SharesMinted      Type = "shares_minted"
	SharesBurned      Type = "shares_burned"
	SharesTransferred Type = "shares_transferred"
	SharesLocked      Type = "shares_locked"
	SharesUnlocked    Type = "shares_unlocked"
	PayoutDistributed Type = "payout_distributed"
	HolderRegistered  Type = "holder_registered"
	PolicyCleaned     Type = "policy_cleaned"
	AskPlaced         Type = "ask_placed"
	AskCancelled      Type = "ask_cancelled"
	TradeExecuted     Type = "trade_executed"
	OrderFilled       Type = "order_filled"
)

// Event is one observable state change. Fields not relevant to a given
// type are left at their zero value and omitted from JSON.
type Event struct {
	Type     Type           `json:"type"`
	PolicyID model.PolicyID `json:"policy_id"`
	Account  string         `json:"account,omitempty"`
	From     string         `json:"from,omitempty"`
	To       string         `json:"to,omitempty"`
	OrderID  uint64         `json:"order_id,omitempty"`
	Price    uint64         `json:"price,omitempty"`
	Amount   uint64         `json:"amount,omitempty"`
	Cost     uint64         `json:"cost,omitempty"`
	At       time.Time      `json:"at"`
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

// Bus is a simple fan-out bus. Subscription happens at startup; Publish
// may be called concurrently afterwards.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers ev to every subscriber. A nil bus is a no-op so
// components can be constructed without one in tests.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
}
