// Package model defines the core domain types shared across the pool engine.
// Share quantities and per-share prices are unsigned integers with checked
// arithmetic; quote-currency account balances use shopspring/decimal — never
// float64 for money.
package model

import "time"

// PolicyID identifies one parametric-insurance contract. The value is
// assigned by the external settlement authority and is opaque here.
type PolicyID uint64

// Entry holds one account's share balances in one policy. Free shares are
// available for new asks or transfers; locked shares back resting asks.
type Entry struct {
	Free   uint64 `json:"free"`
	Locked uint64 `json:"locked"`
}

// Combined returns free+locked. The sum cannot overflow because total
// supply, which bounds it, is itself overflow-checked on every mint.
func (e Entry) Combined() uint64 {
	return e.Free + e.Locked
}

// AskOrder is an offer to sell shares of one policy at a fixed per-share
// price. Remaining decreases on partial fills; the record is deleted when
// it reaches zero or when the owner cancels. Orders are never reopened.
type AskOrder struct {
	ID        uint64    `json:"id"`
	PolicyID  PolicyID  `json:"policy_id"`
	Seller    string    `json:"seller"`
	Price     uint64    `json:"price"`     // quote units per share, > 0
	Quantity  uint64    `json:"quantity"`  // original size
	Remaining uint64    `json:"remaining"` // 0 < remaining <= quantity while open
	CreatedAt time.Time `json:"created_at"`
}

// Fill is one execution against a resting ask: Quantity shares at the
// resting order's price, costing Cost quote units.
type Fill struct {
	OrderID  uint64 `json:"order_id"`
	Seller   string `json:"seller"`
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
	Cost     uint64 `json:"cost"`
}

// Trade is an immutable record of an executed buy, possibly spanning
// several resting orders. Once created these are never modified.
type Trade struct {
	ID         string    `json:"id" db:"id"`
	PolicyID   PolicyID  `json:"policy_id" db:"policy_id"`
	Buyer      string    `json:"buyer" db:"buyer"`
	Filled     uint64    `json:"filled" db:"filled"`
	TotalCost  uint64    `json:"total_cost" db:"total_cost"`
	Fills      []Fill    `json:"fills" db:"-"`
	ExecutedAt time.Time `json:"executed_at" db:"executed_at"`
}

// DepthLevel is an aggregated view of one price level for book queries.
type DepthLevel struct {
	Price         uint64 `json:"price"`
	TotalQuantity uint64 `json:"total_quantity"`
	OrderCount    int    `json:"order_count"`
}
