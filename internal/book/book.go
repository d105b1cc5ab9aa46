// Package book implements the per-policy ask order book and matching
// engine. Matching is price-time priority: ascending price levels, FIFO
// within a level, ties broken only by insertion order. All balance
// movement is delegated to the ledger; the engine never mutates share
// balances directly.
//
// Every collection is capacity-bounded and checked before insert, so each
// operation's cost is a function of the configured capacities, never of
// unbounded external state. A buy is planned read-only first, paid with a
// single atomic bank batch, and only then applied, so a failed buy leaves
// book and ledger untouched.
package book

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/stormvane/pool-engine/internal/amount"
	"github.com/stormvane/pool-engine/internal/bank"
	"github.com/stormvane/pool-engine/internal/events"
	"github.com/stormvane/pool-engine/internal/ledger"
	"github.com/stormvane/pool-engine/internal/model"
)

// Config bounds the book's data structures. All four are fixed per
// deployment.
type Config struct {
	MaxOrdersPerLevel int
	MaxPriceLevels    int
	MaxOrdersPerUser  int
}

type userKey struct {
	account string
	policy  model.PolicyID
}

// policyBook holds one policy's resting asks: a sorted duplicate-free
// price index and a FIFO queue of order ids per price.
type policyBook struct {
	prices *btree.BTreeG[uint64]
	queues map[uint64][]uint64
}

func newPolicyBook() *policyBook {
	const degree = 32
	return &policyBook{
		prices: btree.NewG[uint64](degree, func(a, b uint64) bool { return a < b }),
		queues: make(map[uint64][]uint64),
	}
}

// Engine owns all order records and price indices. Lock/unlock/settlement
// side effects go through the ledger; payment goes through the bank.
type Engine struct {
	mu         sync.RWMutex
	ledger     *ledger.Ledger
	bank       bank.Bank
	quoteAsset string
	cfg        Config
	bus        *events.Bus

	nextOrderID uint64
	orders      map[uint64]*model.AskOrder
	books       map[model.PolicyID]*policyBook
	userOrders  map[userKey][]uint64
}

// NewEngine creates a matching engine bound to a ledger and bank.
func NewEngine(l *ledger.Ledger, b bank.Bank, quoteAsset string, cfg Config, bus *events.Bus) *Engine {
	return &Engine{
		ledger:     l,
		bank:       b,
		quoteAsset: quoteAsset,
		cfg:        cfg,
		bus:        bus,
		orders:     make(map[uint64]*model.AskOrder),
		books:      make(map[model.PolicyID]*policyBook),
		userOrders: make(map[userKey][]uint64),
	}
}

// PlaceAsk rests a sell order for quantity shares at price. The seller's
// shares move from free to locked for the order's lifetime. Capacity
// checks run before the lock, so a rejected ask mutates nothing.
func (e *Engine) PlaceAsk(policy model.PolicyID, seller string, price, quantity uint64) (*model.AskOrder, error) {
	if price == 0 {
		return nil, ErrInvalidPrice
	}
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.Balance(policy, seller) < quantity {
		return nil, ErrInsufficientShares
	}

	pb := e.books[policy]
	if pb == nil {
		pb = newPolicyBook()
	}
	queue, levelExists := pb.queues[price]
	if len(queue) >= e.cfg.MaxOrdersPerLevel {
		return nil, ErrTooManyOrdersAtLevel
	}
	if !levelExists && pb.prices.Len() >= e.cfg.MaxPriceLevels {
		return nil, ErrTooManyPriceLevels
	}
	uk := userKey{seller, policy}
	if len(e.userOrders[uk]) >= e.cfg.MaxOrdersPerUser {
		return nil, ErrTooManyOrdersPerUser
	}

	if err := e.ledger.Lock(policy, seller, quantity); err != nil {
		return nil, err
	}

	e.nextOrderID++
	order := &model.AskOrder{
		ID:        e.nextOrderID,
		PolicyID:  policy,
		Seller:    seller,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		CreatedAt: time.Now().UTC(),
	}

	e.books[policy] = pb
	pb.queues[price] = append(queue, order.ID)
	if !levelExists {
		pb.prices.ReplaceOrInsert(price)
	}
	e.userOrders[uk] = append(e.userOrders[uk], order.ID)
	e.orders[order.ID] = order

	e.bus.Publish(events.Event{
		Type:     events.AskPlaced,
		PolicyID: policy,
		Account:  seller,
		OrderID:  order.ID,
		Price:    price,
		Amount:   quantity,
	})
	slog.Info("ask placed",
		"policy", policy,
		"order_id", order.ID,
		"seller", seller,
		"price", price,
		"quantity", quantity,
	)
	return order, nil
}

// CancelAsk removes a resting order and unlocks its unfilled remainder.
// Only the order's seller may cancel it.
func (e *Engine) CancelAsk(orderID uint64, caller string) (*model.AskOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.Seller != caller {
		return nil, ErrNotOrderOwner
	}

	if err := e.ledger.Unlock(order.PolicyID, order.Seller, order.Remaining); err != nil {
		return nil, err
	}
	e.removeOrderLocked(order)

	e.bus.Publish(events.Event{
		Type:     events.AskCancelled,
		PolicyID: order.PolicyID,
		Account:  order.Seller,
		OrderID:  order.ID,
		Price:    order.Price,
		Amount:   order.Remaining,
	})
	slog.Info("ask cancelled", "policy", order.PolicyID, "order_id", order.ID, "seller", order.Seller)
	return order, nil
}

// Buy fills up to quantity shares from resting asks priced at or below
// maxPrice, cheapest levels first, FIFO within a level. Partial fill is a
// success outcome; only a zero fill returns ErrNoMatchingOrders. The full
// payment executes as one atomic bank batch before any book or ledger
// state changes.
func (e *Engine) Buy(ctx context.Context, policy model.PolicyID, buyer string, maxPrice, quantity uint64) (*model.Trade, error) {
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fills, totalCost, err := e.planBuyLocked(policy, maxPrice, quantity)
	if err != nil {
		return nil, err
	}
	if len(fills) == 0 {
		return nil, ErrNoMatchingOrders
	}
	if err := e.ledger.CanRegisterHolder(policy, buyer); err != nil {
		return nil, err
	}

	payments := make([]bank.Payment, len(fills))
	for i, f := range fills {
		payments[i] = bank.Payment{To: f.Seller, Amount: f.Cost}
	}
	if err := e.bank.TransferBatch(ctx, e.quoteAsset, buyer, payments, true); err != nil {
		return nil, ErrTransferFailed
	}

	// Commit. Nothing below can fail: locked balances back every resting
	// order and the holder slot was checked above.
	var filled uint64
	for i := range fills {
		f := &fills[i]
		order := e.orders[f.OrderID]

		e.ledger.TransferLocked(policy, f.Seller, buyer, f.Quantity)
		order.Remaining -= f.Quantity
		filled += f.Quantity

		e.bus.Publish(events.Event{
			Type:     events.TradeExecuted,
			PolicyID: policy,
			From:     f.Seller,
			To:       buyer,
			OrderID:  f.OrderID,
			Price:    f.Price,
			Amount:   f.Quantity,
			Cost:     f.Cost,
		})

		if order.Remaining == 0 {
			e.removeOrderLocked(order)
			e.bus.Publish(events.Event{
				Type:     events.OrderFilled,
				PolicyID: policy,
				Account:  f.Seller,
				OrderID:  f.OrderID,
				Price:    f.Price,
				Amount:   order.Quantity,
			})
		}
	}
	e.ledger.RegisterHolder(policy, buyer)

	trade := &model.Trade{
		ID:         uuid.New().String(),
		PolicyID:   policy,
		Buyer:      buyer,
		Filled:     filled,
		TotalCost:  totalCost,
		Fills:      fills,
		ExecutedAt: time.Now().UTC(),
	}
	slog.Info("buy executed",
		"policy", policy,
		"trade_id", trade.ID,
		"buyer", buyer,
		"filled", filled,
		"cost", totalCost,
		"fills", len(fills),
	)
	return trade, nil
}

// planBuyLocked walks the price index read-only and returns the fill plan.
func (e *Engine) planBuyLocked(policy model.PolicyID, maxPrice, quantity uint64) ([]model.Fill, uint64, error) {
	pb := e.books[policy]
	if pb == nil {
		return nil, 0, nil
	}

	var fills []model.Fill
	var totalCost uint64
	remaining := quantity
	var planErr error

	pb.prices.Ascend(func(price uint64) bool {
		if price > maxPrice || remaining == 0 {
			return false
		}
		for _, id := range pb.queues[price] {
			if remaining == 0 {
				return false
			}
			order := e.orders[id]
			fill := remaining
			if order.Remaining < fill {
				fill = order.Remaining
			}
			cost, err := amount.CheckedMul(price, fill)
			if err != nil {
				planErr = ErrArithmeticOverflow
				return false
			}
			newTotal, err := amount.CheckedAdd(totalCost, cost)
			if err != nil {
				planErr = ErrArithmeticOverflow
				return false
			}
			totalCost = newTotal
			fills = append(fills, model.Fill{
				OrderID:  id,
				Seller:   order.Seller,
				Price:    price,
				Quantity: fill,
				Cost:     cost,
			})
			remaining -= fill
		}
		return true
	})
	if planErr != nil {
		return nil, 0, planErr
	}
	return fills, totalCost, nil
}

// CancelPolicyOrders cancels every open ask in the policy and unlocks the
// remainders. The settlement flow runs this before ledger cleanup so no
// locked shares are orphaned. Returns the number of orders cancelled.
func (e *Engine) CancelPolicyOrders(policy model.PolicyID) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	pb := e.books[policy]
	if pb == nil {
		return 0
	}

	var ids []uint64
	pb.prices.Ascend(func(price uint64) bool {
		ids = append(ids, pb.queues[price]...)
		return true
	})

	for _, id := range ids {
		order := e.orders[id]
		e.ledger.Unlock(policy, order.Seller, order.Remaining)
		e.removeOrderLocked(order)
		e.bus.Publish(events.Event{
			Type:     events.AskCancelled,
			PolicyID: policy,
			Account:  order.Seller,
			OrderID:  order.ID,
			Price:    order.Price,
			Amount:   order.Remaining,
		})
	}
	if len(ids) > 0 {
		slog.Info("policy orders cancelled", "policy", policy, "count", len(ids))
	}
	return len(ids)
}

// removeOrderLocked deletes an order from its price queue, the user index,
// and the order table, pruning the price level if it empties.
func (e *Engine) removeOrderLocked(order *model.AskOrder) {
	pb := e.books[order.PolicyID]
	queue := pb.queues[order.Price]
	for i, id := range queue {
		if id == order.ID {
			pb.queues[order.Price] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(pb.queues[order.Price]) == 0 {
		delete(pb.queues, order.Price)
		pb.prices.Delete(order.Price)
	}

	uk := userKey{order.Seller, order.PolicyID}
	userQueue := e.userOrders[uk]
	for i, id := range userQueue {
		if id == order.ID {
			e.userOrders[uk] = append(userQueue[:i], userQueue[i+1:]...)
			break
		}
	}
	if len(e.userOrders[uk]) == 0 {
		delete(e.userOrders, uk)
	}

	delete(e.orders, order.ID)
}

// --- Reads ---

// Order returns a copy of an open order.
func (e *Engine) Order(orderID uint64) (model.AskOrder, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	order, ok := e.orders[orderID]
	if !ok {
		return model.AskOrder{}, false
	}
	return *order, true
}

// UserOrders returns copies of the account's open orders in the policy,
// oldest first.
func (e *Engine) UserOrders(policy model.PolicyID, account string) []model.AskOrder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := e.userOrders[userKey{account, policy}]
	out := make([]model.AskOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.orders[id])
	}
	return out
}

// Depth returns up to n aggregated ask price levels, cheapest first.
func (e *Engine) Depth(policy model.PolicyID, n int) []model.DepthLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pb := e.books[policy]
	if pb == nil || n <= 0 {
		return nil
	}
	levels := make([]model.DepthLevel, 0, n)
	pb.prices.Ascend(func(price uint64) bool {
		if len(levels) >= n {
			return false
		}
		level := model.DepthLevel{Price: price}
		for _, id := range pb.queues[price] {
			level.TotalQuantity += e.orders[id].Remaining
			level.OrderCount++
		}
		levels = append(levels, level)
		return true
	})
	return levels
}

// OpenOrders returns the total number of resting asks across all policies.
func (e *Engine) OpenOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.orders)
}
