// Package bank implements the quote-asset transfer service used to settle
// trades and payouts. Account balances use shopspring/decimal — never
// float64 for money. The engine only ever requests preserve=true, which
// keeps zero-balance recipient accounts alive.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stormvane/pool-engine/internal/amount"
)

// ErrInsufficientFunds is returned when the sender cannot cover a transfer.
var ErrInsufficientFunds = errors.New("bank: insufficient funds")

// Payment is one recipient/amount pair in a batch transfer.
type Payment struct {
	To     string
	Amount uint64
}

// Bank moves quote currency between accounts. TransferBatch is
// all-or-nothing: either every payment applies or none does, which is what
// lets distribute and buy present a single transactional boundary.
type Bank interface {
	Transfer(ctx context.Context, asset, from, to string, amt uint64, preserve bool) error
	TransferBatch(ctx context.Context, asset, from string, payments []Payment, preserve bool) error
}

type acctKey struct {
	asset   string
	account string
}

// MemoryBank is the in-process Bank implementation. Production deployments
// would back this with the platform's custody service; the semantics here
// (validate total, then apply) are the contract either way.
type MemoryBank struct {
	mu       sync.RWMutex
	balances map[acctKey]decimal.Decimal
}

// NewMemoryBank creates an empty in-memory bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[acctKey]decimal.Decimal),
	}
}

// Deposit credits an account. Used by tests and the faucet endpoint.
func (b *MemoryBank) Deposit(asset, account string, amt uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := acctKey{asset, account}
	b.balances[k] = b.balances[k].Add(decimal.NewFromUint64(amt))
}

// Balance returns the current balance, zero for unknown accounts.
func (b *MemoryBank) Balance(asset, account string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[acctKey{asset, account}]
}

// Transfer moves amt from one account to another. With preserve=false a
// sender account drained to zero is removed; preserve=true keeps both
// accounts alive regardless of balance.
func (b *MemoryBank) Transfer(_ context.Context, asset, from, to string, amt uint64, preserve bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transferLocked(asset, from, to, amt, preserve)
}

// TransferBatch moves every payment from one sender, or nothing at all.
// The total is overflow-checked and validated against the sender's balance
// before the first payment applies.
func (b *MemoryBank) TransferBatch(_ context.Context, asset, from string, payments []Payment, preserve bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total uint64
	for _, p := range payments {
		t, err := amount.CheckedAdd(total, p.Amount)
		if err != nil {
			return fmt.Errorf("bank: batch total: %w", err)
		}
		total = t
	}

	fromKey := acctKey{asset, from}
	if b.balances[fromKey].LessThan(decimal.NewFromUint64(total)) {
		return fmt.Errorf("%w: %s needs %d", ErrInsufficientFunds, from, total)
	}

	for _, p := range payments {
		if err := b.transferLocked(asset, from, p.To, p.Amount, preserve); err != nil {
			// Unreachable: the total was validated above and per-payment
			// amounts cannot exceed it.
			return err
		}
	}
	return nil
}

func (b *MemoryBank) transferLocked(asset, from, to string, amt uint64, preserve bool) error {
	fromKey := acctKey{asset, from}
	toKey := acctKey{asset, to}

	d := decimal.NewFromUint64(amt)
	rest := b.balances[fromKey].Sub(d)
	if rest.IsNegative() {
		return fmt.Errorf("%w: %s needs %d", ErrInsufficientFunds, from, amt)
	}

	if rest.IsZero() && !preserve {
		delete(b.balances, fromKey)
	} else {
		b.balances[fromKey] = rest
	}
	b.balances[toKey] = b.balances[toKey].Add(d)
	return nil
}
