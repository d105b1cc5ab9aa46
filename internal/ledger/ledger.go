// Package ledger owns per-policy share balances, total supply, and the
// bounded holder registry. It is the single mutation point for the
// conservation invariant: for every policy, total supply equals the sum of
// free+locked across all accounts at every observable point.
//
// Every operation validates completely before its first mutation, so a
// failed call leaves the ledger exactly as it was. State is guarded by one
// mutex; the service layer additionally serializes whole operations.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stormvane/pool-engine/internal/amount"
	"github.com/stormvane/pool-engine/internal/bank"
	"github.com/stormvane/pool-engine/internal/events"
	"github.com/stormvane/pool-engine/internal/model"
)

type balanceKey struct {
	policy  model.PolicyID
	account string
}

// Ledger tracks share balances for all policies. The holder registry is
// insertion-ordered and capacity-bounded; distribution and cleanup
// enumerate it.
type Ledger struct {
	mu         sync.RWMutex
	bank       bank.Bank
	quoteAsset string
	maxHolders int
	bus        *events.Bus

	balances  map[balanceKey]model.Entry
	supply    map[model.PolicyID]uint64
	holders   map[model.PolicyID][]string
	holderSet map[balanceKey]struct{}
}

// New creates a ledger. maxHolders bounds the per-policy holder registry;
// quoteAsset names the currency payouts are denominated in.
func New(b bank.Bank, quoteAsset string, maxHolders int, bus *events.Bus) *Ledger {
	return &Ledger{
		bank:       b,
		quoteAsset: quoteAsset,
		maxHolders: maxHolders,
		bus:        bus,
		balances:   make(map[balanceKey]model.Entry),
		supply:     make(map[model.PolicyID]uint64),
		holders:    make(map[model.PolicyID][]string),
		holderSet:  make(map[balanceKey]struct{}),
	}
}

// --- Reads ---

// Balance returns the free share balance, zero for unknown keys.
func (l *Ledger) Balance(policy model.PolicyID, account string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{policy, account}].Free
}

// LockedBalance returns the locked share balance, zero for unknown keys.
func (l *Ledger) LockedBalance(policy model.PolicyID, account string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{policy, account}].Locked
}

// Entry returns both balances for one account.
func (l *Ledger) Entry(policy model.PolicyID, account string) model.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{policy, account}]
}

// TotalShares returns the policy's total supply.
func (l *Ledger) TotalShares(policy model.PolicyID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply[policy]
}

// Holders returns the policy's registered holders in registration order.
func (l *Ledger) Holders(policy model.PolicyID) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.holders[policy]))
	copy(out, l.holders[policy])
	return out
}

// CanRegisterHolder reports whether RegisterHolder would succeed, without
// mutating anything. The matching engine uses it to validate a buy plan
// before payment.
func (l *Ledger) CanRegisterHolder(policy model.PolicyID, account string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.holderSet[balanceKey{policy, account}]; ok {
		return nil
	}
	if len(l.holders[policy]) >= l.maxHolders {
		return ErrTooManyHolders
	}
	return nil
}

// --- Mutations ---

// Mint credits amount free shares to account and grows total supply. The
// recipient is registered as a holder. Fails with ErrArithmeticOverflow if
// either addition would wrap, ErrTooManyHolders if the registry is full.
func (l *Ledger) Mint(policy model.PolicyID, account string, amt uint64) error {
	if amt == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{policy, account}
	entry := l.balances[k]

	newFree, err := amount.CheckedAdd(entry.Free, amt)
	if err != nil {
		return ErrArithmeticOverflow
	}
	newSupply, err := amount.CheckedAdd(l.supply[policy], amt)
	if err != nil {
		return ErrArithmeticOverflow
	}
	if err := l.canRegisterLocked(policy, account); err != nil {
		return err
	}

	entry.Free = newFree
	l.balances[k] = entry
	l.supply[policy] = newSupply
	l.registerLocked(policy, account)

	l.bus.Publish(events.Event{Type: events.SharesMinted, PolicyID: policy, Account: account, Amount: amt})
	slog.Info("shares minted", "policy", policy, "account", account, "amount", amt)
	return nil
}

// Burn debits amount free shares from account and shrinks total supply.
func (l *Ledger) Burn(policy model.PolicyID, account string, amt uint64) error {
	if amt == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{policy, account}
	entry := l.balances[k]

	newFree, err := amount.CheckedSub(entry.Free, amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	newSupply, err := amount.CheckedSub(l.supply[policy], amt)
	if err != nil {
		// Cannot happen while the conservation invariant holds.
		return ErrInsufficientBalance
	}

	entry.Free = newFree
	l.balances[k] = entry
	l.supply[policy] = newSupply

	l.bus.Publish(events.Event{Type: events.SharesBurned, PolicyID: policy, Account: account, Amount: amt})
	slog.Info("shares burned", "policy", policy, "account", account, "amount", amt)
	return nil
}

// Transfer moves amount free shares between accounts and registers the
// recipient as a holder.
func (l *Ledger) Transfer(policy model.PolicyID, from, to string, amt uint64) error {
	if amt == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fromKey := balanceKey{policy, from}
	toKey := balanceKey{policy, to}
	fromEntry := l.balances[fromKey]

	newFrom, err := amount.CheckedSub(fromEntry.Free, amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	if err := l.canRegisterLocked(policy, to); err != nil {
		return err
	}

	if from != to {
		toEntry := l.balances[toKey]
		newTo, err := amount.CheckedAdd(toEntry.Free, amt)
		if err != nil {
			return ErrArithmeticOverflow
		}
		fromEntry.Free = newFrom
		toEntry.Free = newTo
		l.balances[fromKey] = fromEntry
		l.balances[toKey] = toEntry
	}
	l.registerLocked(policy, to)

	l.bus.Publish(events.Event{Type: events.SharesTransferred, PolicyID: policy, From: from, To: to, Amount: amt})
	return nil
}

// Lock moves amount from free to locked for account. Locked shares back a
// resting ask and cannot be spent until unlocked or traded.
func (l *Ledger) Lock(policy model.PolicyID, account string, amt uint64) error {
	if amt == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{policy, account}
	entry := l.balances[k]

	newFree, err := amount.CheckedSub(entry.Free, amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	newLocked, err := amount.CheckedAdd(entry.Locked, amt)
	if err != nil {
		return ErrArithmeticOverflow
	}

	entry.Free = newFree
	entry.Locked = newLocked
	l.balances[k] = entry

	l.bus.Publish(events.Event{Type: events.SharesLocked, PolicyID: policy, Account: account, Amount: amt})
	return nil
}

// Unlock moves amount from locked back to free for account.
func (l *Ledger) Unlock(policy model.PolicyID, account string, amt uint64) error {
	if amt == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{policy, account}
	entry := l.balances[k]

	newLocked, err := amount.CheckedSub(entry.Locked, amt)
	if err != nil {
		return ErrInsufficientLockedBalance
	}
	newFree, err := amount.CheckedAdd(entry.Free, amt)
	if err != nil {
		return ErrArithmeticOverflow
	}

	entry.Free = newFree
	entry.Locked = newLocked
	l.balances[k] = entry

	l.bus.Publish(events.Event{Type: events.SharesUnlocked, PolicyID: policy, Account: account, Amount: amt})
	return nil
}

// TransferLocked settles a matched trade: amount leaves the seller's locked
// balance and arrives in the buyer's free balance.
func (l *Ledger) TransferLocked(policy model.PolicyID, from, to string, amt uint64) error {
	if amt == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fromKey := balanceKey{policy, from}
	fromEntry := l.balances[fromKey]

	newLocked, err := amount.CheckedSub(fromEntry.Locked, amt)
	if err != nil {
		return ErrInsufficientLockedBalance
	}

	if from == to {
		// A buyer lifting their own ask: locked simply becomes free.
		newFree, err := amount.CheckedAdd(fromEntry.Free, amt)
		if err != nil {
			return ErrArithmeticOverflow
		}
		fromEntry.Locked = newLocked
		fromEntry.Free = newFree
		l.balances[fromKey] = fromEntry
	} else {
		toKey := balanceKey{policy, to}
		toEntry := l.balances[toKey]
		newFree, err := amount.CheckedAdd(toEntry.Free, amt)
		if err != nil {
			return ErrArithmeticOverflow
		}
		fromEntry.Locked = newLocked
		toEntry.Free = newFree
		l.balances[fromKey] = fromEntry
		l.balances[toKey] = toEntry
	}

	l.bus.Publish(events.Event{Type: events.SharesTransferred, PolicyID: policy, From: from, To: to, Amount: amt})
	return nil
}

// RegisterHolder records account in the policy's holder registry. The
// insert is idempotent; a duplicate registration is a successful no-op.
func (l *Ledger) RegisterHolder(policy model.PolicyID, account string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.canRegisterLocked(policy, account); err != nil {
		return err
	}
	l.registerLocked(policy, account)
	return nil
}

// Distribute pays out total quote units pro-rata across the policy's
// holders by combined (free+locked) balance. Payouts use floor division;
// the rounding remainder intentionally stays with the source account. The
// whole payout is one atomic bank batch, so either every holder is paid or
// none is.
func (l *Ledger) Distribute(ctx context.Context, policy model.PolicyID, source string, total uint64) error {
	l.mu.RLock()
	supply := l.supply[policy]
	if supply == 0 {
		l.mu.RUnlock()
		return ErrNoShares
	}

	var payments []bank.Payment
	var paid uint64
	for _, holder := range l.holders[policy] {
		combined := l.balances[balanceKey{policy, holder}].Combined()
		if combined == 0 {
			continue
		}
		payout, err := amount.ProRata(total, combined, supply)
		if err != nil {
			l.mu.RUnlock()
			return ErrArithmeticOverflow
		}
		if payout > 0 {
			payments = append(payments, bank.Payment{To: holder, Amount: payout})
			paid += payout
		}
	}
	l.mu.RUnlock()

	if err := l.bank.TransferBatch(ctx, l.quoteAsset, source, payments, true); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	l.bus.Publish(events.Event{Type: events.PayoutDistributed, PolicyID: policy, From: source, Amount: paid})
	slog.Info("payout distributed",
		"policy", policy,
		"source", source,
		"total", total,
		"paid", paid,
		"holders", len(payments),
	)
	return nil
}

// Cleanup clears every registered holder's entry, empties the registry,
// and resets total supply to zero. Idempotent: running it on an already
// clean policy is a no-op.
func (l *Ledger) Cleanup(policy model.PolicyID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, holder := range l.holders[policy] {
		k := balanceKey{policy, holder}
		delete(l.balances, k)
		delete(l.holderSet, k)
	}
	delete(l.holders, policy)
	delete(l.supply, policy)

	l.bus.Publish(events.Event{Type: events.PolicyCleaned, PolicyID: policy})
	slog.Info("policy cleaned", "policy", policy)
}

// --- Internal (caller holds l.mu) ---

func (l *Ledger) canRegisterLocked(policy model.PolicyID, account string) error {
	if _, ok := l.holderSet[balanceKey{policy, account}]; ok {
		return nil
	}
	if len(l.holders[policy]) >= l.maxHolders {
		return ErrTooManyHolders
	}
	return nil
}

func (l *Ledger) registerLocked(policy model.PolicyID, account string) {
	k := balanceKey{policy, account}
	if _, ok := l.holderSet[k]; ok {
		return
	}
	l.holderSet[k] = struct{}{}
	l.holders[policy] = append(l.holders[policy], account)
	l.bus.Publish(events.Event{Type: events.HolderRegistered, PolicyID: policy, Account: account})
}
