package book_test

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/stormvane/pool-engine/internal/bank"
	"github.com/stormvane/pool-engine/internal/book"
	"github.com/stormvane/pool-engine/internal/ledger"
)

// Random sequences of place/cancel/buy must preserve two invariants:
// total supply never changes, and each seller's locked balance equals the
// sum of remaining quantity across their open orders.
func TestBookInvariantsProperty(t *testing.T) {
	sellers := []string{"s1", "s2", "s3"}

	rapid.Check(t, func(t *rapid.T) {
		mb := bank.NewMemoryBank()
		l := ledger.New(mb, asset, 100, nil)
		e := book.NewEngine(l, mb, asset, book.Config{
			MaxOrdersPerLevel: 5,
			MaxPriceLevels:    5,
			MaxOrdersPerUser:  5,
		}, nil)

		var supply uint64
		for _, s := range sellers {
			minted := rapid.Uint64Range(100, 10_000).Draw(t, "minted")
			if err := l.Mint(policy, s, minted); err != nil {
				t.Fatalf("mint: %v", err)
			}
			supply += minted
		}
		mb.Deposit(asset, "buyer", 1_000_000)

		var openIDs []uint64

		checkInvariants := func() {
			held := l.Balance(policy, "buyer") + l.LockedBalance(policy, "buyer")
			lockedWant := make(map[string]uint64)
			for _, id := range openIDs {
				order, ok := e.Order(id)
				if !ok {
					continue
				}
				lockedWant[order.Seller] += order.Remaining
			}
			for _, s := range sellers {
				entry := l.Entry(policy, s)
				held += entry.Free + entry.Locked
				if entry.Locked != lockedWant[s] {
					t.Fatalf("%s locked = %d, open remainders = %d", s, entry.Locked, lockedWant[s])
				}
			}
			if held != supply {
				t.Fatalf("supply = %d, Σ held = %d", supply, held)
			}
			if got := l.TotalShares(policy); got != supply {
				t.Fatalf("ledger supply drifted: %d, want %d", got, supply)
			}
		}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0: // place
				seller := rapid.SampledFrom(sellers).Draw(t, "seller")
				price := rapid.Uint64Range(1, 8).Draw(t, "price")
				qty := rapid.Uint64Range(1, 500).Draw(t, "qty")
				if order, err := e.PlaceAsk(policy, seller, price, qty); err == nil {
					openIDs = append(openIDs, order.ID)
				}
			case 1: // cancel
				if len(openIDs) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(openIDs)-1).Draw(t, "idx")
				id := openIDs[idx]
				if order, ok := e.Order(id); ok {
					if _, err := e.CancelAsk(id, order.Seller); err != nil {
						t.Fatalf("owner cancel failed: %v", err)
					}
				}
				openIDs = append(openIDs[:idx], openIDs[idx+1:]...)
			case 2: // buy
				maxPrice := rapid.Uint64Range(1, 8).Draw(t, "maxPrice")
				qty := rapid.Uint64Range(1, 300).Draw(t, "buyQty")
				e.Buy(context.Background(), policy, "buyer", maxPrice, qty)
			}
			checkInvariants()
		}

		// Bulk cancel releases every remaining lock.
		e.CancelPolicyOrders(policy)
		for _, s := range sellers {
			if got := l.LockedBalance(policy, s); got != 0 {
				t.Fatalf("%s locked = %d after bulk cancel, want 0", s, got)
			}
		}
		if got := l.TotalShares(policy); got != supply {
			t.Fatalf("supply = %d after bulk cancel, want %d", got, supply)
		}
	})
}
