package ledger_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stormvane/pool-engine/internal/bank"
	"github.com/stormvane/pool-engine/internal/ledger"
	"github.com/stormvane/pool-engine/internal/model"
)

const (
	asset             = "USDQ"
	policy            = model.PolicyID(1)
	defaultMaxHolders = 100
)

func newTestLedger(t *testing.T) (*ledger.Ledger, *bank.MemoryBank) {
	t.Helper()
	mb := bank.NewMemoryBank()
	return ledger.New(mb, asset, defaultMaxHolders, nil), mb
}

// checkConservation asserts total supply equals the sum of free+locked
// over all given accounts.
func checkConservation(t *testing.T, l *ledger.Ledger, p model.PolicyID, accounts ...string) {
	t.Helper()
	var sum uint64
	for _, a := range accounts {
		e := l.Entry(p, a)
		sum += e.Free + e.Locked
	}
	if got := l.TotalShares(p); got != sum {
		t.Fatalf("conservation violated: supply=%d, Σ balances=%d", got, sum)
	}
}

func TestMint(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Mint(policy, "alice", 1000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if got := l.Balance(policy, "alice"); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}
	if got := l.TotalShares(policy); got != 1000 {
		t.Errorf("supply = %d, want 1000", got)
	}
	if holders := l.Holders(policy); len(holders) != 1 || holders[0] != "alice" {
		t.Errorf("holders = %v, want [alice]", holders)
	}
	checkConservation(t, l, policy, "alice")
}

func TestMintOverflow(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Mint(policy, "alice", math.MaxUint64); err != nil {
		t.Fatalf("first mint failed: %v", err)
	}
	err := l.Mint(policy, "alice", 1)
	if !errors.Is(err, ledger.ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	// State untouched.
	if got := l.Balance(policy, "alice"); got != math.MaxUint64 {
		t.Errorf("balance changed on failed mint: %d", got)
	}
}

func TestMintZeroAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.Mint(policy, "alice", 0); !errors.Is(err, ledger.ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestSupplyOverflowAcrossAccounts(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Mint(policy, "alice", math.MaxUint64-5); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	// Bob's balance would not overflow, but total supply would.
	err := l.Mint(policy, "bob", 10)
	if !errors.Is(err, ledger.ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if got := l.Balance(policy, "bob"); got != 0 {
		t.Errorf("bob balance = %d after failed mint, want 0", got)
	}
	if got := len(l.Holders(policy)); got != 1 {
		t.Errorf("failed mint must not register holder, got %d holders", got)
	}
}

func TestBurn(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 1000)

	if err := l.Burn(policy, "alice", 400); err != nil {
		t.Fatalf("burn failed: %v", err)
	}
	if got := l.Balance(policy, "alice"); got != 600 {
		t.Errorf("balance = %d, want 600", got)
	}
	if got := l.TotalShares(policy); got != 600 {
		t.Errorf("supply = %d, want 600", got)
	}
	checkConservation(t, l, policy, "alice")
}

func TestBurnInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 100)

	if err := l.Burn(policy, "alice", 101); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := l.Balance(policy, "alice"); got != 100 {
		t.Errorf("failed burn changed balance: %d", got)
	}
}

func TestBurnIgnoresLockedShares(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 100)
	l.Lock(policy, "alice", 80)

	// Only 20 free; locked shares cannot be burned.
	if err := l.Burn(policy, "alice", 50); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 1000)

	if err := l.Transfer(policy, "alice", "bob", 250); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := l.Balance(policy, "alice"); got != 750 {
		t.Errorf("alice = %d, want 750", got)
	}
	if got := l.Balance(policy, "bob"); got != 250 {
		t.Errorf("bob = %d, want 250", got)
	}
	if holders := l.Holders(policy); len(holders) != 2 {
		t.Errorf("transfer must register recipient, holders = %v", holders)
	}
	checkConservation(t, l, policy, "alice", "bob")
}

func TestTransferInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 10)

	if err := l.Transfer(policy, "alice", "bob", 11); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	checkConservation(t, l, policy, "alice", "bob")
}

func TestLockUnlockRoundTrip(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 1000)

	if err := l.Lock(policy, "alice", 400); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	e := l.Entry(policy, "alice")
	if e.Free != 600 || e.Locked != 400 {
		t.Fatalf("entry = %+v, want free 600 locked 400", e)
	}
	checkConservation(t, l, policy, "alice")

	if err := l.Unlock(policy, "alice", 400); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	e = l.Entry(policy, "alice")
	if e.Free != 1000 || e.Locked != 0 {
		t.Fatalf("entry = %+v, want free 1000 locked 0", e)
	}
}

func TestLockInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 100)

	if err := l.Lock(policy, "alice", 101); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestUnlockInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 100)
	l.Lock(policy, "alice", 50)

	if err := l.Unlock(policy, "alice", 51); !errors.Is(err, ledger.ErrInsufficientLockedBalance) {
		t.Fatalf("expected ErrInsufficientLockedBalance, got %v", err)
	}
}

func TestTransferLocked(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 1000)
	l.Lock(policy, "alice", 400)

	if err := l.TransferLocked(policy, "alice", "bob", 300); err != nil {
		t.Fatalf("transfer locked failed: %v", err)
	}

	alice := l.Entry(policy, "alice")
	if alice.Free != 600 || alice.Locked != 100 {
		t.Errorf("alice = %+v, want free 600 locked 100", alice)
	}
	bob := l.Entry(policy, "bob")
	if bob.Free != 300 || bob.Locked != 0 {
		t.Errorf("bob = %+v, want free 300 locked 0", bob)
	}
	checkConservation(t, l, policy, "alice", "bob")
}

func TestTransferLockedInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 1000)
	l.Lock(policy, "alice", 100)

	err := l.TransferLocked(policy, "alice", "bob", 101)
	if !errors.Is(err, ledger.ErrInsufficientLockedBalance) {
		t.Fatalf("expected ErrInsufficientLockedBalance, got %v", err)
	}
}

// --- Holder registry ---

func TestRegisterHolderIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.RegisterHolder(policy, "alice"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := l.RegisterHolder(policy, "alice"); err != nil {
		t.Fatalf("duplicate register must succeed: %v", err)
	}
	if holders := l.Holders(policy); len(holders) != 1 {
		t.Errorf("holders = %v, want exactly one entry", holders)
	}
}

func TestRegisterHolderCapacity(t *testing.T) {
	mb := bank.NewMemoryBank()
	l := ledger.New(mb, asset, 2, nil)

	if err := l.RegisterHolder(policy, "a"); err != nil {
		t.Fatal(err)
	}
	if err := l.RegisterHolder(policy, "b"); err != nil {
		t.Fatal(err)
	}
	if err := l.RegisterHolder(policy, "c"); !errors.Is(err, ledger.ErrTooManyHolders) {
		t.Fatalf("expected ErrTooManyHolders, got %v", err)
	}
	// Existing holders can still re-register.
	if err := l.RegisterHolder(policy, "a"); err != nil {
		t.Errorf("re-register of existing holder failed: %v", err)
	}
	// A full registry also blocks mints to new accounts.
	if err := l.Mint(policy, "c", 10); !errors.Is(err, ledger.ErrTooManyHolders) {
		t.Fatalf("expected ErrTooManyHolders from mint, got %v", err)
	}
}

// --- Distribution ---

func TestDistributeProRata(t *testing.T) {
	l, mb := newTestLedger(t)
	l.Mint(policy, "alice", 600)
	l.Mint(policy, "bob", 400)
	mb.Deposit(asset, "pool", 100)

	if err := l.Distribute(context.Background(), policy, "pool", 100); err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	if got := mb.Balance(asset, "alice"); !got.Equal(decimal.NewFromInt(60)) {
		t.Errorf("alice payout = %s, want 60", got)
	}
	if got := mb.Balance(asset, "bob"); !got.Equal(decimal.NewFromInt(40)) {
		t.Errorf("bob payout = %s, want 40", got)
	}
	if got := mb.Balance(asset, "pool"); !got.IsZero() {
		t.Errorf("pool remainder = %s, want 0", got)
	}
}

// The floor-division remainder stays with the source account. This is a
// deliberate rounding policy; if it changes, payout totals change too.
func TestDistributeRemainderStaysWithSource(t *testing.T) {
	l, mb := newTestLedger(t)
	l.Mint(policy, "alice", 600)
	l.Mint(policy, "bob", 400)
	mb.Deposit(asset, "pool", 101)

	if err := l.Distribute(context.Background(), policy, "pool", 101); err != nil {
		t.Fatalf("distribute failed: %v", err)
	}

	if got := mb.Balance(asset, "alice"); !got.Equal(decimal.NewFromInt(60)) {
		t.Errorf("alice payout = %s, want 60", got)
	}
	if got := mb.Balance(asset, "bob"); !got.Equal(decimal.NewFromInt(40)) {
		t.Errorf("bob payout = %s, want 40", got)
	}
	if got := mb.Balance(asset, "pool"); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("pool remainder = %s, want 1", got)
	}
}

func TestDistributeCountsLockedShares(t *testing.T) {
	l, mb := newTestLedger(t)
	l.Mint(policy, "alice", 600)
	l.Mint(policy, "bob", 400)
	l.Lock(policy, "alice", 600) // entire position behind an ask
	mb.Deposit(asset, "pool", 100)

	if err := l.Distribute(context.Background(), policy, "pool", 100); err != nil {
		t.Fatalf("distribute failed: %v", err)
	}
	if got := mb.Balance(asset, "alice"); !got.Equal(decimal.NewFromInt(60)) {
		t.Errorf("locked shares must count toward payout, alice = %s", got)
	}
}

func TestDistributeNoShares(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Distribute(context.Background(), policy, "pool", 100)
	if !errors.Is(err, ledger.ErrNoShares) {
		t.Fatalf("expected ErrNoShares, got %v", err)
	}
}

func TestDistributeTransferFailure(t *testing.T) {
	l, mb := newTestLedger(t)
	l.Mint(policy, "alice", 600)
	l.Mint(policy, "bob", 400)
	mb.Deposit(asset, "pool", 50) // cannot cover the 100 payout

	err := l.Distribute(context.Background(), policy, "pool", 100)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	// No partial payout.
	if got := mb.Balance(asset, "alice"); !got.IsZero() {
		t.Errorf("alice received partial payout: %s", got)
	}
	if got := mb.Balance(asset, "pool"); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("pool balance = %s, want 50", got)
	}
}

// --- Cleanup ---

func TestCleanup(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 600)
	l.Mint(policy, "bob", 400)
	l.Lock(policy, "alice", 100)

	l.Cleanup(policy)

	for _, account := range []string{"alice", "bob"} {
		if got := l.Balance(policy, account); got != 0 {
			t.Errorf("%s free = %d after cleanup, want 0", account, got)
		}
		if got := l.LockedBalance(policy, account); got != 0 {
			t.Errorf("%s locked = %d after cleanup, want 0", account, got)
		}
	}
	if got := l.TotalShares(policy); got != 0 {
		t.Errorf("supply = %d after cleanup, want 0", got)
	}
	if holders := l.Holders(policy); len(holders) != 0 {
		t.Errorf("holders = %v after cleanup, want empty", holders)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(policy, "alice", 100)

	l.Cleanup(policy)
	l.Cleanup(policy) // second run is a no-op

	if got := l.TotalShares(policy); got != 0 {
		t.Errorf("supply = %d, want 0", got)
	}
	// The policy can be reused after cleanup.
	if err := l.Mint(policy, "carol", 5); err != nil {
		t.Fatalf("mint after cleanup failed: %v", err)
	}
	checkConservation(t, l, policy, "carol")
}

func TestCleanupScopedToPolicy(t *testing.T) {
	l, _ := newTestLedger(t)
	other := model.PolicyID(2)
	l.Mint(policy, "alice", 100)
	l.Mint(other, "alice", 700)

	l.Cleanup(policy)

	if got := l.Balance(other, "alice"); got != 700 {
		t.Errorf("cleanup leaked across policies, balance = %d", got)
	}
}

func TestReadsDefaultToZero(t *testing.T) {
	l, _ := newTestLedger(t)

	if got := l.Balance(99, "nobody"); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if got := l.LockedBalance(99, "nobody"); got != 0 {
		t.Errorf("locked = %d, want 0", got)
	}
	if got := l.TotalShares(99); got != 0 {
		t.Errorf("supply = %d, want 0", got)
	}
}
