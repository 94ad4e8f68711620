package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/halfmoonlabs/vita/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore, *fakeClock) {
	t.Helper()
	st := store.NewMemory()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	l := New(DefaultConfig(), st)
	l.SetClock(clk.Now)
	return l, st, clk
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestConsumeExactBalanceThenReject(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.RechargeToMax()
	// Drain to exactly 15.
	if !l.Consume(l.Max() - 15) {
		t.Fatal("Drain should succeed")
	}

	if !l.Consume(15) {
		t.Fatal("First consume of exact balance should succeed")
	}
	if l.Balance() != 0 {
		t.Errorf("Balance = %d, want 0", l.Balance())
	}
	if l.Consume(15) {
		t.Error("Second consume should fail")
	}
	if l.Balance() != 0 {
		t.Errorf("Failed consume mutated balance: %d", l.Balance())
	}
}

func TestInsufficientBalanceDoesNotMutate(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.RechargeToMax()
	l.Consume(l.Max() - 5) // balance 5

	if l.Consume(15) {
		t.Error("Consume beyond balance should fail")
	}
	if l.Balance() != 5 {
		t.Errorf("Balance = %d, want 5", l.Balance())
	}
}

func TestConcurrentConsumersNeverOverspend(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.RechargeToMax() // 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Consume(10) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("Expected exactly 10 successful consumes of 10 from 100, got %d", succeeded)
	}
	if l.Balance() != 0 {
		t.Errorf("Balance = %d, want 0", l.Balance())
	}
}

func TestRechargeClampsToMax(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.Consume(30)
	if got := l.Recharge(1000); got != l.Max() {
		t.Errorf("Recharge should clamp to max, got %d", got)
	}

	l.Consume(l.Max())
	if got := l.RechargeToMax(); got != l.Max() {
		t.Errorf("RechargeToMax from 0 = %d, want %d", got, l.Max())
	}
	if got := l.RechargeToMax(); got != l.Max() {
		t.Errorf("RechargeToMax from max = %d, want %d", got, l.Max())
	}
}

func TestNegativeConsumeRejected(t *testing.T) {
	l, _, _ := newTestLedger(t)
	before := l.Balance()
	if l.Consume(-5) {
		t.Error("Negative consume must fail")
	}
	if l.Balance() != before {
		t.Error("Negative consume mutated balance")
	}
}

func TestBonusDailyCap(t *testing.T) {
	l, _, clk := newTestLedger(t)
	l.Consume(l.Max()) // start empty so grants are visible

	for i := 0; i < DefaultConfig().BonusDailyCap; i++ {
		clk.Advance(21 * time.Minute) // past cooldown
		_, avail := l.RedeemBonus()
		if !avail.CanShow {
			t.Fatalf("Grant %d denied: %s", i+1, avail.Reason)
		}
	}

	clk.Advance(21 * time.Minute)
	before := l.Balance()
	_, avail := l.RedeemBonus()
	if avail.CanShow {
		t.Fatal("4th grant in one day should be denied")
	}
	if avail.Reason != DenialDailyCap {
		t.Errorf("Reason = %q, want daily_cap", avail.Reason)
	}
	if l.Balance() != before {
		t.Error("Denied grant mutated balance")
	}

	// Cap resets when the calendar day key changes.
	clk.Advance(24 * time.Hour)
	_, avail = l.RedeemBonus()
	if !avail.CanShow {
		t.Errorf("Grant after day rollover denied: %s", avail.Reason)
	}
}

func TestBonusCooldown(t *testing.T) {
	l, _, clk := newTestLedger(t)
	l.Consume(l.Max())

	if _, avail := l.RedeemBonus(); !avail.CanShow {
		t.Fatalf("First grant denied: %s", avail.Reason)
	}

	clk.Advance(time.Minute)
	_, avail := l.RedeemBonus()
	if avail.CanShow {
		t.Fatal("Grant inside cooldown should be denied")
	}
	if avail.Reason != DenialCooldown {
		t.Errorf("Reason = %q, want cooldown", avail.Reason)
	}
	if avail.RetryAt.IsZero() {
		t.Error("Cooldown denial should carry a retry time")
	}
}

func TestBonusStateSurvivesRestart(t *testing.T) {
	st := store.NewMemory()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}

	l := New(DefaultConfig(), st)
	l.SetClock(clk.Now)
	l.Consume(l.Max())
	for i := 0; i < DefaultConfig().BonusDailyCap; i++ {
		clk.Advance(21 * time.Minute)
		l.RedeemBonus()
	}

	// Restart: same day, cap must still be exhausted.
	l2 := New(DefaultConfig(), st)
	l2.SetClock(clk.Now)
	clk.Advance(21 * time.Minute)
	_, avail := l2.RedeemBonus()
	if avail.CanShow {
		t.Error("Restart must not re-grant bonus uses for the same day")
	}
}

func TestCorruptStateReinitializes(t *testing.T) {
	st := store.NewMemory()
	st.Set("budget/state", []byte("garbage"))

	l := New(DefaultConfig(), st)
	if l.Balance() != DefaultConfig().Max {
		t.Errorf("Corrupt state should reinitialize to full balance, got %d", l.Balance())
	}
}
