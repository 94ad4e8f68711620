package breaker

import (
	"testing"
	"time"

	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	r := New(DefaultConfig(), store.NewMemory())
	r.SetClock(clk.Now)
	return r, clk
}

func TestOpensAtExactThreshold(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 0; i < DefaultConfig().FailureThreshold-1; i++ {
		r.RecordFailure(types.DepInference)
		if r.IsOpen(types.DepInference) {
			t.Fatalf("Open after %d failures, threshold is %d", i+1, DefaultConfig().FailureThreshold)
		}
	}
	r.RecordFailure(types.DepInference)
	if !r.IsOpen(types.DepInference) {
		t.Error("Expected open after threshold failures")
	}
}

func TestSelfHealsAfterCooldown(t *testing.T) {
	r, clk := newTestRegistry(t)

	for i := 0; i < DefaultConfig().FailureThreshold; i++ {
		r.RecordFailure(types.DepStore)
	}
	if !r.IsOpen(types.DepStore) {
		t.Fatal("Expected open")
	}

	clk.Advance(DefaultConfig().Cooldown + time.Second)
	if r.IsOpen(types.DepStore) {
		t.Fatal("Expected self-heal after cooldown")
	}

	// Reopening requires a fresh threshold breach: the old count is gone.
	snap := r.Snapshot()[types.DepStore]
	if snap.FailureCount != 0 {
		t.Errorf("Failure count = %d after self-heal, want 0", snap.FailureCount)
	}
	r.RecordFailure(types.DepStore)
	if r.IsOpen(types.DepStore) {
		t.Error("One failure after self-heal must not reopen")
	}
}

func TestSuccessesCloseOpenBreaker(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 0; i < DefaultConfig().FailureThreshold; i++ {
		r.RecordFailure(types.DepNetwork)
	}
	for i := 0; i < DefaultConfig().SuccessThreshold; i++ {
		r.RecordSuccess(types.DepNetwork)
	}
	if r.IsOpen(types.DepNetwork) {
		t.Error("Expected breaker closed after success threshold")
	}
	snap := r.Snapshot()[types.DepNetwork]
	if snap.FailureCount != 0 || snap.SuccessCount != 0 {
		t.Errorf("Counters not reset on close: %+v", snap)
	}
}

func TestSuccessDecaysFailureCount(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.RecordFailure(types.DepPlatform)
	r.RecordFailure(types.DepPlatform)
	r.RecordSuccess(types.DepPlatform)
	// Decayed to 1; one more failure is only 2 of 3.
	r.RecordFailure(types.DepPlatform)
	if r.IsOpen(types.DepPlatform) {
		t.Error("Decayed count should not reach the threshold")
	}
}

func TestDependenciesAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(t)

	for i := 0; i < DefaultConfig().FailureThreshold; i++ {
		r.RecordFailure(types.DepInference)
	}
	if !r.IsOpen(types.DepInference) {
		t.Fatal("Expected inference open")
	}
	if r.IsOpen(types.DepStore) || r.IsOpen(types.DepNetwork) || r.IsOpen(types.DepPlatform) {
		t.Error("Unrelated breakers must stay closed")
	}
}

func TestCorruptStateStartsClosed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "{{{"},
		{"null map", "null"},
		{"null entry", `{"inference":null}`},
		{"mixed null entry", `{"inference":null,"store":{"is_open":true,"cooldown_until":"2099-01-01T00:00:00Z"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := store.NewMemory()
			if err := st.Set(stateKey, []byte(tc.data)); err != nil {
				t.Fatalf("seed state: %v", err)
			}

			r := New(DefaultConfig(), st)
			if r.IsOpen(types.DepInference) {
				t.Error("Breaker with bad stored entry must start closed")
			}
			// Still usable: failures count from zero.
			r.RecordFailure(types.DepInference)
			if r.IsOpen(types.DepInference) {
				t.Error("One failure after reinit must not open")
			}
		})
	}
}

func TestValidEntriesSurviveNullSibling(t *testing.T) {
	st := store.NewMemory()
	if err := st.Set(stateKey, []byte(`{"inference":null,"store":{"is_open":true,"failure_count":3,"cooldown_until":"2099-01-01T00:00:00Z"}}`)); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	r := New(DefaultConfig(), st)
	r.SetClock((&fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}).Now)
	if !r.IsOpen(types.DepStore) {
		t.Error("Valid stored entry should be kept")
	}
	if r.IsOpen(types.DepInference) {
		t.Error("Null stored entry should be dropped, not kept open")
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	st := store.NewMemory()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}

	r := New(DefaultConfig(), st)
	r.SetClock(clk.Now)
	for i := 0; i < DefaultConfig().FailureThreshold; i++ {
		r.RecordFailure(types.DepInference)
	}

	r2 := New(DefaultConfig(), st)
	r2.SetClock(clk.Now)
	if !r2.IsOpen(types.DepInference) {
		t.Error("Open breaker should survive restart")
	}
}
