package stabilize

import (
	"testing"
	"time"

	"github.com/halfmoonlabs/vita/internal/classify"
	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/types"
)

func result(state types.UserState, conf float64) classify.Result {
	return classify.Result{
		State:      state,
		Movement:   types.MoveStationary,
		Location:   types.LocHome,
		Confidence: conf,
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	e := New(DefaultConfig(), store.NewMemory())
	e.SetClock(clk.Now)
	return e, clk
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time             { return c.t }
func (c *fakeClock) Advance(d time.Duration)    { c.t = c.t.Add(d) }

func TestSingleObservationDoesNotCommit(t *testing.T) {
	e, _ := newTestEngine(t)

	snap, changed := e.Observe(result(types.StateWorking, 0.8))
	if changed {
		t.Error("One observation must not commit")
	}
	if snap != nil {
		t.Errorf("Expected no committed snapshot yet, got %v", snap)
	}
}

func TestSecondObservationCommits(t *testing.T) {
	e, clk := newTestEngine(t)

	e.Observe(result(types.StateWorking, 0.8))
	clk.Advance(5 * time.Second)
	snap, changed := e.Observe(result(types.StateWorking, 0.8))
	if !changed {
		t.Fatal("Second matching observation should commit")
	}
	if snap.State != types.StateWorking {
		t.Errorf("Committed %s, want working", snap.State)
	}
}

func TestElapsedTimeCommitsBeforeObservationCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinObservations = 5 // force the elapsed-time path
	clk := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	e := New(cfg, store.NewMemory())
	e.SetClock(clk.Now)

	e.Observe(result(types.StateResting, 0.6))
	clk.Advance(61 * time.Second)
	// Only the second observation, but the candidate is past the max age.
	snap, changed := e.Observe(result(types.StateResting, 0.6))
	if !changed {
		t.Fatal("Candidate older than 60s should commit regardless of count")
	}
	if snap.State != types.StateResting {
		t.Errorf("Committed %s, want resting", snap.State)
	}
}

func TestDifferingCandidateResetsPending(t *testing.T) {
	e, clk := newTestEngine(t)

	e.Observe(result(types.StateWorking, 0.8))
	clk.Advance(5 * time.Second)
	// Flicker to a different state: replaces the pending candidate.
	_, changed := e.Observe(result(types.StateWalking, 0.8))
	if changed {
		t.Error("Replaced candidate must not commit")
	}
	clk.Advance(5 * time.Second)
	// Back to working: this is observation 1 of a fresh candidate.
	_, changed = e.Observe(result(types.StateWorking, 0.8))
	if changed {
		t.Error("Fresh candidate must not commit on first observation")
	}
	clk.Advance(5 * time.Second)
	_, changed = e.Observe(result(types.StateWorking, 0.8))
	if !changed {
		t.Error("Second observation of fresh candidate should commit")
	}
}

func TestMatchingCommittedClearsPending(t *testing.T) {
	e, clk := newTestEngine(t)

	// Commit working.
	e.Observe(result(types.StateWorking, 0.8))
	clk.Advance(time.Second)
	e.Observe(result(types.StateWorking, 0.8))

	// One stray walking observation...
	clk.Advance(time.Second)
	e.Observe(result(types.StateWalking, 0.8))
	// ...then back to the committed state, which clears the candidate.
	clk.Advance(time.Second)
	e.Observe(result(types.StateWorking, 0.8))
	// A second stray walking observation now must NOT commit: the earlier
	// candidate was cleared, so this is observation 1.
	clk.Advance(time.Second)
	_, changed := e.Observe(result(types.StateWalking, 0.8))
	if changed {
		t.Error("Pending candidate should have been cleared by the committed match")
	}
}

func TestCommittedChangesLessOftenThanRaw(t *testing.T) {
	e, clk := newTestEngine(t)

	// Alternate raw states every tick: raw changes each time, committed never
	// should (no candidate ever gets two matching observations inside 60s).
	states := []types.UserState{
		types.StateWorking, types.StateWalking, types.StateWorking,
		types.StateWalking, types.StateWorking, types.StateWalking,
	}
	commits := 0
	for _, s := range states {
		_, changed := e.Observe(result(s, 0.8))
		if changed {
			commits++
		}
		clk.Advance(5 * time.Second)
	}
	rawChanges := len(states) - 1
	if commits >= rawChanges {
		t.Errorf("Committed changed %d times vs %d raw changes; stabilization failed", commits, rawChanges)
	}
	if commits != 0 {
		t.Errorf("Pure flicker should never commit, got %d commits", commits)
	}
}

func TestConfidenceBucketWobbleIsNotAChange(t *testing.T) {
	e, clk := newTestEngine(t)

	e.Observe(result(types.StateWorking, 0.80))
	clk.Advance(time.Second)
	e.Observe(result(types.StateWorking, 0.80))

	// 0.80 and 0.95 land in different buckets only if they cross a 0.25
	// boundary; 0.80 -> 0.84 does not.
	clk.Advance(time.Second)
	_, changed := e.Observe(result(types.StateWorking, 0.84))
	if changed {
		t.Error("Sub-bucket confidence wobble must not commit a change")
	}
}

func TestPersistAndRestore(t *testing.T) {
	st := store.NewMemory()
	clk := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}

	e := New(DefaultConfig(), st)
	e.SetClock(clk.Now)
	e.Observe(result(types.StateWorking, 0.8))
	clk.Advance(time.Second)
	e.Observe(result(types.StateWorking, 0.8))

	// New engine over the same store sees the committed snapshot.
	e2 := New(DefaultConfig(), st)
	got := e2.Committed()
	if got == nil || got.State != types.StateWorking {
		t.Fatalf("Expected restored working snapshot, got %v", got)
	}
}

func TestCorruptStoredSnapshotIsIgnored(t *testing.T) {
	st := store.NewMemory()
	st.Set("context/committed", []byte("{not json"))

	e := New(DefaultConfig(), st)
	if e.Committed() != nil {
		t.Error("Corrupt snapshot should be treated as absent")
	}
}
