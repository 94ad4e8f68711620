package inspect

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/halfmoonlabs/vita/internal/activity"
	"github.com/halfmoonlabs/vita/internal/budget"
	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/types"
)

func TestEmptyStoreYieldsNilSections(t *testing.T) {
	insp := NewInspectorWithStore(store.NewMemory(), t.TempDir())

	summary, err := insp.Summary()
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Context != nil {
		t.Error("expected nil context")
	}
	if summary.Budget != nil {
		t.Error("expected nil budget")
	}
	if len(summary.Breakers) != 0 {
		t.Errorf("expected no breakers, got %d", len(summary.Breakers))
	}
	if summary.Activity != 0 {
		t.Errorf("expected 0 activity entries, got %d", summary.Activity)
	}
}

func TestReadsPersistedState(t *testing.T) {
	st := store.NewMemory()
	dir := t.TempDir()

	snap := types.ContextSnapshot{
		State:      types.StateWorking,
		Confidence: 0.8,
		UpdatedAt:  time.Now(),
	}
	data, _ := json.Marshal(snap)
	if err := st.Set(snapshotKey, data); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	bstate := budget.State{Balance: 42}
	data, _ = json.Marshal(bstate)
	if err := st.Set(budgetKey, data); err != nil {
		t.Fatalf("seed budget: %v", err)
	}

	act := activity.New(dir)
	if err := act.Commit(types.StateUnknown, types.StateWorking, 0.8); err != nil {
		t.Fatalf("append activity: %v", err)
	}

	insp := NewInspectorWithStore(st, dir)

	got, err := insp.Context()
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if got == nil || got.State != types.StateWorking {
		t.Errorf("expected working snapshot, got %+v", got)
	}

	b, err := insp.Budget()
	if err != nil {
		t.Fatalf("Budget: %v", err)
	}
	if b == nil || b.Balance != 42 {
		t.Errorf("expected balance 42, got %+v", b)
	}

	entries, err := insp.TailActivity(10)
	if err != nil {
		t.Fatalf("TailActivity: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != activity.TypeCommit {
		t.Errorf("expected one commit entry, got %+v", entries)
	}
}
