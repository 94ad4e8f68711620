package activity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/halfmoonlabs/vita/internal/types"
)

func TestAppendAndRecent(t *testing.T) {
	l := New(t.TempDir())

	if err := l.Commit(types.StateUnknown, types.StateWorking, 0.8); err != nil {
		t.Fatal(err)
	}
	if err := l.Trigger(types.EventItemSkipped, types.PriorityHigh); err != nil {
		t.Fatal(err)
	}
	if err := l.Dispatch("job-1", types.EventItemSkipped); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Type != TypeCommit || entries[0].State != "working" {
		t.Errorf("First entry = %+v", entries[0])
	}
	if entries[2].Type != TypeDispatch {
		t.Errorf("Last entry = %+v", entries[2])
	}

	// Recent with a smaller n returns the tail.
	tail, _ := l.Recent(1)
	if len(tail) != 1 || tail[0].Type != TypeDispatch {
		t.Errorf("Tail = %+v", tail)
	}
}

func TestMissingFileIsEmpty(t *testing.T) {
	l := New(t.TempDir())
	entries, err := l.Recent(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty log, got %d entries", len(entries))
	}
}

func TestTornLineIsSkipped(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.Denied(TypeBudgetDenied, types.EventNapEnded, "balance 5, need 15")

	f, err := os.OpenFile(filepath.Join(dir, "activity.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{\"ts\":\"torn\n")
	f.Close()

	l.Commit(types.StateResting, types.StateSleeping, 0.9)

	entries, err := l.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected torn line skipped, got %d entries", len(entries))
	}
}
