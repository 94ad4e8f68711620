package store

import (
	"bytes"
	"testing"
)

func TestSQLiteRoundTrip(t *testing.T) {
	s, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	// Missing key
	_, ok, err := s.Get("missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Expected missing key to report ok=false")
	}

	// Set and get
	if err := s.Set("snapshot", []byte(`{"state":"working"}`)); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get("snapshot")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !bytes.Equal(v, []byte(`{"state":"working"}`)) {
		t.Errorf("Got %q ok=%v, want stored value", v, ok)
	}

	// Overwrite
	if err := s.Set("snapshot", []byte(`{"state":"resting"}`)); err != nil {
		t.Fatal(err)
	}
	v, _, _ = s.Get("snapshot")
	if !bytes.Equal(v, []byte(`{"state":"resting"}`)) {
		t.Errorf("Got %q after overwrite", v)
	}

	// Remove, then remove again (should not error)
	if err := s.Remove("snapshot"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("snapshot"); err != nil {
		t.Errorf("Removing missing key should not error: %v", err)
	}
	_, ok, _ = s.Get("snapshot")
	if ok {
		t.Error("Expected key gone after remove")
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	m := NewMemory()
	orig := []byte("abc")
	if err := m.Set("k", orig); err != nil {
		t.Fatal(err)
	}
	orig[0] = 'z' // caller mutation must not leak into the store

	v, ok, _ := m.Get("k")
	if !ok || string(v) != "abc" {
		t.Errorf("Got %q, want %q", v, "abc")
	}
}
