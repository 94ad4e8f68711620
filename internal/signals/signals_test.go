package signals

import (
	"context"
	"testing"
	"time"

	"github.com/halfmoonlabs/vita/internal/types"
)

func TestFuseAssemblesAvailableCategories(t *testing.T) {
	p := NewStatic()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	p.SetMotion(&MotionReading{Variance: 0.2, Magnitude: 1.1, ActivityLabel: "walking", At: now})
	p.SetLocation(&LocationReading{Label: types.LocHome, AccuracyM: 20, At: now})

	f := NewFuser(p, time.Second)
	f.SetClock(func() time.Time { return now })

	snap := f.Fuse(context.Background())
	if snap.Categories() != 2 {
		t.Errorf("Expected 2 categories, got %d", snap.Categories())
	}
	if snap.Motion == nil || snap.Motion.ActivityLabel != "walking" {
		t.Error("Expected motion reading to survive fusion")
	}
	if snap.Connectivity != nil || snap.Power != nil {
		t.Error("Unset categories should stay nil")
	}
	if snap.Hour != 9 {
		t.Errorf("Expected hour 9, got %d", snap.Hour)
	}
}

func TestFuseEmptyProvider(t *testing.T) {
	f := NewFuser(NewStatic(), time.Second)
	snap := f.Fuse(context.Background())
	if snap.Categories() != 0 {
		t.Errorf("Expected 0 categories, got %d", snap.Categories())
	}
}

func TestFreshness(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"now", now, 1.0},
		{"half", now.Add(-30 * time.Second), 0.5},
		{"stale", now.Add(-2 * time.Minute), 0.0},
		{"zero", time.Time{}, 0.0},
	}
	for _, tc := range cases {
		got := Freshness(tc.at, now, time.Minute)
		if diff := got - tc.want; diff > 0.01 || diff < -0.01 {
			t.Errorf("%s: Freshness = %.2f, want %.2f", tc.name, got, tc.want)
		}
	}
}
