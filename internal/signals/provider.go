package signals

import (
	"context"
	"log"
	"sync"
	"time"
)

// Provider yields point-in-time sensor readings. Every method may return
// (nil, nil) when that signal category is unavailable; a missing category is
// never an error, it only lowers downstream confidence.
type Provider interface {
	Motion(ctx context.Context) (*MotionReading, error)
	Location(ctx context.Context) (*LocationReading, error)
	Connectivity(ctx context.Context) (*ConnectivityReading, error)
	Power(ctx context.Context) (*PowerReading, error)
}

// SleepProvider reports whether an external sleep-detection session is
// currently active. Overrides classification when true.
type SleepProvider interface {
	InSleepSession(ctx context.Context) (bool, error)
}

// Fuser assembles one Snapshot per poll tick from a Provider, with a bounded
// per-read timeout so a hung sensor cannot stall the poll loop.
type Fuser struct {
	provider    Provider
	readTimeout time.Duration
	now         func() time.Time
}

// NewFuser wraps a provider. readTimeout bounds each sensor read; zero means
// the 2s default.
func NewFuser(provider Provider, readTimeout time.Duration) *Fuser {
	if readTimeout <= 0 {
		readTimeout = 2 * time.Second
	}
	return &Fuser{provider: provider, readTimeout: readTimeout, now: time.Now}
}

// SetClock overrides the time source (tests).
func (f *Fuser) SetClock(now func() time.Time) { f.now = now }

// Fuse reads all signal categories concurrently and assembles a snapshot.
// Individual read failures are logged and leave that category nil.
func (f *Fuser) Fuse(ctx context.Context) *Snapshot {
	now := f.now()
	snap := &Snapshot{
		TakenAt: now,
		Hour:    now.Hour(),
		Weekday: now.Weekday(),
	}

	var wg sync.WaitGroup
	read := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, f.readTimeout)
			defer cancel()
			if err := fn(rctx); err != nil {
				log.Printf("[signals] %s read failed: %v", name, err)
			}
		}()
	}

	var mu sync.Mutex
	read("motion", func(rctx context.Context) error {
		r, err := f.provider.Motion(rctx)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.Motion = r
		mu.Unlock()
		return nil
	})
	read("location", func(rctx context.Context) error {
		r, err := f.provider.Location(rctx)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.Location = r
		mu.Unlock()
		return nil
	})
	read("connectivity", func(rctx context.Context) error {
		r, err := f.provider.Connectivity(rctx)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.Connectivity = r
		mu.Unlock()
		return nil
	})
	read("power", func(rctx context.Context) error {
		r, err := f.provider.Power(rctx)
		if err != nil {
			return err
		}
		mu.Lock()
		snap.Power = r
		mu.Unlock()
		return nil
	})

	wg.Wait()
	return snap
}
