// Package breaker guards calls to flaky external dependencies. Each
// dependency gets an independent breaker: repeated failures open it for a
// cooldown window, and it self-heals once the window passes.
package breaker

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/types"
)

const stateKey = "breaker/state"

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           // consecutive-ish failures that open the breaker
	SuccessThreshold int           // successes while open that close it early
	Cooldown         time.Duration // how long an open breaker stays open
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	}
}

// State is one breaker's persisted state.
type State struct {
	IsOpen        bool      `json:"is_open"`
	FailureCount  int       `json:"failure_count"`
	SuccessCount  int       `json:"success_count"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Registry holds one breaker per dependency key.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	st       store.Store
	breakers map[types.Dependency]*State
	now      func() time.Time
}

// New creates a registry, restoring persisted breaker state. Corrupt state
// is discarded and all breakers start closed.
func New(cfg Config, st store.Store) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	r := &Registry{
		cfg:      cfg,
		st:       st,
		breakers: make(map[types.Dependency]*State),
		now:      time.Now,
	}
	r.load()
	return r
}

// SetClock overrides the time source (tests).
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// IsOpen reports whether calls to dep should be short-circuited. An open
// breaker whose cooldown has elapsed self-heals here: it closes and its
// failure count resets, so reopening requires a fresh threshold breach.
func (r *Registry) IsOpen(dep types.Dependency) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(dep)
	if !b.IsOpen {
		return false
	}
	if r.now().After(b.CooldownUntil) {
		b.IsOpen = false
		b.FailureCount = 0
		b.SuccessCount = 0
		r.persist()
		log.Printf("[breaker] %s cooldown elapsed, self-healed", dep)
		return false
	}
	return true
}

// RecordFailure counts a failed call against dep, opening the breaker when
// the threshold is reached.
func (r *Registry) RecordFailure(dep types.Dependency) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(dep)
	b.FailureCount++
	b.LastFailureAt = r.now()
	if !b.IsOpen && b.FailureCount >= r.cfg.FailureThreshold {
		b.IsOpen = true
		b.SuccessCount = 0
		b.CooldownUntil = r.now().Add(r.cfg.Cooldown)
		log.Printf("[breaker] %s opened after %d failures, cooldown until %s",
			dep, b.FailureCount, b.CooldownUntil.Format(time.RFC3339))
	}
	r.persist()
}

// RecordSuccess counts a successful call: it decays the failure count and,
// while open, enough successes close the breaker and reset both counters.
func (r *Registry) RecordSuccess(dep types.Dependency) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(dep)
	b.SuccessCount++
	if b.FailureCount > 0 {
		b.FailureCount--
	}
	if b.IsOpen && b.SuccessCount >= r.cfg.SuccessThreshold {
		b.IsOpen = false
		b.FailureCount = 0
		b.SuccessCount = 0
		log.Printf("[breaker] %s closed after recovery", dep)
	}
	r.persist()
}

// Snapshot returns a copy of every breaker's state, keyed by dependency.
func (r *Registry) Snapshot() map[types.Dependency]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[types.Dependency]State, len(r.breakers))
	for dep, b := range r.breakers {
		out[dep] = *b
	}
	return out
}

func (r *Registry) get(dep types.Dependency) *State {
	b, ok := r.breakers[dep]
	if !ok {
		b = &State{}
		r.breakers[dep] = b
	}
	return b
}

func (r *Registry) load() {
	if r.st == nil {
		return
	}
	data, ok, err := r.st.Get(stateKey)
	if err != nil {
		log.Printf("[breaker] failed to load state: %v", err)
		return
	}
	if !ok {
		return
	}
	var m map[types.Dependency]*State
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("[breaker] corrupt stored state, starting closed: %v", err)
		return
	}
	// Valid JSON can still carry a null map or null entries; treat those as
	// absent so every breaker starts closed instead of panicking later.
	for dep, b := range m {
		if b == nil {
			log.Printf("[breaker] null stored entry for %s, starting closed", dep)
			delete(m, dep)
		}
	}
	if m == nil {
		return
	}
	r.breakers = m
}

func (r *Registry) persist() {
	if r.st == nil {
		return
	}
	data, err := json.Marshal(r.breakers)
	if err != nil {
		log.Printf("[breaker] failed to marshal state: %v", err)
		return
	}
	if err := r.st.Set(stateKey, data); err != nil {
		log.Printf("[breaker] failed to persist state: %v", err)
	}
}
