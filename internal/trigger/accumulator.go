// Package trigger accumulates many small behavioral events into a few
// refinement requests. Each category counts toward its own threshold; a
// crossing hands a prioritized request to the refinement scheduler.
package trigger

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/types"
)

const countersKey = "trigger/counters"

const dayKeyFormat = "2006-01-02"

// RequestFunc receives a refinement request when a category threshold is
// met, along with the rule that produced it.
type RequestFunc func(req types.RefinementRequest, rule Rule)

// Deviation is one recorded behavioral deviation, kept until the next
// refinement actually dispatches.
type Deviation struct {
	Category types.EventCategory `json:"category"`
	Amount   float64             `json:"amount"`
	At       time.Time           `json:"at"`
}

// counterState is the persisted per-day accumulator state.
type counterState struct {
	DayKey     string                          `json:"day_key"`
	Counts     map[types.EventCategory]float64 `json:"counts"`
	Deviations []Deviation                     `json:"deviations,omitempty"`
}

// Accumulator tracks per-category, per-calendar-day counters.
type Accumulator struct {
	mu        sync.Mutex
	rules     map[types.EventCategory]Rule
	state     counterState
	st        store.Store
	now       func() time.Time
	onRequest RequestFunc
}

// New creates an accumulator with the given rules, restoring persisted
// counters. Corrupt state resets to zero.
func New(rules map[types.EventCategory]Rule, st store.Store) *Accumulator {
	if rules == nil {
		rules = DefaultRules()
	}
	a := &Accumulator{rules: rules, st: st, now: time.Now}
	a.load()
	return a
}

// SetClock overrides the time source (tests).
func (a *Accumulator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// SetRequestFunc registers the refinement scheduler callback.
func (a *Accumulator) SetRequestFunc(fn RequestFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onRequest = fn
}

// Record adds amount to a category's counter (amount <= 0 counts as 1).
// Crossing, or sitting at, the category threshold emits a refinement
// request; the counter itself is reset only when a refinement actually
// dispatches, so unserved thresholds re-fire on the next event.
func (a *Accumulator) Record(category types.EventCategory, amount float64) {
	a.mu.Lock()

	rule, ok := a.rules[category]
	if !ok {
		a.mu.Unlock()
		log.Printf("[trigger] ignoring unknown category %q", category)
		return
	}
	if amount <= 0 {
		amount = 1
	}

	now := a.now()
	a.rolloverLocked(now)
	a.state.Counts[category] += amount
	a.state.Deviations = append(a.state.Deviations, Deviation{Category: category, Amount: amount, At: now})
	count := a.state.Counts[category]
	a.persist()

	fire := count >= rule.Threshold
	onRequest := a.onRequest
	a.mu.Unlock()

	if !fire || onRequest == nil {
		return
	}

	req := types.RefinementRequest{
		ID:          uuid.NewString(),
		Priority:    rule.PriorityValue(),
		Reason:      string(category),
		Category:    category,
		RequestedAt: now,
	}
	log.Printf("[trigger] %s reached %.0f/%.0f, requesting refinement (%s)",
		category, count, rule.Threshold, req.Priority)
	onRequest(req, rule)
}

// Counts returns a copy of today's counters.
func (a *Accumulator) Counts() map[types.EventCategory]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverLocked(a.now())
	out := make(map[types.EventCategory]float64, len(a.state.Counts))
	for k, v := range a.state.Counts {
		out[k] = v
	}
	return out
}

// Deviations returns the recorded deviations since the last dispatch.
func (a *Accumulator) Deviations() []Deviation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Deviation, len(a.state.Deviations))
	copy(out, a.state.Deviations)
	return out
}

// ResetAll clears every counter and the deviation log. Called by the
// refinement scheduler on the request that actually dispatched.
func (a *Accumulator) ResetAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Counts = make(map[types.EventCategory]float64)
	a.state.Deviations = nil
	a.persist()
	log.Printf("[trigger] counters reset after dispatch")
}

// Rules returns the active rule set.
func (a *Accumulator) Rules() map[types.EventCategory]Rule {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[types.EventCategory]Rule, len(a.rules))
	for k, v := range a.rules {
		out[k] = v
	}
	return out
}

func (a *Accumulator) rolloverLocked(now time.Time) {
	key := now.Format(dayKeyFormat)
	if a.state.DayKey == key {
		return
	}
	a.state.DayKey = key
	a.state.Counts = make(map[types.EventCategory]float64)
	a.state.Deviations = nil
	a.persist()
}

func (a *Accumulator) load() {
	a.state = counterState{
		DayKey: a.now().Format(dayKeyFormat),
		Counts: make(map[types.EventCategory]float64),
	}
	if a.st == nil {
		return
	}
	data, ok, err := a.st.Get(countersKey)
	if err != nil {
		log.Printf("[trigger] failed to load counters: %v", err)
		return
	}
	if !ok {
		return
	}
	var s counterState
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("[trigger] corrupt stored counters, resetting: %v", err)
		return
	}
	if s.Counts == nil {
		s.Counts = make(map[types.EventCategory]float64)
	}
	a.state = s
}

func (a *Accumulator) persist() {
	if a.st == nil {
		return
	}
	data, err := json.Marshal(a.state)
	if err != nil {
		log.Printf("[trigger] failed to marshal counters: %v", err)
		return
	}
	if err := a.st.Set(countersKey, data); err != nil {
		log.Printf("[trigger] failed to persist counters: %v", err)
	}
}
