// Package refine decides when the expensive downstream plan-refinement job
// actually runs. It coalesces bursts of requests behind one debounce timer,
// enforces a global cooldown between runs, and gates every dispatch on the
// budget ledger and the inference circuit breaker.
package refine

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halfmoonlabs/vita/internal/breaker"
	"github.com/halfmoonlabs/vita/internal/budget"
	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/trigger"
	"github.com/halfmoonlabs/vita/internal/types"
)

const lastFiredKey = "refine/last_fired"

// JobRunner submits one unit of work to the external inference provider.
type JobRunner interface {
	Run(ctx context.Context, job types.Job) error
}

// Config holds scheduler tuning.
type Config struct {
	GlobalCooldown  time.Duration // minimum spacing between dispatched jobs
	JobCost         int           // budget units per dispatch
	JobType         string
	DispatchTimeout time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		GlobalCooldown:  30 * time.Minute,
		JobCost:         15,
		JobType:         "plan_refinement",
		DispatchTimeout: 30 * time.Second,
	}
}

// Outcome reports what happened to a fired request.
type Outcome string

const (
	OutcomeDispatched      Outcome = "dispatched"
	OutcomeDroppedCooldown Outcome = "dropped_cooldown"
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	OutcomeBreakerOpen     Outcome = "breaker_open"
	OutcomeDispatchFailed  Outcome = "dispatch_failed"
)

// Scheduler owns the single debounce timer and the global cooldown.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config

	ledger   *budget.Ledger
	breakers *breaker.Registry
	runner   JobRunner
	acc      *trigger.Accumulator
	st       store.Store

	// debounce state machine: idle -> armed(deadline) -> fired
	timer    *time.Timer
	pending  *types.RefinementRequest
	deadline time.Time

	lastFiredAt time.Time
	inFlight    bool
	stopped     bool
	now         func() time.Time

	onOutcome func(req types.RefinementRequest, outcome Outcome) // optional observer
}

// New creates a scheduler, restoring the last firing timestamp from the
// store so the global cooldown survives restarts.
func New(cfg Config, ledger *budget.Ledger, breakers *breaker.Registry, runner JobRunner, acc *trigger.Accumulator, st store.Store) *Scheduler {
	if cfg.GlobalCooldown <= 0 {
		cfg = DefaultConfig()
	}
	s := &Scheduler{
		cfg:      cfg,
		ledger:   ledger,
		breakers: breakers,
		runner:   runner,
		acc:      acc,
		st:       st,
		now:      time.Now,
	}
	s.load()
	return s
}

// SetClock overrides the time source (tests).
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetOutcomeFunc registers an observer for firing outcomes.
func (s *Scheduler) SetOutcomeFunc(fn func(types.RefinementRequest, Outcome)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOutcome = fn
}

// LastFiredAt returns when a job last dispatched.
func (s *Scheduler) LastFiredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFiredAt
}

// Request feeds one refinement request into the scheduler. Critical
// requests that bypass the cooldown fire immediately; everything else is
// dropped inside the global cooldown or coalesced behind the debounce timer.
func (s *Scheduler) Request(req types.RefinementRequest, rule trigger.Rule) {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return
	}

	now := s.now()
	if rule.BypassCooldown {
		s.mu.Unlock()
		log.Printf("[refine] %s bypasses cooldown, firing now", req.Category)
		// On its own goroutine so event intake never blocks on dispatch.
		go s.fire(req, true)
		return
	}

	if !s.lastFiredAt.IsZero() && now.Sub(s.lastFiredAt) < s.cfg.GlobalCooldown {
		s.mu.Unlock()
		log.Printf("[refine] dropping %s request: inside global cooldown (%v remaining)",
			req.Category, (s.cfg.GlobalCooldown - now.Sub(s.lastFiredAt)).Round(time.Second))
		s.report(req, OutcomeDroppedCooldown)
		return
	}

	deadline := now.Add(rule.Debounce())
	if s.pending == nil {
		s.arm(req, deadline)
		s.mu.Unlock()
		return
	}

	// Coalesce: one timer for the burst. The deadline only ever extends,
	// and a more important request takes over the pending slot.
	if req.Priority < s.pending.Priority {
		s.pending = &req
	}
	if deadline.After(s.deadline) {
		s.deadline = deadline
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = time.AfterFunc(deadline.Sub(now), s.timerFired)
	}
	s.mu.Unlock()
}

// arm transitions idle -> armed. Caller holds the lock.
func (s *Scheduler) arm(req types.RefinementRequest, deadline time.Time) {
	s.pending = &req
	s.deadline = deadline
	wait := deadline.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	s.timer = time.AfterFunc(wait, s.timerFired)
	log.Printf("[refine] armed debounce for %s (%v, priority %s)", req.Category, wait.Round(time.Millisecond), req.Priority)
}

func (s *Scheduler) timerFired() {
	s.mu.Lock()
	if s.stopped || s.pending == nil {
		s.mu.Unlock()
		return
	}
	req := *s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	s.fire(req, false)
}

// fire runs the cooldown, budget and breaker gates and dispatches exactly
// one job. The cooldown is re-checked here because a bypass dispatch may
// have run between arming and firing.
func (s *Scheduler) fire(req types.RefinementRequest, bypass bool) {
	s.mu.Lock()
	if s.stopped || s.inFlight {
		// A dispatch is already running; this firing is redundant.
		s.mu.Unlock()
		return
	}
	if !bypass {
		now := s.now()
		if !s.lastFiredAt.IsZero() && now.Sub(s.lastFiredAt) < s.cfg.GlobalCooldown {
			s.mu.Unlock()
			log.Printf("[refine] dropping %s at firing time: inside global cooldown", req.Category)
			s.report(req, OutcomeDroppedCooldown)
			return
		}
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	if s.breakers != nil && s.breakers.IsOpen(types.DepInference) {
		log.Printf("[refine] inference breaker open, skipping dispatch (%s)", req.Category)
		s.report(req, OutcomeBreakerOpen)
		return
	}

	if !s.ledger.Consume(s.cfg.JobCost) {
		// Counters stay put: the same threshold re-fires after a recharge.
		log.Printf("[refine] budget exhausted (%d/%d needed), aborting (%s)",
			s.ledger.Balance(), s.cfg.JobCost, req.Category)
		s.report(req, OutcomeBudgetExhausted)
		return
	}

	job := types.Job{
		ID:       uuid.NewString(),
		Type:     s.cfg.JobType,
		Priority: req.Priority,
		Payload: map[string]any{
			"reason":       req.Reason,
			"category":     string(req.Category),
			"requested_at": req.RequestedAt,
		},
	}
	if s.acc != nil {
		if devs := s.acc.Deviations(); len(devs) > 0 {
			job.Payload["deviations"] = devs
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DispatchTimeout)
	defer cancel()

	if err := s.runner.Run(ctx, job); err != nil {
		// Submission failed: record it against the provider's breaker and
		// refund the units so the standing threshold can retry later.
		log.Printf("[refine] dispatch failed: %v", err)
		if s.breakers != nil {
			s.breakers.RecordFailure(types.DepInference)
		}
		s.ledger.Recharge(s.cfg.JobCost)
		s.report(req, OutcomeDispatchFailed)
		return
	}
	if s.breakers != nil {
		s.breakers.RecordSuccess(types.DepInference)
	}

	s.mu.Lock()
	s.lastFiredAt = s.now()
	s.persist()
	// The dispatch satisfies whatever demand was armed; the debounce timer
	// must not fire a second job inside the cooldown.
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	s.mu.Unlock()

	if s.acc != nil {
		s.acc.ResetAll()
	}
	log.Printf("[refine] dispatched %s job %s (priority %s)", job.Type, job.ID, job.Priority)
	s.report(req, OutcomeDispatched)
}

// Resume re-enables a stopped scheduler.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
}

// Stop cancels the debounce timer and clears pending state. In-flight
// dispatch finishes on its own; the in-flight flag always clears, so a
// future start is never blocked.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}

func (s *Scheduler) report(req types.RefinementRequest, outcome Outcome) {
	s.mu.Lock()
	fn := s.onOutcome
	s.mu.Unlock()
	if fn != nil {
		fn(req, outcome)
	}
}

func (s *Scheduler) load() {
	if s.st == nil {
		return
	}
	data, ok, err := s.st.Get(lastFiredKey)
	if err != nil || !ok {
		return
	}
	var ts time.Time
	if err := json.Unmarshal(data, &ts); err != nil {
		log.Printf("[refine] corrupt last-fired timestamp, ignoring: %v", err)
		return
	}
	s.lastFiredAt = ts
}

// persist writes the last firing timestamp. Caller holds the lock.
func (s *Scheduler) persist() {
	if s.st == nil {
		return
	}
	data, err := json.Marshal(s.lastFiredAt)
	if err != nil {
		return
	}
	if err := s.st.Set(lastFiredKey, data); err != nil {
		log.Printf("[refine] failed to persist last-fired: %v", err)
	}
}
