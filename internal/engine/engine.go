// Package engine wires the context pipeline together: signal fusion,
// classification, stabilization, polling, trigger accumulation, refinement
// scheduling, budget and circuit-breaker governance. One Engine instance
// owns all of that state; the host process talks only to this surface.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/halfmoonlabs/vita/internal/activity"
	"github.com/halfmoonlabs/vita/internal/breaker"
	"github.com/halfmoonlabs/vita/internal/budget"
	"github.com/halfmoonlabs/vita/internal/classify"
	"github.com/halfmoonlabs/vita/internal/poll"
	"github.com/halfmoonlabs/vita/internal/refine"
	"github.com/halfmoonlabs/vita/internal/signals"
	"github.com/halfmoonlabs/vita/internal/stabilize"
	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/trigger"
	"github.com/halfmoonlabs/vita/internal/types"
)

// PlatformSync receives every committed snapshot for out-of-process
// background workers.
type PlatformSync interface {
	SyncContext(ctx context.Context, snap types.ContextSnapshot) error
}

// IncentiveProvider shows the recharge incentive. A true result authorizes
// one bonus-recharge use.
type IncentiveProvider interface {
	ShowIncentive(ctx context.Context) (bool, error)
}

// Listener receives committed snapshots in commit order.
type Listener func(snap types.ContextSnapshot)

// Config aggregates per-component tuning.
type Config struct {
	StatePath string
	RulesDir  string // trigger rule overrides, empty for defaults only

	Classify  classify.Config
	Stabilize stabilize.Config
	Poll      poll.Config
	Budget    budget.Config
	Breaker   breaker.Config
	Refine    refine.Config
}

// DefaultConfig returns stock tuning with the given state path.
func DefaultConfig(statePath string) Config {
	return Config{
		StatePath: statePath,
		Classify:  classify.DefaultConfig(),
		Stabilize: stabilize.DefaultConfig(),
		Poll:      poll.DefaultConfig(),
		Budget:    budget.DefaultConfig(),
		Breaker:   breaker.DefaultConfig(),
		Refine:    refine.DefaultConfig(),
	}
}

// Deps are the externally-provided collaborators. Store, Signals and Runner
// are required; the rest are optional capabilities resolved once here.
type Deps struct {
	Store     store.Store
	Signals   signals.Provider
	Sleep     signals.SleepProvider // optional
	Runner    refine.JobRunner
	Platform  PlatformSync      // optional
	Incentive IncentiveProvider // optional
}

// Engine is the context decision engine.
type Engine struct {
	cfg  Config
	deps Deps

	fuser      *signals.Fuser
	classifier *classify.Classifier
	stab       *stabilize.Engine
	loop       *poll.Loop
	acc        *trigger.Accumulator
	sched      *refine.Scheduler
	ledger     *budget.Ledger
	breakers   *breaker.Registry
	act        *activity.Log

	mu        sync.Mutex
	listeners []Listener
	started   bool
}

// New builds a fully wired engine. Persisted component state is restored
// here; corrupt state falls back to safe defaults inside each component.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if deps.Signals == nil {
		return nil, fmt.Errorf("engine: signal provider is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("engine: job runner is required")
	}

	e := &Engine{cfg: cfg, deps: deps}
	e.fuser = signals.NewFuser(deps.Signals, 0)
	e.classifier = classify.New(cfg.Classify)
	e.stab = stabilize.New(cfg.Stabilize, deps.Store)
	e.ledger = budget.New(cfg.Budget, deps.Store)
	e.breakers = breaker.New(cfg.Breaker, deps.Store)
	e.acc = trigger.New(trigger.LoadRules(cfg.RulesDir), deps.Store)
	e.sched = refine.New(cfg.Refine, e.ledger, e.breakers, deps.Runner, e.acc, deps.Store)
	e.act = activity.New(cfg.StatePath)
	e.loop = poll.New(cfg.Poll, e.pollOnce)

	e.acc.SetRequestFunc(func(req types.RefinementRequest, rule trigger.Rule) {
		e.act.Trigger(req.Category, req.Priority)
		e.sched.Request(req, rule)
	})
	e.sched.SetOutcomeFunc(e.recordOutcome)

	return e, nil
}

// Start subscribes cb to committed snapshots and begins polling. cb may be
// nil for callers that only use the query surface.
func (e *Engine) Start(cb Listener) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine: already started")
	}
	e.started = true
	if cb != nil {
		e.listeners = append(e.listeners, cb)
	}
	e.mu.Unlock()

	e.sched.Resume()
	e.loop.Start()
	log.Printf("[engine] started")
	return nil
}

// Stop cancels all timers. In-flight work finishes without being
// rescheduled; a later Start works again.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.listeners = nil
	e.mu.Unlock()

	e.loop.Stop()
	e.sched.Stop()
	log.Printf("[engine] stopped")
}

// Subscribe adds a listener for committed snapshots.
func (e *Engine) Subscribe(cb Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, cb)
}

// RefreshOnce runs one synchronous poll, bypassing the timer. Returns the
// committed snapshot afterwards (which may predate this poll if nothing
// stabilized).
func (e *Engine) RefreshOnce(reason string) *types.ContextSnapshot {
	e.loop.PollNow(reason)
	return e.stab.Committed()
}

// NotifyEvent reports a discrete external event (app foregrounded,
// connectivity change, ambient delta) that may justify an early poll.
// Returns false when the request was discarded by the spacing guard.
func (e *Engine) NotifyEvent(name string) bool {
	return e.loop.RequestEarlyPoll(name)
}

// RecordEvent feeds one behavioral event into the trigger accumulator.
// amount is category-specific magnitude (calories, counts); <= 0 counts
// as 1.
func (e *Engine) RecordEvent(category types.EventCategory, amount float64) {
	e.acc.Record(category, amount)
}

// Snapshot returns the last committed context snapshot, nil before the
// first commit.
func (e *Engine) Snapshot() *types.ContextSnapshot {
	return e.stab.Committed()
}

// Budget returns balance and ceiling.
func (e *Engine) Budget() (balance, max int) {
	return e.ledger.Balance(), e.ledger.Max()
}

// ConsumeBudget atomically spends amount; false means insufficient.
func (e *Engine) ConsumeBudget(amount int) bool { return e.ledger.Consume(amount) }

// RechargeBudget adds amount (clamped) and returns the new balance.
func (e *Engine) RechargeBudget(amount int) int { return e.ledger.Recharge(amount) }

// RechargeToMax restores a full balance.
func (e *Engine) RechargeToMax() int { return e.ledger.RechargeToMax() }

// AdAvailability reports bonus-recharge eligibility with a typed denial
// reason.
func (e *Engine) AdAvailability() budget.BonusAvailability {
	return e.ledger.BonusAvailability()
}

// WatchIncentive runs the incentive flow: shows the incentive via the
// provider and, on success, grants one bonus recharge. Without a provider
// the grant is applied directly (host apps that gate the incentive
// themselves).
func (e *Engine) WatchIncentive(ctx context.Context) (int, budget.BonusAvailability, error) {
	avail := e.ledger.BonusAvailability()
	if !avail.CanShow {
		return e.ledger.Balance(), avail, nil
	}
	if e.deps.Incentive != nil {
		ok, err := e.deps.Incentive.ShowIncentive(ctx)
		if err != nil {
			e.breakers.RecordFailure(types.DepNetwork)
			return e.ledger.Balance(), avail, fmt.Errorf("incentive provider: %w", err)
		}
		e.breakers.RecordSuccess(types.DepNetwork)
		if !ok {
			return e.ledger.Balance(), avail, nil
		}
	}
	balance, avail := e.ledger.RedeemBonus()
	return balance, avail, nil
}

// IsCircuitOpen reports whether dep's breaker currently short-circuits.
func (e *Engine) IsCircuitOpen(dep types.Dependency) bool { return e.breakers.IsOpen(dep) }

// RecordFailure counts a failed call against dep's breaker.
func (e *Engine) RecordFailure(dep types.Dependency) { e.breakers.RecordFailure(dep) }

// RecordSuccess counts a successful call for dep's breaker.
func (e *Engine) RecordSuccess(dep types.Dependency) { e.breakers.RecordSuccess(dep) }

// Breakers returns a copy of all breaker states.
func (e *Engine) Breakers() map[types.Dependency]breaker.State { return e.breakers.Snapshot() }

// Counters returns today's trigger counters.
func (e *Engine) Counters() map[types.EventCategory]float64 { return e.acc.Counts() }

// Activity returns the decision log.
func (e *Engine) Activity() *activity.Log { return e.act }

// pollOnce is the single poll cycle: fuse, classify, stabilize, notify.
// Pipeline failures degrade to a low-confidence result instead of halting
// the loop.
func (e *Engine) pollOnce(ctx context.Context, reason string) time.Duration {
	snap := e.fuser.Fuse(ctx)

	sleepOverride := false
	if e.deps.Sleep != nil {
		v, err := e.deps.Sleep.InSleepSession(ctx)
		if err != nil {
			log.Printf("[engine] sleep provider failed, ignoring override: %v", err)
			e.act.Append(activity.Entry{Type: activity.TypeError, Summary: "sleep provider: " + err.Error()})
		} else {
			sleepOverride = v
		}
	}

	prev := e.stab.Committed()
	res := e.classifier.Classify(snap, prev, sleepOverride)

	// Timer ticks are routine; only event-driven polls are worth a record.
	if reason != "timer" {
		e.act.Append(activity.Entry{Type: activity.TypePoll, Summary: reason, State: string(res.State)})
	}

	committed, changed := e.stab.Observe(res)
	if changed && committed != nil {
		e.onCommit(ctx, prev, *committed)
	}
	return res.NextPollDelay
}

// onCommit fans a committed snapshot out to listeners (in commit order,
// from the single poll goroutine), the platform sync hook, and the trigger
// accumulator.
func (e *Engine) onCommit(ctx context.Context, prev *types.ContextSnapshot, snap types.ContextSnapshot) {
	prevState := types.StateUnknown
	if prev != nil {
		prevState = prev.State
	}
	e.act.Commit(prevState, snap.State, snap.Confidence)

	e.mu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()
	for _, cb := range listeners {
		cb(snap)
	}

	if e.deps.Platform != nil {
		if e.breakers.IsOpen(types.DepPlatform) {
			log.Printf("[engine] platform breaker open, skipping sync")
		} else if err := e.deps.Platform.SyncContext(ctx, snap); err != nil {
			log.Printf("[engine] platform sync failed: %v", err)
			e.act.Append(activity.Entry{Type: activity.TypeError, Summary: "platform sync: " + err.Error()})
			e.breakers.RecordFailure(types.DepPlatform)
		} else {
			e.breakers.RecordSuccess(types.DepPlatform)
		}
	}

	// A committed transition is itself a behavioral signal.
	if prev != nil && prev.State != snap.State {
		e.acc.Record(types.EventContextChange, 1)
	}
}

func (e *Engine) recordOutcome(req types.RefinementRequest, outcome refine.Outcome) {
	switch outcome {
	case refine.OutcomeDispatched:
		e.act.Dispatch(req.ID, req.Category)
	case refine.OutcomeBudgetExhausted:
		balance, _ := e.Budget()
		e.act.Denied(activity.TypeBudgetDenied, req.Category,
			fmt.Sprintf("balance %d, need %d", balance, e.cfg.Refine.JobCost))
	case refine.OutcomeBreakerOpen:
		e.act.Denied(activity.TypeBreakerOpen, req.Category, "inference breaker open")
	}
}
