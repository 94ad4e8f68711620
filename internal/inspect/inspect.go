// Package inspect provides read-only access to the engine's persisted state
// for CLI and MCP tooling. It opens the same store the daemon writes, so
// inspection works against a live engine or an offline state directory.
package inspect

import (
	"encoding/json"
	"fmt"

	"github.com/halfmoonlabs/vita/internal/activity"
	"github.com/halfmoonlabs/vita/internal/breaker"
	"github.com/halfmoonlabs/vita/internal/budget"
	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/types"
)

const (
	snapshotKey = "context/committed"
	budgetKey   = "budget/state"
	breakerKey  = "breaker/state"
	countersKey = "trigger/counters"
)

// Inspector reads engine state from a state directory.
type Inspector struct {
	store     store.Store
	statePath string
}

// NewInspector opens the state store under statePath.
func NewInspector(statePath string) (*Inspector, error) {
	st, err := store.OpenSQLite(statePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &Inspector{store: st, statePath: statePath}, nil
}

// NewInspectorWithStore wraps an already-open store. Used by tests.
func NewInspectorWithStore(st store.Store, statePath string) *Inspector {
	return &Inspector{store: st, statePath: statePath}
}

func (i *Inspector) Close() error {
	return i.store.Close()
}

// Context returns the last committed context snapshot, or nil if none has
// been committed yet.
func (i *Inspector) Context() (*types.ContextSnapshot, error) {
	data, ok, err := i.store.Get(snapshotKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var snap types.ContextSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode context snapshot: %w", err)
	}
	return &snap, nil
}

// Budget returns the persisted budget state, or nil if the engine has never
// run against this store.
func (i *Inspector) Budget() (*budget.State, error) {
	data, ok, err := i.store.Get(budgetKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var st budget.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode budget state: %w", err)
	}
	return &st, nil
}

// Breakers returns persisted circuit breaker state keyed by dependency.
func (i *Inspector) Breakers() (map[types.Dependency]breaker.State, error) {
	data, ok, err := i.store.Get(breakerKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[types.Dependency]breaker.State{}, nil
	}
	var states map[types.Dependency]breaker.State
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("decode breaker state: %w", err)
	}
	return states, nil
}

// Counters holds the persisted trigger accumulator counts.
type Counters struct {
	DayKey string                          `json:"day_key"`
	Counts map[types.EventCategory]float64 `json:"counts"`
}

// Counters returns today's trigger counters, or nil if none are persisted.
func (i *Inspector) Counters() (*Counters, error) {
	data, ok, err := i.store.Get(countersKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var c Counters
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode trigger counters: %w", err)
	}
	return &c, nil
}

// TailActivity returns the most recent n activity log entries.
func (i *Inspector) TailActivity(n int) ([]activity.Entry, error) {
	act := activity.New(i.statePath)
	return act.Recent(n)
}

// Summary aggregates a one-screen overview of the state directory.
type Summary struct {
	Context  *types.ContextSnapshot
	Budget   *budget.State
	Breakers map[types.Dependency]breaker.State
	Counters *Counters
	Activity int // entries logged today
}

func (i *Inspector) Summary() (*Summary, error) {
	s := &Summary{}
	var err error
	if s.Context, err = i.Context(); err != nil {
		return nil, err
	}
	if s.Budget, err = i.Budget(); err != nil {
		return nil, err
	}
	if s.Breakers, err = i.Breakers(); err != nil {
		return nil, err
	}
	if s.Counters, err = i.Counters(); err != nil {
		return nil, err
	}
	act := activity.New(i.statePath)
	entries, err := act.Today()
	if err != nil {
		return nil, err
	}
	s.Activity = len(entries)
	return s, nil
}
