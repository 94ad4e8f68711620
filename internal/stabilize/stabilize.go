// Package stabilize debounces raw classifications so short-lived noise never
// becomes a committed context transition. It is a two-state machine: a
// differing classification becomes a pending candidate, and only commits
// after it repeats or persists long enough.
package stabilize

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/halfmoonlabs/vita/internal/classify"
	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/types"
)

const snapshotKey = "context/committed"

// Config holds the stabilization thresholds. The stock values (2 observations
// or 60 seconds) are empirical; they are configuration, not invariants.
type Config struct {
	MinObservations int
	MaxPendingAge   time.Duration
	BucketWidth     float64 // confidence bucket width for the stable key
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinObservations: 2,
		MaxPendingAge:   60 * time.Second,
		BucketWidth:     0.25,
	}
}

// candidate is the working memory: at most one exists at a time.
type candidate struct {
	key          string
	result       classify.Result
	firstSeen    time.Time
	observations int
}

// Engine filters classifier output into committed snapshots.
type Engine struct {
	cfg       Config
	st        store.Store
	committed *types.ContextSnapshot
	pending   *candidate
	now       func() time.Time
}

// New creates a stabilization engine, restoring the last committed snapshot
// from the store. A corrupt stored snapshot is treated as absent.
func New(cfg Config, st store.Store) *Engine {
	if cfg.MinObservations <= 0 {
		cfg = DefaultConfig()
	}
	e := &Engine{cfg: cfg, st: st, now: time.Now}
	e.load()
	return e
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Committed returns the current committed snapshot, nil before the first
// commit.
func (e *Engine) Committed() *types.ContextSnapshot {
	if e.committed == nil {
		return nil
	}
	cp := *e.committed
	return &cp
}

// Observe feeds one raw classification through the state machine. When the
// observation commits, the new snapshot is persisted and returned with
// changed=true; otherwise the current committed snapshot is returned
// unchanged. Not safe for concurrent use: the poll loop is the only caller.
func (e *Engine) Observe(res classify.Result) (*types.ContextSnapshot, bool) {
	key := e.stableKey(res)

	if e.committed != nil && key == e.stableKeySnapshot(e.committed) {
		// Raw agrees with committed; any half-formed candidate was noise.
		e.pending = nil
		return e.Committed(), false
	}

	now := e.now()
	if e.pending == nil || e.pending.key != key {
		// New candidate replaces whatever was pending.
		e.pending = &candidate{key: key, result: res, firstSeen: now, observations: 1}
	} else {
		e.pending.observations++
		e.pending.result = res // keep the freshest readings for the commit
	}

	elapsed := now.Sub(e.pending.firstSeen)
	if e.pending.observations < e.cfg.MinObservations && elapsed < e.cfg.MaxPendingAge {
		return e.Committed(), false
	}

	snap := &types.ContextSnapshot{
		State:         res.State,
		Environment:   res.Environment,
		EnvConfidence: res.EnvConfidence,
		Location:      res.Location,
		Movement:      res.Movement,
		Source:        res.Source,
		Confidence:    res.Confidence,
		UpdatedAt:     now,
	}

	prev := types.StateUnknown
	if e.committed != nil {
		prev = e.committed.State
	}
	e.committed = snap
	e.pending = nil
	e.persist()

	log.Printf("[stabilize] committed %s -> %s (conf=%.2f loc=%s after %d obs / %v)",
		prev, snap.State, snap.Confidence, snap.Location, e.cfg.MinObservations, elapsed.Round(time.Second))
	return e.Committed(), true
}

// stableKey buckets confidence so tiny score wobbles do not look like real
// transitions.
func (e *Engine) stableKey(res classify.Result) string {
	return fmt.Sprintf("%s|%s|%s|%d", res.State, res.Movement, res.Location, e.bucket(res.Confidence))
}

func (e *Engine) stableKeySnapshot(s *types.ContextSnapshot) string {
	return fmt.Sprintf("%s|%s|%s|%d", s.State, s.Movement, s.Location, e.bucket(s.Confidence))
}

func (e *Engine) bucket(conf float64) int {
	if e.cfg.BucketWidth <= 0 {
		return 0
	}
	return int(math.Floor(conf / e.cfg.BucketWidth))
}

func (e *Engine) load() {
	if e.st == nil {
		return
	}
	data, ok, err := e.st.Get(snapshotKey)
	if err != nil {
		log.Printf("[stabilize] failed to load snapshot: %v", err)
		return
	}
	if !ok {
		return
	}
	var snap types.ContextSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("[stabilize] corrupt stored snapshot, starting fresh: %v", err)
		return
	}
	e.committed = &snap
}

func (e *Engine) persist() {
	if e.st == nil {
		return
	}
	data, err := json.Marshal(e.committed)
	if err != nil {
		log.Printf("[stabilize] failed to marshal snapshot: %v", err)
		return
	}
	if err := e.st.Set(snapshotKey, data); err != nil {
		log.Printf("[stabilize] failed to persist snapshot: %v", err)
	}
}
