// Package budget implements the depletable, rechargeable energy resource
// that gates refinement work. The ledger is process-wide singleton state,
// persisted after every mutation, and restart-safe: bonus recharges already
// used today are not re-granted after a restart.
package budget

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/halfmoonlabs/vita/internal/store"
)

const stateKey = "budget/state"

const dayKeyFormat = "2006-01-02"

// Config holds ledger limits.
type Config struct {
	Max           int           // balance ceiling
	BonusAmount   int           // granted per successful incentive view
	BonusDailyCap int           // max bonus grants per calendar day
	BonusCooldown time.Duration // wait between bonus grants
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		Max:           100,
		BonusAmount:   25,
		BonusDailyCap: 3,
		BonusCooldown: 20 * time.Minute,
	}
}

// State is the persisted ledger state.
type State struct {
	Balance              int       `json:"balance"`
	LastChangeAt         time.Time `json:"last_change_at"`
	BonusGrantsUsedToday int       `json:"bonus_grants_used_today"`
	BonusDayKey          string    `json:"bonus_day_key"`
	BonusCooldownUntil   time.Time `json:"bonus_cooldown_until"`
}

// DenialReason explains why a bonus recharge is unavailable.
type DenialReason string

const (
	DenialNone     DenialReason = ""
	DenialCooldown DenialReason = "cooldown"
	DenialDailyCap DenialReason = "daily_cap"
)

// BonusAvailability is the typed answer to "can we offer the incentive now".
type BonusAvailability struct {
	CanShow bool         `json:"can_show"`
	Reason  DenialReason `json:"reason,omitempty"`
	RetryAt time.Time    `json:"retry_at,omitempty"` // set for cooldown denials
}

// Ledger is the budget singleton. All mutation is serialized behind one
// mutex so check-then-decrement is atomic with respect to other consumers.
type Ledger struct {
	mu    sync.Mutex
	cfg   Config
	st    store.Store
	state State
	now   func() time.Time
}

// New creates a ledger, restoring persisted state. Corrupt or absent state
// initializes to a full balance.
func New(cfg Config, st store.Store) *Ledger {
	if cfg.Max <= 0 {
		cfg = DefaultConfig()
	}
	l := &Ledger{cfg: cfg, st: st, now: time.Now}
	l.load()
	return l
}

// SetClock overrides the time source (tests).
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Balance returns the current balance.
func (l *Ledger) Balance() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Balance
}

// Max returns the balance ceiling.
func (l *Ledger) Max() int { return l.cfg.Max }

// Consume atomically checks and decrements. Returns false, leaving the
// balance untouched, when it cannot afford amount. The balance never goes
// negative.
func (l *Ledger) Consume(amount int) bool {
	if amount < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Balance < amount {
		return false
	}
	l.state.Balance -= amount
	l.state.LastChangeAt = l.now()
	l.persist()
	log.Printf("[budget] consumed %d, balance %d/%d", amount, l.state.Balance, l.cfg.Max)
	return true
}

// CanAfford reports whether amount could be consumed right now.
func (l *Ledger) CanAfford(amount int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return amount >= 0 && l.state.Balance >= amount
}

// Recharge adds amount, clamped to max, and returns the new balance.
func (l *Ledger) Recharge(amount int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > 0 {
		l.state.Balance += amount
		if l.state.Balance > l.cfg.Max {
			l.state.Balance = l.cfg.Max
		}
		l.state.LastChangeAt = l.now()
		l.persist()
	}
	return l.state.Balance
}

// RechargeToMax restores a full balance.
func (l *Ledger) RechargeToMax() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Balance = l.cfg.Max
	l.state.LastChangeAt = l.now()
	l.persist()
	return l.state.Balance
}

// BonusAvailability reports whether a bonus recharge may be offered now.
func (l *Ledger) BonusAvailability() BonusAvailability {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bonusAvailabilityLocked()
}

func (l *Ledger) bonusAvailabilityLocked() BonusAvailability {
	now := l.now()
	l.rolloverLocked(now)

	if now.Before(l.state.BonusCooldownUntil) {
		return BonusAvailability{CanShow: false, Reason: DenialCooldown, RetryAt: l.state.BonusCooldownUntil}
	}
	if l.state.BonusGrantsUsedToday >= l.cfg.BonusDailyCap {
		return BonusAvailability{CanShow: false, Reason: DenialDailyCap}
	}
	return BonusAvailability{CanShow: true}
}

// RedeemBonus grants one bonus recharge if the daily cap and cooldown allow
// it. On denial the balance is untouched and the typed reason is returned.
func (l *Ledger) RedeemBonus() (int, BonusAvailability) {
	l.mu.Lock()
	defer l.mu.Unlock()

	avail := l.bonusAvailabilityLocked()
	if !avail.CanShow {
		return l.state.Balance, avail
	}

	now := l.now()
	l.state.Balance += l.cfg.BonusAmount
	if l.state.Balance > l.cfg.Max {
		l.state.Balance = l.cfg.Max
	}
	l.state.BonusGrantsUsedToday++
	l.state.BonusCooldownUntil = now.Add(l.cfg.BonusCooldown)
	l.state.LastChangeAt = now
	l.persist()

	log.Printf("[budget] bonus recharge %d/%d today, balance %d/%d",
		l.state.BonusGrantsUsedToday, l.cfg.BonusDailyCap, l.state.Balance, l.cfg.Max)
	return l.state.Balance, avail
}

// rolloverLocked resets the daily bonus counter when the calendar day key
// changes.
func (l *Ledger) rolloverLocked(now time.Time) {
	key := now.Format(dayKeyFormat)
	if l.state.BonusDayKey == key {
		return
	}
	l.state.BonusDayKey = key
	l.state.BonusGrantsUsedToday = 0
	l.persist()
}

func (l *Ledger) load() {
	l.state = State{Balance: l.cfg.Max, BonusDayKey: l.now().Format(dayKeyFormat)}
	if l.st == nil {
		return
	}
	data, ok, err := l.st.Get(stateKey)
	if err != nil {
		log.Printf("[budget] failed to load state: %v", err)
		return
	}
	if !ok {
		return
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("[budget] corrupt stored state, reinitializing: %v", err)
		return
	}
	if s.Balance < 0 {
		s.Balance = 0
	}
	if s.Balance > l.cfg.Max {
		s.Balance = l.cfg.Max
	}
	l.state = s
}

func (l *Ledger) persist() {
	if l.st == nil {
		return
	}
	data, err := json.Marshal(l.state)
	if err != nil {
		log.Printf("[budget] failed to marshal state: %v", err)
		return
	}
	if err := l.st.Set(stateKey, data); err != nil {
		log.Printf("[budget] failed to persist state: %v", err)
	}
}
