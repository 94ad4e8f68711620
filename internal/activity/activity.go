// Package activity keeps an append-only JSONL record of engine decisions:
// polls, committed transitions, trigger firings, dispatches and denials.
// It exists for inspection and debugging, not for control flow.
package activity

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/halfmoonlabs/vita/internal/types"
)

// Type identifies what kind of decision this entry records.
type Type string

const (
	TypePoll         Type = "poll"          // one classifier tick ran
	TypeCommit       Type = "commit"        // stabilization committed a transition
	TypeTrigger      Type = "trigger"       // a category threshold requested refinement
	TypeDispatch     Type = "dispatch"      // a refinement job was submitted
	TypeBudgetDenied Type = "budget_denied" // firing aborted: insufficient budget
	TypeBreakerOpen  Type = "breaker_open"  // firing aborted: breaker open
	TypeError        Type = "error"
)

// Entry is one logged decision.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Type      Type           `json:"type"`
	Summary   string         `json:"summary"`
	State     string         `json:"state,omitempty"`    // context state if applicable
	Category  string         `json:"category,omitempty"` // event category if applicable
	Data      map[string]any `json:"data,omitempty"`
}

// Log appends entries to activity.jsonl under the state directory.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates an activity logger rooted at statePath.
func New(statePath string) *Log {
	return &Log{
		path: filepath.Join(statePath, "activity.jsonl"),
		now:  time.Now,
	}
}

// Append writes one entry. Timestamps default to now.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Commit logs a committed context transition.
func (l *Log) Commit(prev, next types.UserState, confidence float64) error {
	return l.Append(Entry{
		Type:    TypeCommit,
		Summary: string(prev) + " -> " + string(next),
		State:   string(next),
		Data:    map[string]any{"confidence": confidence},
	})
}

// Trigger logs a threshold crossing.
func (l *Log) Trigger(category types.EventCategory, priority types.Priority) error {
	return l.Append(Entry{
		Type:     TypeTrigger,
		Summary:  "refinement requested",
		Category: string(category),
		Data:     map[string]any{"priority": priority.String()},
	})
}

// Dispatch logs a submitted job.
func (l *Log) Dispatch(jobID string, category types.EventCategory) error {
	return l.Append(Entry{
		Type:     TypeDispatch,
		Summary:  "job " + jobID,
		Category: string(category),
	})
}

// Denied logs an aborted firing with its reason type.
func (l *Log) Denied(t Type, category types.EventCategory, detail string) error {
	return l.Append(Entry{
		Type:     t,
		Summary:  detail,
		Category: string(category),
	})
}

// Recent returns the last n entries.
func (l *Log) Recent(n int) ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Today returns entries since local midnight.
func (l *Log) Today() ([]Entry, error) {
	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}

	now := l.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var out []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(midnight) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Log) readAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // tolerate torn writes
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
