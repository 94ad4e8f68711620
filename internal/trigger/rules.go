package trigger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halfmoonlabs/vita/internal/types"
)

// Rule declares how one behavioral category accumulates into refinement
// requests. Rules ship with built-in defaults and can be overridden by YAML
// files in the rules directory.
type Rule struct {
	Category        types.EventCategory `yaml:"category"`
	Threshold       float64             `yaml:"threshold"`
	DebounceSeconds int                 `yaml:"debounce_seconds"`
	Priority        string              `yaml:"priority"` // critical|high|normal|low
	BypassCooldown  bool                `yaml:"bypass_cooldown"`
}

// Debounce returns the rule's debounce window.
func (r Rule) Debounce() time.Duration {
	return time.Duration(r.DebounceSeconds) * time.Second
}

// PriorityValue maps the YAML priority name to the typed priority.
func (r Rule) PriorityValue() types.Priority {
	switch r.Priority {
	case "critical":
		return types.PriorityCritical
	case "high":
		return types.PriorityHigh
	case "low":
		return types.PriorityLow
	default:
		return types.PriorityNormal
	}
}

func (r Rule) validate() error {
	if r.Category == "" {
		return fmt.Errorf("rule missing category")
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("rule %s: threshold must be positive", r.Category)
	}
	if r.DebounceSeconds < 0 {
		return fmt.Errorf("rule %s: negative debounce", r.Category)
	}
	return nil
}

// DefaultRules returns the built-in category tuning.
func DefaultRules() map[types.EventCategory]Rule {
	rules := []Rule{
		{Category: types.EventItemCompleted, Threshold: 3, DebounceSeconds: 120, Priority: "normal"},
		{Category: types.EventItemSkipped, Threshold: 2, DebounceSeconds: 120, Priority: "high"},
		{Category: types.EventExtraCalories, Threshold: 300, DebounceSeconds: 300, Priority: "normal"},
		{Category: types.EventNapEnded, Threshold: 1, DebounceSeconds: 60, Priority: "high"},
		{Category: types.EventUnexpectedMeal, Threshold: 1, DebounceSeconds: 120, Priority: "normal"},
		{Category: types.EventContextChange, Threshold: 3, DebounceSeconds: 300, Priority: "low"},
		// A new day always justifies fresh work: no debounce, skips the
		// global cooldown.
		{Category: types.EventWakeDetected, Threshold: 1, DebounceSeconds: 0, Priority: "critical", BypassCooldown: true},
	}
	m := make(map[types.EventCategory]Rule, len(rules))
	for _, r := range rules {
		m[r.Category] = r
	}
	return m
}

// LoadRules returns the defaults overlaid with any YAML rule files found in
// rulesDir. A missing directory just yields the defaults; a malformed file is
// logged and skipped.
func LoadRules(rulesDir string) map[types.EventCategory]Rule {
	rules := DefaultRules()
	if rulesDir == "" {
		return rules
	}

	files, err := filepath.Glob(filepath.Join(rulesDir, "*.yaml"))
	if err != nil {
		log.Printf("[trigger] failed to glob rules: %v", err)
		return rules
	}
	ymlFiles, _ := filepath.Glob(filepath.Join(rulesDir, "*.yml"))
	files = append(files, ymlFiles...)

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Printf("[trigger] failed to read %s: %v", file, err)
			continue
		}
		var r Rule
		if err := yaml.Unmarshal(data, &r); err != nil {
			log.Printf("[trigger] failed to parse %s: %v", file, err)
			continue
		}
		if err := r.validate(); err != nil {
			log.Printf("[trigger] skipping %s: %v", file, err)
			continue
		}
		rules[r.Category] = r
		log.Printf("[trigger] loaded rule override: %s", r.Category)
	}
	return rules
}
