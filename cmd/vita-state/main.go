package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/halfmoonlabs/vita/internal/inspect"
)

func main() {
	statePath := os.Getenv("VITA_STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	inspector, err := inspect.NewInspector(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer inspector.Close()

	switch cmd {
	case "summary", "":
		handleSummary(inspector)
	case "context":
		handleContext(inspector)
	case "budget":
		handleBudget(inspector)
	case "breakers":
		handleBreakers(inspector)
	case "counters":
		handleCounters(inspector)
	case "logs":
		handleLogs(inspector, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`vita-state - Inspect the context engine's persisted state

Usage: vita-state <command> [options]

Commands:
  summary              Overview of all state components (default)
  context              Show the last committed context snapshot
  budget               Show the budget ledger state
  breakers             Show circuit breaker state per dependency
  counters             Show today's trigger counters
  logs                 Tail recent activity entries
  logs -n 50           Number of entries to show

Environment:
  VITA_STATE_PATH      State directory (default: "state")`)
}

func handleSummary(inspector *inspect.Inspector) {
	summary, err := inspector.Summary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("State Summary")
	fmt.Println("=============")
	if summary.Context != nil {
		age := time.Since(summary.Context.UpdatedAt).Round(time.Second)
		fmt.Printf("Context:   %s at %s (conf=%.2f, %s ago)\n",
			summary.Context.State, summary.Context.Location, summary.Context.Confidence, age)
	} else {
		fmt.Println("Context:   (none committed)")
	}
	if summary.Budget != nil {
		fmt.Printf("Budget:    %d (bonus grants today: %d)\n",
			summary.Budget.Balance, summary.Budget.BonusGrantsUsedToday)
	} else {
		fmt.Println("Budget:    (not initialized)")
	}
	open := 0
	for _, b := range summary.Breakers {
		if b.IsOpen {
			open++
		}
	}
	fmt.Printf("Breakers:  %d tracked, %d open\n", len(summary.Breakers), open)
	if summary.Counters != nil {
		fmt.Printf("Counters:  %d categories active (day %s)\n",
			len(summary.Counters.Counts), summary.Counters.DayKey)
	} else {
		fmt.Println("Counters:  (none)")
	}
	fmt.Printf("Activity:  %d entries today\n", summary.Activity)
}

func handleContext(inspector *inspect.Inspector) {
	snap, err := inspector.Context()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if snap == nil {
		fmt.Println("No context committed yet")
		return
	}
	data, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(data))
}

func handleBudget(inspector *inspect.Inspector) {
	state, err := inspector.Budget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if state == nil {
		fmt.Println("Budget not initialized")
		return
	}
	fmt.Println("Budget")
	fmt.Println("======")
	fmt.Printf("Balance:            %d\n", state.Balance)
	fmt.Printf("Last change:        %s\n", state.LastChangeAt.Format(time.RFC3339))
	fmt.Printf("Bonus grants today: %d (day %s)\n", state.BonusGrantsUsedToday, state.BonusDayKey)
	if time.Now().Before(state.BonusCooldownUntil) {
		fmt.Printf("Bonus cooldown:     until %s\n", state.BonusCooldownUntil.Format(time.RFC3339))
	}
}

func handleBreakers(inspector *inspect.Inspector) {
	states, err := inspector.Breakers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(states) == 0 {
		fmt.Println("No breaker state recorded")
		return
	}
	fmt.Println("Circuit Breakers")
	fmt.Println("================")
	for dep, b := range states {
		status := "closed"
		if b.IsOpen {
			status = fmt.Sprintf("OPEN until %s", b.CooldownUntil.Format(time.RFC3339))
		}
		fmt.Printf("%-10s %s (failures=%d, successes=%d)\n", dep, status, b.FailureCount, b.SuccessCount)
	}
}

func handleCounters(inspector *inspect.Inspector) {
	counters, err := inspector.Counters()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if counters == nil || len(counters.Counts) == 0 {
		fmt.Println("No trigger counters recorded")
		return
	}
	fmt.Printf("Trigger Counters (day %s)\n", counters.DayKey)
	fmt.Println("=========================")
	for cat, count := range counters.Counts {
		fmt.Printf("%-18s %.1f\n", cat, count)
	}
}

func handleLogs(inspector *inspect.Inspector, args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	count := fs.Int("n", 20, "Number of entries to show")
	fs.Parse(args)

	entries, err := inspector.TailActivity(*count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Recent Activity (%d)\n", len(entries))
	fmt.Println("===================")
	for _, e := range entries {
		extra := ""
		if e.State != "" {
			extra = " state=" + e.State
		}
		if e.Category != "" {
			extra += " category=" + e.Category
		}
		fmt.Printf("[%s] %s: %s%s\n", e.Type, e.Timestamp.Format("15:04:05"), e.Summary, extra)
	}
}
