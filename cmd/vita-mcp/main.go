// vita-mcp exposes the context engine's persisted state as MCP tools so an
// assistant can inspect what the engine is doing. All tools are read-only;
// they read the same store the daemon writes, so they work against a live
// engine without coordinating with it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/halfmoonlabs/vita/internal/inspect"
)

var inspector *inspect.Inspector

func main() {
	// Log to stderr so stdout is clean for JSON-RPC
	log.SetOutput(os.Stderr)
	log.SetPrefix("[vita-mcp] ")

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	statePath := os.Getenv("VITA_STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}

	var err error
	inspector, err = inspect.NewInspector(statePath)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer inspector.Close()

	s := server.NewMCPServer(
		"vita-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(contextTool(), handleContext)
	s.AddTool(budgetTool(), handleBudget)
	s.AddTool(breakersTool(), handleBreakers)
	s.AddTool(countersTool(), handleCounters)
	s.AddTool(activityTool(), handleActivity)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func contextTool() mcp.Tool {
	return mcp.NewTool("get_context",
		mcp.WithDescription("Get the last committed context snapshot: the user's inferred state (sleeping, driving, working, ...), location label, movement, and confidence."),
	)
}

func handleContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := inspector.Context()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read context: %v", err)), nil
	}
	if snap == nil {
		return mcp.NewToolResultText("No context committed yet"), nil
	}
	return jsonResult(snap)
}

func budgetTool() mcp.Tool {
	return mcp.NewTool("get_budget",
		mcp.WithDescription("Get the refinement budget ledger: current balance, bonus grants used today, and any active bonus cooldown."),
	)
}

func handleBudget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := inspector.Budget()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read budget: %v", err)), nil
	}
	if state == nil {
		return mcp.NewToolResultText("Budget not initialized"), nil
	}
	return jsonResult(state)
}

func breakersTool() mcp.Tool {
	return mcp.NewTool("get_breakers",
		mcp.WithDescription("Get circuit breaker state for each external dependency (inference, store, platform, network): open/closed, failure counts, cooldown deadlines."),
	)
}

func handleBreakers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	states, err := inspector.Breakers()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read breakers: %v", err)), nil
	}
	if len(states) == 0 {
		return mcp.NewToolResultText("No breaker state recorded"), nil
	}
	return jsonResult(states)
}

func countersTool() mcp.Tool {
	return mcp.NewTool("get_counters",
		mcp.WithDescription("Get today's trigger accumulator counters: per-category event counts feeding the refinement thresholds."),
	)
}

func handleCounters(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counters, err := inspector.Counters()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read counters: %v", err)), nil
	}
	if counters == nil {
		return mcp.NewToolResultText("No trigger counters recorded"), nil
	}
	return jsonResult(counters)
}

func activityTool() mcp.Tool {
	return mcp.NewTool("get_activity",
		mcp.WithDescription("Tail the engine's activity log: polls, committed transitions, trigger firings, dispatches, and denials."),
		mcp.WithNumber("n",
			mcp.Description("Number of recent entries to return. Default: 20"),
		),
	)
}

func handleActivity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	n := 20
	if v, ok := args["n"].(float64); ok && v > 0 {
		n = int(v)
	}

	entries, err := inspector.TailActivity(n)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read activity: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No activity recorded"), nil
	}
	return jsonResult(entries)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
