// vitad runs the vita context engine as a standalone daemon: host-backed
// signals in, refinement jobs out to an HTTP inference endpoint.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/halfmoonlabs/vita/internal/engine"
	"github.com/halfmoonlabs/vita/internal/signals"
	"github.com/halfmoonlabs/vita/internal/store"
	"github.com/halfmoonlabs/vita/internal/types"
)

func main() {
	log.Println("vitad - context decision engine")
	log.Println("===============================")

	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, using environment variables")
	} else {
		log.Println("[config] Loaded .env file")
	}

	statePath := os.Getenv("STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}
	rulesDir := os.Getenv("RULES_DIR")
	inferenceURL := os.Getenv("INFERENCE_URL")
	if inferenceURL == "" {
		log.Fatal("INFERENCE_URL environment variable required")
	}

	os.MkdirAll(statePath, 0755)

	st, err := store.OpenSQLite(statePath)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer st.Close()

	cfg := engine.DefaultConfig(statePath)
	cfg.RulesDir = rulesDir
	if v := os.Getenv("BUDGET_MAX"); v != "" {
		if max, err := strconv.Atoi(v); err == nil && max > 0 {
			cfg.Budget.Max = max
		}
	}
	if v := os.Getenv("JOB_COST"); v != "" {
		if cost, err := strconv.Atoi(v); err == nil && cost > 0 {
			cfg.Refine.JobCost = cost
		}
	}

	eng, err := engine.New(cfg, engine.Deps{
		Store:   st,
		Signals: signals.NewHostProvider(),
		Runner:  &httpRunner{url: inferenceURL, client: &http.Client{Timeout: 30 * time.Second}},
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	err = eng.Start(func(snap types.ContextSnapshot) {
		log.Printf("[main] context: %s at %s (conf=%.2f)", snap.State, snap.Location, snap.Confidence)
	})
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	log.Println("[main] Engine started. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] Shutting down...")
	eng.Stop()
}

// httpRunner submits refinement jobs to the inference endpoint.
type httpRunner struct {
	url    string
	client *http.Client
}

func (r *httpRunner) Run(ctx context.Context, job types.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("inference endpoint returned %s", resp.Status)
	}
	return nil
}
