package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/codeGROOVE-dev/retry"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists key-value pairs in a single SQLite table. Writes are
// retried with backoff so a transiently locked database does not surface as
// a hard failure to the engine.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the engine state database under statePath.
func OpenSQLite(statePath string) (*SQLiteStore, error) {
	dbPath := filepath.Join(statePath, "engine.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	log.Printf("[store] Opened %s", dbPath)
	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Get returns the value for key, ok=false if missing.
func (s *SQLiteStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, retrying on transient lock contention.
func (s *SQLiteStore) Set(key string, value []byte) error {
	err := retry.Do(
		func() error {
			_, err := s.db.Exec(
				`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, value, time.Now().UTC())
			return err
		},
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.MaxDelay(time.Second),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[store] set %q attempt %d failed: %v", key, n+1, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Missing keys are ignored.
func (s *SQLiteStore) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
