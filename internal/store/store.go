// Package store is moxxy's persistence layer: an embedded, pure-Go sqlite
// database per agent (modernc.org/sqlite, no cgo) plus a process-wide shared
// swarm database. No ad-hoc SQL leaks to callers — every operation named in
// spec §3/§4.1 is a typed method here. Grounded on the teacher's
// internal/store/stores.go factory shape, swapped from Postgres pooling to a
// per-agent *sql.DB since the store is embedded rather than managed.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/moxxy-run/moxxy/internal/store/migrations"
)

// Store is one agent's embedded database handle. Exclusively owned by the
// agent it was opened for (spec §3 Ownership); never shared across agents.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the sqlite database at dbPath and applies
// all pending migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}
	if err := migrations.ApplyAgent(dbPath); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc sqlite: single writer avoids SQLITE_BUSY under WAL-less default
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: dbPath}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping() error {
	return s.db.Ping()
}

// SwarmStore is the process-wide shared announcement store (spec §3 Swarm
// memory), distinct from any one agent's Store.
type SwarmStore struct {
	db *sql.DB
}

func OpenSwarm(dbPath string) (*SwarmStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("swarmstore: mkdir: %w", err)
	}
	if err := migrations.ApplySwarm(dbPath); err != nil {
		return nil, fmt.Errorf("swarmstore: migrate: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("swarmstore: open: %w", err)
	}
	return &SwarmStore{db: db}, nil
}

func (s *SwarmStore) Close() error { return s.db.Close() }
