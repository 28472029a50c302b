// Package migrations embeds the SQL schema for both the per-agent store and
// the shared swarm store, and applies them through golang-migrate so schema
// changes are versioned the same way the teacher versions its Postgres schema
// (internal/store/pg in the teacher uses raw SQL files; moxxy's embedded
// sqlite store keeps the same golang-migrate machinery, swapped to a
// pure-Go driver since modernc.org/sqlite carries no cgo).
package migrations

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed 0001_init.up.sql 0001_init.down.sql
var agentFS embed.FS

//go:embed swarm/0001_init.up.sql swarm/0001_init.down.sql
var swarmFS embed.FS

// ApplyAgent runs all pending migrations against the per-agent database
// reachable at dsn (a modernc.org/sqlite DSN, typically a file path).
func ApplyAgent(dsn string) error {
	return apply(agentFS, ".", dsn)
}

// ApplySwarm runs all pending migrations against the shared swarm database.
func ApplySwarm(dsn string) error {
	return apply(swarmFS, "swarm", dsn)
}

// Version reports the applied schema version for the database at dsn,
// without altering it. Used by moxxyd migrate status.
func Version(dsn string) (version int, dirty bool, err error) {
	drv, err := newDriver(dsn)
	if err != nil {
		return 0, false, fmt.Errorf("migrations: driver: %w", err)
	}
	defer drv.Close()
	return drv.Version()
}

func apply(fsys embed.FS, dir, dsn string) error {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("migrations: source: %w", err)
	}
	drv, err := newDriver(dsn)
	if err != nil {
		return fmt.Errorf("migrations: driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "moxxysqlite", drv)
	if err != nil {
		return fmt.Errorf("migrations: instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}
