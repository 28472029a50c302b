package migrations

import (
	"database/sql"
	"fmt"
	"io"
	"sync"

	"github.com/golang-migrate/migrate/v4/database"
	_ "modernc.org/sqlite"
)

// sqliteDriver is a minimal golang-migrate database.Driver over
// modernc.org/sqlite (pure Go, no cgo). golang-migrate ships a "sqlite3"
// driver bound to mattn/go-sqlite3, which pulls in cgo; the store's whole
// point is a cgo-free embedded DB, so the driver surface is reimplemented
// here against the same database.Driver interface golang-migrate expects of
// any backend.
type sqliteDriver struct {
	db       *sql.DB
	mu       sync.Mutex
	lockHeld bool
}

func newDriver(dsn string) (database.Driver, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	d := &sqliteDriver{db: db}
	if err := d.ensureVersionTable(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sqliteDriver) ensureVersionTable() error {
	_, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER NOT NULL PRIMARY KEY,
		dirty INTEGER NOT NULL
	)`)
	return err
}

func (d *sqliteDriver) Open(url string) (database.Driver, error) {
	return newDriver(url)
}

func (d *sqliteDriver) Close() error {
	return d.db.Close()
}

// Lock is a process-local mutex: each agent owns exactly one process and one
// db handle, so no cross-process advisory lock is needed.
func (d *sqliteDriver) Lock() error {
	d.mu.Lock()
	if d.lockHeld {
		d.mu.Unlock()
		return fmt.Errorf("migrations: already locked")
	}
	d.lockHeld = true
	d.mu.Unlock()
	return nil
}

func (d *sqliteDriver) Unlock() error {
	d.mu.Lock()
	d.lockHeld = false
	d.mu.Unlock()
	return nil
}

func (d *sqliteDriver) Run(migration io.Reader) error {
	data, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(string(data))
	return err
}

func (d *sqliteDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schema_migrations`); err != nil {
		tx.Rollback()
		return err
	}
	if version >= 0 {
		dirtyInt := 0
		if dirty {
			dirtyInt = 1
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirtyInt); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (d *sqliteDriver) Version() (version int, dirty bool, err error) {
	row := d.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`)
	var dirtyInt int
	if err := row.Scan(&version, &dirtyInt); err != nil {
		if err == sql.ErrNoRows {
			return -1, false, nil
		}
		return 0, false, err
	}
	return version, dirtyInt != 0, nil
}

func (d *sqliteDriver) Drop() error {
	rows, err := d.db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	for _, t := range tables {
		if _, err := d.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, t)); err != nil {
			return err
		}
	}
	return d.ensureVersionTable()
}
