// Package db records pipeline runs in a SQLite or Postgres database.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// DB wraps the run-history database connection.
type DB struct {
	conn    *sql.DB
	dialect string
}

// DefaultDBPath returns ~/.nb/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".nb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open connects to the history database. For sqlite the dsn is a file
// path (or ":memory:"); for postgres it is a connection URL.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case SQLite, "":
		return openSQLite(dsn)
	case Postgres:
		return openPostgres(dsn)
	}
	return nil, fmt.Errorf("unsupported history driver %q", driver)
}

func openSQLite(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{conn: conn, dialect: SQLite}, nil
}

func openPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{conn: conn, dialect: Postgres}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect returns the driver the database was opened with.
func (d *DB) Dialect() string {
	return d.dialect
}

// rebind rewrites ? placeholders to $n for postgres. A ? inside a
// single-quoted literal is left alone.
func (d *DB) rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	quoted := false
	for _, r := range query {
		if r == '\'' {
			quoted = !quoted
		}
		if r == '?' && !quoted {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    branch      TEXT NOT NULL,
    sha         TEXT NOT NULL,
    output      TEXT NOT NULL,
    state       TEXT NOT NULL,
    verdict     TEXT NOT NULL CHECK(verdict IN ('success','failure')),
    started_at  TEXT NOT NULL,
    finished_at TEXT,
    duration    TEXT,
    report      TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_branch ON runs(branch, started_at DESC);

CREATE TABLE IF NOT EXISTS run_targets (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id    INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    name      TEXT NOT NULL,
    stage     TEXT NOT NULL,
    layer     INTEGER NOT NULL,
    status    TEXT NOT NULL,
    kind      TEXT,
    reason    TEXT,
    attempts  INTEGER NOT NULL DEFAULT 0,
    duration  TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_targets_run ON run_targets(run_id);
`

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
    id          BIGSERIAL PRIMARY KEY,
    branch      TEXT NOT NULL,
    sha         TEXT NOT NULL,
    output      TEXT NOT NULL,
    state       TEXT NOT NULL,
    verdict     TEXT NOT NULL CHECK(verdict IN ('success','failure')),
    started_at  TEXT NOT NULL,
    finished_at TEXT,
    duration    TEXT,
    report      TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_branch ON runs(branch, started_at DESC);

CREATE TABLE IF NOT EXISTS run_targets (
    id        BIGSERIAL PRIMARY KEY,
    run_id    BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    name      TEXT NOT NULL,
    stage     TEXT NOT NULL,
    layer     INTEGER NOT NULL,
    status    TEXT NOT NULL,
    kind      TEXT,
    reason    TEXT,
    attempts  INTEGER NOT NULL DEFAULT 0,
    duration  TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_targets_run ON run_targets(run_id);
`

func (d *DB) schema() string {
	if d.dialect == Postgres {
		return postgresSchemaV1
	}
	return sqliteSchemaV1
}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(d.schema()); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"run_targets", "runs", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
