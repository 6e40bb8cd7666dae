// Package sqlite provides an embedded single-file backend with the same three
// tables as the Postgres backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Open opens (or creates) the database at path. ":memory:" yields a private
// in-memory database pinned to one connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

type table struct {
	db   *sql.DB
	name string
	ddl  []string
}

func newTable(db *sql.DB, name string, ddl ...string) (table, error) {
	if db == nil {
		return table{}, fmt.Errorf("db is required")
	}
	if !validTableName.MatchString(name) {
		return table{}, fmt.Errorf("invalid table name %q", name)
	}
	stmts := make([]string, len(ddl))
	for i, stmt := range ddl {
		stmts[i] = fmt.Sprintf(stmt, name)
	}
	return table{db: db, name: name, ddl: stmts}, nil
}

func (t table) Name() string { return t.name }

func (t table) Exists(ctx context.Context) (bool, error) {
	var n int
	err := t.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, t.name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", t.name, err)
	}
	return n > 0, nil
}

func (t table) Install(ctx context.Context) error {
	for _, stmt := range t.ddl {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("install table %s: %w", t.name, err)
		}
	}
	return nil
}

func (t table) Uninstall(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.name)); err != nil {
		return fmt.Errorf("uninstall table %s: %w", t.name, err)
	}
	return nil
}

// Timestamps are stored as unix nanoseconds.
func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }
