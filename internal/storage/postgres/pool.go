// Package postgres provides Postgres-backed resource, used-CSS, and pending-work tables.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a pool using cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// table implements warmup.Table over a named Postgres table.
type table struct {
	db   DB
	name string
	ddl  []string
}

func newTable(db DB, name string, ddl ...string) (table, error) {
	if db == nil {
		return table{}, fmt.Errorf("pool is required")
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
	var exists bool
	if err := t.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, t.name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table %s: %w", t.name, err)
	}
	return exists, nil
}

func (t table) Install(ctx context.Context) error {
	for _, stmt := range t.ddl {
		if _, err := t.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("install table %s: %w", t.name, err)
		}
	}
	return nil
}

func (t table) Uninstall(ctx context.Context) error {
	if _, err := t.db.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.name)); err != nil {
		return fmt.Errorf("uninstall table %s: %w", t.name, err)
	}
	return nil
}
