package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

const resourcesDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	url        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	content    BYTEA NOT NULL,
	hash       TEXT NOT NULL,
	revision   INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// ResourceStore persists resources in Postgres, keyed by URL.
type ResourceStore struct {
	table
}

// NewResourceStore builds a store over db. Table defaults to rucss_resources.
func NewResourceStore(db DB, tableName string) (*ResourceStore, error) {
	if tableName == "" {
		tableName = "rucss_resources"
	}
	t, err := newTable(db, tableName, resourcesDDL)
	if err != nil {
		return nil, err
	}
	return &ResourceStore{table: t}, nil
}

// Get loads the row for url.
func (s *ResourceStore) Get(ctx context.Context, url string) (warmup.StoredResource, error) {
	query := fmt.Sprintf(`
SELECT url, kind, content, hash, revision, created_at, updated_at
FROM %s
WHERE url = $1`, s.name)

	var (
		res  warmup.StoredResource
		kind string
	)
	err := s.db.QueryRow(ctx, query, url).Scan(
		&res.URL,
		&kind,
		&res.Content,
		&res.Hash,
		&res.Revision,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return warmup.StoredResource{}, warmup.ErrNotFound
	}
	if err != nil {
		return warmup.StoredResource{}, fmt.Errorf("select resource: %w", err)
	}
	res.Kind = warmup.Kind(kind)
	return res, nil
}

// Upsert inserts the row or overwrites it when the hash changed, bumping the revision.
func (s *ResourceStore) Upsert(ctx context.Context, res warmup.StoredResource) (warmup.UpsertOutcome, error) {
	query := fmt.Sprintf(`
INSERT INTO %s AS t (url, kind, content, hash, revision, created_at, updated_at)
VALUES ($1, $2, $3, $4, 1, $5, $6)
ON CONFLICT (url) DO UPDATE
SET kind = EXCLUDED.kind,
	content = EXCLUDED.content,
	hash = EXCLUDED.hash,
	revision = t.revision + 1,
	updated_at = EXCLUDED.updated_at
WHERE t.hash <> EXCLUDED.hash
RETURNING revision`, s.name)

	var revision int
	err := s.db.QueryRow(ctx, query,
		res.URL,
		string(res.Kind),
		res.Content,
		res.Hash,
		res.CreatedAt,
		res.UpdatedAt,
	).Scan(&revision)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return warmup.UpsertUnchanged, nil
	case err != nil:
		return "", fmt.Errorf("upsert resource: %w", err)
	case revision == 1:
		return warmup.UpsertCreated, nil
	default:
		return warmup.UpsertUpdated, nil
	}
}
