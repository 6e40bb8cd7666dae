package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

const resourcesDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	url        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	content    BLOB NOT NULL,
	hash       TEXT NOT NULL,
	revision   INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// ResourceStore persists resources in SQLite, keyed by URL.
type ResourceStore struct {
	table
}

// NewResourceStore builds a store over db. Table defaults to rucss_resources.
func NewResourceStore(db *sql.DB, tableName string) (*ResourceStore, error) {
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
WHERE url = ?`, s.name)

	var (
		res              warmup.StoredResource
		kind             string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, query, url).Scan(
		&res.URL, &kind, &res.Content, &res.Hash, &res.Revision, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return warmup.StoredResource{}, warmup.ErrNotFound
	}
	if err != nil {
		return warmup.StoredResource{}, fmt.Errorf("select resource: %w", err)
	}
	res.Kind = warmup.Kind(kind)
	res.CreatedAt = fromUnix(created)
	res.UpdatedAt = fromUnix(updated)
	return res, nil
}

// Upsert inserts the row or overwrites it when the hash changed, bumping the revision.
func (s *ResourceStore) Upsert(ctx context.Context, res warmup.StoredResource) (warmup.UpsertOutcome, error) {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (url, kind, content, hash, revision, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (url) DO UPDATE
SET kind = excluded.kind,
	content = excluded.content,
	hash = excluded.hash,
	revision = %[1]s.revision + 1,
	updated_at = excluded.updated_at
WHERE %[1]s.hash <> excluded.hash
RETURNING revision`, s.name)

	content := res.Content
	if content == nil {
		content = []byte{}
	}
	var revision int
	err := s.db.QueryRowContext(ctx, query,
		res.URL, string(res.Kind), content, res.Hash, toUnix(res.CreatedAt), toUnix(res.UpdatedAt),
	).Scan(&revision)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return warmup.UpsertUnchanged, nil
	case err != nil:
		return "", fmt.Errorf("upsert resource: %w", err)
	case revision == 1:
		return warmup.UpsertCreated, nil
	default:
		return warmup.UpsertUpdated, nil
	}
}
