package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

var (
	_ warmup.ResourceStore = (*ResourceStore)(nil)
	_ warmup.PendingQueue  = (*PendingQueue)(nil)
	_ warmup.Table         = (*UsedCSSTable)(nil)
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTableLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemory(t)
	used, err := NewUsedCSSTable(db, "")
	require.NoError(t, err)

	exists, err := used.Exists(ctx)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, used.Install(ctx))
	require.NoError(t, used.Install(ctx), "install is idempotent")
	exists, err = used.Exists(ctx)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, used.Uninstall(ctx))
	exists, err = used.Exists(ctx)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = NewUsedCSSTable(db, "drop table x")
	require.ErrorContains(t, err, "invalid table name")
}

func TestResourceStoreUpsertRevisions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewResourceStore(openMemory(t), "")
	require.NoError(t, err)
	require.NoError(t, store.Install(ctx))

	t0 := time.Unix(1700000000, 123).UTC()
	t1 := t0.Add(time.Hour)
	res := warmup.StoredResource{
		URL: "https://example.com/a.css", Kind: warmup.KindCSS, Content: []byte("a{}"), Hash: "h1",
		CreatedAt: t0, UpdatedAt: t0,
	}

	_, err = store.Get(ctx, res.URL)
	require.ErrorIs(t, err, warmup.ErrNotFound)

	outcome, err := store.Upsert(ctx, res)
	require.NoError(t, err)
	require.Equal(t, warmup.UpsertCreated, outcome)

	// Identical content leaves the revision alone.
	res.UpdatedAt = t1
	outcome, err = store.Upsert(ctx, res)
	require.NoError(t, err)
	require.Equal(t, warmup.UpsertUnchanged, outcome)
	got, err := store.Get(ctx, res.URL)
	require.NoError(t, err)
	require.Equal(t, 1, got.Revision)
	require.Equal(t, t0, got.UpdatedAt)

	res.Content = []byte("b{}")
	res.Hash = "h2"
	res.CreatedAt = t1
	outcome, err = store.Upsert(ctx, res)
	require.NoError(t, err)
	require.Equal(t, warmup.UpsertUpdated, outcome)

	got, err = store.Get(ctx, res.URL)
	require.NoError(t, err)
	require.Equal(t, 2, got.Revision)
	require.Equal(t, "b{}", string(got.Content))
	require.Equal(t, warmup.KindCSS, got.Kind)
	require.Equal(t, t0, got.CreatedAt)
	require.Equal(t, t1, got.UpdatedAt)
}

func TestResourceStoreWithoutInstall(t *testing.T) {
	t.Parallel()

	store, err := NewResourceStore(openMemory(t), "")
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), warmup.StoredResource{URL: "u", Hash: "h"})
	require.ErrorContains(t, err, "upsert resource")
}

func TestPendingQueueRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, err := NewPendingQueue(openMemory(t), "")
	require.NoError(t, err)
	require.NoError(t, q.Install(ctx))
	now := time.Unix(1700000000, 0).UTC()
	q.now = func() time.Time { return now }

	require.NoError(t, q.Push(ctx, warmup.Batch{ID: "b1", Resources: []warmup.Resource{
		{URL: "https://example.com/a.css", Kind: warmup.KindCSS, Content: []byte("a")},
		{URL: "https://example.com/b.js", Kind: warmup.KindJS, Content: []byte("b")},
	}}))
	require.NoError(t, q.Push(ctx, warmup.Batch{ID: "b2", Resources: []warmup.Resource{
		{URL: "https://example.com/c.css", Kind: warmup.KindCSS, Content: []byte("c")},
	}}))
	require.NoError(t, q.Push(ctx, warmup.Batch{ID: "empty"}))

	items, err := q.Pending(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "b1", items[0].BatchID)
	require.Equal(t, 1, items[1].Seq)
	require.Equal(t, warmup.KindJS, items[1].Resource.Kind)
	require.Equal(t, now, items[2].EnqueuedAt)

	limited, err := q.Pending(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	next, err := q.Pending(ctx, limited[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, "b2", next[0].BatchID)

	require.NoError(t, q.MarkFailed(ctx, items[0].ID, errors.New("store down")))
	require.NoError(t, q.Remove(ctx, items[1].ID))

	left, err := q.Pending(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, left, 2)
	require.Equal(t, 1, left[0].Attempts)
	require.Equal(t, "store down", left[0].LastError)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestPendingQueueSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warmup.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	q, err := NewPendingQueue(db, "")
	require.NoError(t, err)
	require.NoError(t, q.Install(ctx))
	require.NoError(t, q.Push(ctx, warmup.Batch{ID: "b1", Resources: []warmup.Resource{
		{URL: "https://example.com/a.css", Kind: warmup.KindCSS, Content: []byte("a")},
	}}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	q, err = NewPendingQueue(db, "")
	require.NoError(t, err)
	items, err := q.Pending(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "https://example.com/a.css", items[0].Resource.URL)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
