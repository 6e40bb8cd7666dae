package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

var _ warmup.ResourceStore = (*ResourceStore)(nil)
var _ warmup.Table = (*UsedCSSTable)(nil)

func TestResourceStoreUpsertOutcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewResourceStore("rucss_resources")
	t0 := time.Unix(100, 0).UTC()
	t1 := time.Unix(200, 0).UTC()

	_, err := store.Get(ctx, "https://example.com/a.css")
	require.ErrorIs(t, err, warmup.ErrNotFound)

	outcome, err := store.Upsert(ctx, warmup.StoredResource{
		URL: "https://example.com/a.css", Kind: warmup.KindCSS, Content: []byte("a"), Hash: "h1",
		CreatedAt: t0, UpdatedAt: t0,
	})
	require.NoError(t, err)
	require.Equal(t, warmup.UpsertCreated, outcome)

	outcome, err = store.Upsert(ctx, warmup.StoredResource{URL: "https://example.com/a.css", Hash: "h1", UpdatedAt: t1})
	require.NoError(t, err)
	require.Equal(t, warmup.UpsertUnchanged, outcome)

	outcome, err = store.Upsert(ctx, warmup.StoredResource{
		URL: "https://example.com/a.css", Kind: warmup.KindCSS, Content: []byte("b"), Hash: "h2",
		CreatedAt: t1, UpdatedAt: t1,
	})
	require.NoError(t, err)
	require.Equal(t, warmup.UpsertUpdated, outcome)

	row, err := store.Get(ctx, "https://example.com/a.css")
	require.NoError(t, err)
	require.Equal(t, 2, row.Revision)
	require.Equal(t, "b", string(row.Content))
	require.Equal(t, t0, row.CreatedAt)
	require.Equal(t, t1, row.UpdatedAt)
	require.Equal(t, 1, store.Len())
}

func TestResourceStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewResourceStore("rucss_resources")
	require.Equal(t, "rucss_resources", store.Name())
	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	require.True(t, exists)

	_, err = store.Upsert(ctx, warmup.StoredResource{URL: "u", Hash: "h"})
	require.NoError(t, err)
	require.NoError(t, store.Uninstall(ctx))
	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	require.False(t, exists)
	_, err = store.Get(ctx, "u")
	require.ErrorIs(t, err, ErrNotInstalled)
	_, err = store.Upsert(ctx, warmup.StoredResource{URL: "u", Hash: "h"})
	require.ErrorIs(t, err, ErrNotInstalled)

	require.NoError(t, store.Install(ctx))
	_, err = store.Get(ctx, "u")
	require.ErrorIs(t, err, warmup.ErrNotFound, "uninstall drops rows")

	used := NewUsedCSSTable("rucss_used_css")
	exists, err = used.Exists(ctx)
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, used.Install(ctx))
	exists, err = used.Exists(ctx)
	require.NoError(t, err)
	require.True(t, exists)
}
