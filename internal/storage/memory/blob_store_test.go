package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "css/abc.css.zst", "application/zstd", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://css/abc.css.zst", uri)

	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "css/abc.css.zst")
	require.NoError(t, err)
	require.Equal(t, "content", string(got))
	require.Equal(t, 1, store.Len())
}

func TestBlobStoreErrors(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "", []byte("x"))
	require.Error(t, err)
	_, err = store.GetObject(context.Background(), "missing")
	require.ErrorIs(t, err, warmup.ErrNotFound)
}
