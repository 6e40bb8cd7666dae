package assetcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/asset-warmup/internal/fetcher/colly"
	"github.com/JakeFAU/asset-warmup/internal/hash/sha256"
	"github.com/JakeFAU/asset-warmup/internal/storage/local"
	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

var _ warmup.AssetCache = (*Cache)(nil)

type assetServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newAssetServer(t *testing.T, delay time.Duration) *assetServer {
	t.Helper()
	s := &assetServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		time.Sleep(delay)
		switch {
		case strings.HasSuffix(r.URL.Path, "/missing.css"):
			http.NotFound(w, r)
		case strings.HasSuffix(r.URL.Path, "/broken.js"):
			http.Error(w, "boom", http.StatusInternalServerError)
		case strings.HasSuffix(r.URL.Path, "/empty.css"):
			w.Header().Set("Content-Type", "text/css")
		default:
			w.Header().Set("Content-Type", "text/css")
			_, _ = w.Write([]byte("body{color:red}"))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newCache(t *testing.T) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	c, err := New(store, collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second}), sha256.New(), nil)
	require.NoError(t, err)
	return c, dir
}

func TestCacheDownloadsOnce(t *testing.T) {
	t.Parallel()

	server := newAssetServer(t, 0)
	cache, dir := newCache(t)
	ctx := context.Background()
	u := server.URL + "/assets/site.css?ver=1"

	p, err := cache.FilepathFor(ctx, u)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(p, dir))
	require.Equal(t, ".css", filepath.Ext(p))
	onDisk, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "body{color:red}", string(onDisk))

	content, err := cache.ContentFor(ctx, u)
	require.NoError(t, err)
	require.Equal(t, "body{color:red}", string(content))

	again, err := cache.FilepathFor(ctx, u)
	require.NoError(t, err)
	require.Equal(t, p, again)
	require.Equal(t, int32(1), server.hits.Load())

	other, err := cache.FilepathFor(ctx, server.URL+"/assets/site.css?ver=2")
	require.NoError(t, err)
	require.NotEqual(t, p, other, "query strings identify distinct remote assets")
}

func TestCacheCollapsesConcurrentFetches(t *testing.T) {
	t.Parallel()

	server := newAssetServer(t, 100*time.Millisecond)
	cache, _ := newCache(t)
	u := server.URL + "/shared.css"

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := cache.FilepathFor(context.Background(), u)
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), server.hits.Load())
	for _, p := range paths {
		require.Equal(t, paths[0], p)
	}
}

func TestCacheMissingAndFailingAssets(t *testing.T) {
	t.Parallel()

	server := newAssetServer(t, 0)
	cache, _ := newCache(t)
	ctx := context.Background()

	p, err := cache.FilepathFor(ctx, server.URL+"/missing.css")
	require.NoError(t, err)
	require.Empty(t, p)
	content, err := cache.ContentFor(ctx, server.URL+"/missing.css")
	require.NoError(t, err)
	require.Nil(t, content)

	_, err = cache.FilepathFor(ctx, server.URL+"/broken.js")
	require.ErrorContains(t, err, "fetch asset")

	p, err = cache.FilepathFor(ctx, server.URL+"/empty.css")
	require.NoError(t, err)
	require.NotEmpty(t, p)
	content, err = cache.ContentFor(ctx, server.URL+"/empty.css")
	require.NoError(t, err)
	require.Empty(t, content)

	_, err = cache.FilepathFor(ctx, "/relative.css")
	require.ErrorContains(t, err, "invalid asset url")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil, nil)
	require.Error(t, err)
}
