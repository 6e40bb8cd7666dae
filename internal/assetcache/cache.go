// Package assetcache downloads remote CSS and JS into a local directory and serves
// them back by URL. Concurrent requests for the same URL share one download.
package assetcache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	collyfetcher "github.com/JakeFAU/asset-warmup/internal/fetcher/colly"
	"github.com/JakeFAU/asset-warmup/internal/metrics"
	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// Store is the on-disk object store the cache writes into.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	Locate(path string) (string, error)
}

// Cache implements warmup.AssetCache.
type Cache struct {
	store   Store
	fetcher warmup.Fetcher
	hasher  warmup.Hasher
	group   singleflight.Group
	logger  *zap.Logger
}

// New builds a Cache.
func New(store Store, fetcher warmup.Fetcher, hasher warmup.Hasher, logger *zap.Logger) (*Cache, error) {
	if store == nil || fetcher == nil || hasher == nil {
		return nil, fmt.Errorf("store, fetcher and hasher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, fetcher: fetcher, hasher: hasher, logger: logger}, nil
}

// FilepathFor returns the local file for rawURL, downloading it on first use.
// It returns "" when the remote answers with a client error.
func (c *Cache) FilepathFor(ctx context.Context, rawURL string) (string, error) {
	key, err := c.keyFor(rawURL)
	if err != nil {
		return "", err
	}
	if p, err := c.store.Locate(key); err != nil || p != "" {
		return p, err
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.download(ctx, rawURL, key)
	})
	if shared {
		c.logger.Debug("asset download shared", zap.String("url", rawURL))
	}
	if err != nil {
		return "", err
	}
	p, _ := v.(string)
	return p, nil
}

// ContentFor returns the cached bytes for rawURL, downloading on first use.
// A nil slice means the asset is absent.
func (c *Cache) ContentFor(ctx context.Context, rawURL string) ([]byte, error) {
	p, err := c.FilepathFor(ctx, rawURL)
	if err != nil || p == "" {
		return nil, err
	}
	key, err := c.keyFor(rawURL)
	if err != nil {
		return nil, err
	}
	data, err := c.store.GetObject(ctx, key)
	if errors.Is(err, warmup.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached asset: %w", err)
	}
	return data, nil
}

func (c *Cache) download(ctx context.Context, rawURL, key string) (string, error) {
	resp, err := c.fetcher.Fetch(ctx, warmup.FetchRequest{URL: rawURL})
	metrics.ObserveAssetFetch(rawURL, resp.StatusCode)
	if err != nil {
		var statusErr *collyfetcher.StatusError
		if errors.As(err, &statusErr) && statusErr.Code < 500 {
			c.logger.Warn("remote asset unavailable",
				zap.String("url", rawURL),
				zap.Int("status", statusErr.Code),
			)
			return "", nil
		}
		return "", fmt.Errorf("fetch asset: %w", err)
	}

	if _, err := c.store.PutObject(ctx, key, resp.Headers.Get("Content-Type"), resp.Body); err != nil {
		return "", fmt.Errorf("cache asset: %w", err)
	}
	p, err := c.store.Locate(key)
	if err != nil {
		return "", fmt.Errorf("locate cached asset: %w", err)
	}
	c.logger.Debug("asset cached",
		zap.String("url", rawURL),
		zap.String("path", p),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)
	return p, nil
}

// keyFor maps a URL onto <host>/<digest[:2]>/<digest><ext>.
func (c *Cache) keyFor(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid asset url %q", rawURL)
	}
	digest, err := c.hasher.Hash([]byte(rawURL))
	if err != nil {
		return "", fmt.Errorf("hash asset url: %w", err)
	}
	if len(digest) < 2 {
		return "", fmt.Errorf("hash asset url: digest too short")
	}
	host := strings.NewReplacer(":", "_", "/", "_").Replace(strings.ToLower(u.Host))
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".css", ".js", ".mjs":
	default:
		ext = ""
	}
	return path.Join(host, digest[:2], digest+ext), nil
}
