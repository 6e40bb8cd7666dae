// Package resolver turns candidate asset references into resource content,
// reading local assets from the document root and remote assets through the
// asset cache.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// Site describes the site whose pages are being scanned.
type Site struct {
	// BaseURL is the canonical site URL, e.g. https://example.com or https://example.com/blog.
	BaseURL string
	// DocumentRoot is the directory that BaseURL's path maps onto.
	DocumentRoot string
	// CDNHosts lists hosts, per zone, that mirror the document root.
	CDNHosts map[string][]string
}

// Resolver implements the local-vs-remote content resolution rules.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	base     *url.URL
	root     string
	cache    warmup.AssetCache
	cdnHosts map[string]struct{}
}

// New builds a Resolver. zones selects which CDN hosts are treated as local.
func New(site Site, zones []string, cache warmup.AssetCache) (*Resolver, error) {
	base, err := url.Parse(strings.TrimSpace(site.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse site base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("site base url %q must be absolute", site.BaseURL)
	}
	if cache == nil {
		return nil, errors.New("asset cache is required")
	}
	root := ""
	if strings.TrimSpace(site.DocumentRoot) != "" {
		root, err = filepath.Abs(site.DocumentRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve document root: %w", err)
		}
	}
	hosts := make(map[string]struct{})
	for _, zone := range zones {
		for _, h := range site.CDNHosts[zone] {
			hosts[strings.ToLower(hostOnly(h))] = struct{}{}
		}
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	return &Resolver{
		base:     base,
		root:     root,
		cache:    cache,
		cdnHosts: hosts,
	}, nil
}

// Resolve returns the resource for rawURL or a *warmup.ResolutionFailure.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, kind warmup.Kind) (warmup.Resource, error) {
	u, err := r.Normalize(rawURL)
	if err != nil {
		return warmup.Resource{}, &warmup.ResolutionFailure{Reason: warmup.ReasonNoPath, URL: rawURL, Err: err}
	}
	normalized := u.String()

	var (
		filePath string
		content  []byte
	)
	if r.IsExternal(u) {
		filePath, err = r.cache.FilepathFor(ctx, normalized)
		if err != nil || filePath == "" {
			return warmup.Resource{}, &warmup.ResolutionFailure{Reason: warmup.ReasonNoPath, URL: normalized, Err: err}
		}
		content, err = r.cache.ContentFor(ctx, normalized)
	} else {
		filePath, err = r.localPath(u)
		if err != nil {
			return warmup.Resource{}, &warmup.ResolutionFailure{Reason: warmup.ReasonNoPath, URL: normalized, Err: err}
		}
		// #nosec G304 -- filePath is confined to the document root by localPath.
		content, err = os.ReadFile(filePath)
	}
	if err != nil || len(content) == 0 {
		return warmup.Resource{}, &warmup.ResolutionFailure{
			Reason: warmup.ReasonEmptyContent,
			URL:    normalized,
			Path:   filePath,
			Err:    err,
		}
	}

	return warmup.Resource{URL: normalized, Content: content, Kind: kind}, nil
}

// Normalize qualifies rawURL with a protocol and host. Protocol-relative URLs
// take the site's scheme; relative URLs resolve against the site base URL.
func (r *Resolver) Normalize(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, errors.New("empty url")
	}
	ref, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	u := r.base.ResolveReference(ref)
	if ref.Scheme == "" && ref.Host == "" && !strings.HasPrefix(ref.Path, "/") {
		// Document-relative references resolve against the site root directory.
		dir := *r.base
		dir.Path += "/"
		u = dir.ResolveReference(ref)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u, nil
}

// IsExternal reports whether u lives outside the site and its CDN hosts.
func (r *Resolver) IsExternal(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == strings.ToLower(r.base.Hostname()) {
		return false
	}
	_, cdn := r.cdnHosts[host]
	return !cdn
}

// localPath maps a site URL onto the document root, dropping the query string.
func (r *Resolver) localPath(u *url.URL) (string, error) {
	if r.root == "" {
		return "", errors.New("no document root configured")
	}
	p := path.Clean("/" + u.Path)
	if basePath := r.base.Path; basePath != "" && strings.EqualFold(u.Hostname(), r.base.Hostname()) {
		if p != basePath && !strings.HasPrefix(p, basePath+"/") {
			return "", fmt.Errorf("path %q is outside site base path %q", p, basePath)
		}
		p = strings.TrimPrefix(p, basePath)
	}
	if p == "/" || p == "" {
		return "", errors.New("url has no file path")
	}
	full := filepath.Join(r.root, filepath.FromSlash(p))
	if !strings.HasPrefix(full, r.root+string(filepath.Separator)) {
		return "", errors.New("path traversal detected")
	}
	return full, nil
}

func hostOnly(h string) string {
	h = strings.TrimSpace(h)
	if strings.Contains(h, "://") {
		if u, err := url.Parse(h); err == nil {
			return u.Hostname()
		}
	}
	if strings.HasPrefix(h, "//") {
		if u, err := url.Parse("http:" + h); err == nil {
			return u.Hostname()
		}
	}
	if i := strings.IndexAny(h, ":/"); i >= 0 {
		return h[:i]
	}
	return h
}
