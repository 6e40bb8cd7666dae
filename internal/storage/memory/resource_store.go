package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// ErrNotInstalled is returned by row operations on an uninstalled table.
var ErrNotInstalled = errors.New("table not installed")

// table tracks install state so the lifecycle calls behave like a real backend.
type table struct {
	name      string
	installed bool
}

func (t *table) Name() string { return t.name }

func (t *table) check() error {
	if !t.installed {
		return fmt.Errorf("table %s: %w", t.name, ErrNotInstalled)
	}
	return nil
}

// ResourceStore is an in-memory warmup.ResourceStore keyed by URL.
type ResourceStore struct {
	mu   sync.RWMutex
	tbl  table
	rows map[string]warmup.StoredResource
}

// NewResourceStore creates an installed, empty store.
func NewResourceStore(name string) *ResourceStore {
	return &ResourceStore{
		tbl:  table{name: name, installed: true},
		rows: make(map[string]warmup.StoredResource),
	}
}

// Name returns the table name.
func (s *ResourceStore) Name() string { return s.tbl.Name() }

// Exists reports whether the table is installed.
func (s *ResourceStore) Exists(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tbl.installed, nil
}

// Install marks the table installed. Existing rows are kept.
func (s *ResourceStore) Install(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tbl.installed = true
	return nil
}

// Uninstall drops every row.
func (s *ResourceStore) Uninstall(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tbl.installed = false
	s.rows = make(map[string]warmup.StoredResource)
	return nil
}

// Get returns the stored resource for url or warmup.ErrNotFound.
func (s *ResourceStore) Get(_ context.Context, url string) (warmup.StoredResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.tbl.check(); err != nil {
		return warmup.StoredResource{}, err
	}
	row, ok := s.rows[url]
	if !ok {
		return warmup.StoredResource{}, warmup.ErrNotFound
	}
	row.Content = append([]byte(nil), row.Content...)
	return row, nil
}

// Upsert inserts or overwrites the row for res.URL. A row with the same hash is left untouched.
func (s *ResourceStore) Upsert(_ context.Context, res warmup.StoredResource) (warmup.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tbl.check(); err != nil {
		return "", err
	}
	res.Content = append([]byte(nil), res.Content...)
	existing, ok := s.rows[res.URL]
	switch {
	case !ok:
		res.Revision = 1
		s.rows[res.URL] = res
		return warmup.UpsertCreated, nil
	case existing.Hash == res.Hash:
		return warmup.UpsertUnchanged, nil
	default:
		res.Revision = existing.Revision + 1
		res.CreatedAt = existing.CreatedAt
		s.rows[res.URL] = res
		return warmup.UpsertUpdated, nil
	}
}

// Len returns the number of stored rows.
func (s *ResourceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// UsedCSSTable is the in-memory lifecycle stand-in for the used-CSS table.
type UsedCSSTable struct {
	mu  sync.Mutex
	tbl table
}

// NewUsedCSSTable creates an uninstalled table.
func NewUsedCSSTable(name string) *UsedCSSTable {
	return &UsedCSSTable{tbl: table{name: name}}
}

// Name returns the table name.
func (t *UsedCSSTable) Name() string { return t.tbl.Name() }

// Exists reports whether the table is installed.
func (t *UsedCSSTable) Exists(context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tbl.installed, nil
}

// Install marks the table installed.
func (t *UsedCSSTable) Install(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tbl.installed = true
	return nil
}

// Uninstall marks the table removed.
func (t *UsedCSSTable) Uninstall(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tbl.installed = false
	return nil
}
