package warmup

import (
	"context"
	"net/http"
	"time"
)

// AssetCache resolves remote asset URLs to a locally cached file and its bytes,
// fetching on first access. An empty path or nil content means absent.
type AssetCache interface {
	FilepathFor(ctx context.Context, url string) (string, error)
	ContentFor(ctx context.Context, url string) ([]byte, error)
}

// Table is the lifecycle capability set shared by every durable table.
type Table interface {
	Name() string
	Exists(ctx context.Context) (bool, error)
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
}

// ResourceStore persists resources keyed by URL.
type ResourceStore interface {
	Table
	Get(ctx context.Context, url string) (StoredResource, error)
	// Upsert writes the resource unless a row with the same URL and hash already exists.
	Upsert(ctx context.Context, res StoredResource) (UpsertOutcome, error)
}

// PendingQueue is the durable pending-work list drained by the worker.
type PendingQueue interface {
	Push(ctx context.Context, batch Batch) error
	// Pending returns up to limit items with an id above afterID, in id order.
	Pending(ctx context.Context, afterID int64, limit int) ([]PendingItem, error)
	Remove(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause error) error
	Len(ctx context.Context) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used for content deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a probed page should be re-rendered headlessly.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}
