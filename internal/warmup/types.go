package warmup

import (
	"fmt"
	"time"
)

// Kind identifies the HTML construct a resource was discovered through.
type Kind string

// Resource kinds. The kind comes from the referencing tag, never the URL extension.
const (
	KindCSS Kind = "css"
	KindJS  Kind = "js"
)

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	return k == KindCSS || k == KindJS
}

// ParseKind converts a stored kind string back into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
	return k, nil
}

// Resource is one discovered asset with its raw content.
type Resource struct {
	URL     string `json:"url"`
	Content []byte `json:"-"`
	Kind    Kind   `json:"type"`
}

// Clone returns a deep copy so the caller can hand off ownership safely.
func (r Resource) Clone() Resource {
	r.Content = append([]byte(nil), r.Content...)
	return r
}

// Batch is the ordered set of resources collected from a single page scan.
type Batch struct {
	ID        string     `json:"id"`
	PageURL   string     `json:"page_url,omitempty"`
	Resources []Resource `json:"resources"`
	CreatedAt time.Time  `json:"created_at"`
}

// Clone deep-copies the batch and its resources.
func (b Batch) Clone() Batch {
	out := b
	out.Resources = make([]Resource, len(b.Resources))
	for i, r := range b.Resources {
		out.Resources[i] = r.Clone()
	}
	return out
}

// BatchState is the lifecycle state of a batch inside the persistence pipeline.
type BatchState string

// Batch states, in order of progression.
const (
	BatchQueued     BatchState = "queued"
	BatchDispatched BatchState = "dispatched"
	BatchProcessing BatchState = "processing"
	BatchDone       BatchState = "done"
	BatchFailed     BatchState = "failed"
)

// Terminal reports whether the state ends a drain attempt.
func (s BatchState) Terminal() bool {
	return s == BatchDone || s == BatchFailed
}

// PendingItem is a single resource waiting in the pending-work list.
type PendingItem struct {
	ID         int64     `json:"id"`
	BatchID    string    `json:"batch_id"`
	Seq        int       `json:"seq"`
	Resource   Resource  `json:"resource"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// StoredResource is the persisted form of a Resource, keyed by URL.
type StoredResource struct {
	URL       string    `json:"url"`
	Kind      Kind      `json:"type"`
	Content   []byte    `json:"-"`
	Hash      string    `json:"hash"`
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertOutcome describes what an idempotent upsert did.
type UpsertOutcome string

// Upsert outcomes.
const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// Zones returned by the collector; opaque to this package.
const (
	ZoneAll      = "all"
	ZoneCSSAndJS = "css_and_js"
)
