package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

func TestCollectorHandleBuildsOrderedBatch(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{contents: map[string]string{
		"/a.css": "a{}",
		"/b.js":  "b()",
	}}
	queue := &fakeQueue{}
	c := New(resolver, queue, &fakeIDs{}, fakeClock{}, Config{}, zap.NewNop())

	c.Handle(context.Background(), `<link rel="stylesheet" href="/a.css"><script src="/b.js"></script>`)

	require.Len(t, queue.batches, 1)
	require.Equal(t, 1, queue.dispatches)
	batch := queue.batches[0]
	require.Equal(t, "batch-1", batch.ID)
	require.Equal(t, []warmup.Resource{
		{URL: "/a.css", Kind: warmup.KindCSS, Content: []byte("a{}")},
		{URL: "/b.js", Kind: warmup.KindJS, Content: []byte("b()")},
	}, batch.Resources)
}

func TestCollectorCountsAndKinds(t *testing.T) {
	t.Parallel()

	const n, m = 4, 3
	contents := map[string]string{}
	html := ""
	for i := range n {
		u := fmt.Sprintf("/s%d.css", i)
		contents[u] = "css"
		html += fmt.Sprintf(`<link href=%q rel="stylesheet">`, u)
	}
	for i := range m {
		u := fmt.Sprintf("/j%d.js", i)
		contents[u] = "js"
		html += fmt.Sprintf(`<script src=%q></script>`, u)
	}
	html += `<link href="/not-a-stylesheet.css" rel="icon">`

	queue := &fakeQueue{}
	c := New(&fakeResolver{contents: contents}, queue, &fakeIDs{}, fakeClock{}, Config{ResolveConcurrency: 3}, nil)
	c.Handle(context.Background(), html)

	require.Len(t, queue.batches, 1)
	resources := queue.batches[0].Resources
	require.Len(t, resources, n+m)
	for i, res := range resources {
		if i < n {
			require.Equal(t, warmup.KindCSS, res.Kind)
			require.Equal(t, fmt.Sprintf("/s%d.css", i), res.URL, "document order preserved")
		} else {
			require.Equal(t, warmup.KindJS, res.Kind)
		}
	}
}

func TestCollectorFailureIsolation(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	resolver := &fakeResolver{
		contents: map[string]string{"/ok.css": "ok", "/ok.js": "ok"},
		failures: map[string]*warmup.ResolutionFailure{
			"/404.css":   {Reason: warmup.ReasonEmptyContent, URL: "https://example.com/404.css", Path: "/root/404.css"},
			"/nopath.js": {Reason: warmup.ReasonNoPath, URL: "https://example.com/nopath.js"},
		},
	}
	queue := &fakeQueue{}
	c := New(resolver, queue, &fakeIDs{}, fakeClock{}, Config{}, zap.New(core))

	c.Handle(context.Background(), `
<link rel="stylesheet" href="/404.css">
<link rel="stylesheet" href="/ok.css">
<script src="/nopath.js"></script>
<script src="/ok.js"></script>`)

	require.Len(t, queue.batches, 1)
	require.Len(t, queue.batches[0].Resources, 2)
	require.Equal(t, 1, logs.FilterMessage("no file content").FilterField(zap.String("path", "/root/404.css")).Len())
	require.Equal(t, 1, logs.FilterMessage("could not get the file path from the url").Len())
}

func TestCollectorEmptyHTMLEnqueuesNothing(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	c := New(&fakeResolver{}, queue, &fakeIDs{}, fakeClock{}, Config{}, zap.NewNop())

	c.Handle(context.Background(), "")
	c.Handle(context.Background(), "<html><body>no assets</body></html>")

	require.Empty(t, queue.batches)
	require.Zero(t, queue.dispatches)
}

func TestCollectorDeduplicatesWithinBatch(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	c := New(&fakeResolver{contents: map[string]string{"/a.css": "a"}}, queue, &fakeIDs{}, fakeClock{}, Config{}, nil)
	c.HandlePage(context.Background(), "https://example.com/page",
		`<link rel="stylesheet" href="/a.css"><link rel="stylesheet" href="/a.css">`)

	require.Len(t, queue.batches, 1)
	require.Len(t, queue.batches[0].Resources, 1)
	require.Equal(t, "https://example.com/page", queue.batches[0].PageURL)
}

func TestCollectorEnqueueErrorIsLoggedNotDispatched(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	queue := &fakeQueue{err: errors.New("queue full")}
	c := New(&fakeResolver{contents: map[string]string{"/a.js": "a"}}, queue, &fakeIDs{}, fakeClock{}, Config{}, zap.New(core))

	c.Handle(context.Background(), `<script src="/a.js"></script>`)

	require.Zero(t, queue.dispatches)
	require.Equal(t, 1, logs.FilterMessage("enqueue batch failed").Len())
}

func TestCollectorSubmitReportsBatch(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	c := New(&fakeResolver{contents: map[string]string{"/a.css": "a"}}, queue, &fakeIDs{}, fakeClock{}, Config{}, nil)

	id, err := c.Submit(context.Background(), "https://example.com/", `<link rel="stylesheet" href="/a.css">`)
	require.NoError(t, err)
	require.Equal(t, "batch-1", id)

	id, err = c.Submit(context.Background(), "https://example.com/", "<p>nothing</p>")
	require.NoError(t, err)
	require.Empty(t, id)

	queue.err = errors.New("closed")
	_, err = c.Submit(context.Background(), "https://example.com/", `<link rel="stylesheet" href="/a.css">`)
	require.ErrorContains(t, err, "closed")
}

func TestCollectorZones(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, nil, nil, Config{}, nil)
	require.ElementsMatch(t, []string{"all", "css_and_js"}, c.Zones())
}

// --- fakes ---

type fakeResolver struct {
	contents map[string]string
	failures map[string]*warmup.ResolutionFailure
}

func (r *fakeResolver) Resolve(_ context.Context, rawURL string, kind warmup.Kind) (warmup.Resource, error) {
	if f, ok := r.failures[rawURL]; ok {
		return warmup.Resource{}, f
	}
	body, ok := r.contents[rawURL]
	if !ok {
		return warmup.Resource{}, &warmup.ResolutionFailure{Reason: warmup.ReasonNoPath, URL: rawURL}
	}
	return warmup.Resource{URL: rawURL, Kind: kind, Content: []byte(body)}, nil
}

type fakeQueue struct {
	mu         sync.Mutex
	batches    []warmup.Batch
	dispatches int
	err        error
}

func (q *fakeQueue) Enqueue(_ context.Context, batch warmup.Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.batches = append(q.batches, batch)
	return nil
}

func (q *fakeQueue) Dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatches++
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("batch-%d", g.n), nil
}

type fakeClock struct{}

func (fakeClock) Now() time.Time {
	return time.Unix(1700000000, 0).UTC()
}
