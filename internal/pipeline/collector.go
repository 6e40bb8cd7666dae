// Package pipeline collects the CSS and JS resources referenced by a rendered
// page and hands them to the asynchronous persistence queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/asset-warmup/internal/metrics"
	"github.com/JakeFAU/asset-warmup/internal/scanner"
	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// Resolver turns one candidate reference into a resource.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, kind warmup.Kind) (warmup.Resource, error)
}

// Queue accepts batches and triggers out-of-band draining.
type Queue interface {
	Enqueue(ctx context.Context, batch warmup.Batch) error
	Dispatch()
}

// Config tunes the collector.
type Config struct {
	// ResolveConcurrency bounds parallel resolutions per page; <= 1 resolves sequentially.
	ResolveConcurrency int
}

// Collector implements the scan, resolve, enqueue, dispatch flow for one page.
type Collector struct {
	resolver Resolver
	queue    Queue
	idGen    warmup.IDGenerator
	clock    warmup.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Collector.
func New(
	resolver Resolver,
	queue Queue,
	idGen warmup.IDGenerator,
	clock warmup.Clock,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		resolver: resolver,
		queue:    queue,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Zones declares the applicability tags a host scheduler uses to decide when
// this collector runs.
func (c *Collector) Zones() []string {
	return Zones()
}

// Zones is the static zone list, available before a Collector exists so the
// resolver can be configured with the matching CDN hosts.
func Zones() []string {
	return []string{warmup.ZoneAll, warmup.ZoneCSSAndJS}
}

// Handle collects resources from html and queues them for persistence.
// Failures are logged; nothing is returned to the caller.
func (c *Collector) Handle(ctx context.Context, html string) {
	c.HandlePage(ctx, "", html)
}

// HandlePage is Handle with the originating page URL recorded on the batch.
func (c *Collector) HandlePage(ctx context.Context, pageURL, html string) {
	_, _ = c.Submit(ctx, pageURL, html)
}

// Submit runs the same flow as HandlePage and reports the queued batch ID.
// An empty ID with a nil error means the page referenced nothing resolvable.
func (c *Collector) Submit(ctx context.Context, pageURL, html string) (string, error) {
	resources := c.collect(ctx, html)
	if len(resources) == 0 {
		c.logger.Debug("no resources collected", zap.String("page_url", pageURL))
		return "", nil
	}

	batchID, err := c.idGen.NewID()
	if err != nil {
		c.logger.Error("generate batch id failed", zap.String("page_url", pageURL), zap.Error(err))
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	batch := warmup.Batch{
		ID:        batchID,
		PageURL:   pageURL,
		Resources: resources,
		CreatedAt: c.clock.Now(),
	}
	if err := c.queue.Enqueue(ctx, batch); err != nil {
		c.logger.Error("enqueue batch failed",
			zap.String("batch_id", batchID),
			zap.String("page_url", pageURL),
			zap.Int("resources", len(resources)),
			zap.Error(err),
		)
		return "", fmt.Errorf("enqueue batch %s: %w", batchID, err)
	}
	c.queue.Dispatch()
	c.logger.Debug("batch queued",
		zap.String("batch_id", batchID),
		zap.String("page_url", pageURL),
		zap.Int("resources", len(resources)),
	)
	return batchID, nil
}

type candidate struct {
	url  string
	kind warmup.Kind
}

func (c *Collector) collect(ctx context.Context, html string) []warmup.Resource {
	var candidates []candidate
	for m := range scanner.Stylesheets(html) {
		candidates = append(candidates, candidate{url: m.URL, kind: warmup.KindCSS})
	}
	for m := range scanner.Scripts(html) {
		candidates = append(candidates, candidate{url: m.URL, kind: warmup.KindJS})
	}
	if len(candidates) == 0 {
		return nil
	}

	results := make([]*warmup.Resource, len(candidates))
	var g errgroup.Group
	g.SetLimit(max(1, c.cfg.ResolveConcurrency))
	for i, cand := range candidates {
		g.Go(func() error {
			res, err := c.resolver.Resolve(ctx, cand.url, cand.kind)
			if err != nil {
				c.logFailure(cand, err)
				return nil
			}
			metrics.ObserveResolved(string(res.Kind))
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait() // resolution failures are logged per item, never returned

	seen := make(map[string]struct{}, len(results))
	out := make([]warmup.Resource, 0, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		if _, dup := seen[res.URL]; dup {
			continue
		}
		seen[res.URL] = struct{}{}
		out = append(out, *res)
	}
	return out
}

func (c *Collector) logFailure(cand candidate, err error) {
	var failure *warmup.ResolutionFailure
	if !errors.As(err, &failure) {
		metrics.ObserveResolutionFailure("unknown")
		c.logger.Error("resolve resource failed",
			zap.String("url", cand.url),
			zap.String("kind", string(cand.kind)),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveResolutionFailure(string(failure.Reason))
	fields := []zap.Field{
		zap.String("component", "warmup"),
		zap.String("reason", string(failure.Reason)),
		zap.String("url", failure.URL),
		zap.String("kind", string(cand.kind)),
	}
	if failure.Path != "" {
		fields = append(fields, zap.String("path", failure.Path))
	}
	if failure.Err != nil {
		fields = append(fields, zap.Error(failure.Err))
	}
	switch failure.Reason {
	case warmup.ReasonNoPath:
		c.logger.Error("could not get the file path from the url", fields...)
	default:
		c.logger.Error("no file content", fields...)
	}
}
