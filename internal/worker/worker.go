// Package worker persists drained pending items into the resource store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/asset-warmup/internal/metrics"
	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// EventResourceStored is the notification type published after a write.
const EventResourceStored = "resource.stored"

// Archiver stores an immutable copy of a resource revision and returns its URI.
type Archiver interface {
	Archive(ctx context.Context, res warmup.StoredResource) (string, error)
}

// StoredEvent is published after a resource row was created or updated.
type StoredEvent struct {
	Event     string `json:"event"`
	BatchID   string `json:"batch_id"`
	URL       string `json:"url"`
	Type      string `json:"type"`
	Hash      string `json:"hash"`
	Archive   string `json:"archive,omitempty"`
	Outcome   string `json:"outcome"`
	Timestamp string `json:"timestamp"`
}

// Attributes returns the message attributes subscribers filter on.
func (e StoredEvent) Attributes() map[string]string {
	return map[string]string{
		"event":   e.Event,
		"type":    e.Type,
		"outcome": e.Outcome,
	}
}

// Config controls Worker behavior.
type Config struct {
	Topic string
}

// Result summarizes one batch run.
type Result struct {
	Written   int
	Unchanged int
	Failed    int
	// Dropped counts items removed without a write because they can never succeed.
	Dropped int
}

// Worker processes the pending items of one batch at a time, in sequence order.
type Worker struct {
	queue     warmup.PendingQueue
	store     warmup.ResourceStore
	archiver  Archiver
	publisher warmup.Publisher
	hasher    warmup.Hasher
	clock     warmup.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. archiver and publisher are optional.
func New(
	queue warmup.PendingQueue,
	store warmup.ResourceStore,
	archiver Archiver,
	publisher warmup.Publisher,
	hasher warmup.Hasher,
	clock warmup.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		store:     store,
		archiver:  archiver,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessBatch persists every item of a batch. A failing item is marked and left
// pending; the remaining items are still processed.
func (w *Worker) ProcessBatch(ctx context.Context, batchID string, items []warmup.PendingItem) Result {
	var res Result
	for _, item := range items {
		if ctx.Err() != nil {
			res.Failed += len(items) - (res.Written + res.Unchanged + res.Failed + res.Dropped)
			return res
		}
		outcome, err := w.processItem(ctx, item)
		if errors.Is(err, warmup.ErrEmptyContent) {
			res.Dropped++
			metrics.ObservePersisted("failed")
			w.logger.Error("dropped pending item without content",
				zap.String("batch_id", batchID),
				zap.Int64("item_id", item.ID),
				zap.String("url", item.Resource.URL),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			res.Failed++
			metrics.ObservePersisted("failed")
			w.logger.Error("persist resource failed",
				zap.String("batch_id", batchID),
				zap.Int64("item_id", item.ID),
				zap.String("url", item.Resource.URL),
				zap.Int("attempts", item.Attempts+1),
				zap.Error(err),
			)
			if markErr := w.queue.MarkFailed(ctx, item.ID, err); markErr != nil {
				w.logger.Error("mark pending item failed",
					zap.Int64("item_id", item.ID),
					zap.Error(markErr),
				)
			}
			continue
		}
		if outcome == warmup.UpsertUnchanged {
			res.Unchanged++
			metrics.ObservePersisted("unchanged")
		} else {
			res.Written++
			metrics.ObservePersisted("written")
		}
	}
	return res
}

func (w *Worker) processItem(ctx context.Context, item warmup.PendingItem) (warmup.UpsertOutcome, error) {
	resource := item.Resource
	if len(resource.Content) == 0 {
		// Nothing to store; drop it so it does not pin the queue.
		if err := w.queue.Remove(ctx, item.ID); err != nil {
			return "", &warmup.PersistenceFailure{URL: resource.URL, Op: "ack", Err: err}
		}
		return "", &warmup.PersistenceFailure{URL: resource.URL, Op: "validate", Err: warmup.ErrEmptyContent}
	}

	hash, err := w.hasher.Hash(resource.Content)
	if err != nil {
		return "", &warmup.PersistenceFailure{URL: resource.URL, Op: "hash", Err: err}
	}

	existing, err := w.store.Get(ctx, resource.URL)
	switch {
	case err == nil && existing.Hash == hash:
		w.logger.Debug("resource unchanged", zap.String("url", resource.URL), zap.String("hash", hash))
		if err := w.queue.Remove(ctx, item.ID); err != nil {
			return "", &warmup.PersistenceFailure{URL: resource.URL, Op: "ack", Err: err}
		}
		return warmup.UpsertUnchanged, nil
	case err != nil && !errors.Is(err, warmup.ErrNotFound):
		return "", &warmup.PersistenceFailure{URL: resource.URL, Op: "lookup", Err: err}
	}

	now := w.clock.Now()
	record := warmup.StoredResource{
		URL:       resource.URL,
		Kind:      resource.Kind,
		Content:   resource.Content,
		Hash:      hash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	uri := ""
	if w.archiver != nil {
		// Archive keys are content-addressed, so writing before the upsert is safe to repeat.
		if uri, err = w.archiver.Archive(ctx, record); err != nil {
			return "", &warmup.PersistenceFailure{URL: resource.URL, Op: "archive", Err: err}
		}
	}

	outcome, err := w.store.Upsert(ctx, record)
	if err != nil {
		return "", &warmup.PersistenceFailure{URL: resource.URL, Op: "upsert", Err: err}
	}

	if outcome != warmup.UpsertUnchanged {
		if err := w.publishResult(ctx, item, hash, uri, outcome); err != nil {
			w.logger.Warn("publish notification failed",
				zap.String("url", resource.URL),
				zap.Error(&warmup.PersistenceFailure{URL: resource.URL, Op: "publish", Err: err}),
			)
		}
	}

	if err := w.queue.Remove(ctx, item.ID); err != nil {
		return "", &warmup.PersistenceFailure{URL: resource.URL, Op: "ack", Err: err}
	}
	w.logger.Debug("resource stored",
		zap.String("batch_id", item.BatchID),
		zap.String("url", resource.URL),
		zap.String("hash", hash),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (w *Worker) publishResult(
	ctx context.Context,
	item warmup.PendingItem,
	hash string,
	uri string,
	outcome warmup.UpsertOutcome,
) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := StoredEvent{
		Event:     EventResourceStored,
		BatchID:   item.BatchID,
		URL:       item.Resource.URL,
		Type:      string(item.Resource.Kind),
		Hash:      hash,
		Archive:   uri,
		Outcome:   string(outcome),
		Timestamp: w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}
