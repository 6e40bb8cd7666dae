// Package memory provides an in-process pending-work list for local development
// and tests. Items survive drains but not process restarts.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

// Queue is an ordered in-memory pending-work list with context-aware operations.
type Queue struct {
	mu     sync.Mutex
	items  []warmup.PendingItem
	nextID int64
	closed bool
	now    func() time.Time
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{now: func() time.Time { return time.Now().UTC() }}
}

// Push appends one pending item per resource, preserving batch order.
func (q *Queue) Push(ctx context.Context, batch warmup.Batch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return warmup.ErrQueueClosed
	}
	now := q.now()
	for i, res := range batch.Resources {
		q.nextID++
		q.items = append(q.items, warmup.PendingItem{
			ID:         q.nextID,
			BatchID:    batch.ID,
			Seq:        i,
			Resource:   res.Clone(),
			EnqueuedAt: now,
		})
	}
	return nil
}

// Pending returns up to limit items after afterID in enqueue order. limit <= 0 returns all.
func (q *Queue) Pending(ctx context.Context, afterID int64, limit int) ([]warmup.PendingItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pending canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []warmup.PendingItem
	for _, item := range q.items {
		if item.ID <= afterID {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		item.Resource = item.Resource.Clone()
		out = append(out, item)
	}
	return out, nil
}

// Remove deletes a drained item. Removing an unknown id is a no-op.
func (q *Queue) Remove(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = slices.DeleteFunc(q.items, func(it warmup.PendingItem) bool { return it.ID == id })
	return nil
}

// MarkFailed records a failed drain attempt; the item stays pending.
func (q *Queue) MarkFailed(_ context.Context, id int64, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		q.items[i].Attempts++
		if cause != nil {
			q.items[i].LastError = cause.Error()
		}
		return nil
	}
	return nil
}

// Len returns the number of pending items.
func (q *Queue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close rejects further pushes. Pending items remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
