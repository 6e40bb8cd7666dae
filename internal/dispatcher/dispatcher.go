// Package dispatcher drains the pending-work list and fans batches out to workers.
package dispatcher

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/asset-warmup/internal/metrics"
	"github.com/JakeFAU/asset-warmup/internal/warmup"
	"github.com/JakeFAU/asset-warmup/internal/worker"
)

const (
	defaultRetryInterval = 30 * time.Second
	defaultDrainLimit    = 500
	maxTrackedBatches    = 10000
)

// Processor persists the items of one batch.
type Processor interface {
	ProcessBatch(ctx context.Context, batchID string, items []warmup.PendingItem) worker.Result
}

// Config controls drain cadence.
type Config struct {
	RetryInterval time.Duration
	DrainLimit    int
}

// Dispatcher owns the background drain loop.
type Dispatcher struct {
	queue   warmup.PendingQueue
	workers []Processor
	cfg     Config
	logger  *zap.Logger
	signal  chan struct{}

	mu     sync.Mutex
	states map[string]warmup.BatchState
	order  []string
}

// New creates a Dispatcher. At least one worker is required for Run to make progress.
func New(queue warmup.PendingQueue, workers []Processor, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.DrainLimit <= 0 {
		cfg.DrainLimit = defaultDrainLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		cfg:     cfg,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		states:  make(map[string]warmup.BatchState),
	}
}

// Enqueue appends the batch to the pending-work list.
func (d *Dispatcher) Enqueue(ctx context.Context, batch warmup.Batch) error {
	if err := d.queue.Push(ctx, batch.Clone()); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.setState(batch.ID, warmup.BatchQueued)
	d.refreshPending(ctx)
	return nil
}

// Dispatch requests a drain. It never blocks; concurrent requests coalesce.
func (d *Dispatcher) Dispatch() {
	d.mu.Lock()
	for _, id := range d.order {
		if d.states[id] == warmup.BatchQueued {
			d.states[id] = warmup.BatchDispatched
			metrics.ObserveBatch(string(warmup.BatchDispatched))
		}
	}
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// State returns the last known state of a batch.
func (d *Dispatcher) State(batchID string) (warmup.BatchState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.states[batchID]
	return state, ok
}

// Run drains on every signal and every retry tick until the context finishes.
// Items left behind by a previous process are picked up on the first tick.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.signal:
		case <-ticker.C:
		}
		d.drain(ctx)
	}
}

type job struct {
	batchID string
	items   []warmup.PendingItem
}

// drain walks the pending list once, page by page. Each page starts after the
// last id of the previous one, so items that keep failing are retried on the
// next drain without holding back the items behind them.
func (d *Dispatcher) drain(ctx context.Context) {
	var after int64
	failed := make(map[string]bool)
	for ctx.Err() == nil {
		items, err := d.queue.Pending(ctx, after, d.cfg.DrainLimit)
		if err != nil {
			d.logger.Error("load pending items failed", zap.Error(err))
			return
		}
		if len(items) == 0 {
			d.refreshPending(ctx)
			return
		}

		after = items[len(items)-1].ID

		jobs := groupByBatch(items)
		removed := d.runJobs(ctx, jobs, failed)
		d.refreshPending(ctx)
		d.logger.Debug("drain pass complete",
			zap.Int("items", len(items)),
			zap.Int("batches", len(jobs)),
			zap.Int("removed", removed),
		)

		if len(items) < d.cfg.DrainLimit {
			return
		}
	}
}

// runJobs fans jobs out to the workers. failed carries batches that already had
// a failing item earlier in the same drain, so a later page cannot mark them done.
func (d *Dispatcher) runJobs(ctx context.Context, jobs []job, failed map[string]bool) int {
	if len(d.workers) == 0 {
		d.logger.Error("no workers configured", zap.Int("batches", len(jobs)))
		return 0
	}

	work := make(chan job)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
	)
	for _, w := range d.workers {
		wg.Add(1)
		go func(p Processor) {
			defer wg.Done()
			for j := range work {
				d.setState(j.batchID, warmup.BatchProcessing)
				res := p.ProcessBatch(ctx, j.batchID, j.items)
				mu.Lock()
				if res.Failed > 0 {
					failed[j.batchID] = true
				}
				state := warmup.BatchDone
				if failed[j.batchID] {
					state = warmup.BatchFailed
				}
				mu.Unlock()
				d.setState(j.batchID, state)
				d.logger.Info("batch processed",
					zap.String("batch_id", j.batchID),
					zap.String("state", string(state)),
					zap.Int("written", res.Written),
					zap.Int("unchanged", res.Unchanged),
					zap.Int("failed", res.Failed),
					zap.Int("dropped", res.Dropped),
				)
				mu.Lock()
				removed += res.Written + res.Unchanged + res.Dropped
				mu.Unlock()
			}
		}(w)
	}

	for _, j := range jobs {
		select {
		case work <- j:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()
	return removed
}

// groupByBatch splits items into per-batch jobs, keeping first-seen batch order
// and sequence order within a batch.
func groupByBatch(items []warmup.PendingItem) []job {
	index := make(map[string]int)
	var jobs []job
	for _, item := range items {
		i, ok := index[item.BatchID]
		if !ok {
			i = len(jobs)
			index[item.BatchID] = i
			jobs = append(jobs, job{batchID: item.BatchID})
		}
		jobs[i].items = append(jobs[i].items, item)
	}
	for _, j := range jobs {
		slices.SortStableFunc(j.items, func(a, b warmup.PendingItem) int {
			return cmp.Compare(a.Seq, b.Seq)
		})
	}
	return jobs
}

func (d *Dispatcher) setState(batchID string, state warmup.BatchState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[batchID]; !ok {
		d.order = append(d.order, batchID)
		d.pruneLocked()
	}
	d.states[batchID] = state
	metrics.ObserveBatch(string(state))
}

// pruneLocked forgets the oldest terminal batches once the table grows too large.
func (d *Dispatcher) pruneLocked() {
	if len(d.order) <= maxTrackedBatches {
		return
	}
	kept := d.order[:0]
	excess := len(d.order) - maxTrackedBatches
	for _, id := range d.order {
		if excess > 0 && d.states[id].Terminal() {
			delete(d.states, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	d.order = kept
}

func (d *Dispatcher) refreshPending(ctx context.Context) {
	n, err := d.queue.Len(ctx)
	if err != nil {
		d.logger.Warn("pending length unavailable", zap.Error(err))
		return
	}
	metrics.SetPendingItems(n)
}
