package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

const pendingDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id          BIGSERIAL PRIMARY KEY,
	batch_id    TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	url         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	content     BYTEA NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	enqueued_at TIMESTAMPTZ NOT NULL
)`

const pendingIndexDDL = `CREATE INDEX IF NOT EXISTS %[1]s_batch_idx ON %[1]s (batch_id, seq)`

// PendingQueue is a durable pending-work list backed by a Postgres table.
type PendingQueue struct {
	table
	now func() time.Time
}

// NewPendingQueue builds the queue. Name defaults to rucss_pending.
func NewPendingQueue(db DB, tableName string) (*PendingQueue, error) {
	if tableName == "" {
		tableName = "rucss_pending"
	}
	t, err := newTable(db, tableName, pendingDDL, pendingIndexDDL)
	if err != nil {
		return nil, err
	}
	return &PendingQueue{table: t, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Push inserts one row per resource in a single statement.
func (q *PendingQueue) Push(ctx context.Context, batch warmup.Batch) error {
	if len(batch.Resources) == 0 {
		return nil
	}
	const cols = 6
	now := q.now()
	values := make([]string, 0, len(batch.Resources))
	args := make([]any, 0, len(batch.Resources)*cols)
	for i, res := range batch.Resources {
		base := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, batch.ID, i, res.URL, string(res.Kind), res.Content, now)
	}
	query := fmt.Sprintf(`INSERT INTO %s (batch_id, seq, url, kind, content, enqueued_at) VALUES %s`,
		q.name, strings.Join(values, ", "))
	if _, err := q.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert pending: %w", err)
	}
	return nil
}

// Pending returns up to limit items after afterID in insertion order. limit <= 0 returns all.
func (q *PendingQueue) Pending(ctx context.Context, afterID int64, limit int) ([]warmup.PendingItem, error) {
	query := fmt.Sprintf(`
SELECT id, batch_id, seq, url, kind, content, attempts, last_error, enqueued_at
FROM %s
WHERE id > $1
ORDER BY id`, q.name)
	args := []any{afterID}
	if limit > 0 {
		query += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	defer rows.Close()

	var items []warmup.PendingItem
	for rows.Next() {
		var (
			item warmup.PendingItem
			kind string
		)
		if err := rows.Scan(
			&item.ID,
			&item.BatchID,
			&item.Seq,
			&item.Resource.URL,
			&kind,
			&item.Resource.Content,
			&item.Attempts,
			&item.LastError,
			&item.EnqueuedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		item.Resource.Kind = warmup.Kind(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return items, nil
}

// Remove deletes a drained item.
func (q *PendingQueue) Remove(ctx context.Context, id int64) error {
	if _, err := q.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, q.name), id); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter and records the cause.
func (q *PendingQueue) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := fmt.Sprintf(`UPDATE %s SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, q.name)
	if _, err := q.db.Exec(ctx, query, id, msg); err != nil {
		return fmt.Errorf("mark pending failed: %w", err)
	}
	return nil
}

// Len counts pending rows.
func (q *PendingQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, q.name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}
