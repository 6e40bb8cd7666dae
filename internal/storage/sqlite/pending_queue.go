package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

const pendingDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id    TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	url         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	content     BLOB NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	enqueued_at INTEGER NOT NULL
)`

const pendingIndexDDL = `CREATE INDEX IF NOT EXISTS %[1]s_batch_idx ON %[1]s (batch_id, seq)`

// PendingQueue is a durable pending-work list backed by a SQLite table.
type PendingQueue struct {
	table
	now func() time.Time
}

// NewPendingQueue builds the queue. Name defaults to rucss_pending.
func NewPendingQueue(db *sql.DB, tableName string) (*PendingQueue, error) {
	if tableName == "" {
		tableName = "rucss_pending"
	}
	t, err := newTable(db, tableName, pendingDDL, pendingIndexDDL)
	if err != nil {
		return nil, err
	}
	return &PendingQueue{table: t, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Push inserts one row per resource inside a transaction.
func (q *PendingQueue) Push(ctx context.Context, batch warmup.Batch) (err error) {
	if len(batch.Resources) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin push: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (batch_id, seq, url, kind, content, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)`, q.name))
	if err != nil {
		return fmt.Errorf("prepare push: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := toUnix(q.now())
	for i, res := range batch.Resources {
		content := res.Content
		if content == nil {
			content = []byte{}
		}
		if _, err = stmt.ExecContext(ctx, batch.ID, i, res.URL, string(res.Kind), content, now); err != nil {
			return fmt.Errorf("insert pending: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit push: %w", err)
	}
	return nil
}

// Pending returns up to limit items after afterID in insertion order. limit <= 0 returns all.
func (q *PendingQueue) Pending(ctx context.Context, afterID int64, limit int) ([]warmup.PendingItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, batch_id, seq, url, kind, content, attempts, last_error, enqueued_at
FROM %s
WHERE id > ?
ORDER BY id
LIMIT ?`, q.name), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []warmup.PendingItem
	for rows.Next() {
		var (
			item     warmup.PendingItem
			kind     string
			enqueued int64
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
			&enqueued,
		); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		item.Resource.Kind = warmup.Kind(kind)
		item.EnqueuedAt = fromUnix(enqueued)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return items, nil
}

// Remove deletes a drained item.
func (q *PendingQueue) Remove(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, q.name), id); err != nil {
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
	query := fmt.Sprintf(`UPDATE %s SET attempts = attempts + 1, last_error = ? WHERE id = ?`, q.name)
	if _, err := q.db.ExecContext(ctx, query, msg, id); err != nil {
		return fmt.Errorf("mark pending failed: %w", err)
	}
	return nil
}

// Len counts pending rows.
func (q *PendingQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, q.name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}
