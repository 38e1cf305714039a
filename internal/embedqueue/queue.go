// Package embedqueue keeps the vector index in step with the notes.
//
// Every note change enqueues the note; a scheduled processor drains the
// queue in batches, re-embedding updated notes and removing the vectors of
// deleted ones. Items that keep failing are flagged as permanently failed
// and stay in the queue until an operator retries them.
package embedqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
)

// MaxAttempts is the number of failed attempts after which an item is
// permanently failed.
const MaxAttempts = 3

// RetryPriority is given to items an operator retries, so they go first.
const RetryPriority = 10

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Queue is the persistent embedding queue, stored in SQLite.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// New creates the queue table in db if needed.
func New(ctx context.Context, db *sql.DB) (*Queue, error) {
	q := &Queue{db: db, now: func() time.Time { return time.Now().UTC() }}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS embedding_queue (
			note_id       TEXT PRIMARY KEY,
			operation     TEXT NOT NULL,
			attempts      INTEGER NOT NULL DEFAULT 0,
			last_attempt  TEXT,
			error         TEXT,
			failed        INTEGER NOT NULL DEFAULT 0,
			is_processing INTEGER NOT NULL DEFAULT 0,
			priority      INTEGER NOT NULL DEFAULT 0,
			queued_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_embedding_queue_pending
			ON embedding_queue(failed, is_processing, priority DESC, queued_at);
	`)
	if err != nil {
		return nil, fmt.Errorf("create embedding queue: %w", err)
	}
	return q, nil
}

// Enqueue records that noteID needs op. A note already in the queue is
// reset to op with a fresh queue time, unless it is being processed or
// has permanently failed; those are left alone.
func (q *Queue) Enqueue(ctx context.Context, noteID string, op models.QueueOperation) error {
	if noteID == "" {
		return errors.New("enqueue: empty note id")
	}
	if op == "" {
		op = models.OpUpdate
	}
	now := q.now().Format(timeLayout)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", noteID, err)
	}
	defer tx.Rollback()

	var failed, processing bool
	err = tx.QueryRowContext(ctx,
		`SELECT failed, is_processing FROM embedding_queue WHERE note_id = ?`, noteID).Scan(&failed, &processing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO embedding_queue (note_id, operation, queued_at) VALUES (?, ?, ?)`,
			noteID, string(op), now)
	case err != nil:
	case processing:
		log.Debug().Str("note_id", noteID).Msg("Note is being embedded, not re-queued")
		return nil
	case failed:
		log.Info().Str("note_id", noteID).Msg("Note permanently failed embedding, skipping automatic re-queue")
		return nil
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE embedding_queue
			SET operation = ?, queued_at = ?, attempts = 0, error = NULL
			WHERE note_id = ?`, string(op), now, noteID)
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", noteID, err)
	}
	return tx.Commit()
}

// Pending returns up to limit items that are neither failed nor being
// processed, highest priority first, then oldest.
func (q *Queue) Pending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, selectItems+`
		WHERE failed = 0 AND is_processing = 0
		ORDER BY priority DESC, queued_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending embeddings: %w", err)
	}
	return collectItems(rows)
}

// Claim marks noteID as processing. It reports false when the item is gone
// or already claimed.
func (q *Queue) Claim(ctx context.Context, noteID string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE embedding_queue SET is_processing = 1 WHERE note_id = ? AND is_processing = 0 AND failed = 0`, noteID)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", noteID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Complete removes noteID from the queue.
func (q *Queue) Complete(ctx context.Context, noteID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM embedding_queue WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("complete %s: %w", noteID, err)
	}
	return nil
}

// Fail records a failed attempt and releases the item. It reports whether
// the item is now permanently failed.
func (q *Queue) Fail(ctx context.Context, noteID string, cause error) (bool, error) {
	var attempts int
	err := q.db.QueryRowContext(ctx, `
		UPDATE embedding_queue
		SET attempts = attempts + 1, last_attempt = ?, error = ?, is_processing = 0,
			failed = CASE WHEN attempts + 1 >= ? THEN 1 ELSE failed END
		WHERE note_id = ?
		RETURNING attempts`,
		q.now().Format(timeLayout), cause.Error(), MaxAttempts, noteID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record failure for %s: %w", noteID, err)
	}
	return attempts >= MaxAttempts, nil
}

// Failed lists items with failed attempts, permanent failures first.
func (q *Queue) Failed(ctx context.Context, limit int) ([]models.FailedEmbedding, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, selectItems+`
		WHERE attempts > 0 OR failed = 1
		ORDER BY failed DESC, attempts DESC, last_attempt DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed embeddings: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	out := make([]models.FailedEmbedding, len(items))
	for i, it := range items {
		out[i] = models.FailedEmbedding{
			QueueItem:   it,
			FailureType: failureType(it.Error),
			IsPermanent: it.Failed,
		}
	}
	return out, nil
}

// Retry resets a failed item so it is processed next. It reports false
// when noteID has no failed attempts.
func (q *Queue) Retry(ctx context.Context, noteID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, retryUpdate+` AND note_id = ?`,
		q.now().Format(timeLayout), RetryPriority, noteID)
	if err != nil {
		return false, fmt.Errorf("retry %s: %w", noteID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RetryAll resets every failed item and returns how many were reset.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, retryUpdate, q.now().Format(timeLayout), RetryPriority)
	if err != nil {
		return 0, fmt.Errorf("retry all: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReleaseStale clears processing flags left behind by a crashed process.
func (q *Queue) ReleaseStale(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE embedding_queue SET is_processing = 0 WHERE is_processing = 1`)
	if err != nil {
		return 0, fmt.Errorf("release stale items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats counts queue items by state.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

// Stats returns current queue counts.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN failed = 0 AND is_processing = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(is_processing), 0),
			COALESCE(SUM(failed), 0)
		FROM embedding_queue`).Scan(&s.Pending, &s.Processing, &s.Failed)
	if err != nil {
		return s, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

// ── Helpers ─────────────────────────────────────────────────

const selectItems = `SELECT note_id, operation, attempts, last_attempt, error, failed, is_processing, priority, queued_at
	FROM embedding_queue`

const retryUpdate = `UPDATE embedding_queue
	SET attempts = 0, error = NULL, failed = 0, queued_at = ?, priority = ?
	WHERE (failed = 1 OR attempts > 0)`

func collectItems(rows *sql.Rows) ([]models.QueueItem, error) {
	defer rows.Close()
	var items []models.QueueItem
	for rows.Next() {
		var it models.QueueItem
		var op, queued string
		var last, errText sql.NullString
		if err := rows.Scan(&it.NoteID, &op, &it.Attempts, &last, &errText,
			&it.Failed, &it.IsProcessing, &it.Priority, &queued); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		it.Operation = models.QueueOperation(op)
		it.Error = errText.String
		it.QueuedAt, _ = time.Parse(timeLayout, queued)
		if last.Valid {
			if t, err := time.Parse(timeLayout, last.String); err == nil {
				it.LastAttempt = &t
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// failureType tells chunk-level failures of long notes from whole-note ones.
func failureType(errText string) string {
	if strings.Contains(errText, "chunks") {
		return "chunks"
	}
	return "full"
}
