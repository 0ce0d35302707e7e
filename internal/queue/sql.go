package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLease = 2 * time.Minute
	defaultPoll  = 250 * time.Millisecond
)

// SQLQueue is a Queue persisted through database/sql. It runs on sqlite in
// standalone mode and on Postgres in managed mode; the retry state lives in
// the jobs table, so redelivery survives restarts. Claiming uses a lease
// (claimed_until) — a worker that dies mid-job releases its claim when the
// lease expires and the job is redelivered.
type SQLQueue struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
	lease   time.Duration
	poll    time.Duration
	done    chan struct{}
}

// NewSQL creates a SQL-backed queue. dialect must be "sqlite" or "postgres".
func NewSQL(db *sql.DB, dialect string) *SQLQueue {
	return &SQLQueue{
		db:      db,
		dialect: dialect,
		lease:   defaultLease,
		poll:    defaultPoll,
		done:    make(chan struct{}),
	}
}

// InitSchema creates the queue tables for sqlite standalone mode.
// Managed mode gets the equivalent schema from migrations.
func (q *SQLQueue) InitSchema(ctx context.Context) error {
	if q.dialect != "sqlite" {
		return nil
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			body TEXT NOT NULL,
			audio_url TEXT NOT NULL DEFAULT '',
			audio_base64 TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			instance TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			enqueued_at INTEGER NOT NULL,
			available_at INTEGER NOT NULL,
			claimed_until INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_available ON jobs (available_at)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL,
			error TEXT NOT NULL,
			failed_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init queue schema: %w", err)
		}
	}
	return nil
}

// rebind converts ?-style placeholders to $N for Postgres.
func (q *SQLQueue) rebind(query string) string {
	if q.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *SQLQueue) Enqueue(ctx context.Context, job *Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	if job.ID == "" {
		job.ID = newJobID()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	_, err := q.db.ExecContext(ctx, q.rebind(
		`INSERT INTO jobs (id, message_id, sender, sender_name, body, audio_url, audio_base64,
		                   kind, instance, attempt, enqueued_at, available_at, claimed_until)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`),
		job.ID, job.MessageID, job.Sender, job.SenderName, job.Text, job.AudioURL, job.AudioBase64,
		string(job.Kind), job.Instance, job.Attempt, job.EnqueuedAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *SQLQueue) Consume(ctx context.Context) (*Delivery, bool) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		job, err := q.claim(ctx)
		if err != nil {
			slog.Warn("queue.claim_failed", "error", err)
		}
		if job != nil {
			return &Delivery{Job: job, q: q}, true
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.done:
			return nil, false
		case <-ticker.C:
		}
	}
}

func (q *SQLQueue) claim(ctx context.Context) (*Job, error) {
	now := time.Now().UnixMilli()

	sub := `SELECT id FROM jobs WHERE available_at <= ? AND claimed_until < ? ORDER BY available_at LIMIT 1`
	if q.dialect == "postgres" {
		sub += ` FOR UPDATE SKIP LOCKED`
	}
	query := `UPDATE jobs SET claimed_until = ? WHERE id = (` + sub + `)
	          RETURNING id, message_id, sender, sender_name, body, audio_url, audio_base64,
	                    kind, instance, attempt, enqueued_at`

	row := q.db.QueryRowContext(ctx, q.rebind(query),
		time.Now().Add(q.lease).UnixMilli(), now, now)

	var job Job
	var kind string
	var enqueuedAt int64
	err := row.Scan(&job.ID, &job.MessageID, &job.Sender, &job.SenderName, &job.Text,
		&job.AudioURL, &job.AudioBase64, &kind, &job.Instance, &job.Attempt, &enqueuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.EnqueuedAt = time.UnixMilli(enqueuedAt)
	return &job, nil
}

func (q *SQLQueue) ack(ctx context.Context, job *Job) error {
	_, err := q.db.ExecContext(ctx, q.rebind(`DELETE FROM jobs WHERE id = ?`), job.ID)
	return err
}

func (q *SQLQueue) nack(ctx context.Context, job *Job, cause error) error {
	if job.Attempt >= MaxAttempts {
		payload, _ := json.Marshal(job)
		if _, err := q.db.ExecContext(ctx, q.rebind(
			`INSERT INTO dead_letters (payload, error, failed_at) VALUES (?, ?, ?)`),
			string(payload), errString(cause), time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("record dead letter: %w", err)
		}
		if _, err := q.db.ExecContext(ctx, q.rebind(`DELETE FROM jobs WHERE id = ?`), job.ID); err != nil {
			return err
		}
		// Keep the record bounded; oldest out first.
		_, err := q.db.ExecContext(ctx, q.rebind(
			`DELETE FROM dead_letters WHERE id NOT IN
			 (SELECT id FROM dead_letters ORDER BY id DESC LIMIT `+strconv.Itoa(DeadLetterCap)+`)`))
		if err != nil {
			slog.Warn("queue.dead_letter_prune_failed", "error", err)
		}
		slog.Warn("queue.dead_letter", "job", job.ID, "message", job.MessageID, "attempts", job.Attempt, "error", errString(cause))
		return nil
	}

	delay := Backoff(job.Attempt)
	_, err := q.db.ExecContext(ctx, q.rebind(
		`UPDATE jobs SET attempt = attempt + 1, available_at = ?, claimed_until = 0 WHERE id = ?`),
		time.Now().Add(delay).UnixMilli(), job.ID)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	slog.Debug("queue.retry_scheduled", "job", job.ID, "attempt", job.Attempt+1, "delay", delay)
	return nil
}

func (q *SQLQueue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT payload, error, failed_at FROM dead_letters ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var payload, errMsg string
		var failedAt int64
		if err := rows.Scan(&payload, &errMsg, &failedAt); err != nil {
			return nil, err
		}
		var dl DeadLetter
		if err := json.Unmarshal([]byte(payload), &dl.Job); err != nil {
			slog.Warn("queue.dead_letter_decode_failed", "error", err)
			continue
		}
		dl.Error = errMsg
		dl.FailedAt = time.UnixMilli(failedAt)
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (q *SQLQueue) Close() error {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	return nil
}
