// Package queue implements the durable at-least-once job queue between
// webhook ingestion and the worker pool: per-job retry with exponential
// backoff, and a bounded dead-letter record for jobs that exhaust the
// retry budget.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates job payloads.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

const (
	// MaxAttempts is the total delivery budget per job.
	MaxAttempts = 3

	// BackoffBase is the delay before the first redelivery; it doubles
	// on each subsequent failure.
	BackoffBase = time.Second

	// DeadLetterCap bounds the dead-letter record; oldest entries are
	// evicted first.
	DeadLetterCap = 50
)

// ErrClosed is returned by Enqueue after the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Job is one unit of inbound-message work.
type Job struct {
	ID          string    `json:"id"`           // queue-internal id
	MessageID   string    `json:"message_id"`   // external message identifier (dedup key)
	Sender      string    `json:"sender"`       // remoteJid, doubles as conversation key
	SenderName  string    `json:"sender_name"`  // push name, placeholder when absent
	Text        string    `json:"text,omitempty"`
	AudioURL    string    `json:"audio_url,omitempty"`
	AudioBase64 string    `json:"audio_base64,omitempty"`
	Kind        Kind      `json:"kind"`
	Instance    string    `json:"instance"` // owning tenant/instance tag
	Attempt     int       `json:"attempt"`  // 1-based delivery attempt
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// DeadLetter is a job that exhausted its retry budget.
type DeadLetter struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Delivery is one at-least-once delivery of a job. Exactly one of Ack or
// Nack must be called; an unacked delivery is redelivered after its
// claim lease expires (SQL backends) or leaks (memory backend, tests).
type Delivery struct {
	Job *Job
	q   settler
}

type settler interface {
	ack(ctx context.Context, job *Job) error
	nack(ctx context.Context, job *Job, cause error) error
}

// Ack removes the job permanently. Successful jobs are not retained.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.q.ack(ctx, d.Job)
}

// Nack schedules a redelivery with backoff, or dead-letters the job when
// the attempt budget is spent.
func (d *Delivery) Nack(ctx context.Context, cause error) error {
	return d.q.nack(ctx, d.Job, cause)
}

// Queue is the at-least-once job queue contract. No cross-job ordering
// is guaranteed; redelivered jobs may overtake newer ones.
type Queue interface {
	// Enqueue durably records the job before returning.
	Enqueue(ctx context.Context, job *Job) error

	// Consume blocks until a job is available or ctx is done. The bool
	// is false when no delivery will follow (shutdown).
	Consume(ctx context.Context) (*Delivery, bool)

	// DeadLetters returns the retained exhausted jobs, oldest first.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)

	Close() error
}

// newJobID returns a time-ordered queue-internal job ID.
func newJobID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Backoff returns the redelivery delay after the given failure count:
// 1s, 2s, 4s, ...
func Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	return BackoffBase << (failures - 1)
}
