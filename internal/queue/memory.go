package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory is an in-process Queue. It keeps the same retry/backoff/dead-letter
// semantics as the SQL backend but offers no durability across restarts;
// it backs tests and ad-hoc runs.
type Memory struct {
	mu     sync.Mutex
	ready  chan *Job
	done   chan struct{}
	dead   []DeadLetter
	timers map[string]*time.Timer
	closed bool
}

// NewMemory creates an in-process queue with the given buffer size.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 256
	}
	return &Memory{
		ready:  make(chan *Job, buffer),
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
}

// Enqueue buffers the job. Shutdown is signalled via the done channel;
// the ready channel is never closed, so a send racing Close cannot
// panic — at worst the job lands in a buffer nobody drains anymore.
func (m *Memory) Enqueue(_ context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = newJobID()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.ready <- job:
		return nil
	default:
		return ErrClosed // buffer full; callers log and move on
	}
}

func (m *Memory) Consume(ctx context.Context) (*Delivery, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-m.done:
		return nil, false
	case job := <-m.ready:
		return &Delivery{Job: job, q: m}, true
	}
}

func (m *Memory) ack(_ context.Context, _ *Job) error {
	return nil // already off the channel; nothing retained
}

func (m *Memory) nack(_ context.Context, job *Job, cause error) error {
	if job.Attempt >= MaxAttempts {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.dead = append(m.dead, DeadLetter{Job: *job, Error: errString(cause), FailedAt: time.Now()})
		if len(m.dead) > DeadLetterCap {
			m.dead = m.dead[len(m.dead)-DeadLetterCap:]
		}
		slog.Warn("queue.dead_letter", "job", job.ID, "message", job.MessageID, "attempts", job.Attempt, "error", errString(cause))
		return nil
	}

	delay := Backoff(job.Attempt)
	job.Attempt++

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.timers[job.ID] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, job.ID)
		m.mu.Unlock()
		select {
		case <-m.done:
		case m.ready <- job:
		default:
			slog.Warn("queue.redeliver_dropped", "job", job.ID)
		}
	})
	slog.Debug("queue.retry_scheduled", "job", job.ID, "attempt", job.Attempt, "delay", delay)
	return nil
}

// Len reports the number of jobs currently buffered for delivery.
func (m *Memory) Len() int {
	return len(m.ready)
}

func (m *Memory) DeadLetters(_ context.Context) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, len(m.dead))
	copy(out, m.dead)
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	close(m.done)
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
