// Package limiter funnels every generation call through one global
// scheduler so the caller-side requests-per-minute ceiling holds no
// matter how many workers are running, and rotates provider credentials
// when the active one runs out of quota.
package limiter

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Task is one unit of rate-limited work.
type Task func(ctx context.Context) (string, error)

// Scheduler serializes tasks system-wide: at most one in flight, and
// after a task settles the next one is held back for the inter-request
// delay. Deliberately a single global token, not a per-worker limiter —
// it trades throughput for never tripping the provider quota.
type Scheduler struct {
	mu     sync.Mutex
	delay  time.Duration
	nextAt time.Time
}

// NewScheduler derives the inter-request delay from the RPM budget with
// a ~10% safety margin.
func NewScheduler(requestsPerMinute int) *Scheduler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	delay := time.Duration(math.Ceil(float64(time.Minute) / float64(requestsPerMinute) * 1.1))
	slog.Info("rate limiter initialized", "delay", delay.Round(time.Millisecond), "rpm", requestsPerMinute)
	return &Scheduler{delay: delay}
}

// Delay returns the enforced inter-request delay.
func (s *Scheduler) Delay() time.Duration { return s.delay }

// Do runs task once it is this caller's turn. The calling goroutine owns
// the slot until the task settles; the cooldown is charged afterwards so
// the next task starts no earlier than settle time plus the delay.
// Only the cooldown wait observes ctx: a caller queued behind the mutex
// blocks until it acquires the lock, and a task that has started is
// never aborted here.
func (s *Scheduler) Do(ctx context.Context, task Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wait := time.Until(s.nextAt); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	result, err := task(ctx)
	s.nextAt = time.Now().Add(s.delay)
	return result, err
}
