// Package dedup suppresses webhook retry deliveries. Evolution redelivers
// events it thinks we dropped; the cache remembers message IDs for a short
// window so each one is enqueued at most once.
package dedup

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 10 * time.Second

// Cache is a TTL membership set keyed by message ID.
// Safe for concurrent use from the webhook and websocket paths.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time // id → expiry
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// SeenOrMark reports whether id was already marked within the TTL window,
// marking it if not. Check and mark are one critical section so two
// ingestion paths cannot race the same ID into the queue twice.
func (c *Cache) SeenOrMark(id string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if exp, ok := c.entries[id]; ok && now.Before(exp) {
		return true
	}
	c.entries[id] = now.Add(c.ttl)
	return false
}

// Seen reports whether id is currently marked.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[id]
	return ok && time.Now().Before(exp)
}

// Mark records id for the TTL window.
func (c *Cache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = time.Now().Add(c.ttl)
}

// Len returns the number of tracked entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs the background sweep until ctx is cancelled. Expired entries
// are also ignored by lookups, so the sweep only bounds memory.
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, exp := range c.entries {
		if now.After(exp) {
			delete(c.entries, id)
		}
	}
}
