package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atenlabs/atenbot/internal/providers"
)

// Client is the rate-limited, credential-rotating front door to the
// generation capability. All generation calls in the system go through
// one Client instance.
type Client struct {
	sched *Scheduler
	build func(apiKey string) providers.Provider

	mu       sync.Mutex
	keys     []string
	index    int
	provider providers.Provider
}

// NewClient creates a client over an ordered credential list. build
// constructs a provider for a given key; it is called once per key as
// rotation reaches it.
func NewClient(keys []string, sched *Scheduler, build func(apiKey string) providers.Provider) (*Client, error) {
	if len(keys) == 0 || keys[0] == "" {
		return nil, fmt.Errorf("at least one provider credential is required")
	}
	return &Client{
		sched:    sched,
		build:    build,
		keys:     keys,
		provider: build(keys[0]),
	}, nil
}

// KeyIndex returns the current credential index.
func (c *Client) KeyIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

func (c *Client) current() providers.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// rotate advances to the next credential, cyclically. Returns false when
// there is nothing to rotate to. The index update happens under the lock
// before any retried call reads the provider.
func (c *Client) rotate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) <= 1 {
		return false
	}
	c.index = (c.index + 1) % len(c.keys)
	c.provider = c.build(c.keys[c.index])
	slog.Warn("provider credential rotated", "key_index", c.index)
	return true
}

// Generate runs one logical generation call through the scheduler,
// retrying once per available credential on quota/permission failures.
// Non-quota errors propagate immediately for the queue to retry.
func (c *Client) Generate(ctx context.Context, req providers.GenerateRequest) (string, error) {
	var lastErr error

	for attempt := 0; attempt < len(c.keys); attempt++ {
		p := c.current()
		result, err := c.sched.Do(ctx, func(ctx context.Context) (string, error) {
			return p.Generate(ctx, req)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if providers.IsQuotaError(err) && c.rotate() {
			slog.Warn("generation failed on quota, retrying with next credential",
				"attempt", attempt+1, "error", err)
			continue
		}
		break
	}
	return "", lastErr
}
