package cache

import (
	"context"
	"sync"
	"time"

	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// InMemory is a ChainCache held in process memory.
// Thread-safe for concurrent access.
type InMemory struct {
	mu       sync.RWMutex
	chains   []*orchestrator.RuleChain
	cachedAt time.Time
	valid    bool
	ttl      time.Duration

	now func() time.Time
}

// NewInMemory creates an in-memory cache. A zero ttl never expires; entries
// then only go away on Invalidate.
func NewInMemory(ttl time.Duration) *InMemory {
	return &InMemory{ttl: ttl, now: time.Now}
}

func (c *InMemory) Get(ctx context.Context) ([]*orchestrator.RuleChain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(c.cachedAt) > c.ttl {
		return nil, false
	}

	// Chains are immutable; only the slice is copied.
	out := make([]*orchestrator.RuleChain, len(c.chains))
	copy(out, c.chains)
	return out, true
}

func (c *InMemory) Set(ctx context.Context, chains []*orchestrator.RuleChain) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chains = make([]*orchestrator.RuleChain, len(chains))
	copy(c.chains, chains)
	c.cachedAt = c.now()
	c.valid = true
	return nil
}

func (c *InMemory) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.chains = nil
	return nil
}
