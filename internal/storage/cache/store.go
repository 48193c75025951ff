package cache

import (
	"context"
	"sync"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// CachedStore serves ListAll from a ChainCache and invalidates it whenever
// the chain set changes. Other calls go straight to the store.
//
// A list read from the store is only cached if no write invalidated the
// cache while it was being read; otherwise a stale list could outlive the
// write.
type CachedStore struct {
	orchestrator.ChainStore
	cache ChainCache

	mu         sync.Mutex
	generation uint64
}

// NewCachedStore wraps store. A nil cache disables caching.
func NewCachedStore(store orchestrator.ChainStore, cache ChainCache) *CachedStore {
	return &CachedStore{ChainStore: store, cache: cache}
}

func (s *CachedStore) ListAll(ctx context.Context) ([]*orchestrator.RuleChain, error) {
	if s.cache == nil {
		return s.ChainStore.ListAll(ctx)
	}
	if chains, ok := s.cache.Get(ctx); ok {
		return chains, nil
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	chains, err := s.ChainStore.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return chains, nil
	}
	if err := s.cache.Set(ctx, chains); err != nil {
		s.warn("chain cache write failed", err)
	}
	return chains, nil
}

func (s *CachedStore) Create(ctx context.Context, chain *orchestrator.RuleChain) (*orchestrator.RuleChain, error) {
	created, err := s.ChainStore.Create(ctx, chain)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return created, nil
}

func (s *CachedStore) Delete(ctx context.Context, id string) error {
	if err := s.ChainStore.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if err := s.cache.Invalidate(ctx); err != nil {
		s.warn("chain cache invalidation failed", err)
	}
}

func (s *CachedStore) warn(msg string, err error) {
	events.Emit("warn", "system.error", msg, map[string]interface{}{
		"error": err.Error(),
	})
}
