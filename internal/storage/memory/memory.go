// Package memory provides a ChainStore kept in process memory. The CLI and
// tests use it; the daemon uses it when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// Store keeps chains in insertion order.
type Store struct {
	mu     sync.RWMutex
	chains map[string]*orchestrator.RuleChain
	order  []string
}

// New creates a store seeded with chains. Seeds must have distinct ids.
func New(chains ...*orchestrator.RuleChain) (*Store, error) {
	s := &Store{chains: make(map[string]*orchestrator.RuleChain)}
	for _, c := range chains {
		if _, err := s.Create(context.Background(), c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) ListAll(ctx context.Context) ([]*orchestrator.RuleChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*orchestrator.RuleChain, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.chains[id])
	}
	return out, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*orchestrator.RuleChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrChainNotFound, id)
	}
	return c, nil
}

// Create validates and stores a chain. Chains without an id get a random
// UUID.
func (s *Store) Create(ctx context.Context, chain *orchestrator.RuleChain) (*orchestrator.RuleChain, error) {
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	if chain.ID == "" {
		chain = chain.WithID(uuid.NewString())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chains[chain.ID]; ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrChainExists, chain.ID)
	}
	s.chains[chain.ID] = chain
	s.order = append(s.order, chain.ID)
	return chain, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chains[id]; !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrChainNotFound, id)
	}
	delete(s.chains, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored chains.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
