// Package storage selects and opens the chain store described by the
// engine configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AaronLay10/RuleChain/internal/config"
	"github.com/AaronLay10/RuleChain/internal/orchestrator"
	"github.com/AaronLay10/RuleChain/internal/storage/cache"
	"github.com/AaronLay10/RuleChain/internal/storage/memory"
	"github.com/AaronLay10/RuleChain/internal/storage/postgres"
)

// Stores holds the opened backends. Postgres is nil when disabled.
type Stores struct {
	Chains   orchestrator.ChainStore
	Postgres *postgres.Client

	closers []io.Closer
}

// Open builds the chain store the configuration selects. With Postgres
// enabled chains and events live in the database; otherwise chains are
// loaded from engine.chains into memory. A configured cache wraps either.
func Open(ctx context.Context, cfg *config.EngineConfig) (*Stores, error) {
	s := &Stores{}

	var base orchestrator.ChainStore
	if cfg.Postgres.Enabled {
		client, err := postgres.New(ctx, postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Database: cfg.Postgres.Database,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
		}, cfg.Engine.IntegrationID)
		if err != nil {
			return nil, err
		}
		s.Postgres = client
		s.closers = append(s.closers, client)
		base = client.Chains()
	} else {
		mem, err := OpenDir(cfg.Engine.Chains)
		if err != nil {
			return nil, err
		}
		base = mem
	}

	c, err := cache.New(cache.Config{
		Backend:   cfg.Cache.Backend,
		TTL:       cfg.Cache.TTL,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		Password:  cfg.Cache.Password,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open chain cache: %w", err)
	}
	if closer, ok := c.(io.Closer); ok {
		s.closers = append(s.closers, closer)
	}

	s.Chains = cache.NewCachedStore(base, c)
	return s, nil
}

// OpenDir loads chains from a file or directory into a memory store. An
// empty path gives an empty store.
func OpenDir(path string) (*memory.Store, error) {
	if path == "" {
		return memory.New()
	}
	chains, err := orchestrator.LoadRuleChains(path)
	if err != nil {
		return nil, err
	}
	return memory.New(chains...)
}

// Close releases every opened backend.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
