// Package cache keeps the chain list in front of a ChainStore so batches do
// not hit the database on every run.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// ChainCache holds the full chain list. Get returns ok=false on a miss or
// expiry.
type ChainCache interface {
	Get(ctx context.Context) ([]*orchestrator.RuleChain, bool)
	Set(ctx context.Context, chains []*orchestrator.RuleChain) error
	Invalidate(ctx context.Context) error
}

// Backend names.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and tunes the cache backend.
type Config struct {
	Backend   string        `yaml:"backend"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	Password  string        `yaml:"-"`
	Key       string        `yaml:"key"`
}

// New builds the configured cache. BackendNone and the empty backend return
// nil, which CachedStore treats as no caching.
func New(cfg Config) (ChainCache, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewInMemory(cfg.TTL), nil
	case BackendRedis:
		r, err := NewRedis(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
