package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// DefaultRedisKey is the key holding the cached chain list.
const DefaultRedisKey = "rulechain:chains"

const redisTimeout = 5 * time.Second

// Redis caches the chain list as a JSON array under a single key, so
// several engine processes share one cache.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis connects to cfg.RedisAddr and checks the connection.
func NewRedis(cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisWithClient(client, cfg.Key, cfg.TTL), nil
}

// NewRedisWithClient wraps an existing client. An empty key selects
// DefaultRedisKey.
func NewRedisWithClient(client *redis.Client, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

// Get returns the cached list. Redis errors and undecodable entries count as
// misses; the store is the source of truth.
func (c *Redis) Get(ctx context.Context) ([]*orchestrator.RuleChain, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			events.Emit("warn", "system.error", "chain cache read failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, false
	}

	var chains []*orchestrator.RuleChain
	if err := json.Unmarshal(data, &chains); err != nil {
		events.Emit("warn", "system.error", "chain cache entry invalid", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, false
	}
	return chains, true
}

func (c *Redis) Set(ctx context.Context, chains []*orchestrator.RuleChain) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if chains == nil {
		chains = []*orchestrator.RuleChain{}
	}
	data, err := json.Marshal(chains)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *Redis) Invalidate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return c.client.Del(ctx, c.key).Err()
}

// Close closes the underlying client.
func (c *Redis) Close() error {
	return c.client.Close()
}
