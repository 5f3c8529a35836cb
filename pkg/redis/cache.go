package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nmxmxh/reviewqueue/pkg/json"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCacheUnavailable is returned while the circuit breaker is open.
var ErrCacheUnavailable = errors.New("cache unavailable")

// BreakerConfig tunes the circuit breaker guarding cache calls.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 10 * time.Second}
}

// Cache provides JSON caching on Redis. Every call goes through a circuit
// breaker so a Redis outage degrades to cache misses.
type Cache struct {
	client  *Client
	kb      *KeyBuilder
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewCache creates a new Cache instance
func NewCache(client *Client, namespace, context string, bc BreakerConfig) *Cache {
	log := client.log.With(zap.String("module", "cache"))
	if bc.ConsecutiveFailures == 0 {
		bc = DefaultBreakerConfig()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        namespace + ":" + context,
		MaxRequests: 1,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("cache breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Cache{
		client:  client,
		kb:      NewKeyBuilder(namespace, context),
		breaker: breaker,
		log:     log,
	}
}

func (c *Cache) do(fn func() (interface{}, error)) (interface{}, error) {
	v, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCacheUnavailable
	}
	return v, err
}

// Set stores a value in the cache with the given TTL
func (c *Cache) Set(ctx context.Context, entity, attribute string, value interface{}, ttl time.Duration) error {
	key := c.kb.Build(entity, attribute)
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	_, err = c.do(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		c.log.Error("failed to set cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Get retrieves a value from the cache. The boolean reports a hit.
func (c *Cache) Get(ctx context.Context, entity, attribute string, value interface{}) (bool, error) {
	key := c.kb.Build(entity, attribute)
	raw, err := c.do(func() (interface{}, error) {
		return c.client.Get(ctx, key).Bytes()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		c.log.Error("failed to get cache", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to get cache: %w", err)
	}

	data, _ := raw.([]byte)
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}

// Generation returns the current generation counter of entity. Cached entries
// embed the generation in their key, so bumping it invalidates all of them.
func (c *Cache) Generation(ctx context.Context, entity string) (int64, error) {
	key := c.kb.BuildGeneration(entity)
	raw, err := c.do(func() (interface{}, error) {
		return c.client.Get(ctx, key).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	s, _ := raw.(string)
	gen, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt generation %q: %w", s, err)
	}
	return gen, nil
}

// BumpGeneration increments the generation counter of entity.
func (c *Cache) BumpGeneration(ctx context.Context, entity string) (int64, error) {
	key := c.kb.BuildGeneration(entity)
	raw, err := c.do(func() (interface{}, error) {
		return c.client.Incr(ctx, key).Result()
	})
	if err != nil {
		c.log.Error("failed to bump generation", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("failed to bump generation: %w", err)
	}
	gen, _ := raw.(int64)
	return gen, nil
}
