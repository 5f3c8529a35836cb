package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestKeyBuilder(t *testing.T) {
	kb := NewKeyBuilder("Cache", "Reviewable")

	assert.Equal(t, "cache:reviewable:topics", kb.Build("Topics", ""))
	assert.Equal(t, "cache:reviewable:topics:all:g3", kb.Build("topics", "all:g3"))
	assert.Equal(t, "cache:reviewable:queue:generation", kb.BuildGeneration("queue"))
}

func unreachableCache(t *testing.T) *Cache {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	client := Wrap(rdb, zaptest.NewLogger(t))
	return NewCache(client, NamespaceCache, ContextReviewable, BreakerConfig{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	})
}

func TestCacheBreakerOpensOnFailures(t *testing.T) {
	cache := unreachableCache(t)
	ctx := context.Background()

	var out []int
	for i := 0; i < 2; i++ {
		hit, err := cache.Get(ctx, EntityTopics, "all", &out)
		require.Error(t, err)
		assert.False(t, hit)
		assert.NotErrorIs(t, err, ErrCacheUnavailable)
	}

	_, err := cache.Get(ctx, EntityTopics, "all", &out)
	assert.ErrorIs(t, err, ErrCacheUnavailable)

	_, err = cache.BumpGeneration(ctx, EntityQueue)
	assert.ErrorIs(t, err, ErrCacheUnavailable)

	err = cache.Set(ctx, EntityTopics, "all", []int{1}, TTLTopicStats)
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

func TestCacheDefaultsBreakerConfig(t *testing.T) {
	client := Wrap(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}), nil)
	t.Cleanup(func() { _ = client.Client.Close() })
	cache := NewCache(client, NamespaceCache, ContextReviewable, BreakerConfig{})
	assert.NotNil(t, cache.breaker)
	assert.Same(t, client, cache.client)
	assert.Equal(t, "cache:reviewable:queue:generation", cache.kb.BuildGeneration(EntityQueue))
}
