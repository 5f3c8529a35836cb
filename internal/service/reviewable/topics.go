package reviewable

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache entities used for topic statistics.
const (
	CacheEntityQueue  = "queue"
	CacheEntityTopics = "topics"
)

// StatsCache stores computed topic statistics. Entries are keyed under a
// generation counter that is bumped whenever the queue changes.
type StatsCache interface {
	Get(ctx context.Context, entity, attribute string, dst interface{}) (bool, error)
	Set(ctx context.Context, entity, attribute string, value interface{}, ttl time.Duration) error
	Generation(ctx context.Context, entity string) (int64, error)
	BumpGeneration(ctx context.Context, entity string) (int64, error)
}

// TopicAggregator rolls pending items up into per-topic statistics.
type TopicAggregator struct {
	repo  Repository
	cache StatsCache
	ttl   time.Duration
	log   *zap.Logger
	group singleflight.Group
}

func NewTopicAggregator(repo Repository, cache StatsCache, ttl time.Duration, log *zap.Logger) *TopicAggregator {
	return &TopicAggregator{repo: repo, cache: cache, ttl: ttl, log: log}
}

// Topics returns statistics for every topic with pending items visible to the
// viewer, ordered by aggregate score desc then topic id.
func (a *TopicAggregator) Topics(ctx context.Context, viewer *Viewer) ([]TopicStats, error) {
	vis := viewer.Visibility()
	key := vis.Fingerprint()
	cacheable := false
	if a.cache != nil {
		gen, err := a.cache.Generation(ctx, CacheEntityQueue)
		if err != nil {
			a.log.Debug("topic stats cache unavailable", zap.Error(err))
		} else {
			key = fmt.Sprintf("%s:g%d", key, gen)
			cacheable = true
			var cached []TopicStats
			if hit, err := a.cache.Get(ctx, CacheEntityTopics, key, &cached); err == nil && hit {
				return cached, nil
			}
		}
	}

	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		return a.compute(ctx, vis)
	})
	if err != nil {
		return nil, err
	}
	stats := v.([]TopicStats)
	if cacheable {
		if err := a.cache.Set(ctx, CacheEntityTopics, key, stats, a.ttl); err != nil {
			a.log.Debug("topic stats not cached", zap.Error(err))
		}
	}
	return stats, nil
}

// Invalidate moves the cache to a new generation.
func (a *TopicAggregator) Invalidate(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if _, err := a.cache.BumpGeneration(ctx, CacheEntityQueue); err != nil {
		a.log.Warn("topic stats invalidation failed", zap.Error(err))
	}
}

func (a *TopicAggregator) compute(ctx context.Context, vis Visibility) ([]TopicStats, error) {
	items, err := a.repo.List(ctx, Query{Visibility: vis, Status: StatusPending})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.TopicID != nil {
			ids = append(ids, it.ID)
		}
	}
	scores, err := a.repo.Scores(ctx, ids)
	if err != nil {
		return nil, err
	}
	return AggregateTopics(items, scores), nil
}

// AggregateTopics computes topic statistics from pending items and their scores.
// Items without a topic are skipped.
func AggregateTopics(items []*Item, scores map[int64][]Score) []TopicStats {
	byTopic := map[int64]*TopicStats{}
	reporters := map[int64]map[int64]struct{}{}
	for _, it := range items {
		if it.TopicID == nil || it.Status != StatusPending {
			continue
		}
		tid := *it.TopicID
		st, ok := byTopic[tid]
		if !ok {
			st = &TopicStats{TopicID: tid}
			byTopic[tid] = st
			reporters[tid] = map[int64]struct{}{}
		}
		st.PendingCount++
		st.Score += it.Score
		for _, s := range scores[it.ID] {
			reporters[tid][s.UserID] = struct{}{}
		}
	}
	out := make([]TopicStats, 0, len(byTopic))
	for tid, st := range byTopic {
		st.UniqueReporters = len(reporters[tid])
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TopicID < out[j].TopicID
	})
	return out
}
