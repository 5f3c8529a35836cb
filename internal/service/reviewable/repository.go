package reviewable

import (
	"context"
	"sort"
)

// Query is a fully resolved listing filter. Limit 0 means unlimited.
type Query struct {
	Visibility Visibility
	Status     Status
	Kind       Kind
	CategoryID *int64
	TopicID    *int64
	MinScore   float64
	Limit      int
	Offset     int
}

// Matches evaluates the filter predicate against item. Stores that filter in
// memory use this; SQL stores must agree with it.
func (q Query) Matches(item *Item) bool {
	if !q.Visibility.Allows(item) {
		return false
	}
	if item.Status != q.Status {
		return false
	}
	if q.Kind != "" && item.Kind != q.Kind {
		return false
	}
	if q.CategoryID != nil && (item.CategoryID == nil || *item.CategoryID != *q.CategoryID) {
		return false
	}
	if q.TopicID != nil && (item.TopicID == nil || *item.TopicID != *q.TopicID) {
		return false
	}
	return item.Score >= q.MinScore
}

// Unpaged drops limit and offset, leaving the predicate.
func (q Query) Unpaged() Query {
	q.Limit, q.Offset = 0, 0
	return q
}

// SortItems orders items by score desc, updated_at desc, id desc.
func SortItems(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
}

// Page applies offset and limit to an ordered slice.
func Page(items []*Item, offset, limit int) []*Item {
	if offset >= len(items) {
		return []*Item{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Effects are the side effects available to a mutation. They commit or roll
// back together with the item.
type Effects interface {
	RecordHistory(ctx context.Context, entry HistoryEntry) error
	EnqueueNotification(ctx context.Context, n Notification) error
	TargetState(ctx context.Context, target TargetRef) (TargetState, error)
	SetTargetState(ctx context.Context, target TargetRef, state TargetState) error
	// PendingFor returns the id of the pending item for (kind, target), if any.
	PendingFor(ctx context.Context, kind Kind, target TargetRef) (int64, bool, error)
}

// MutateFunc edits the locked item in place. Returning an error rolls back.
type MutateFunc func(ctx context.Context, fx Effects, item *Item) error

// Repository persists reviewable items, their scores and moderation history.
type Repository interface {
	Get(ctx context.Context, id int64) (*Item, error)
	List(ctx context.Context, q Query) ([]*Item, error)
	Count(ctx context.Context, q Query) (int, error)
	Scores(ctx context.Context, itemIDs []int64) (map[int64][]Score, error)
	// FindOrCreatePending returns the pending item for (kind, target), creating
	// it with a created history row when none exists. The bool reports creation.
	FindOrCreatePending(ctx context.Context, item *Item) (*Item, bool, error)
	// AddScore appends a score and recomputes the item score. It returns
	// ErrDuplicateScore when the user already scored the item.
	AddScore(ctx context.Context, score Score) (*Item, error)
	// Mutate locks the item, fails with ErrUpdateConflict unless its version
	// equals expectedVersion, runs fn and persists the result with the version
	// incremented by exactly one.
	Mutate(ctx context.Context, id, expectedVersion int64, fn MutateFunc) (*Item, error)
}
