package reviewable

import (
	"context"
	"fmt"
)

// VersionGuard serializes writers on an item by its version.
type VersionGuard struct {
	repo Repository
}

func NewVersionGuard(repo Repository) *VersionGuard {
	return &VersionGuard{repo: repo}
}

// Guard runs fn against the locked item iff the persisted version equals
// expected. On success the returned item carries version expected+1.
func (g *VersionGuard) Guard(ctx context.Context, id, expected int64, fn MutateFunc) (*Item, error) {
	updated, err := g.repo.Mutate(ctx, id, expected, func(ctx context.Context, fx Effects, item *Item) error {
		kind, itemID := item.Kind, item.ID
		if err := fn(ctx, fx, item); err != nil {
			return err
		}
		if item.Kind != kind || item.ID != itemID {
			return fmt.Errorf("reviewable %d: identity changed during mutation", itemID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Version != expected+1 {
		return nil, fmt.Errorf("reviewable %d: version %d after update from %d", id, updated.Version, expected)
	}
	return updated, nil
}
