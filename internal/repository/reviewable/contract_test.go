package reviewable

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rv "github.com/nmxmxh/reviewqueue/internal/service/reviewable"
)

// store is the surface shared by every repository implementation.
type store interface {
	rv.Repository
	History(ctx context.Context, id int64) ([]rv.HistoryEntry, error)
	PendingNotifications(ctx context.Context, limit int) ([]rv.Notification, error)
	MarkNotification(ctx context.Context, id, outcome string) error
}

func newItem(kind rv.Kind, targetID int64, category *int64) *rv.Item {
	return &rv.Item{
		Kind:       kind,
		Status:     rv.StatusPending,
		Payload:    map[string]interface{}{"raw": "body", "meta": map[string]interface{}{"ip": "10.0.0.1"}},
		Target:     rv.TargetRef{Type: "post", ID: targetID},
		CategoryID: category,
		CreatedBy:  7,
	}
}

// runContract exercises the repository semantics the engine relies on.
// fresh must return an empty store.
func runContract(t *testing.T, fresh func(t *testing.T) store) {
	ctx := context.Background()

	t.Run("find or create pending", func(t *testing.T) {
		s := fresh(t)
		first, created, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, rv.Int64(3)))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(0), first.Version)
		assert.Equal(t, "10.0.0.1", first.Payload["meta"].(map[string]interface{})["ip"])
		require.NotNil(t, first.CategoryID)
		assert.Equal(t, int64(3), *first.CategoryID)

		again, created, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, nil))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		other, created, err := s.FindOrCreatePending(ctx, newItem("queued_post", 1, nil))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, other.ID)

		history, err := s.History(ctx, first.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, rv.HistoryCreated, history[0].Type)
		assert.Equal(t, int64(7), history[0].ActorID)
	})

	t.Run("get missing", func(t *testing.T) {
		s := fresh(t)
		_, err := s.Get(ctx, 404)
		assert.ErrorIs(t, err, rv.ErrNotFound)
		_, err = s.Mutate(ctx, 404, 0, func(context.Context, rv.Effects, *rv.Item) error { return nil })
		assert.ErrorIs(t, err, rv.ErrNotFound)
	})

	t.Run("scores", func(t *testing.T) {
		s := fresh(t)
		item, _, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, nil))
		require.NoError(t, err)

		_, err = s.AddScore(ctx, rv.Score{ItemID: item.ID, UserID: 1, Weight: 1.5, Reason: "spam"})
		require.NoError(t, err)
		got, err := s.AddScore(ctx, rv.Score{ItemID: item.ID, UserID: 2, Weight: 2})
		require.NoError(t, err)
		assert.InDelta(t, 3.5, got.Score, 1e-9)
		assert.Equal(t, int64(0), got.Version)

		_, err = s.AddScore(ctx, rv.Score{ItemID: item.ID, UserID: 1, Weight: 9})
		assert.ErrorIs(t, err, rv.ErrDuplicateScore)
		_, err = s.AddScore(ctx, rv.Score{ItemID: 404, UserID: 1, Weight: 1})
		assert.ErrorIs(t, err, rv.ErrNotFound)

		scores, err := s.Scores(ctx, []int64{item.ID, 404})
		require.NoError(t, err)
		require.Len(t, scores[item.ID], 2)
		assert.Equal(t, "spam", scores[item.ID][0].Reason)
		assert.Empty(t, scores[404])

		stored, err := s.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.InDelta(t, 3.5, stored.Score, 1e-9)
	})

	t.Run("mutate increments version", func(t *testing.T) {
		s := fresh(t)
		item, _, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, nil))
		require.NoError(t, err)

		updated, err := s.Mutate(ctx, item.ID, 0, func(_ context.Context, _ rv.Effects, it *rv.Item) error {
			it.Payload["raw"] = "edited"
			it.CategoryID = rv.Int64(9)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.Version)
		assert.Equal(t, "edited", updated.Payload["raw"])

		_, err = s.Mutate(ctx, item.ID, 0, func(_ context.Context, _ rv.Effects, it *rv.Item) error {
			it.Payload["raw"] = "stale"
			return nil
		})
		assert.ErrorIs(t, err, rv.ErrUpdateConflict)

		stored, err := s.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
		assert.Equal(t, "edited", stored.Payload["raw"])
		require.NotNil(t, stored.CategoryID)
		assert.Equal(t, int64(9), *stored.CategoryID)
	})

	t.Run("mutate commits effects", func(t *testing.T) {
		s := fresh(t)
		item, _, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, nil))
		require.NoError(t, err)
		nid := uuid.NewString()

		_, err = s.Mutate(ctx, item.ID, 0, func(ctx context.Context, fx rv.Effects, it *rv.Item) error {
			it.Status = rv.StatusApproved
			if err := fx.SetTargetState(ctx, it.Target, rv.TargetHidden); err != nil {
				return err
			}
			if err := fx.RecordHistory(ctx, rv.HistoryEntry{ItemID: it.ID, Type: rv.HistoryTransitioned, Status: rv.StatusApproved, ActorID: 1, Version: 1, CreatedAt: it.UpdatedAt}); err != nil {
				return err
			}
			return fx.EnqueueNotification(ctx, rv.Notification{ID: nid, ItemID: it.ID, Type: "flag_agreed", RecipientID: 5,
				Payload: map[string]interface{}{"action": "approve"}, CreatedAt: it.UpdatedAt})
		})
		require.NoError(t, err)

		history, err := s.History(ctx, item.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, rv.StatusApproved, history[1].Status)

		pending, err := s.PendingNotifications(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, nid, pending[0].ID)
		assert.Equal(t, "approve", pending[0].Payload["action"])
		unbounded, err := s.PendingNotifications(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, pending, unbounded)

		require.NoError(t, s.MarkNotification(ctx, nid, "delivered"))
		pending, err = s.PendingNotifications(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
		assert.ErrorIs(t, s.MarkNotification(ctx, uuid.NewString(), "delivered"), rv.ErrNotFound)

		var state rv.TargetState
		_, err = s.Mutate(ctx, item.ID, 1, func(ctx context.Context, fx rv.Effects, it *rv.Item) error {
			state, err = fx.TargetState(ctx, it.Target)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, rv.TargetHidden, state)
	})

	t.Run("mutate rolls back effects", func(t *testing.T) {
		s := fresh(t)
		item, _, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, nil))
		require.NoError(t, err)
		boom := errors.New("boom")

		_, err = s.Mutate(ctx, item.ID, 0, func(ctx context.Context, fx rv.Effects, it *rv.Item) error {
			it.Status = rv.StatusRejected
			if err := fx.SetTargetState(ctx, it.Target, rv.TargetVisible); err != nil {
				return err
			}
			if err := fx.RecordHistory(ctx, rv.HistoryEntry{ItemID: it.ID, Type: rv.HistoryTransitioned, Status: rv.StatusRejected, Version: 1, CreatedAt: it.UpdatedAt}); err != nil {
				return err
			}
			if err := fx.EnqueueNotification(ctx, rv.Notification{ID: uuid.NewString(), ItemID: it.ID, Type: "x", RecipientID: 5, CreatedAt: it.UpdatedAt}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := s.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, rv.StatusPending, stored.Status)
		assert.Equal(t, int64(0), stored.Version)
		history, err := s.History(ctx, item.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
		pending, err := s.PendingNotifications(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		var state rv.TargetState
		_, err = s.Mutate(ctx, item.ID, 0, func(ctx context.Context, fx rv.Effects, it *rv.Item) error {
			state, err = fx.TargetState(ctx, it.Target)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, rv.TargetUnknown, state)
	})

	t.Run("concurrent mutate has one winner", func(t *testing.T) {
		s := fresh(t)
		item, _, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, nil))
		require.NoError(t, err)

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   []int
			conflicts int
			others    []error
		)
		start := make(chan struct{})
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				<-start
				_, err := s.Mutate(ctx, item.ID, 0, func(ctx context.Context, fx rv.Effects, it *rv.Item) error {
					it.Status = rv.StatusApproved
					it.Payload["raw"] = w
					return fx.RecordHistory(ctx, rv.HistoryEntry{ItemID: it.ID, Type: rv.HistoryTransitioned,
						Status: rv.StatusApproved, ActorID: int64(w), Version: 1, CreatedAt: it.UpdatedAt})
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, w)
				case errors.Is(err, rv.ErrUpdateConflict):
					conflicts++
				default:
					others = append(others, err)
				}
			}(w)
		}
		close(start)
		wg.Wait()

		require.Empty(t, others)
		require.Len(t, winners, 1)
		assert.Equal(t, workers-1, conflicts)

		stored, err := s.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
		assert.Equal(t, rv.StatusApproved, stored.Status)
		assert.EqualValues(t, winners[0], stored.Payload["raw"])
		history, err := s.History(ctx, item.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, int64(winners[0]), history[1].ActorID)
	})

	t.Run("one pending item per target", func(t *testing.T) {
		s := fresh(t)
		first, _, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, nil))
		require.NoError(t, err)
		_, err = s.Mutate(ctx, first.ID, 0, func(ctx context.Context, fx rv.Effects, it *rv.Item) error {
			_, found, err := fx.PendingFor(ctx, it.Kind, it.Target)
			require.NoError(t, err)
			assert.True(t, found)
			it.Status = rv.StatusIgnored
			return nil
		})
		require.NoError(t, err)

		second, created, err := s.FindOrCreatePending(ctx, newItem("flagged_post", 1, nil))
		require.NoError(t, err)
		require.True(t, created)

		_, err = s.Mutate(ctx, first.ID, 1, func(ctx context.Context, fx rv.Effects, it *rv.Item) error {
			id, found, err := fx.PendingFor(ctx, it.Kind, it.Target)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, second.ID, id)
			it.Status = rv.StatusPending
			return nil
		})
		var rule *rv.BusinessRuleError
		require.ErrorAs(t, err, &rule)
		assert.Equal(t, rv.CodeAlreadyPending, rule.Errors[0].Code)

		stored, err := s.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, rv.StatusIgnored, stored.Status)
		assert.Equal(t, int64(1), stored.Version)
		pending, err := s.Count(ctx, rv.Query{Visibility: rv.Visibility{All: true}})
		require.NoError(t, err)
		assert.Equal(t, 1, pending)
	})

	t.Run("list and count share a predicate", func(t *testing.T) {
		s := fresh(t)
		var ids []int64
		for i := int64(1); i <= 6; i++ {
			cat := rv.Int64(1 + i%2)
			item, _, err := s.FindOrCreatePending(ctx, newItem("flagged_post", i, cat))
			require.NoError(t, err)
			ids = append(ids, item.ID)
			for u := int64(0); u < i%3; u++ {
				_, err := s.AddScore(ctx, rv.Score{ItemID: item.ID, UserID: u + 1, Weight: 1})
				require.NoError(t, err)
			}
		}

		tests := []struct {
			name string
			q    rv.Query
			want int
		}{
			{"all", rv.Query{Visibility: rv.Visibility{All: true}}, 6},
			{"category scope", rv.Query{Visibility: rv.Visibility{CategoryIDs: []int64{2}}}, 3},
			{"no categories", rv.Query{Visibility: rv.Visibility{}}, 0},
			{"min score", rv.Query{Visibility: rv.Visibility{All: true}, MinScore: 1}, 4},
			{"kind", rv.Query{Visibility: rv.Visibility{All: true}, Kind: "queued_post"}, 0},
			{"category filter", rv.Query{Visibility: rv.Visibility{All: true}, CategoryID: rv.Int64(1)}, 3},
			{"resolved", rv.Query{Visibility: rv.Visibility{All: true}, Status: rv.StatusApproved}, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				items, err := s.List(ctx, tt.q)
				require.NoError(t, err)
				count, err := s.Count(ctx, tt.q)
				require.NoError(t, err)
				assert.Len(t, items, tt.want)
				assert.Equal(t, tt.want, count)
				for _, it := range items {
					assert.True(t, tt.q.Matches(it), "item %d", it.ID)
				}
			})
		}

		full, err := s.List(ctx, rv.Query{Visibility: rv.Visibility{All: true}})
		require.NoError(t, err)
		for i := 1; i < len(full); i++ {
			assert.GreaterOrEqual(t, full[i-1].Score, full[i].Score)
		}
		page, err := s.List(ctx, rv.Query{Visibility: rv.Visibility{All: true}, Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, full[2].ID, page[0].ID)
		assert.Equal(t, full[3].ID, page[1].ID)

		beyond, err := s.List(ctx, rv.Query{Visibility: rv.Visibility{All: true}, Offset: 100})
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})
}
