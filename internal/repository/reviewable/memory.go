package reviewable

import (
	"context"
	"sort"
	"sync"
	"time"

	rv "github.com/nmxmxh/reviewqueue/internal/service/reviewable"
)

type notificationRecord struct {
	n       rv.Notification
	outcome string
}

// MemoryRepository is a process-local store with the same semantics as the
// Postgres store. Every mutation holds the store lock for its whole duration.
type MemoryRepository struct {
	mu            sync.Mutex
	now           func() time.Time
	nextItemID    int64
	nextScoreID   int64
	items         map[int64]*rv.Item
	scores        map[int64][]rv.Score
	history       map[int64][]rv.HistoryEntry
	notifications []*notificationRecord
	targets       map[rv.TargetRef]rv.TargetState
}

// NewMemoryRepository creates an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:     time.Now,
		items:   map[int64]*rv.Item{},
		scores:  map[int64][]rv.Score{},
		history: map[int64][]rv.HistoryEntry{},
		targets: map[rv.TargetRef]rv.TargetState{},
	}
}

// SetClock replaces the time source.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (*rv.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, rv.ErrNotFound
	}
	return item.Clone(), nil
}

func (m *MemoryRepository) List(_ context.Context, q rv.Query) ([]*rv.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := m.match(q)
	rv.SortItems(matched)
	return rv.Page(matched, q.Offset, q.Limit), nil
}

func (m *MemoryRepository) Count(_ context.Context, q rv.Query) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.match(q)), nil
}

func (m *MemoryRepository) match(q rv.Query) []*rv.Item {
	out := []*rv.Item{}
	for _, item := range m.items {
		if q.Matches(item) {
			out = append(out, item.Clone())
		}
	}
	return out
}

func (m *MemoryRepository) Scores(_ context.Context, itemIDs []int64) (map[int64][]rv.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64][]rv.Score, len(itemIDs))
	for _, id := range itemIDs {
		if s, ok := m.scores[id]; ok {
			out[id] = append([]rv.Score(nil), s...)
		}
	}
	return out, nil
}

func (m *MemoryRepository) FindOrCreatePending(_ context.Context, item *rv.Item) (*rv.Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Status == rv.StatusPending && existing.Kind == item.Kind && existing.Target == item.Target {
			return existing.Clone(), false, nil
		}
	}
	now := m.now().UTC()
	m.nextItemID++
	created := item.Clone()
	created.ID = m.nextItemID
	created.Status = rv.StatusPending
	created.Version = 0
	created.Score = 0
	created.CreatedAt = now
	created.UpdatedAt = now
	m.items[created.ID] = created
	m.history[created.ID] = append(m.history[created.ID], rv.HistoryEntry{
		ItemID:    created.ID,
		Type:      rv.HistoryCreated,
		Status:    rv.StatusPending,
		ActorID:   created.CreatedBy,
		Version:   0,
		CreatedAt: now,
	})
	return created.Clone(), true, nil
}

func (m *MemoryRepository) AddScore(_ context.Context, score rv.Score) (*rv.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[score.ItemID]
	if !ok {
		return nil, rv.ErrNotFound
	}
	for _, s := range m.scores[score.ItemID] {
		if s.UserID == score.UserID {
			return nil, rv.ErrDuplicateScore
		}
	}
	now := m.now().UTC()
	m.nextScoreID++
	score.ID = m.nextScoreID
	score.CreatedAt = now
	m.scores[score.ItemID] = append(m.scores[score.ItemID], score)

	var total float64
	for _, s := range m.scores[score.ItemID] {
		total += s.Weight
	}
	item.Score = total
	item.UpdatedAt = now
	return item.Clone(), nil
}

func (m *MemoryRepository) Mutate(ctx context.Context, id, expectedVersion int64, fn rv.MutateFunc) (*rv.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[id]
	if !ok {
		return nil, rv.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, rv.ErrUpdateConflict
	}
	working := current.Clone()
	fx := &memoryEffects{repo: m, targets: map[rv.TargetRef]rv.TargetState{}}
	if err := fn(ctx, fx, working); err != nil {
		return nil, err
	}

	if working.Status == rv.StatusPending && current.Status != rv.StatusPending {
		if other, ok := fx.pendingFor(working.Kind, working.Target); ok && other != id {
			return nil, rv.NewBusinessRuleError("target", rv.CodeAlreadyPending, "another reviewable is pending for this target")
		}
	}

	working.ID = current.ID
	working.Kind = current.Kind
	working.Score = current.Score
	working.CreatedAt = current.CreatedAt
	working.Version = expectedVersion + 1
	working.UpdatedAt = m.now().UTC()
	m.items[id] = working
	for _, h := range fx.history {
		m.history[h.ItemID] = append(m.history[h.ItemID], h)
	}
	for _, n := range fx.notifications {
		m.notifications = append(m.notifications, &notificationRecord{n: n})
	}
	for t, s := range fx.targets {
		m.targets[t] = s
	}
	return working.Clone(), nil
}

// History returns the moderation history of an item, oldest first.
func (m *MemoryRepository) History(_ context.Context, id int64) ([]rv.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rv.HistoryEntry(nil), m.history[id]...), nil
}

// TargetStateOf returns the stored state of a target.
func (m *MemoryRepository) TargetStateOf(target rv.TargetRef) rv.TargetState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets[target]
}

// SeedTargetState sets a target's state outside any action.
func (m *MemoryRepository) SeedTargetState(target rv.TargetRef, state rv.TargetState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[target] = state
}

// PendingNotifications returns undelivered notifications in enqueue order. A
// limit of 0 returns all of them.
func (m *MemoryRepository) PendingNotifications(_ context.Context, limit int) ([]rv.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rv.Notification
	for _, rec := range m.notifications {
		if rec.outcome != "" {
			continue
		}
		out = append(out, rec.n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkNotification records the relay outcome of a notification.
func (m *MemoryRepository) MarkNotification(_ context.Context, id, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.notifications {
		if rec.n.ID == id {
			rec.outcome = outcome
			return nil
		}
	}
	return rv.ErrNotFound
}

// Notifications returns every enqueued notification ordered by creation.
func (m *MemoryRepository) Notifications() []rv.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rv.Notification, len(m.notifications))
	for i, rec := range m.notifications {
		out[i] = rec.n
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// memoryEffects buffers side effects until the mutation commits.
type memoryEffects struct {
	repo          *MemoryRepository
	history       []rv.HistoryEntry
	notifications []rv.Notification
	targets       map[rv.TargetRef]rv.TargetState
}

func (e *memoryEffects) RecordHistory(_ context.Context, entry rv.HistoryEntry) error {
	e.history = append(e.history, entry)
	return nil
}

func (e *memoryEffects) EnqueueNotification(_ context.Context, n rv.Notification) error {
	n.Payload = rv.ClonePayload(n.Payload)
	e.notifications = append(e.notifications, n)
	return nil
}

func (e *memoryEffects) TargetState(_ context.Context, target rv.TargetRef) (rv.TargetState, error) {
	if s, ok := e.targets[target]; ok {
		return s, nil
	}
	return e.repo.targets[target], nil
}

func (e *memoryEffects) SetTargetState(_ context.Context, target rv.TargetRef, state rv.TargetState) error {
	e.targets[target] = state
	return nil
}

// PendingFor runs under the store lock held by Mutate.
func (e *memoryEffects) PendingFor(_ context.Context, kind rv.Kind, target rv.TargetRef) (int64, bool, error) {
	id, ok := e.pendingFor(kind, target)
	return id, ok, nil
}

func (e *memoryEffects) pendingFor(kind rv.Kind, target rv.TargetRef) (int64, bool) {
	for id, item := range e.repo.items {
		if item.Status == rv.StatusPending && item.Kind == kind && item.Target == target {
			return id, true
		}
	}
	return 0, false
}

var _ rv.Repository = (*MemoryRepository)(nil)
