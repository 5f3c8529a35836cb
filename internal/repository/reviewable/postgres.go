// Package reviewable persists review queue items.
package reviewable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nmxmxh/reviewqueue/internal/repository"
	rv "github.com/nmxmxh/reviewqueue/internal/service/reviewable"
	"github.com/nmxmxh/reviewqueue/pkg/json"
)

const itemColumns = `id, type, status, version, payload, target_type, target_id, topic_id, category_id,
	created_by_id, target_created_by_id, score, created_at, updated_at`

// pqUniqueViolation is the SQLSTATE of a unique constraint failure.
const pqUniqueViolation = "23505"

// pendingTargetIndex keeps one pending item per (type, target).
const pendingTargetIndex = "idx_reviewables_pending_target"

// PostgresRepository implements the reviewable store on Postgres.
type PostgresRepository struct {
	*repository.BaseRepository
	db *sql.DB
}

// NewPostgresRepository creates a repository over db.
func NewPostgresRepository(db *sql.DB, log *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		BaseRepository: repository.NewBaseRepository(db, log.With(zap.String("module", "reviewable_repository"))),
		db:             db,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*rv.Item, error) {
	var (
		item            rv.Item
		payload         []byte
		topicID         sql.NullInt64
		categoryID      sql.NullInt64
		targetCreatedBy sql.NullInt64
		kind            string
	)
	err := row.Scan(&item.ID, &kind, &item.Status, &item.Version, &payload,
		&item.Target.Type, &item.Target.ID, &topicID, &categoryID,
		&item.CreatedBy, &targetCreatedBy, &item.Score, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Kind = rv.Kind(kind)
	if item.Payload, err = json.FromJSONB(payload); err != nil {
		return nil, fmt.Errorf("reviewable %d payload: %w", item.ID, err)
	}
	item.TopicID = nullInt64(topicID)
	item.CategoryID = nullInt64(categoryID)
	item.TargetCreatedBy = nullInt64(targetCreatedBy)
	return &item, nil
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return rv.Int64(v.Int64)
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*rv.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM reviewables WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rv.ErrNotFound
	}
	return item, err
}

// filter renders the Query predicate. It must agree with rv.Query.Matches.
func filter(q rv.Query, p *repository.Placeholders) string {
	conds := []string{"status = " + p.Add(int(q.Status))}
	if !q.Visibility.All {
		conds = append(conds, "category_id = ANY("+p.Add(pq.Array(q.Visibility.CategoryIDs))+")")
	}
	if q.Kind != "" {
		conds = append(conds, "type = "+p.Add(string(q.Kind)))
	}
	if q.CategoryID != nil {
		conds = append(conds, "category_id = "+p.Add(*q.CategoryID))
	}
	if q.TopicID != nil {
		conds = append(conds, "topic_id = "+p.Add(*q.TopicID))
	}
	conds = append(conds, "score >= "+p.Add(q.MinScore))
	return repository.Where(conds)
}

func (r *PostgresRepository) List(ctx context.Context, q rv.Query) ([]*rv.Item, error) {
	var p repository.Placeholders
	var sb strings.Builder
	sb.WriteString(`SELECT ` + itemColumns + ` FROM reviewables`)
	sb.WriteString(filter(q, &p))
	sb.WriteString(` ORDER BY score DESC, updated_at DESC, id DESC`)
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + p.Add(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET " + p.Add(q.Offset))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), p.Args()...)
	if err != nil {
		return nil, fmt.Errorf("list reviewables: %w", err)
	}
	defer rows.Close()
	items := []*rv.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) Count(ctx context.Context, q rv.Query) (int, error) {
	var p repository.Placeholders
	query := `SELECT COUNT(*) FROM reviewables` + filter(q, &p)
	var n int
	if err := r.db.QueryRowContext(ctx, query, p.Args()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reviewables: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Scores(ctx context.Context, itemIDs []int64) (map[int64][]rv.Score, error) {
	out := make(map[int64][]rv.Score, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, reviewable_id, user_id, score, reason, created_at
		FROM reviewable_scores
		WHERE reviewable_id = ANY($1)
		ORDER BY reviewable_id, created_at, id`, pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s rv.Score
		if err := rows.Scan(&s.ID, &s.ItemID, &s.UserID, &s.Weight, &s.Reason, &s.CreatedAt); err != nil {
			return nil, err
		}
		out[s.ItemID] = append(out[s.ItemID], s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindOrCreatePending(ctx context.Context, item *rv.Item) (*rv.Item, bool, error) {
	payload, err := json.ToJSONB(item.Payload)
	if err != nil {
		return nil, false, err
	}
	var (
		out     *rv.Item
		created bool
	)
	err = r.InTx(ctx, "find_or_create_pending", func(tx *sql.Tx) error {
		// The partial unique index admits one pending row per (type, target).
		row := tx.QueryRowContext(ctx, `
			INSERT INTO reviewables (type, status, version, payload, target_type, target_id, topic_id,
				category_id, created_by_id, target_created_by_id, score)
			VALUES ($1, $2, 0, $3, $4, $5, $6, $7, $8, $9, 0)
			ON CONFLICT (type, target_type, target_id) WHERE status = 0 DO NOTHING
			RETURNING `+itemColumns,
			string(item.Kind), int(rv.StatusPending), string(payload), item.Target.Type, item.Target.ID,
			item.TopicID, item.CategoryID, item.CreatedBy, item.TargetCreatedBy)
		inserted, err := scanItem(row)
		switch {
		case err == nil:
			out, created = inserted, true
			return recordHistory(ctx, tx, rv.HistoryEntry{
				ItemID:    inserted.ID,
				Type:      rv.HistoryCreated,
				Status:    rv.StatusPending,
				ActorID:   inserted.CreatedBy,
				Version:   0,
				CreatedAt: inserted.CreatedAt,
			})
		case errors.Is(err, sql.ErrNoRows):
			out, err = scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM reviewables
				WHERE type = $1 AND target_type = $2 AND target_id = $3 AND status = $4`,
				string(item.Kind), item.Target.Type, item.Target.ID, int(rv.StatusPending)))
			return err
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (r *PostgresRepository) AddScore(ctx context.Context, score rv.Score) (*rv.Item, error) {
	var out *rv.Item
	err := r.InTx(ctx, "add_score", func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM reviewables WHERE id = $1 FOR UPDATE`, score.ItemID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return rv.ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reviewable_scores (reviewable_id, user_id, score, reason)
			VALUES ($1, $2, $3, $4)`, score.ItemID, score.UserID, score.Weight, score.Reason)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return rv.ErrDuplicateScore
		}
		if err != nil {
			return err
		}
		out, err = scanItem(tx.QueryRowContext(ctx, `
			UPDATE reviewables
			SET score = (SELECT COALESCE(SUM(score), 0) FROM reviewable_scores WHERE reviewable_id = $1),
				updated_at = now()
			WHERE id = $1
			RETURNING `+itemColumns, score.ItemID))
		return err
	}, rv.ErrNotFound, rv.ErrDuplicateScore)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) Mutate(ctx context.Context, id, expectedVersion int64, fn rv.MutateFunc) (*rv.Item, error) {
	var out *rv.Item
	err := r.InTx(ctx, "mutate", func(tx *sql.Tx) error {
		item, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM reviewables WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return rv.ErrNotFound
		}
		if err != nil {
			return err
		}
		if item.Version != expectedVersion {
			return rv.ErrUpdateConflict
		}
		if err := fn(ctx, &pgEffects{tx: tx}, item); err != nil {
			return err
		}
		payload, err := json.ToJSONB(item.Payload)
		if err != nil {
			return err
		}
		out, err = scanItem(tx.QueryRowContext(ctx, `
			UPDATE reviewables
			SET status = $3, payload = $4, category_id = $5, topic_id = $6,
				version = version + 1, updated_at = now()
			WHERE id = $1 AND version = $2
			RETURNING `+itemColumns,
			id, expectedVersion, int(item.Status), string(payload), item.CategoryID, item.TopicID))
		if errors.Is(err, sql.ErrNoRows) {
			return rv.ErrUpdateConflict
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && pqErr.Constraint == pendingTargetIndex {
			return rv.NewBusinessRuleError("target", rv.CodeAlreadyPending, "another reviewable is pending for this target")
		}
		return err
	}, rv.ErrNotFound, rv.ErrUpdateConflict, rv.ErrBusinessRule, rv.ErrInvalidAction, rv.ErrNotEditable)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the moderation history of an item, oldest first.
func (r *PostgresRepository) History(ctx context.Context, id int64) ([]rv.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT reviewable_id, type, status, created_by_id, version, created_at
		FROM reviewable_histories WHERE reviewable_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rv.HistoryEntry
	for rows.Next() {
		var h rv.HistoryEntry
		var typ string
		if err := rows.Scan(&h.ItemID, &typ, &h.Status, &h.ActorID, &h.Version, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Type = rv.HistoryType(typ)
		out = append(out, h)
	}
	return out, rows.Err()
}

// PendingNotifications returns undelivered notifications in enqueue order. A
// limit of 0 returns all of them.
func (r *PostgresRepository) PendingNotifications(ctx context.Context, limit int) ([]rv.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, reviewable_id, type, recipient_id, payload, created_at
		FROM reviewable_notifications
		WHERE delivered_at IS NULL
		ORDER BY created_at, id
		LIMIT NULLIF($1::bigint, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	defer rows.Close()
	var out []rv.Notification
	for rows.Next() {
		var (
			n       rv.Notification
			payload []byte
		)
		if err := rows.Scan(&n.ID, &n.ItemID, &n.Type, &n.RecipientID, &payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		if n.Payload, err = json.FromJSONB(payload); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotification records the relay outcome of a notification.
func (r *PostgresRepository) MarkNotification(ctx context.Context, id, outcome string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reviewable_notifications SET delivered_at = now(), outcome = $2
		WHERE id = $1`, id, outcome)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rv.ErrNotFound
	}
	return nil
}

func recordHistory(ctx context.Context, db repository.DBTX, entry rv.HistoryEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO reviewable_histories (reviewable_id, type, status, created_by_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ItemID, string(entry.Type), int(entry.Status), entry.ActorID, entry.Version, entry.CreatedAt)
	return err
}

// pgEffects runs side effects in the mutation's transaction.
type pgEffects struct {
	tx *sql.Tx
}

func (e *pgEffects) RecordHistory(ctx context.Context, entry rv.HistoryEntry) error {
	return recordHistory(ctx, e.tx, entry)
}

func (e *pgEffects) EnqueueNotification(ctx context.Context, n rv.Notification) error {
	payload, err := json.ToJSONB(n.Payload)
	if err != nil {
		return err
	}
	_, err = e.tx.ExecContext(ctx, `
		INSERT INTO reviewable_notifications (id, reviewable_id, type, recipient_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.ItemID, n.Type, n.RecipientID, string(payload), n.CreatedAt)
	return err
}

func (e *pgEffects) TargetState(ctx context.Context, target rv.TargetRef) (rv.TargetState, error) {
	var state string
	err := e.tx.QueryRowContext(ctx, `
		SELECT state FROM reviewable_targets WHERE target_type = $1 AND target_id = $2 FOR UPDATE`,
		target.Type, target.ID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return rv.TargetUnknown, nil
	}
	return rv.TargetState(state), err
}

func (e *pgEffects) SetTargetState(ctx context.Context, target rv.TargetRef, state rv.TargetState) error {
	_, err := e.tx.ExecContext(ctx, `
		INSERT INTO reviewable_targets (target_type, target_id, state, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (target_type, target_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		target.Type, target.ID, string(state))
	return err
}

func (e *pgEffects) PendingFor(ctx context.Context, kind rv.Kind, target rv.TargetRef) (int64, bool, error) {
	var id int64
	err := e.tx.QueryRowContext(ctx, `
		SELECT id FROM reviewables
		WHERE type = $1 AND target_type = $2 AND target_id = $3 AND status = $4`,
		string(kind), target.Type, target.ID, int(rv.StatusPending)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

var _ rv.Repository = (*PostgresRepository)(nil)
