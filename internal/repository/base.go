package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nmxmxh/reviewqueue/pkg/logger"
)

// BaseRepository provides common database functionality.
type BaseRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// NewBaseRepository creates a new base repository instance.
func NewBaseRepository(db *sql.DB, log *zap.Logger) *BaseRepository {
	return &BaseRepository{
		db:  db,
		log: log,
	}
}

// InTx runs fn in a read-committed transaction. Failures other than those
// listed in expected are logged with the request id.
func (r *BaseRepository) InTx(ctx context.Context, op string, fn TxFn, expected ...error) error {
	err := WithTransactionOptions(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
	if err == nil || r.log == nil {
		return err
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			return err
		}
	}
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if reqID := logger.RequestID(ctx); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	r.log.Error("Transaction failed", fields...)
	return err
}

// Placeholders accumulates positional query arguments.
type Placeholders struct {
	args []interface{}
}

// Add appends v and returns its placeholder.
func (p *Placeholders) Add(v interface{}) string {
	p.args = append(p.args, v)
	return fmt.Sprintf("$%d", len(p.args))
}

// Args returns the accumulated arguments.
func (p *Placeholders) Args() []interface{} {
	return p.args
}

// Where joins conditions with AND, returning an empty string for none.
func Where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
