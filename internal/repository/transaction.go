package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// TxFn represents a function that will be executed within a transaction
type TxFn func(*sql.Tx) error

// WithTransactionOptions executes fn within a transaction opened with opts.
func WithTransactionOptions(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFn) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// DBTX represents a database connection that can execute queries or a transaction
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
