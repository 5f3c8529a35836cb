package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnReset = errors.New("connection reset by peer")

// stubConnector hands out connections whose transactions record how they ended.
type stubConnector struct {
	rollbackErr error
	commits     int
	rollbacks   int
}

func (c *stubConnector) Connect(context.Context) (driver.Conn, error) { return &stubConn{c: c}, nil }
func (c *stubConnector) Driver() driver.Driver                        { return stubDriver{} }

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return nil, errors.New("use the connector") }

type stubConn struct{ c *stubConnector }

func (s *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (s *stubConn) Close() error                        { return nil }
func (s *stubConn) Begin() (driver.Tx, error)           { return &stubTx{c: s.c}, nil }

type stubTx struct{ c *stubConnector }

func (t *stubTx) Commit() error {
	t.c.commits++
	return nil
}

func (t *stubTx) Rollback() error {
	t.c.rollbacks++
	return t.c.rollbackErr
}

func openStub(t *testing.T, rollbackErr error) (*sql.DB, *stubConnector) {
	t.Helper()
	c := &stubConnector{rollbackErr: rollbackErr}
	db := sql.OpenDB(c)
	t.Cleanup(func() { _ = db.Close() })
	return db, c
}

func TestWithTransactionOptions(t *testing.T) {
	errConflict := errors.New("update conflict")
	tests := []struct {
		name        string
		rollbackErr error
		fnErr       error
		commits     int
		rollbacks   int
	}{
		{name: "commits on success", commits: 1},
		{name: "rolls back on failure", fnErr: errConflict, rollbacks: 1},
		{name: "keeps the cause when rollback fails", rollbackErr: errConnReset, fnErr: errConflict, rollbacks: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, c := openStub(t, tt.rollbackErr)
			err := WithTransactionOptions(context.Background(), db, nil, func(*sql.Tx) error { return tt.fnErr })

			if tt.fnErr == nil {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.fnErr)
			}
			if tt.rollbackErr != nil {
				assert.Contains(t, err.Error(), tt.rollbackErr.Error())
			}
			assert.Equal(t, tt.commits, c.commits)
			assert.Equal(t, tt.rollbacks, c.rollbacks)
		})
	}
}
