package connect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nmxmxh/reviewqueue/internal/config"
)

const maxRetries = 5

// ConnectPostgres establishes a connection to Postgres with retries and config tuning.
func ConnectPostgres(ctx context.Context, log *zap.Logger, cfg *config.Config) (*sql.DB, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 5 * time.Second

	attempt := 0
	var db *sql.DB
	op := func() error {
		attempt++
		log.Info("Attempting database connection", zap.Int("attempt", attempt))
		conn, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			log.Error("Failed to open database", zap.Error(err))
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			log.Error("Database ping failed", zap.Error(err))
			_ = conn.Close()
			return err
		}
		db = conn
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempt, err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeMinutes) * time.Minute)
	log.Info("Database connection established")
	return db, nil
}
