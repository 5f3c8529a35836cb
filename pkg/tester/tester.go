// Package tester starts disposable Postgres and Redis containers for
// integration tests.
package tester

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/nmxmxh/reviewqueue/pkg/redis"
)

// Tester owns the containers started for one test package or test.
type Tester struct {
	Name              string
	DB                *sql.DB
	Redis             *redis.Client
	PostgresConnStr   string
	Log               *zap.Logger
	postgresContainer testcontainers.Container
	redisContainer    testcontainers.Container
}

// NewTester creates an empty Tester.
func NewTester(name string, log *zap.Logger) *Tester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tester{Name: name, Log: log.With(zap.String("tester", name))}
}

// SetupPostgres starts a Postgres container, connects DB and runs the optional migration.
func (t *Tester) SetupPostgres(ctx context.Context, migration func(ctx context.Context, db *sql.DB) error) error {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "test_db",
			"POSTGRES_USER":     "test_user",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to start Postgres container: %w", err)
	}
	t.postgresContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get Postgres host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return fmt.Errorf("failed to get Postgres port: %w", err)
	}
	connStr := fmt.Sprintf("host=%s port=%s user=test_user password=test_password dbname=test_db sslmode=disable",
		host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	t.DB = db
	t.PostgresConnStr = connStr
	if err := waitForPostgres(ctx, db, 15*time.Second); err != nil {
		return fmt.Errorf("postgres not ready: %w", err)
	}
	if migration != nil {
		if err := migration(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// waitForPostgres pings the DB until it is ready or times out.
func waitForPostgres(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for Postgres to be ready")
		}
		if err := db.PingContext(ctx); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// SetupRedis starts a Redis container and connects a client to it.
func (t *Tester) SetupRedis(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("failed to start Redis container: %w", err)
	}
	t.redisContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get Redis host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return fmt.Errorf("failed to get Redis port: %w", err)
	}
	client, err := redis.NewClient(ctx, redis.Config{Host: host, Port: port.Port()}, t.Log)
	if err != nil {
		return fmt.Errorf("failed to create Redis client: %w", err)
	}
	t.Redis = client
	return nil
}

// Cleanup closes connections and terminates every started container.
func (t *Tester) Cleanup(ctx context.Context) {
	if t.DB != nil {
		if err := t.DB.Close(); err != nil {
			t.Log.Warn("failed to close DB connection", zap.Error(err))
		}
	}
	if t.Redis != nil {
		_ = t.Redis.Close()
	}
	for _, c := range []testcontainers.Container{t.redisContainer, t.postgresContainer} {
		if c == nil {
			continue
		}
		if err := c.Terminate(ctx); err != nil {
			t.Log.Warn("failed to terminate container", zap.Error(err))
		}
	}
}

// Postgres starts a migrated Postgres for tb, skipping in -short mode or when
// no container runtime is reachable.
func Postgres(tb testing.TB, log *zap.Logger, migration func(ctx context.Context, db *sql.DB) error) *sql.DB {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	tr := NewTester(tb.Name(), log)
	tb.Cleanup(func() { tr.Cleanup(ctx) })
	if err := tr.SetupPostgres(ctx, migration); err != nil {
		tb.Skipf("postgres container unavailable: %v", err)
	}
	return tr.DB
}

// Redis starts a Redis for tb with the same skip rules as Postgres.
func Redis(tb testing.TB, log *zap.Logger) *redis.Client {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	tr := NewTester(tb.Name(), log)
	tb.Cleanup(func() { tr.Cleanup(ctx) })
	if err := tr.SetupRedis(ctx); err != nil {
		tb.Skipf("redis container unavailable: %v", err)
	}
	return tr.Redis
}
