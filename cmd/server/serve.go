package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/reviewqueue/database/connect"
	"github.com/nmxmxh/reviewqueue/database/migrations"
	"github.com/nmxmxh/reviewqueue/internal/config"
	reviewablerepo "github.com/nmxmxh/reviewqueue/internal/repository/reviewable"
	"github.com/nmxmxh/reviewqueue/internal/server"
	"github.com/nmxmxh/reviewqueue/internal/server/handlers"
	"github.com/nmxmxh/reviewqueue/internal/service/outbox"
	"github.com/nmxmxh/reviewqueue/internal/service/reviewable"
	"github.com/nmxmxh/reviewqueue/internal/service/reviewable/kinds"
	"github.com/nmxmxh/reviewqueue/pkg/events"
	"github.com/nmxmxh/reviewqueue/pkg/feature"
	"github.com/nmxmxh/reviewqueue/pkg/health"
	"github.com/nmxmxh/reviewqueue/pkg/logger"
	"github.com/nmxmxh/reviewqueue/pkg/redis"
	"github.com/nmxmxh/reviewqueue/pkg/tracing"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the review queue API, metrics endpoint and outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

// bootstrap loads configuration and opens the database.
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	db, err := connect.ConnectPostgres(ctx, log, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, db, nil
}

func runServe(ctx context.Context, migrate bool) error {
	cfg, log, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = log.Sync()
	}()
	defer db.Close()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.ServiceName = cfg.AppName
	tracingCfg.Environment = cfg.AppEnv
	tracingCfg.Disabled = cfg.OtelDisabled
	if cfg.OtelEndpoint != "" {
		tracingCfg.Endpoint = cfg.OtelEndpoint
	}
	_, shutdownTracing, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		log.Warn("Failed to initialize tracing, continuing without it", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Warn("Failed to shutdown tracing", zap.Error(err))
			}
		}()
	}

	if migrate {
		if _, err := migrations.Apply(ctx, db, log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	flags, err := feature.NewManager(cfg.AppName, map[string]bool{feature.FlagReopen: cfg.ReviewAllowReopen})
	if err != nil {
		return err
	}
	registry, err := kinds.Default(kinds.Options{AllowReopen: flags.IsEnabled(ctx, feature.FlagReopen)})
	if err != nil {
		return err
	}
	repo := reviewablerepo.NewPostgresRepository(db, log)

	var (
		svcOpts  []reviewable.Option
		relayOps = []outbox.Option{outbox.WithBatchSize(cfg.OutboxBatchSize)}
		rdb      *redis.Client
		pub      events.RedisPublisher
	)
	if cfg.RedisEnabled() {
		rdb, err = redis.NewClient(ctx, redis.Config{
			Host:         cfg.RedisHost,
			Port:         cfg.RedisPort,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			MinIdleConns: cfg.RedisMinIdleConns,
			MaxRetries:   cfg.RedisMaxRetries,
		}, log)
		if err != nil {
			log.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			rdb = nil
		}
	}
	if rdb != nil {
		defer rdb.Close()
		cache := redis.NewCache(rdb, redis.NamespaceCache, redis.ContextReviewable, redis.DefaultBreakerConfig())
		svcOpts = append(svcOpts, reviewable.WithStatsCache(cache, cfg.TopicStatsTTL))
		pub = rdb.Client
		relayOps = append(relayOps, outbox.WithDeadLetter(
			func(ctx context.Context, eventType, eventID string, body []byte, cause error) error {
				return redis.EmitToDLQ(ctx, rdb.Client, log, eventType, eventID, body, cause)
			}))
	}
	svc := reviewable.NewService(log, repo, registry, svcOpts...)

	checks := health.NewHealthChecker(cfg.HealthCheckTimeout)
	checks.Register(health.NewDatabaseHealthCheck("postgres", db))
	if rdb != nil {
		checks.Register(health.NewRedisHealthCheck("redis", rdb))
	}

	emitter, err := events.New(events.BusConfig{
		Bus:          cfg.EventBus,
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
		AMQPURL:      cfg.AMQPURL,
		AMQPExchange: cfg.AMQPExchange,
		RedisChannel: cfg.RedisChannel,
	}, pub, log)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer emitter.Close()

	relay := outbox.NewRelay(repo, emitter, log, relayOps...)
	scheduler := cron.New()
	if _, err := relay.Schedule(ctx, scheduler, cfg.OutboxSchedule); err != nil {
		return fmt.Errorf("outbox schedule %q: %w", cfg.OutboxSchedule, err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	review := handlers.NewReviewableHandler(log, svc, cfg.ReviewPerPage, cfg.ReviewMinScoreDefault)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, log, "api", server.NewHTTPServer(":"+cfg.AppPort, server.NewHandler(review, cfg.JWTSecret)))
	})
	g.Go(func() error {
		return server.Serve(gctx, log, "metrics", server.NewMetricsServer(":"+cfg.MetricsPort, checks.Handler(log)))
	})
	log.Info("Review queue started",
		zap.String("api_port", cfg.AppPort),
		zap.String("metrics_port", cfg.MetricsPort),
		zap.String("event_bus", cfg.EventBus),
		zap.Bool("cache", rdb != nil),
		zap.Strings("kinds", kindNames(registry)))
	return g.Wait()
}

func kindNames(r *reviewable.Registry) []string {
	kinds := r.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, db, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := migrations.Apply(cmd.Context(), db, log)
			if err != nil {
				return err
			}
			log.Info("Migrations complete", zap.Int("applied", n))
			return nil
		},
	}
}
