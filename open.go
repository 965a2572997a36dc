package dealflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	_ "modernc.org/sqlite"

	"github.com/petrijr/dealflow/internal/config"
	"github.com/petrijr/dealflow/internal/engine"
	"github.com/petrijr/dealflow/internal/persistence"
	"github.com/petrijr/dealflow/internal/taskqueue"
	"github.com/petrijr/dealflow/pkg/api"
	"github.com/petrijr/dealflow/pkg/worker"
)

const connectTimeout = 10 * time.Second

// Open builds a Bundle from cfg: the configured store, the optional Redis
// version cache and Mongo audit sink, the Telegram messenger and the
// worker settings. Close releases every connection Open made.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Bundle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func() error
	fail := func(err error) (*Bundle, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	retry := engine.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Engine.MaxAttempts

	observer, err := openObserver(cfg, logger)
	if err != nil {
		return fail(err)
	}

	roles := make([]api.Role, 0, len(cfg.Engine.SupervisorRoles))
	for _, r := range cfg.Engine.SupervisorRoles {
		roles = append(roles, api.Role(r))
	}

	opts := Options{
		Logger:          logger,
		Observer:        observer,
		Retry:           &retry,
		SupervisorRoles: roles,
		DeferredTasks:   cfg.Engine.DeferredTasks,
		HTTPClient:      client,
		Messenger: taskqueue.NewMessenger(
			cfg.Messaging.TelegramToken,
			cfg.Messaging.TelegramChatID,
			cfg.Messaging.BaseURL,
			client,
			logger,
		),
		Worker: worker.Config{
			Interval:  cfg.Worker.Interval,
			BatchSize: cfg.Worker.BatchSize,
			LockFile:  cfg.Worker.LockFile,
			Logger:    logger,
		},
		CachePrefix: cfg.Redis.Prefix,
		CacheTTL:    cfg.Redis.TTL,
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, rdb.Close)
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fail(fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err))
		}
		opts.VersionCache = rdb
		logger.InfoContext(ctx, "version_cache_enabled", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.Mongo.URI != "" {
		audit, disconnect, err := openMongoAudit(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, disconnect)
		opts.Audit = audit
		logger.InfoContext(ctx, "mongo_audit_enabled",
			slog.String("database", cfg.Mongo.Database),
			slog.String("collection", cfg.Mongo.Collection),
		)
	}

	b := NewBundle(store, opts)
	for _, c := range closers {
		b.OnClose(c)
	}
	return b, nil
}

// openObserver returns the logging observer, composed with an
// OpenTelemetry observer when metrics.otel is set.
func openObserver(cfg *config.Config, logger *slog.Logger) (api.Observer, error) {
	logObs := api.NewLoggingObserver(logger)
	if !cfg.Metrics.Otel {
		return logObs, nil
	}
	otelObs, err := api.NewOtelObserver(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("otel observer: %w", err)
	}
	return api.NewCompositeObserver(logObs, otelObs), nil
}

func openStore(ctx context.Context, cfg *config.Config) (persistence.Store, func() error, error) {
	if cfg.Storage.Driver == "memory" {
		return persistence.NewInMemoryStore(), nil, nil
	}
	dialect, err := persistence.ParseDialect(cfg.Storage.Driver)
	if err != nil {
		return nil, nil, err
	}
	store, err := persistence.OpenSQLStore(ctx, dialect, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", dialect, err)
	}
	return store, store.Close, nil
}

func openMongoAudit(ctx context.Context, cfg *config.Config) (*persistence.MongoAuditLog, func() error, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	disconnect := func() error {
		dctx, dcancel := context.WithTimeout(context.Background(), connectTimeout)
		defer dcancel()
		return client.Disconnect(dctx)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = disconnect()
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	audit := persistence.NewMongoAuditLog(client, cfg.Mongo.Database, cfg.Mongo.Collection)
	if err := audit.EnsureIndexes(ctx); err != nil {
		_ = disconnect()
		return nil, nil, err
	}
	return audit, disconnect, nil
}
