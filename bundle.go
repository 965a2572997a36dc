package dealflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/dealflow/internal/actions"
	"github.com/petrijr/dealflow/internal/engine"
	"github.com/petrijr/dealflow/internal/httpapi"
	"github.com/petrijr/dealflow/internal/persistence"
	"github.com/petrijr/dealflow/internal/taskqueue"
	"github.com/petrijr/dealflow/internal/tasks"
	"github.com/petrijr/dealflow/internal/versioning"
	"github.com/petrijr/dealflow/pkg/api"
	"github.com/petrijr/dealflow/pkg/worker"
)

// Options tunes how a Bundle is wired. The zero value gives an engine with
// default retry policy and supervisor roles, logging notifications instead
// of delivering them.
type Options struct {
	Logger   *slog.Logger
	Observer api.Observer

	Retry           *RetryPolicy
	SupervisorRoles []api.Role
	// DeferredTasks routes TASK_CREATE through the task queue.
	DeferredTasks bool

	Messenger  taskqueue.Messenger
	HTTPClient *http.Client
	Worker     worker.Config

	// VersionCache fronts version reads with Redis when set.
	VersionCache redis.UniversalClient
	CachePrefix  string
	CacheTTL     time.Duration

	// Audit replaces the store's own audit sink.
	Audit api.AuditLogger
}

// Bundle wires a store into every component of the workflow engine: the
// service, version registry, action executor, task completer, queue
// processor and a polling worker over that processor.
type Bundle struct {
	Store       persistence.Store
	Persistence persistence.Persistence
	Service     *engine.Service
	Registry    *versioning.Registry
	Executor    *actions.Executor
	Completer   *tasks.Completer
	Processor   *taskqueue.Processor
	Worker      *worker.Worker

	logger  *slog.Logger
	mu      sync.Mutex
	closers []func() error
}

// NewBundle wires every component over store.
func NewBundle(store persistence.Store, opts Options) *Bundle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := persistence.FromStore(store)
	if opts.VersionCache != nil {
		p.Versions = persistence.NewRedisVersionCache(p.Versions, opts.VersionCache, opts.CachePrefix, opts.CacheTTL, logger)
	}
	if opts.Audit != nil {
		p.Audit = opts.Audit
	}

	execOpts := []actions.Option{
		actions.WithProfileStore(p.Profiles),
		actions.WithLogger(logger),
	}
	if opts.DeferredTasks {
		execOpts = append(execOpts, actions.WithDeferredTasks())
	}
	executor := actions.NewExecutor(p.Deals, p.Queues, p.Audit, execOpts...)

	svc := engine.NewService(engine.Config{
		Persistence:     p,
		Executor:        executor,
		Observer:        opts.Observer,
		Logger:          logger,
		Retry:           opts.Retry,
		SupervisorRoles: opts.SupervisorRoles,
	})

	completer := tasks.NewCompleter(tasks.Config{
		Tasks:        p.Tasks,
		Deals:        p.Deals,
		Transitioner: svc,
		Profiles:     p.Profiles,
		Logger:       logger,
	})

	processor := taskqueue.NewProcessor(taskqueue.Config{
		Store:        p.Queues,
		Messenger:    opts.Messenger,
		Transitioner: svc,
		Tasks:        executor,
		Versions:     p.Versions,
		HTTPClient:   opts.HTTPClient,
		Logger:       logger,
	})

	wcfg := opts.Worker
	if wcfg.Logger == nil {
		wcfg.Logger = logger
	}

	return &Bundle{
		Store:       store,
		Persistence: p,
		Service:     svc,
		Registry:    versioning.NewRegistry(p.Versions),
		Executor:    executor,
		Completer:   completer,
		Processor:   processor,
		Worker:      worker.New(processor, wcfg),
		logger:      logger,
	}
}

// NewInMemoryBundle wires a non-durable bundle for tests and local runs.
func NewInMemoryBundle(opts Options) (*Bundle, *persistence.InMemoryStore) {
	mem := persistence.NewInMemoryStore()
	return NewBundle(mem, opts), mem
}

// NewSQLiteBundle opens dsn with modernc.org/sqlite, creating the schema
// if needed. Close releases the database.
//
//	bundle, err := dealflow.NewSQLiteBundle(ctx, "file:dealflow.db?_pragma=journal_mode(WAL)", dealflow.Options{})
func NewSQLiteBundle(ctx context.Context, dsn string, opts Options) (*Bundle, error) {
	store, err := persistence.OpenSQLStore(ctx, persistence.DialectSQLite, dsn)
	if err != nil {
		return nil, err
	}
	b := NewBundle(store, opts)
	b.OnClose(store.Close)
	return b, nil
}

// Handler returns the HTTP surface of the bundle.
func (b *Bundle) Handler() http.Handler {
	return httpapi.New(httpapi.Config{
		Transitions: b.Service,
		Versions:    b.Registry,
		Completer:   b.Completer,
		Queues:      b.Processor,
		Deals:       b.Persistence.Deals,
		Lister:      b.Persistence.Lister,
		Tasks:       b.Persistence.Tasks,
		Logger:      b.logger,
	}).Router()
}

// OnClose registers fn to run on Close, in reverse registration order.
func (b *Bundle) OnClose(fn func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, fn)
}

// Close stops the worker and releases every registered resource.
func (b *Bundle) Close() error {
	b.Worker.Stop()

	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
