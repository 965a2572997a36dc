package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/petrijr/dealflow/internal/taskqueue"
)

// ErrLocked is returned when another worker holds the lock file.
var ErrLocked = errors.New("worker: lock file is held by another process")

// DefaultInterval is the tick interval used when Config.Interval is unset.
const DefaultInterval = 5 * time.Second

// Processor drains one batch of every queue. *taskqueue.Processor
// implements it.
type Processor interface {
	ProcessAll(ctx context.Context, limit int) (taskqueue.Results, error)
}

// Config tunes a Worker.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// LockFile enables the single-instance lock when non-empty.
	LockFile string
	Logger   *slog.Logger
	// OnBatch, if set, observes every completed tick.
	OnBatch func(taskqueue.Results, error)
}

// Worker polls a Processor until stopped.
type Worker struct {
	processor Processor
	interval  time.Duration
	batchSize int
	lock      *flock.Flock
	logger    *slog.Logger
	onBatch   func(taskqueue.Results, error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a new Worker.
func New(p Processor, cfg Config) *Worker {
	w := &Worker{
		processor: p,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
		onBatch:   cfg.OnBatch,
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = taskqueue.DefaultBatchSize
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if cfg.LockFile != "" {
		w.lock = flock.New(cfg.LockFile)
	}
	return w
}

// RunOnce drains a single batch of every queue.
func (w *Worker) RunOnce(ctx context.Context) (taskqueue.Results, error) {
	res, err := w.processor.ProcessAll(ctx, w.batchSize)
	total := res.Total()
	switch {
	case err != nil:
		w.logger.ErrorContext(ctx, "queue_batch_failed", "error", err,
			"processed", total.Processed, "failed", total.Failed)
	case total.Processed > 0 || total.Failed > 0:
		w.logger.InfoContext(ctx, "queue_batch_done",
			"processed", total.Processed, "failed", total.Failed)
	}
	if w.onBatch != nil {
		w.onBatch(res, err)
	}
	return res, err
}

// Run ticks until ctx is cancelled and returns ctx.Err(). The first batch
// runs immediately.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.acquire(); err != nil {
		return err
	}
	defer w.release()

	w.logger.InfoContext(ctx, "worker_started", "interval", w.interval, "batch_size", w.batchSize)
	defer w.logger.Info("worker_stopped")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		// Batch errors are already logged; the next tick retries.
		_, _ = w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start runs the loop in a background goroutine. The lock, if configured,
// is acquired before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("worker: already started")
	}
	if err := w.acquire(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	// Run re-acquires the lock it already holds; flock treats that as a no-op.
	go func(done chan struct{}) {
		defer close(done)
		_ = w.Run(ctx)
	}(w.done)
	return nil
}

// Stop cancels a loop started by Start and waits for it to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	<-done
}

func (w *Worker) acquire() error {
	if w.lock == nil {
		return nil
	}
	ok, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire worker lock %s: %w", w.lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, w.lock.Path())
	}
	return nil
}

func (w *Worker) release() {
	if w.lock == nil {
		return
	}
	if err := w.lock.Unlock(); err != nil {
		w.logger.Warn("worker_unlock_failed", "lock", w.lock.Path(), "error", err)
	}
}
