// Package taskqueue drains the side-effect queues filled by entry actions:
// notifications, outbound webhooks, schedules and deferred tasks.
//
// Each Process* method selects a batch of PENDING rows oldest-first,
// dispatches them one by one and persists the per-row outcome. Dispatch
// failures never escape a batch; they become row state. Only a failure to
// load the batch is returned.
package taskqueue

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/dealflow/internal/actions"
	"github.com/petrijr/dealflow/pkg/api"
)

// DefaultBatchSize is used when a Process* call is given a limit <= 0.
const DefaultBatchSize = 10

// Transitioner performs deal transitions. engine.Service implements it.
type Transitioner interface {
	TransitionDeal(ctx context.Context, in api.TransitionInput) (*api.TransitionOutcome, error)
}

// TaskCreator instantiates tasks. actions.Executor implements it.
type TaskCreator interface {
	CreateTask(ctx context.Context, req actions.TaskRequest) (*api.Task, bool, error)
}

// Config wires a Processor.
type Config struct {
	Store api.QueueStore

	// Messenger delivers notifications; nil logs them as sent.
	Messenger Messenger
	// Transitioner follows up SENT webhook rows carrying a target status.
	// Without one those rows are only marked SENT.
	Transitioner Transitioner
	// Tasks instantiates deferred task rows.
	Tasks TaskCreator
	// Versions supplies templates for deferred task rows; optional.
	Versions api.VersionRepository

	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Processor runs queue batches.
type Processor struct {
	store        api.QueueStore
	messenger    Messenger
	transitioner Transitioner
	tasks        TaskCreator
	versions     api.VersionRepository
	client       *http.Client
	logger       *slog.Logger
	now          func() time.Time
}

// NewProcessor builds a Processor from cfg.
func NewProcessor(cfg Config) *Processor {
	p := &Processor{
		store:        cfg.Store,
		messenger:    cfg.Messenger,
		transitioner: cfg.Transitioner,
		tasks:        cfg.Tasks,
		versions:     cfg.Versions,
		client:       cfg.HTTPClient,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.messenger == nil {
		p.messenger = LogMessenger{Logger: p.logger}
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 15 * time.Second}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Results is the outcome of ProcessAll.
type Results struct {
	Notifications api.QueueResult `json:"notifications"`
	Webhooks      api.QueueResult `json:"webhooks"`
	Schedules     api.QueueResult `json:"schedules"`
	Tasks         api.QueueResult `json:"tasks"`
}

// Total sums every queue.
func (r Results) Total() api.QueueResult {
	var total api.QueueResult
	total.Add(r.Notifications)
	total.Add(r.Webhooks)
	total.Add(r.Schedules)
	total.Add(r.Tasks)
	return total
}

// ProcessAll runs one batch of every queue concurrently. The queues are
// independent, so a load failure in one does not stop the others; the
// first such error is returned alongside whatever the others processed.
func (p *Processor) ProcessAll(ctx context.Context, limit int) (Results, error) {
	var res Results
	var g errgroup.Group

	g.Go(func() (err error) {
		res.Notifications, err = p.ProcessNotifications(ctx, limit)
		return err
	})
	g.Go(func() (err error) {
		res.Webhooks, err = p.ProcessWebhooks(ctx, limit)
		return err
	})
	g.Go(func() (err error) {
		res.Schedules, err = p.ProcessSchedules(ctx, limit)
		return err
	})
	if p.tasks != nil {
		g.Go(func() (err error) {
			res.Tasks, err = p.ProcessTasks(ctx, limit)
			return err
		})
	}

	err := g.Wait()
	return res, err
}

func batchSize(limit int) int {
	if limit <= 0 {
		return DefaultBatchSize
	}
	return limit
}

func (p *Processor) timestamp() *time.Time {
	t := p.now().UTC()
	return &t
}
