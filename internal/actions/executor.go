// Package actions executes workflow entry actions. Every action is reduced
// to an idempotent insert keyed by its action hash, followed by an audit
// entry when the insert created a new row.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/pkg/api"
)

// Executor implements api.ActionExecutor on top of the queue tables.
type Executor struct {
	deals    api.DealRepository
	queue    api.ActionQueue
	audit    api.AuditLogger
	profiles api.ProfileStore
	logger   *slog.Logger
	now      func() time.Time

	deferTasks bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithProfileStore prefills task fields from participant profiles.
func WithProfileStore(p api.ProfileStore) Option {
	return func(e *Executor) { e.profiles = p }
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDeferredTasks makes TASK_CREATE enqueue a task-queue row instead of
// creating the task directly. The task queue processor instantiates it.
func WithDeferredTasks() Option {
	return func(e *Executor) { e.deferTasks = true }
}

// NewExecutor builds an Executor. audit may be nil.
func NewExecutor(deals api.DealRepository, queue api.ActionQueue, audit api.AuditLogger, opts ...Option) *Executor {
	e := &Executor{
		deals:  deals,
		queue:  queue,
		audit:  audit,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ api.ActionExecutor = (*Executor)(nil)

// Execute dispatches action through a visitor.
func (e *Executor) Execute(ctx context.Context, action api.Action, actx api.ActionContext) error {
	hash, err := ActionHash(actx.DealID, actx.Transition, action)
	if err != nil {
		return err
	}
	return action.Accept(&dispatch{e: e, ctx: ctx, actx: actx, hash: hash})
}

type dispatch struct {
	e    *Executor
	ctx  context.Context
	actx api.ActionContext
	hash string
}

func (d *dispatch) VisitTaskCreate(a *api.TaskCreateAction) error {
	if d.actx.DealID == "" {
		return nil
	}
	if d.e.deferTasks {
		return d.enqueueTask(a)
	}
	_, _, err := d.e.CreateTask(d.ctx, TaskRequest{
		DealID:            d.actx.DealID,
		Transition:        d.actx.Transition,
		Definition:        a.Task,
		ActorRole:         d.actx.ActorRole,
		ActorID:           d.actx.ActorID,
		WorkflowVersionID: d.actx.WorkflowVersionID,
		Context:           d.actx.Context,
		Payload:           d.actx.Payload,
		Template:          d.actx.Template,
		ActionHash:        d.hash,
	})
	return err
}

func (d *dispatch) enqueueTask(a *api.TaskCreateAction) error {
	row := &api.TaskQueueRow{
		ID:                uuid.NewString(),
		DealID:            d.actx.DealID,
		TransitionFrom:    d.actx.Transition.From,
		TransitionTo:      d.actx.Transition.To,
		WorkflowVersionID: d.actx.WorkflowVersionID,
		Task:              a.Task,
		ActorRole:         d.actx.ActorRole,
		ActorID:           d.actx.ActorID,
		Context:           guard.Clone(d.actx.Context),
		Payload:           guard.Clone(d.actx.Payload),
		Status:            api.QueuePending,
		ActionHash:        d.hash,
		CreatedAt:         d.e.now().UTC(),
	}
	if _, err := d.e.queue.InsertTaskQueueIfAbsent(d.ctx, row); err != nil {
		return fmt.Errorf("enqueue task %s: %w", a.Task.Type, err)
	}
	return nil
}

func (d *dispatch) VisitNotify(a *api.NotifyAction) error {
	return d.notify(api.ActionNotify, api.AuditNotifyTrigger, a.ToRoles, a.Template)
}

func (d *dispatch) VisitEscalate(a *api.EscalateAction) error {
	return d.notify(api.ActionEscalate, api.AuditEscalateTrigger, a.ToRoles, a.Template)
}

func (d *dispatch) notify(kind api.ActionKind, event string, roles []api.Role, key string) error {
	message := key
	if tpl := d.actx.Template; tpl != nil {
		if text, ok := tpl.Notifications.Templates[key]; ok {
			message = text
		}
	}
	payload := guard.Clone(d.actx.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["message"] = message

	row := &api.NotificationRow{
		ID:             uuid.NewString(),
		DealID:         d.actx.DealID,
		TransitionFrom: d.actx.Transition.From,
		TransitionTo:   d.actx.Transition.To,
		Kind:           kind,
		ToRoles:        roles,
		Template:       key,
		Payload:        payload,
		Status:         api.QueuePending,
		ActionHash:     d.hash,
		CreatedAt:      d.e.now().UTC(),
	}
	created, err := d.e.queue.InsertNotificationIfAbsent(d.ctx, row)
	if err != nil {
		return fmt.Errorf("enqueue %s notification: %w", kind, err)
	}
	if created {
		d.e.logAudit(d.ctx, d.actx, event, kind, d.hash, map[string]any{
			"toRoles":  roles,
			"template": key,
		})
	}
	return nil
}

func (d *dispatch) VisitWebhook(a *api.WebhookAction) error {
	row := &api.WebhookRow{
		ID:             uuid.NewString(),
		DealID:         d.actx.DealID,
		TransitionFrom: d.actx.Transition.From,
		TransitionTo:   d.actx.Transition.To,
		Endpoint:       a.Endpoint,
		Payload:        guard.Clone(a.Payload),
		Status:         api.QueuePending,
		ActionHash:     d.hash,
		CreatedAt:      d.e.now().UTC(),
	}
	created, err := d.e.queue.InsertWebhookIfAbsent(d.ctx, row)
	if err != nil {
		return fmt.Errorf("enqueue webhook %s: %w", a.Endpoint, err)
	}
	if created {
		d.e.logAudit(d.ctx, d.actx, api.AuditWebhookEnqueued, api.ActionWebhook, d.hash, map[string]any{
			"endpoint": a.Endpoint,
		})
	}
	return nil
}

func (d *dispatch) VisitSchedule(a *api.ScheduleAction) error {
	row := &api.ScheduleRow{
		ID:             uuid.NewString(),
		DealID:         d.actx.DealID,
		TransitionFrom: d.actx.Transition.From,
		TransitionTo:   d.actx.Transition.To,
		JobType:        a.Job.Type,
		Cron:           a.Job.Cron,
		Payload:        guard.Clone(d.actx.Payload),
		Status:         api.QueuePending,
		ActionHash:     d.hash,
		CreatedAt:      d.e.now().UTC(),
	}
	created, err := d.e.queue.InsertScheduleIfAbsent(d.ctx, row)
	if err != nil {
		return fmt.Errorf("enqueue schedule %s: %w", a.Job.Type, err)
	}
	if created {
		d.e.logAudit(d.ctx, d.actx, api.AuditScheduleTrigger, api.ActionSchedule, d.hash, map[string]any{
			"job": map[string]any{"type": a.Job.Type, "cron": a.Job.Cron},
		})
	}
	return nil
}

// logAudit records an action audit entry. Failures are logged only.
func (e *Executor) logAudit(ctx context.Context, actx api.ActionContext, event string, kind api.ActionKind, hash string, details map[string]any) {
	if e.audit == nil {
		return
	}
	entry := api.AuditEntry{
		ID:                uuid.NewString(),
		DealID:            actx.DealID,
		Event:             event,
		From:              actx.Transition.From,
		To:                actx.Transition.To,
		ActorRole:         actx.ActorRole,
		ActorID:           actx.ActorID,
		WorkflowVersionID: actx.WorkflowVersionID,
		Actions:           []api.ActionKind{kind},
		ActionHash:        hash,
		Details:           details,
		CreatedAt:         e.now().UTC(),
	}
	if err := e.audit.LogAction(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "audit_insert_failed",
			slog.String("event", event),
			slog.String("deal_id", actx.DealID),
			slog.Any("error", err),
		)
	}
}
