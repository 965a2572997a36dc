package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/petrijr/dealflow/internal/actions"
	"github.com/petrijr/dealflow/pkg/api"
)

// ProcessSchedules acknowledges up to limit schedule registrations. Cron
// execution is left to an external scheduler; rows are logged and SENT.
func (p *Processor) ProcessSchedules(ctx context.Context, limit int) (api.QueueResult, error) {
	rows, err := p.store.PendingSchedules(ctx, batchSize(limit))
	if err != nil {
		return api.QueueResult{}, fmt.Errorf("load schedule queue: %w", err)
	}

	var res api.QueueResult
	for _, row := range rows {
		p.logger.InfoContext(ctx, "schedule_stub",
			slog.String("deal_id", row.DealID),
			slog.String("job", row.JobType),
			slog.String("cron", row.Cron),
		)
		row.Status = api.QueueSent
		row.ProcessedAt = p.timestamp()

		if err := p.store.UpdateSchedule(ctx, row); err != nil {
			p.logger.ErrorContext(ctx, "schedule_update_failed",
				slog.String("row_id", row.ID),
				slog.Any("error", err),
			)
			res.Failed++
			continue
		}
		res.Processed++
	}
	return res, nil
}

// ProcessTasks instantiates up to limit deferred task rows. The task is
// inserted under the row's own action hash, so a row processed twice
// yields one task.
func (p *Processor) ProcessTasks(ctx context.Context, limit int) (api.QueueResult, error) {
	if p.tasks == nil {
		return api.QueueResult{}, errors.New("task queue processing needs a task creator")
	}
	rows, err := p.store.PendingTaskQueue(ctx, batchSize(limit))
	if err != nil {
		return api.QueueResult{}, fmt.Errorf("load task queue: %w", err)
	}

	var res api.QueueResult
	for _, row := range rows {
		if err := p.instantiate(ctx, row); err != nil {
			p.logger.ErrorContext(ctx, "task_instantiation_failed",
				slog.String("row_id", row.ID),
				slog.String("deal_id", row.DealID),
				slog.String("task_type", row.Task.Type),
				slog.Any("error", err),
			)
			row.Status = api.QueueFailed
			row.Attempts++
			row.LastError = err.Error()
		} else {
			row.Status = api.QueueProcessed
			row.LastError = ""
		}
		row.ProcessedAt = p.timestamp()

		if err := p.store.UpdateTaskQueue(ctx, row); err != nil {
			p.logger.ErrorContext(ctx, "task_queue_update_failed",
				slog.String("row_id", row.ID),
				slog.Any("error", err),
			)
			res.Failed++
			continue
		}
		if row.Status == api.QueueProcessed {
			res.Processed++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

func (p *Processor) instantiate(ctx context.Context, row *api.TaskQueueRow) error {
	var tpl *api.WorkflowTemplate
	if p.versions != nil && row.WorkflowVersionID != "" {
		v, err := p.versions.FindByID(ctx, row.WorkflowVersionID)
		switch {
		case err == nil:
			tpl = v.Template
		case !errors.Is(err, api.ErrVersionNotFound):
			return fmt.Errorf("load version %s: %w", row.WorkflowVersionID, err)
		}
	}

	_, _, err := p.tasks.CreateTask(ctx, actions.TaskRequest{
		DealID:            row.DealID,
		Transition:        api.TransitionRef{From: row.TransitionFrom, To: row.TransitionTo},
		Definition:        row.Task,
		ActorRole:         row.ActorRole,
		ActorID:           row.ActorID,
		WorkflowVersionID: row.WorkflowVersionID,
		Context:           row.Context,
		Payload:           row.Payload,
		Template:          tpl,
		ActionHash:        row.ActionHash,
	})
	return err
}
