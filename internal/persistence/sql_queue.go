package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/dealflow/pkg/api"
)

// insertIfAbsent runs an INSERT ... ON CONFLICT (action_hash) DO NOTHING
// and reports whether a row was written.
func (s *SQLStore) insertIfAbsent(ctx context.Context, kind, query string, args ...any) (bool, error) {
	res, err := s.exec(ctx, query+` ON CONFLICT (action_hash) DO NOTHING`, args...)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", kind, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLStore) updateRow(ctx context.Context, kind, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRowNotFound
	}
	return nil
}

// --- tasks ---

const taskColumns = `id, deal_id, type, title, status, assignee_role, assignee_user_id,
	sla_due_at, sla_status, payload, action_hash, created_at, completed_at`

func (s *SQLStore) InsertTaskIfAbsent(ctx context.Context, task *api.Task) (bool, error) {
	payload, err := encodeJSON(task.Payload)
	if err != nil {
		return false, err
	}
	return s.insertIfAbsent(ctx, "task", `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.DealID,
		task.Type,
		nullString(task.Title),
		string(task.Status),
		nullString(string(task.AssigneeRole)),
		nullString(task.AssigneeUserID),
		encodeTimePtr(task.SLADueAt),
		nullString(string(task.SLAStatus)),
		payload,
		task.ActionHash,
		encodeTime(task.CreatedAt),
		encodeTimePtr(task.CompletedAt),
	)
}

func scanTask(row rowScanner) (*api.Task, error) {
	var (
		t                  api.Task
		title, role, user  sql.NullString
		slaStatus, payload sql.NullString
		status             string
		slaDue, completed  sql.NullInt64
		createdAt          int64
	)
	if err := row.Scan(&t.ID, &t.DealID, &t.Type, &title, &status, &role, &user,
		&slaDue, &slaStatus, &payload, &t.ActionHash, &createdAt, &completed); err != nil {
		return nil, err
	}
	doc, err := decodeJSON[map[string]any](payload)
	if err != nil {
		return nil, err
	}
	t.Title = title.String
	t.Status = api.TaskStatus(status)
	t.AssigneeRole = api.Role(role.String)
	t.AssigneeUserID = user.String
	t.SLADueAt = decodeTimePtr(slaDue)
	t.SLAStatus = api.SLAStatus(slaStatus.String)
	t.Payload = doc
	t.CreatedAt = decodeTime(createdAt)
	t.CompletedAt = decodeTimePtr(completed)
	return &t, nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*api.Task, error) {
	t, err := scanTask(s.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLStore) ListTasks(ctx context.Context, dealID string) ([]*api.Task, error) {
	rows, err := s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE deal_id = ? ORDER BY created_at, id`, dealID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of deal %s: %w", dealID, err)
	}
	defer rows.Close()

	var out []*api.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) CompleteTask(ctx context.Context, update api.TaskCompletionUpdate) error {
	payload, err := encodeJSON(update.Payload)
	if err != nil {
		return err
	}
	err = s.updateRow(ctx, "task", `
		UPDATE tasks
		SET status = ?, completed_at = ?, sla_status = ?, payload = COALESCE(?, payload)
		WHERE id = ?`,
		string(api.TaskDone),
		encodeTime(update.CompletedAt),
		nullString(string(update.SLAStatus)),
		payload,
		update.TaskID,
	)
	if errors.Is(err, ErrRowNotFound) {
		return api.ErrTaskNotFound
	}
	return err
}

// --- notifications ---

const notificationColumns = `id, deal_id, transition_from, transition_to, kind, to_roles, template, payload,
	status, error, action_hash, created_at, sent_at`

func (s *SQLStore) InsertNotificationIfAbsent(ctx context.Context, row *api.NotificationRow) (bool, error) {
	roles, err := encodeJSON(row.ToRoles)
	if err != nil {
		return false, err
	}
	payload, err := encodeJSON(row.Payload)
	if err != nil {
		return false, err
	}
	return s.insertIfAbsent(ctx, "notification", `
		INSERT INTO notification_queue (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.DealID,
		nullString(row.TransitionFrom),
		nullString(row.TransitionTo),
		string(row.Kind),
		roles,
		nullString(row.Template),
		payload,
		string(row.Status),
		nullString(row.Error),
		row.ActionHash,
		encodeTime(row.CreatedAt),
		encodeTimePtr(row.SentAt),
	)
}

func (s *SQLStore) PendingNotifications(ctx context.Context, limit int) ([]*api.NotificationRow, error) {
	rows, err := s.query(ctx, `
		SELECT `+notificationColumns+`
		FROM notification_queue
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?`, string(api.QueuePending), limit)
	if err != nil {
		return nil, fmt.Errorf("pending notifications: %w", err)
	}
	defer rows.Close()

	var out []*api.NotificationRow
	for rows.Next() {
		var (
			r                         api.NotificationRow
			kind, status              string
			from, to                  sql.NullString
			roles, tmpl, doc, errText sql.NullString
			createdAt                 int64
			sentAt                    sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.DealID, &from, &to, &kind, &roles, &tmpl, &doc, &status, &errText,
			&r.ActionHash, &createdAt, &sentAt); err != nil {
			return nil, err
		}
		if r.ToRoles, err = decodeJSON[[]api.Role](roles); err != nil {
			return nil, err
		}
		if r.Payload, err = decodeJSON[map[string]any](doc); err != nil {
			return nil, err
		}
		r.TransitionFrom = from.String
		r.TransitionTo = to.String
		r.Kind = api.ActionKind(kind)
		r.Template = tmpl.String
		r.Status = api.QueueStatus(status)
		r.Error = errText.String
		r.CreatedAt = decodeTime(createdAt)
		r.SentAt = decodeTimePtr(sentAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateNotification(ctx context.Context, row *api.NotificationRow) error {
	return s.updateRow(ctx, "notification", `
		UPDATE notification_queue SET status = ?, error = ?, sent_at = ? WHERE id = ?`,
		string(row.Status), nullString(row.Error), encodeTimePtr(row.SentAt), row.ID)
}

// --- webhooks ---

const webhookColumns = `id, deal_id, transition_from, transition_to, endpoint, payload, status, retry_count,
	next_attempt_at, last_error, action_hash, created_at, sent_at, processed_at`

func (s *SQLStore) InsertWebhookIfAbsent(ctx context.Context, row *api.WebhookRow) (bool, error) {
	payload, err := encodeJSON(row.Payload)
	if err != nil {
		return false, err
	}
	return s.insertIfAbsent(ctx, "webhook", `
		INSERT INTO webhook_queue (`+webhookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		nullString(row.DealID),
		nullString(row.TransitionFrom),
		nullString(row.TransitionTo),
		row.Endpoint,
		payload,
		string(row.Status),
		row.RetryCount,
		encodeTimePtr(row.NextAttemptAt),
		nullString(row.LastError),
		row.ActionHash,
		encodeTime(row.CreatedAt),
		encodeTimePtr(row.SentAt),
		encodeTimePtr(row.ProcessedAt),
	)
}

func (s *SQLStore) PendingWebhooks(ctx context.Context, now time.Time, limit int) ([]*api.WebhookRow, error) {
	rows, err := s.query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhook_queue
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`, string(api.QueuePending), encodeTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("pending webhooks: %w", err)
	}
	defer rows.Close()

	var out []*api.WebhookRow
	for rows.Next() {
		var (
			r                           api.WebhookRow
			status                      string
			deal, doc, lastErr          sql.NullString
			from, to                    sql.NullString
			createdAt                   int64
			nextAt, sentAt, processedAt sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &deal, &from, &to, &r.Endpoint, &doc, &status, &r.RetryCount,
			&nextAt, &lastErr, &r.ActionHash, &createdAt, &sentAt, &processedAt); err != nil {
			return nil, err
		}
		if r.Payload, err = decodeJSON[map[string]any](doc); err != nil {
			return nil, err
		}
		r.DealID = deal.String
		r.TransitionFrom = from.String
		r.TransitionTo = to.String
		r.Status = api.QueueStatus(status)
		r.NextAttemptAt = decodeTimePtr(nextAt)
		r.LastError = lastErr.String
		r.CreatedAt = decodeTime(createdAt)
		r.SentAt = decodeTimePtr(sentAt)
		r.ProcessedAt = decodeTimePtr(processedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateWebhook(ctx context.Context, row *api.WebhookRow) error {
	return s.updateRow(ctx, "webhook", `
		UPDATE webhook_queue
		SET status = ?, retry_count = ?, next_attempt_at = ?, last_error = ?, sent_at = ?, processed_at = ?
		WHERE id = ?`,
		string(row.Status),
		row.RetryCount,
		encodeTimePtr(row.NextAttemptAt),
		nullString(row.LastError),
		encodeTimePtr(row.SentAt),
		encodeTimePtr(row.ProcessedAt),
		row.ID,
	)
}

// --- schedules ---

const scheduleColumns = `id, deal_id, transition_from, transition_to, job_type, cron, payload, status,
	action_hash, created_at, processed_at`

func (s *SQLStore) InsertScheduleIfAbsent(ctx context.Context, row *api.ScheduleRow) (bool, error) {
	payload, err := encodeJSON(row.Payload)
	if err != nil {
		return false, err
	}
	return s.insertIfAbsent(ctx, "schedule", `
		INSERT INTO schedule_queue (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.DealID,
		nullString(row.TransitionFrom),
		nullString(row.TransitionTo),
		row.JobType,
		nullString(row.Cron),
		payload,
		string(row.Status),
		row.ActionHash,
		encodeTime(row.CreatedAt),
		encodeTimePtr(row.ProcessedAt),
	)
}

func (s *SQLStore) PendingSchedules(ctx context.Context, limit int) ([]*api.ScheduleRow, error) {
	rows, err := s.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedule_queue
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?`, string(api.QueuePending), limit)
	if err != nil {
		return nil, fmt.Errorf("pending schedules: %w", err)
	}
	defer rows.Close()

	var out []*api.ScheduleRow
	for rows.Next() {
		var (
			r           api.ScheduleRow
			status      string
			from, to    sql.NullString
			cron, doc   sql.NullString
			createdAt   int64
			processedAt sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.DealID, &from, &to, &r.JobType, &cron, &doc, &status, &r.ActionHash,
			&createdAt, &processedAt); err != nil {
			return nil, err
		}
		if r.Payload, err = decodeJSON[map[string]any](doc); err != nil {
			return nil, err
		}
		r.TransitionFrom = from.String
		r.TransitionTo = to.String
		r.Cron = cron.String
		r.Status = api.QueueStatus(status)
		r.CreatedAt = decodeTime(createdAt)
		r.ProcessedAt = decodeTimePtr(processedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateSchedule(ctx context.Context, row *api.ScheduleRow) error {
	return s.updateRow(ctx, "schedule", `
		UPDATE schedule_queue SET status = ?, processed_at = ? WHERE id = ?`,
		string(row.Status), encodeTimePtr(row.ProcessedAt), row.ID)
}

// --- deferred tasks ---

const taskQueueColumns = `id, deal_id, transition_from, transition_to, workflow_version_id, task,
	actor_role, actor_id, context, payload, status, attempts, last_error, action_hash, created_at, processed_at`

func (s *SQLStore) InsertTaskQueueIfAbsent(ctx context.Context, row *api.TaskQueueRow) (bool, error) {
	def, err := encodeJSON(row.Task)
	if err != nil {
		return false, err
	}
	docCtx, err := encodeJSON(row.Context)
	if err != nil {
		return false, err
	}
	payload, err := encodeJSON(row.Payload)
	if err != nil {
		return false, err
	}
	return s.insertIfAbsent(ctx, "task queue row", `
		INSERT INTO task_queue (`+taskQueueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.DealID,
		nullString(row.TransitionFrom),
		nullString(row.TransitionTo),
		nullString(row.WorkflowVersionID),
		def,
		nullString(string(row.ActorRole)),
		nullString(row.ActorID),
		docCtx,
		payload,
		string(row.Status),
		row.Attempts,
		nullString(row.LastError),
		row.ActionHash,
		encodeTime(row.CreatedAt),
		encodeTimePtr(row.ProcessedAt),
	)
}

func (s *SQLStore) PendingTaskQueue(ctx context.Context, limit int) ([]*api.TaskQueueRow, error) {
	rows, err := s.query(ctx, `
		SELECT `+taskQueueColumns+`
		FROM task_queue
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?`, string(api.QueuePending), limit)
	if err != nil {
		return nil, fmt.Errorf("pending task queue: %w", err)
	}
	defer rows.Close()

	var out []*api.TaskQueueRow
	for rows.Next() {
		var (
			r                    api.TaskQueueRow
			status               string
			from, to, version    sql.NullString
			def, docCtx, doc     sql.NullString
			role, actor, lastErr sql.NullString
			createdAt            int64
			processedAt          sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.DealID, &from, &to, &version, &def, &role, &actor,
			&docCtx, &doc, &status, &r.Attempts, &lastErr, &r.ActionHash, &createdAt, &processedAt); err != nil {
			return nil, err
		}
		if r.Task, err = decodeJSON[api.TaskDefinition](def); err != nil {
			return nil, err
		}
		if r.Context, err = decodeJSON[map[string]any](docCtx); err != nil {
			return nil, err
		}
		if r.Payload, err = decodeJSON[map[string]any](doc); err != nil {
			return nil, err
		}
		r.TransitionFrom = from.String
		r.TransitionTo = to.String
		r.WorkflowVersionID = version.String
		r.ActorRole = api.Role(role.String)
		r.ActorID = actor.String
		r.Status = api.QueueStatus(status)
		r.LastError = lastErr.String
		r.CreatedAt = decodeTime(createdAt)
		r.ProcessedAt = decodeTimePtr(processedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateTaskQueue(ctx context.Context, row *api.TaskQueueRow) error {
	return s.updateRow(ctx, "task queue row", `
		UPDATE task_queue SET status = ?, attempts = ?, last_error = ?, processed_at = ? WHERE id = ?`,
		string(row.Status), row.Attempts, nullString(row.LastError), encodeTimePtr(row.ProcessedAt), row.ID)
}
