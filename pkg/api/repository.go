package api

import (
	"context"
	"time"
)

// DealRepository reads deals and applies engine-owned updates.
type DealRepository interface {
	// GetDeal returns ErrDealNotFound when the deal does not exist.
	GetDeal(ctx context.Context, id string) (*Deal, error)
	// UpdateDealStatus returns ErrStatusConflict when the stored status no
	// longer equals update.PreviousStatus.
	UpdateDealStatus(ctx context.Context, update DealStatusUpdate) error
	UpdateDealPayload(ctx context.Context, dealID string, payload map[string]any) error
}

// DealLister enumerates deals for maintenance sweeps.
type DealLister interface {
	// ListDeals returns every deal whose status is not in excludeStatuses.
	ListDeals(ctx context.Context, excludeStatuses ...string) ([]*Deal, error)
}

// VersionRepository stores workflow template versions.
type VersionRepository interface {
	// Insert returns ErrVersionExists on a duplicate (workflowID, version).
	Insert(ctx context.Context, v *WorkflowVersion) error
	// List returns the versions of a workflow, newest first.
	List(ctx context.Context, workflowID string) ([]*WorkflowVersion, error)
	// FindActive returns ErrNoActiveVersion when no version is active.
	FindActive(ctx context.Context, workflowID string) (*WorkflowVersion, error)
	FindByVersion(ctx context.Context, workflowID, version string) (*WorkflowVersion, error)
	FindByID(ctx context.Context, id string) (*WorkflowVersion, error)
	// MarkActive atomically activates versionID and deactivates its siblings.
	MarkActive(ctx context.Context, workflowID, versionID string) error
}

// AuditLogger appends to the deal audit trail.
type AuditLogger interface {
	LogTransition(ctx context.Context, entry AuditEntry) error
	LogAction(ctx context.Context, entry AuditEntry) error
}

// ActionQueue is the insert-if-absent surface used by the action executor.
// Each insert is keyed by the row's ActionHash and reports whether a new
// row was created; a duplicate hash is a silent no-op.
type ActionQueue interface {
	InsertTaskIfAbsent(ctx context.Context, task *Task) (bool, error)
	InsertNotificationIfAbsent(ctx context.Context, row *NotificationRow) (bool, error)
	InsertWebhookIfAbsent(ctx context.Context, row *WebhookRow) (bool, error)
	InsertScheduleIfAbsent(ctx context.Context, row *ScheduleRow) (bool, error)
	InsertTaskQueueIfAbsent(ctx context.Context, row *TaskQueueRow) (bool, error)
}

// QueueStore is consumed by the queue processors.
type QueueStore interface {
	ActionQueue

	// PendingNotifications returns up to limit PENDING rows, oldest first.
	PendingNotifications(ctx context.Context, limit int) ([]*NotificationRow, error)
	// PendingWebhooks returns PENDING rows whose NextAttemptAt is unset or
	// not after now.
	PendingWebhooks(ctx context.Context, now time.Time, limit int) ([]*WebhookRow, error)
	PendingSchedules(ctx context.Context, limit int) ([]*ScheduleRow, error)
	PendingTaskQueue(ctx context.Context, limit int) ([]*TaskQueueRow, error)

	UpdateNotification(ctx context.Context, row *NotificationRow) error
	UpdateWebhook(ctx context.Context, row *WebhookRow) error
	UpdateSchedule(ctx context.Context, row *ScheduleRow) error
	UpdateTaskQueue(ctx context.Context, row *TaskQueueRow) error
}

// TaskCompletionUpdate marks a task DONE.
type TaskCompletionUpdate struct {
	TaskID      string
	CompletedAt time.Time
	SLAStatus   SLAStatus
	Payload     map[string]any
}

// TaskRepository reads and completes deal tasks.
type TaskRepository interface {
	// GetTask returns ErrTaskNotFound when the task does not exist.
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, dealID string) ([]*Task, error)
	CompleteTask(ctx context.Context, update TaskCompletionUpdate) error
}

// ProfileStore reads and writes participant profile fields of a deal.
type ProfileStore interface {
	LoadProfile(ctx context.Context, dealID string, side ProfileSide) (map[string]any, error)
	SaveProfile(ctx context.Context, dealID string, side ProfileSide, fields map[string]any) error
}
