package api

import "time"

// QueueStatus is the lifecycle state of a queued side effect.
type QueueStatus string

const (
	QueuePending   QueueStatus = "PENDING"
	QueueSent      QueueStatus = "SENT"
	QueueFailed    QueueStatus = "FAILED"
	QueueProcessed QueueStatus = "PROCESSED"
)

// NotificationRow is a pending NOTIFY or ESCALATE message.
type NotificationRow struct {
	ID             string
	DealID         string
	TransitionFrom string
	TransitionTo   string
	Kind           ActionKind
	ToRoles        []Role
	Template       string
	Payload        map[string]any
	Status         QueueStatus
	Error          string
	ActionHash     string
	CreatedAt      time.Time
	SentAt         *time.Time
}

// Message returns the rendered message carried in the payload, falling
// back to the template key.
func (r *NotificationRow) Message() string {
	if m, ok := r.Payload["message"].(string); ok && m != "" {
		return m
	}
	return r.Template
}

// MaxWebhookAttempts is the number of failed deliveries after which a
// webhook row becomes FAILED.
const MaxWebhookAttempts = 5

// WebhookRow is a pending outbound webhook delivery. TransitionFrom and
// TransitionTo record the transition whose entry action enqueued it.
type WebhookRow struct {
	ID             string
	DealID         string
	TransitionFrom string
	TransitionTo   string
	Endpoint       string
	Payload        map[string]any
	Status         QueueStatus
	RetryCount     int
	NextAttemptAt  *time.Time
	LastError      string
	ActionHash     string
	CreatedAt      time.Time
	SentAt         *time.Time
	// ProcessedAt is set once the row reaches SENT or FAILED.
	ProcessedAt *time.Time
}

// ScheduleRow is a registered recurring job.
type ScheduleRow struct {
	ID             string
	DealID         string
	TransitionFrom string
	TransitionTo   string
	JobType        string
	Cron           string
	Payload        map[string]any
	Status         QueueStatus
	ActionHash     string
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// TaskQueueRow is a deferred task instantiation. It carries everything the
// entry action saw so the task is built the same way as a direct one.
type TaskQueueRow struct {
	ID                string
	DealID            string
	TransitionFrom    string
	TransitionTo      string
	// WorkflowVersionID is the version the entry action ran under.
	WorkflowVersionID string
	Task              TaskDefinition
	ActorRole         Role
	ActorID           string
	Context           map[string]any
	Payload           map[string]any
	Status            QueueStatus
	Attempts          int
	LastError         string
	ActionHash        string
	CreatedAt         time.Time
	ProcessedAt       *time.Time
}

// TaskStatus is the state of a deal task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "OPEN"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
)

// SLAStatus is the outcome of a task relative to its due time.
type SLAStatus string

const (
	SLAOnTrack  SLAStatus = "ON_TRACK"
	SLABreached SLAStatus = "BREACHED"
)

// Task is a unit of work opened for a role on a deal.
type Task struct {
	ID             string         `json:"id"`
	DealID         string         `json:"dealId"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Status         TaskStatus     `json:"status"`
	AssigneeRole   Role           `json:"assigneeRole"`
	AssigneeUserID string         `json:"assigneeUserId,omitempty"`
	SLADueAt       *time.Time     `json:"slaDueAt,omitempty"`
	SLAStatus      SLAStatus      `json:"slaStatus,omitempty"`
	Payload        map[string]any `json:"payload"`
	ActionHash     string         `json:"actionHash"`
	CreatedAt      time.Time      `json:"createdAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// QueueResult tallies one processor batch.
type QueueResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Add merges other into r.
func (r *QueueResult) Add(other QueueResult) {
	r.Processed += other.Processed
	r.Failed += other.Failed
}
