package api

import "time"

// Deal is the business entity driven through a workflow. The engine reads
// it and owns its Status, Payload and pinned version; everything else is
// maintained by the surrounding application.
type Deal struct {
	ID                string         `json:"id"`
	WorkflowID        string         `json:"workflowId"`
	WorkflowVersionID string         `json:"workflowVersionId,omitempty"`
	Status            string         `json:"status"`
	Payload           map[string]any `json:"payload"`
	// OpManagerID is the legacy single-owner field used as an assignee
	// fallback for OP_MANAGER tasks.
	OpManagerID string    `json:"opManagerId,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DealStatusUpdate is a compare-and-swap status change: it applies only
// while the stored status still equals PreviousStatus.
type DealStatusUpdate struct {
	DealID            string
	PreviousStatus    string
	NewStatus         string
	WorkflowVersionID string
}

// WorkflowVersion is a stored, checksummed template revision.
type WorkflowVersion struct {
	ID          string
	WorkflowID  string
	Version     string
	Title       string
	Description string
	Source      string
	Template    *WorkflowTemplate
	Checksum    string
	IsActive    bool
	CreatedBy   string
	CreatedAt   time.Time
}

// Audit event names.
const (
	AuditTransition      = "TRANSITION"
	AuditTaskCreate      = "TASK_CREATE"
	AuditNotifyTrigger   = "NOTIFY_TRIGGER"
	AuditEscalateTrigger = "ESCALATE_TRIGGER"
	AuditWebhookEnqueued = "WEBHOOK_ENQUEUED"
	AuditScheduleTrigger = "SCHEDULE_TRIGGER"
	AuditResync          = "RESYNC"
)

// AuditEntry is one row of the deal audit trail.
type AuditEntry struct {
	ID                string         `json:"id" bson:"_id"`
	DealID            string         `json:"dealId" bson:"deal_id"`
	Event             string         `json:"event" bson:"event"`
	From              string         `json:"from,omitempty" bson:"from_status,omitempty"`
	To                string         `json:"to,omitempty" bson:"to_status,omitempty"`
	ActorRole         Role           `json:"actorRole,omitempty" bson:"actor_role,omitempty"`
	ActorID           string         `json:"actorId,omitempty" bson:"actor_id,omitempty"`
	WorkflowVersionID string         `json:"workflowVersionId,omitempty" bson:"workflow_version_id,omitempty"`
	Actions           []ActionKind   `json:"actions,omitempty" bson:"actions,omitempty"`
	ActionHash        string         `json:"actionHash,omitempty" bson:"action_hash,omitempty"`
	Details           map[string]any `json:"details,omitempty" bson:"details,omitempty"`
	CreatedAt         time.Time      `json:"createdAt" bson:"created_at"`
}

// ProfileSide selects which participant profile a task writes back to.
type ProfileSide string

const (
	ProfileBuyer  ProfileSide = "buyer"
	ProfileSeller ProfileSide = "seller"
	ProfileClient ProfileSide = "client"
)
