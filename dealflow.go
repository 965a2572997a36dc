package dealflow

import (
	"github.com/petrijr/dealflow/internal/engine"
	"github.com/petrijr/dealflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Deal                 = api.Deal
	WorkflowTemplate     = api.WorkflowTemplate
	WorkflowVersion      = api.WorkflowVersion
	Role                 = api.Role
	Task                 = api.Task
	TransitionInput      = api.TransitionInput
	TransitionOutcome    = api.TransitionOutcome
	TransitionError      = api.TransitionError
	TaskCompletion       = api.TaskCompletion
	TaskCompletionResult = api.TaskCompletionResult
	IncomingWebhook      = api.IncomingWebhook
	WebhookResult        = api.WebhookResult
	AuditEntry           = api.AuditEntry
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	RetryPolicy          = engine.RetryPolicy
	SyncReport           = engine.SyncReport
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewOtelObserver      = api.NewOtelObserver
	DefaultRetryPolicy   = engine.DefaultRetryPolicy
)

// Re-export the built-in roles.

const (
	RoleAdmin          = api.RoleAdmin
	RoleSystem         = api.RoleSystem
	RoleOpManager      = api.RoleOpManager
	RoleLegal          = api.RoleLegal
	RoleTechSpecialist = api.RoleTechSpecialist
)
