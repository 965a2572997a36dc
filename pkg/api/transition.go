package api

import "context"

// GuardEvaluator decides whether a condition holds over a context document.
type GuardEvaluator interface {
	Evaluate(ctx context.Context, cond Condition, data map[string]any) (bool, error)
}

// GuardEvaluatorFunc adapts a function to GuardEvaluator.
type GuardEvaluatorFunc func(ctx context.Context, cond Condition, data map[string]any) (bool, error)

func (f GuardEvaluatorFunc) Evaluate(ctx context.Context, cond Condition, data map[string]any) (bool, error) {
	return f(ctx, cond, data)
}

// ActionExecutor performs one entry action.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action, actx ActionContext) error
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, action Action, actx ActionContext) error

func (f ActionExecutorFunc) Execute(ctx context.Context, action Action, actx ActionContext) error {
	return f(ctx, action, actx)
}

// TransitionRef names the edge an action runs for.
type TransitionRef struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ActionContext is what an action executor sees for one entry action.
type ActionContext struct {
	DealID            string
	Transition        TransitionRef
	ActorRole         Role
	ActorID           string
	WorkflowVersionID string
	Template          *WorkflowTemplate
	Status            *StatusDefinition
	// Context is the merged guard context the transition was validated against.
	Context map[string]any
	// Payload carries caller-supplied action data.
	Payload map[string]any
}

// TransitionRequest asks the state machine to move From -> To.
type TransitionRequest struct {
	DealID            string
	From              string
	To                string
	ActorRole         Role
	ActorID           string
	WorkflowVersionID string
	Context           map[string]any
	Payload           map[string]any
}

// TransitionResult reports a performed transition.
type TransitionResult struct {
	From            string
	To              string
	ExecutedActions []ActionKind
}

// TransitionInput is the request to the workflow service.
type TransitionInput struct {
	DealID       string
	TargetStatus string
	ActorRole    Role
	ActorID      string
	GuardContext map[string]any
	// ActionPayload is passed through to entry actions.
	ActionPayload map[string]any
}

// TransitionOutcome is the result of a successful service transition.
type TransitionOutcome struct {
	DealID            string       `json:"dealId"`
	PreviousStatus    string       `json:"previousStatus"`
	NewStatus         string       `json:"newStatus"`
	WorkflowVersionID string       `json:"workflowVersionId"`
	ExecutedActions   []ActionKind `json:"executedActions"`
	Attempts          int          `json:"attempts"`
}

// IncomingWebhook is an inbound integration event for a deal.
type IncomingWebhook struct {
	DealID    string         `json:"dealId"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	ActorRole Role           `json:"actorRole,omitempty"`
	ActorID   string         `json:"actorId,omitempty"`
}

// Incoming webhook failure messages.
const (
	WebhookErrLoadDeal        = "Failed to load deal"
	WebhookErrDealNotFound    = "Deal not found"
	WebhookErrUpdatePayload   = "Failed to update deal payload"
	WebhookErrNoVersion       = "No active workflow version"
	WebhookErrNoConfig        = "No webhook config for current status"
	WebhookErrNoMatchingEvent = "No matching event for current status"
	WebhookErrGuardsNotMet    = "Guard conditions not met"
	WebhookErrTransition      = "Transition failed"
)

// WebhookResult is the typed outcome of an incoming webhook.
type WebhookResult struct {
	Success   bool   `json:"success"`
	NewStatus string `json:"newStatus,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TaskCompletion is a request to complete a task.
type TaskCompletion struct {
	TaskID     string
	Payload    map[string]any
	ActorRoles []Role
	ActorID    string
}

// AutoTransitionState describes what happened after a task completion.
type AutoTransitionState string

const (
	// AutoTransitionNone: the task carries no guard key.
	AutoTransitionNone AutoTransitionState = "NONE"
	// AutoTransitionSkipped: the plan found nothing to do.
	AutoTransitionSkipped AutoTransitionState = "SKIPPED"
	// AutoTransitionDeferred: the transition was rejected and may succeed later.
	AutoTransitionDeferred AutoTransitionState = "DEFERRED"
	// AutoTransitionFailed: the transition errored for a non-validation reason.
	AutoTransitionFailed    AutoTransitionState = "FAILED"
	AutoTransitionPerformed AutoTransitionState = "PERFORMED"
)

// TaskCompletionResult reports a task completion. The task is DONE
// whatever AutoTransition says.
type TaskCompletionResult struct {
	Task              *Task               `json:"task"`
	GuardKey          string              `json:"guardKey,omitempty"`
	AutoTransition    AutoTransitionState `json:"autoTransition"`
	Reason            string              `json:"reason,omitempty"`
	TargetStatus      string              `json:"targetStatus,omitempty"`
	ExpectedGuards    []string            `json:"expectedGuards,omitempty"`
	UnsatisfiedGuards []string            `json:"unsatisfiedGuards,omitempty"`
	Outcome           *TransitionOutcome  `json:"outcome,omitempty"`
}
