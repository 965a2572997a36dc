package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/dealflow/internal/assignee"
	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/pkg/api"
)

// TaskRequest is everything needed to instantiate a task, either from an
// entry action or from a deferred task-queue row.
type TaskRequest struct {
	DealID            string
	Transition        api.TransitionRef
	Definition        api.TaskDefinition
	ActorRole         api.Role
	ActorID           string
	WorkflowVersionID string
	Context           map[string]any
	Payload           map[string]any
	// Template is optional; it supplies status and workflow titles.
	Template   *api.WorkflowTemplate
	ActionHash string
}

// CreateTask loads the deal snapshot, resolves the assignee, evaluates the
// field bindings and inserts the task keyed by req.ActionHash. It reports
// whether a new task was created; a duplicate hash is a silent no-op.
func (e *Executor) CreateTask(ctx context.Context, req TaskRequest) (*api.Task, bool, error) {
	deal, err := e.deals.GetDeal(ctx, req.DealID)
	if err != nil {
		return nil, false, fmt.Errorf("load deal %s for task %s: %w", req.DealID, req.Definition.Type, err)
	}

	now := e.now().UTC()
	def := req.Definition
	task := &api.Task{
		ID:           uuid.NewString(),
		DealID:       req.DealID,
		Type:         def.Type,
		Title:        def.Title,
		Status:       api.TaskOpen,
		AssigneeRole: def.AssigneeRole,
		ActionHash:   req.ActionHash,
		SLADueAt:     SLADueAt(now, def.SLA),
		CreatedAt:    now,
	}

	var actor *assignee.Actor
	if req.ActorRole != "" {
		actor = &assignee.Actor{Role: req.ActorRole, ID: req.ActorID}
	}
	if id, ok := assignee.Resolve(assignee.Input{
		Role:        def.AssigneeRole,
		Sources:     []map[string]any{req.Payload, req.Context, deal.Payload},
		OpManagerID: deal.OpManagerID,
		Actor:       actor,
	}); ok {
		task.AssigneeUserID = id
	}

	scope := NewScope(deal, req.Template, req.Transition.To, req.Context, req.Payload, now)
	fields := guard.DeepMerge(def.Defaults, e.prefill(ctx, req.DealID, def.Schema))
	fields = guard.DeepMerge(fields, scope.EvaluateAll(def.Bindings))

	statusTitle := req.Transition.To
	if req.Template != nil {
		if st, ok := req.Template.Status(req.Transition.To); ok && st.Title != "" {
			statusTitle = st.Title
		}
	}
	var guardKey any
	if def.GuardKey != "" {
		guardKey = def.GuardKey
	}
	task.Payload = map[string]any{
		"title":           def.Title,
		"template_id":     def.TemplateID,
		"created_by_role": string(req.ActorRole),
		"guard_key":       guardKey,
		"status_key":      req.Transition.To,
		"status_title":    statusTitle,
	}
	if len(fields) > 0 {
		task.Payload["fields"] = fields
	}

	created, err := e.queue.InsertTaskIfAbsent(ctx, task)
	if err != nil {
		return nil, false, fmt.Errorf("insert task %s: %w", def.Type, err)
	}
	if created {
		details := map[string]any{
			"taskType":     def.Type,
			"assigneeRole": string(def.AssigneeRole),
		}
		if task.SLADueAt != nil {
			details["slaDueAt"] = task.SLADueAt.Format(time.RFC3339)
		}
		e.logAudit(ctx, api.ActionContext{
			DealID:            req.DealID,
			Transition:        req.Transition,
			ActorRole:         req.ActorRole,
			ActorID:           req.ActorID,
			WorkflowVersionID: req.WorkflowVersionID,
		}, api.AuditTaskCreate, api.ActionTaskCreate, req.ActionHash, details)
	}
	return task, created, nil
}

// SLADueAt returns now plus the SLA hours, or nil without a positive SLA.
func SLADueAt(now time.Time, sla *api.TaskSLA) *time.Time {
	if sla == nil || sla.Hours <= 0 {
		return nil
	}
	due := now.Add(time.Duration(sla.Hours) * time.Hour)
	return &due
}

// prefill copies the profile-sync fields of schema from the deal's
// participant profiles. Lookup failures are logged and skipped.
func (e *Executor) prefill(ctx context.Context, dealID string, schema *api.TaskSchema) map[string]any {
	if e.profiles == nil {
		return nil
	}
	out := map[string]any{}
	for side, fields := range schema.ProfileFields() {
		profile, err := e.profiles.LoadProfile(ctx, dealID, side)
		if err != nil {
			e.logger.WarnContext(ctx, "profile_prefill_failed",
				slog.String("deal_id", dealID),
				slog.String("side", string(side)),
				slog.Any("error", err),
			)
			continue
		}
		for _, field := range fields {
			if v, ok := profile[field]; ok {
				out[field] = v
			}
		}
	}
	return out
}
