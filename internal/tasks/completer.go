// Package tasks completes deal tasks: it marks the task DONE, raises the
// task's guard flag in the deal payload, writes profile fields back and
// attempts the automatic transition out of the deal's current status.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/pkg/api"
)

// Transitioner resolves versions and moves deals. engine.Service
// implements it.
type Transitioner interface {
	ResolveVersion(ctx context.Context, deal *api.Deal) (*api.WorkflowVersion, error)
	TransitionDeal(ctx context.Context, in api.TransitionInput) (*api.TransitionOutcome, error)
}

// supervisorActorRoles are the completing user's roles that the automatic
// transition may run under instead of the task's assignee role.
var supervisorActorRoles = []api.Role{api.RoleAdmin, api.RoleOpManager}

// Config wires a Completer.
type Config struct {
	Tasks        api.TaskRepository
	Deals        api.DealRepository
	Transitioner Transitioner
	// Profiles receives profile write-back; nil skips it.
	Profiles api.ProfileStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// Completer completes tasks.
type Completer struct {
	tasks    api.TaskRepository
	deals    api.DealRepository
	engine   Transitioner
	profiles api.ProfileStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewCompleter builds a Completer from cfg.
func NewCompleter(cfg Config) *Completer {
	c := &Completer{
		tasks:    cfg.Tasks,
		deals:    cfg.Deals,
		engine:   cfg.Transitioner,
		profiles: cfg.Profiles,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// CompleteTask marks the task DONE and then tries to advance its deal.
//
// An error means the task or the deal payload could not be updated. Once
// both are stored, every auto-transition outcome, including a failed
// transition, is reported through the result instead.
func (c *Completer) CompleteTask(ctx context.Context, in api.TaskCompletion) (*api.TaskCompletionResult, error) {
	task, err := c.tasks.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", in.TaskID, err)
	}

	completedAt := c.now().UTC()
	payload := guard.DeepMerge(task.Payload, in.Payload)
	sla := CompletionSLA(task.SLADueAt, completedAt)

	if err := c.tasks.CompleteTask(ctx, api.TaskCompletionUpdate{
		TaskID:      task.ID,
		CompletedAt: completedAt,
		SLAStatus:   sla,
		Payload:     payload,
	}); err != nil {
		return nil, fmt.Errorf("complete task %s: %w", task.ID, err)
	}
	task.Status = api.TaskDone
	task.CompletedAt = &completedAt
	task.SLAStatus = sla
	task.Payload = payload

	res := &api.TaskCompletionResult{Task: task, AutoTransition: api.AutoTransitionNone}

	deal, err := c.deals.GetDeal(ctx, task.DealID)
	if err != nil {
		return res, fmt.Errorf("load deal %s: %w", task.DealID, err)
	}

	version, verr := c.engine.ResolveVersion(ctx, deal)
	if verr != nil {
		c.logger.WarnContext(ctx, "task_completion_version_unresolved",
			slog.String("deal_id", deal.ID),
			slog.String("task_id", task.ID),
			slog.Any("error", verr),
		)
	} else {
		c.syncProfiles(ctx, deal.ID, version.Template, task.Type, payload)
	}

	guardKey := ResolveGuardKey(task.Type, payload)
	if guardKey == "" {
		c.logger.InfoContext(ctx, "task_completion_no_guard",
			slog.String("task_id", task.ID),
			slog.String("task_type", task.Type),
		)
		return res, nil
	}
	res.GuardKey = guardKey

	statusKey, _ := payload["status_key"].(string)
	dealPayload := applyCompletion(deal.Payload, completionRecord{
		GuardKey:    guardKey,
		TaskID:      task.ID,
		TaskType:    task.Type,
		StatusKey:   statusKey,
		CompletedAt: completedAt,
		TaskPayload: payload,
	})
	if err := c.deals.UpdateDealPayload(ctx, deal.ID, dealPayload); err != nil {
		return res, fmt.Errorf("update deal payload %s: %w", deal.ID, err)
	}

	if verr != nil {
		res.AutoTransition = api.AutoTransitionSkipped
		res.Reason = "Workflow template unavailable"
		return res, nil
	}

	status := strings.ToUpper(deal.Status)
	plan := ResolvePlan(version.Template, status, guardKey, dealPayload)
	res.TargetStatus = plan.TargetStatus
	if !plan.Ready() {
		res.AutoTransition = api.AutoTransitionSkipped
		res.Reason = skipReason(plan, guardKey, status)
		if !plan.GuardMatched {
			res.ExpectedGuards = plan.ExitGuardKeys
		}
		res.UnsatisfiedGuards = plan.UnsatisfiedGuards
		return res, nil
	}

	out, err := c.engine.TransitionDeal(ctx, api.TransitionInput{
		DealID:       deal.ID,
		TargetStatus: plan.TargetStatus,
		ActorRole:    ActorRole(guardKey, task.AssigneeRole, in.ActorRoles),
		ActorID:      task.AssigneeUserID,
		GuardContext: dealPayload,
	})
	if err != nil {
		res.AutoTransition, res.Reason = classifyTransitionError(err)
		c.logger.WarnContext(ctx, "task_auto_transition_rejected",
			slog.String("deal_id", deal.ID),
			slog.String("task_id", task.ID),
			slog.String("to", plan.TargetStatus),
			slog.Any("error", err),
		)
		return res, nil
	}

	res.AutoTransition = api.AutoTransitionPerformed
	res.Outcome = out
	c.logger.InfoContext(ctx, "task_auto_transition_performed",
		slog.String("deal_id", deal.ID),
		slog.String("task_id", task.ID),
		slog.String("from", out.PreviousStatus),
		slog.String("to", out.NewStatus),
	)
	return res, nil
}

// CompletionSLA is ON_TRACK when the task finished by its due time,
// BREACHED after it, and empty without one.
func CompletionSLA(due *time.Time, completedAt time.Time) api.SLAStatus {
	if due == nil {
		return ""
	}
	if completedAt.After(*due) {
		return api.SLABreached
	}
	return api.SLAOnTrack
}

// ActorRole picks the role the automatic transition runs under. The legal
// contract flag always moves as OP_MANAGER; otherwise a supervisor role of
// the completing user wins over the task's assignee role.
func ActorRole(guardKey string, assigneeRole api.Role, actorRoles []api.Role) api.Role {
	if guardKey == "legal.contractReady" {
		return api.RoleOpManager
	}
	for _, r := range actorRoles {
		r = api.Role(strings.ToUpper(string(r)))
		if slices.Contains(supervisorActorRoles, r) {
			return r
		}
	}
	if assigneeRole != "" {
		return api.Role(strings.ToUpper(string(assigneeRole)))
	}
	return api.RoleOpManager
}

func skipReason(plan Plan, guardKey, status string) string {
	switch {
	case !plan.StatusFound:
		return "Status metadata not found"
	case !plan.GuardMatched:
		return fmt.Sprintf("Guard %q does not match status %s. Expected guards: %s",
			guardKey, status, strings.Join(plan.ExitGuardKeys, ", "))
	case len(plan.UnsatisfiedGuards) > 0:
		return "Guard conditions not met: " + strings.Join(plan.UnsatisfiedGuards, ", ")
	default:
		return "No next status available"
	}
}

func classifyTransitionError(err error) (api.AutoTransitionState, string) {
	var te *api.TransitionError
	if !errors.As(err, &te) {
		return api.AutoTransitionFailed, "Transition failed: " + err.Error()
	}
	switch te.Validation.Reason {
	case api.ReasonGuardFailed:
		return api.AutoTransitionDeferred, "Guard conditions not met"
	case api.ReasonUnknownTransition:
		return api.AutoTransitionDeferred, "No transition available"
	default:
		return api.AutoTransitionDeferred, "Transition rejected: " + string(te.Validation.Reason)
	}
}

// syncProfiles writes the schema's save_to_* fields from the task's
// "fields" branch to the deal's participant profiles. Failures are logged.
func (c *Completer) syncProfiles(ctx context.Context, dealID string, tpl *api.WorkflowTemplate, taskType string, payload map[string]any) {
	if c.profiles == nil || tpl == nil {
		return
	}
	def, ok := FindTaskDefinition(tpl, taskType)
	if !ok || def.Schema == nil {
		return
	}
	fields, _ := payload["fields"].(map[string]any)
	if len(fields) == 0 {
		return
	}

	for side, names := range def.Schema.ProfileFields() {
		subset := map[string]any{}
		for _, name := range names {
			if v, ok := fields[name]; ok && v != nil {
				subset[name] = v
			}
		}
		if len(subset) == 0 {
			continue
		}
		if err := c.profiles.SaveProfile(ctx, dealID, side, subset); err != nil {
			c.logger.ErrorContext(ctx, "profile_sync_failed",
				slog.String("deal_id", dealID),
				slog.String("side", string(side)),
				slog.Any("error", err),
			)
		}
	}
}

// FindTaskDefinition returns the first TASK_CREATE definition of taskType,
// scanning statuses in kanban order and then by code.
func FindTaskDefinition(tpl *api.WorkflowTemplate, taskType string) (api.TaskDefinition, bool) {
	seen := make(map[string]bool, len(tpl.Statuses))
	codes := make([]string, 0, len(tpl.Statuses))
	for _, code := range tpl.KanbanOrder {
		if _, ok := tpl.Statuses[code]; ok && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	rest := make([]string, 0)
	for code := range tpl.Statuses {
		if !seen[code] {
			rest = append(rest, code)
		}
	}
	sort.Strings(rest)
	codes = append(codes, rest...)

	for _, code := range codes {
		for _, action := range tpl.Statuses[code].EntryActions {
			if tc, ok := action.(*api.TaskCreateAction); ok && strings.EqualFold(tc.Task.Type, taskType) {
				return tc.Task, true
			}
		}
	}
	return api.TaskDefinition{}, false
}
