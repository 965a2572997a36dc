// Package statemachine evaluates transitions of a single workflow template
// and dispatches entry actions. It holds no persistence or locking
// responsibility and is safe for concurrent use.
package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/pkg/api"
)

// Machine is a stateless evaluator parameterized by one template.
type Machine struct {
	tpl        *api.WorkflowTemplate
	guards     api.GuardEvaluator
	actions    api.ActionExecutor
	observer   api.Observer
	supervisor map[api.Role]bool
	byFrom     map[string][]api.Transition
}

// Option configures a Machine.
type Option func(*Machine)

// WithGuardEvaluator replaces the default minimal-grammar evaluator.
func WithGuardEvaluator(e api.GuardEvaluator) Option {
	return func(m *Machine) {
		if e != nil {
			m.guards = e
		}
	}
}

// WithActionExecutor sets the executor used for entry actions. Without
// one, entry actions are recorded as executed but have no effect.
func WithActionExecutor(e api.ActionExecutor) Option {
	return func(m *Machine) { m.actions = e }
}

// WithObserver reports every entry action to o.
func WithObserver(o api.Observer) Option {
	return func(m *Machine) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithSupervisorRoles lets the given roles take any declared transition
// regardless of its role list. Guards still apply.
func WithSupervisorRoles(roles ...api.Role) Option {
	return func(m *Machine) {
		for _, r := range roles {
			m.supervisor[r] = true
		}
	}
}

// New builds a Machine for tpl.
func New(tpl *api.WorkflowTemplate, opts ...Option) *Machine {
	m := &Machine{
		tpl:        tpl,
		guards:     guard.DefaultEvaluator{},
		observer:   api.NoopObserver{},
		supervisor: map[api.Role]bool{},
		byFrom:     make(map[string][]api.Transition),
	}
	for _, t := range tpl.Transitions {
		m.byFrom[t.From] = append(m.byFrom[t.From], t)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Template returns the template the machine evaluates.
func (m *Machine) Template() *api.WorkflowTemplate { return m.tpl }

// Status returns the definition of code.
func (m *Machine) Status(code string) (*api.StatusDefinition, bool) {
	return m.tpl.Status(code)
}

// IsSupervisor reports whether role bypasses transition role lists.
func (m *Machine) IsSupervisor(role api.Role) bool {
	return m.supervisor[role]
}

func (m *Machine) roleAllowed(t api.Transition, role api.Role) bool {
	return m.supervisor[role] || t.AllowsRole(role)
}

// AvailableTransitions lists the transitions from `from` that role may take.
func (m *Machine) AvailableTransitions(from string, role api.Role) []api.Transition {
	var out []api.Transition
	for _, t := range m.byFrom[from] {
		if m.roleAllowed(t, role) {
			out = append(out, t)
		}
	}
	return out
}

func (m *Machine) find(from, to string) (api.Transition, bool) {
	for _, t := range m.byFrom[from] {
		if t.To == to {
			return t, true
		}
	}
	return api.Transition{}, false
}

// ValidateTransition checks a request. Every guard is evaluated, so a
// GUARD_FAILED validation lists all failing guards. The error is non-nil
// only when a guard could not be evaluated.
func (m *Machine) ValidateTransition(ctx context.Context, req api.TransitionRequest) (api.Validation, error) {
	t, ok := m.find(req.From, req.To)
	if !ok {
		return api.Validation{Reason: api.ReasonUnknownTransition}, nil
	}
	if !m.roleAllowed(t, req.ActorRole) {
		return api.Validation{Reason: api.ReasonRoleNotAllowed}, nil
	}
	if len(t.Guards) == 0 {
		return api.Validation{Allowed: true}, nil
	}

	data := req.Context
	if data == nil {
		data = map[string]any{}
	}
	failed, err := guard.CheckAll(ctx, m.guards, t.Guards, data)
	if err != nil {
		return api.Validation{}, fmt.Errorf("evaluate guards for %s -> %s: %w", req.From, req.To, err)
	}
	if len(failed) > 0 {
		return api.Validation{Reason: api.ReasonGuardFailed, FailedGuards: failed}, nil
	}
	return api.Validation{Allowed: true}, nil
}

// PerformTransition re-validates the request and runs the target status's
// entry actions in declared order. A rejected request yields a
// *api.TransitionError; the first failing action aborts the rest.
func (m *Machine) PerformTransition(ctx context.Context, req api.TransitionRequest) (*api.TransitionResult, error) {
	v, err := m.ValidateTransition(ctx, req)
	if err != nil {
		return nil, err
	}
	if !v.Allowed {
		return nil, &api.TransitionError{From: req.From, To: req.To, Validation: v}
	}

	target, ok := m.tpl.Status(req.To)
	if !ok {
		return nil, &api.TransitionError{From: req.From, To: req.To, Validation: api.Validation{Reason: api.ReasonUnknownTransition}}
	}

	executed, err := m.ExecuteEntryActions(ctx, target, m.actionContext(req, target))
	if err != nil {
		return nil, err
	}
	return &api.TransitionResult{From: req.From, To: req.To, ExecutedActions: executed}, nil
}

// ExecuteEntryActions runs status's entry actions sequentially.
func (m *Machine) ExecuteEntryActions(ctx context.Context, status *api.StatusDefinition, actx api.ActionContext) ([]api.ActionKind, error) {
	actx.Status = status
	actx.Template = m.tpl

	executed := make([]api.ActionKind, 0, len(status.EntryActions))
	for i, action := range status.EntryActions {
		if m.actions != nil {
			start := time.Now()
			err := m.actions.Execute(ctx, action, actx)
			m.observer.OnActionExecuted(ctx, actx, action.Kind(), err, time.Since(start))
			if err != nil {
				return executed, fmt.Errorf("entry action %d (%s) of %s: %w", i, action.Kind(), status.Code, err)
			}
		}
		executed = append(executed, action.Kind())
	}
	return executed, nil
}

// ActionContext builds the context entry actions see for req, for callers
// that run ExecuteEntryActions directly.
func (m *Machine) ActionContext(req api.TransitionRequest) api.ActionContext {
	return m.actionContext(req, nil)
}

func (m *Machine) actionContext(req api.TransitionRequest, status *api.StatusDefinition) api.ActionContext {
	return api.ActionContext{
		DealID:            req.DealID,
		Transition:        api.TransitionRef{From: req.From, To: req.To},
		ActorRole:         req.ActorRole,
		ActorID:           req.ActorID,
		WorkflowVersionID: req.WorkflowVersionID,
		Template:          m.tpl,
		Status:            status,
		Context:           req.Context,
		Payload:           req.Payload,
	}
}
