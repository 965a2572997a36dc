package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/internal/template"
	"github.com/petrijr/dealflow/internal/testutil"
	"github.com/petrijr/dealflow/pkg/api"
)

func loadTemplate(t *testing.T) *api.WorkflowTemplate {
	t.Helper()
	tpl, err := template.Parse(testutil.FastLeaseTemplate())
	require.NoError(t, err)
	return tpl
}

func TestAvailableTransitionsFiltersByRole(t *testing.T) {
	m := New(loadTemplate(t))

	got := m.AvailableTransitions("NEW", api.RoleOpManager)
	require.Len(t, got, 2)
	assert.Equal(t, "OFFER_PREP", got[0].To)
	assert.Equal(t, "CANCELLED", got[1].To)

	assert.Empty(t, m.AvailableTransitions("NEW", api.RoleClient))
	assert.Empty(t, m.AvailableTransitions("VEHICLE_DELIVERY", api.RoleOpManager))

	sup := New(loadTemplate(t), WithSupervisorRoles(api.RoleAdmin))
	assert.Len(t, sup.AvailableTransitions("NEW", api.RoleAdmin), 2)
}

func TestValidateTransitionReasons(t *testing.T) {
	ctx := context.Background()
	m := New(loadTemplate(t))

	v, err := m.ValidateTransition(ctx, api.TransitionRequest{From: "NEW", To: "VEHICLE_DELIVERY", ActorRole: api.RoleOpManager})
	require.NoError(t, err)
	assert.Equal(t, api.Validation{Reason: api.ReasonUnknownTransition}, v)

	v, err = m.ValidateTransition(ctx, api.TransitionRequest{From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleClient})
	require.NoError(t, err)
	assert.Equal(t, api.ReasonRoleNotAllowed, v.Reason)

	v, err = m.ValidateTransition(ctx, api.TransitionRequest{From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleOpManager})
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, api.ReasonGuardFailed, v.Reason)
	assert.Equal(t, []api.Condition{{Key: "quotationPrepared", Rule: "== true"}}, v.FailedGuards)

	v, err = m.ValidateTransition(ctx, api.TransitionRequest{
		From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleOpManager,
		Context: map[string]any{"quotationPrepared": true},
	})
	require.NoError(t, err)
	assert.True(t, v.Allowed)

	v, err = m.ValidateTransition(ctx, api.TransitionRequest{From: "NEW", To: "CANCELLED", ActorRole: api.RoleOpManager})
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestValidateTransitionReportsEveryFailingGuard(t *testing.T) {
	tpl := loadTemplate(t)
	tpl.Transitions = append(tpl.Transitions, api.Transition{
		From:    "VEHICLE_DELIVERY",
		To:      "CANCELLED",
		ByRoles: []api.Role{api.RoleOpManager},
		Guards: []api.Condition{
			{Key: "a", Rule: "truthy"},
			{Key: "b", Rule: "== 2"},
			{Key: "c", Rule: "falsy"},
			{Key: "d", Rule: "!= x"},
		},
	})
	m := New(tpl)

	v, err := m.ValidateTransition(context.Background(), api.TransitionRequest{
		From: "VEHICLE_DELIVERY", To: "CANCELLED", ActorRole: api.RoleOpManager,
		Context: map[string]any{"b": 2, "c": true, "d": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, api.ReasonGuardFailed, v.Reason)
	assert.Equal(t, []api.Condition{
		{Key: "a", Rule: "truthy"},
		{Key: "c", Rule: "falsy"},
		{Key: "d", Rule: "!= x"},
	}, v.FailedGuards)
}

func TestValidateTransitionSurfacesUnsupportedRules(t *testing.T) {
	tpl := loadTemplate(t)
	tpl.Transitions[0].Guards = []api.Condition{{Key: "amount", Rule: "> 10"}}

	_, err := New(tpl).ValidateTransition(context.Background(), api.TransitionRequest{
		From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleOpManager,
	})
	assert.True(t, errors.Is(err, guard.ErrUnsupportedRule))

	custom := api.GuardEvaluatorFunc(func(ctx context.Context, c api.Condition, data map[string]any) (bool, error) {
		return c.Rule == "> 10", nil
	})
	v, err := New(tpl, WithGuardEvaluator(custom)).ValidateTransition(context.Background(), api.TransitionRequest{
		From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleOpManager,
	})
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestSupervisorBypassesRoleListButNotGuards(t *testing.T) {
	ctx := context.Background()
	m := New(loadTemplate(t), WithSupervisorRoles(api.RoleAdmin))

	v, err := m.ValidateTransition(ctx, api.TransitionRequest{
		From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleAdmin,
		Context: map[string]any{"quotationPrepared": true},
	})
	require.NoError(t, err)
	assert.True(t, v.Allowed)

	v, err = m.ValidateTransition(ctx, api.TransitionRequest{From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, api.ReasonGuardFailed, v.Reason)
}

func TestPerformTransitionRunsEntryActionsInOrder(t *testing.T) {
	var seen []api.ActionKind
	var contexts []api.ActionContext
	exec := api.ActionExecutorFunc(func(ctx context.Context, a api.Action, actx api.ActionContext) error {
		seen = append(seen, a.Kind())
		contexts = append(contexts, actx)
		return nil
	})
	m := New(loadTemplate(t), WithActionExecutor(exec))

	res, err := m.PerformTransition(context.Background(), api.TransitionRequest{
		DealID: "deal-1", From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleOpManager,
		Context: map[string]any{"quotationPrepared": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []api.ActionKind{api.ActionTaskCreate, api.ActionSchedule}, res.ExecutedActions)
	assert.Equal(t, seen, res.ExecutedActions)
	require.Len(t, contexts, 2)
	assert.Equal(t, "deal-1", contexts[0].DealID)
	assert.Equal(t, api.TransitionRef{From: "NEW", To: "OFFER_PREP"}, contexts[0].Transition)
	assert.Equal(t, "OFFER_PREP", contexts[0].Status.Code)
}

func TestPerformTransitionStopsAtFirstFailingAction(t *testing.T) {
	boom := errors.New("queue unavailable")
	calls := 0
	exec := api.ActionExecutorFunc(func(ctx context.Context, a api.Action, actx api.ActionContext) error {
		calls++
		return boom
	})
	metrics := &api.BasicMetrics{}
	m := New(loadTemplate(t), WithActionExecutor(exec), WithObserver(metrics))

	_, err := m.PerformTransition(context.Background(), api.TransitionRequest{
		From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleOpManager,
		Context: map[string]any{"quotationPrepared": true},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), metrics.Snapshot().ActionsFailed)
}

func TestPerformTransitionRejectsWithTypedError(t *testing.T) {
	m := New(loadTemplate(t))

	_, err := m.PerformTransition(context.Background(), api.TransitionRequest{From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleOpManager})
	var te *api.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, api.ReasonGuardFailed, te.Validation.Reason)
	assert.True(t, api.IsGuardFailure(err))
}
