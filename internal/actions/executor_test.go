package actions

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/dealflow/internal/persistence"
	"github.com/petrijr/dealflow/internal/statemachine"
	"github.com/petrijr/dealflow/internal/template"
	"github.com/petrijr/dealflow/internal/testutil"
	"github.com/petrijr/dealflow/pkg/api"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func setup(t *testing.T) (*persistence.InMemoryStore, *api.WorkflowTemplate) {
	t.Helper()
	tpl, err := template.Parse(testutil.FastLeaseTemplate())
	require.NoError(t, err)

	store := persistence.NewInMemoryStore()
	require.NoError(t, store.SaveDeal(context.Background(), &api.Deal{
		ID:          "deal-1",
		WorkflowID:  "fast-lease-v1",
		Status:      "NEW",
		OpManagerID: "owner-9",
		Payload: map[string]any{
			"client": map[string]any{"name": "Amal"},
		},
	}))
	return store, tpl
}

func offerPrepContext(tpl *api.WorkflowTemplate) api.ActionContext {
	st, _ := tpl.Status("OFFER_PREP")
	return api.ActionContext{
		DealID:     "deal-1",
		Transition: api.TransitionRef{From: "NEW", To: "OFFER_PREP"},
		ActorRole:  api.RoleOpManager,
		ActorID:    "user-1",
		Template:   tpl,
		Status:     st,
		Context:    map[string]any{"quotationPrepared": true, "price": 125000},
	}
}

func TestActionHashIsStable(t *testing.T) {
	a := &api.NotifyAction{ToRoles: []api.Role{api.RoleAdmin}, Template: "x"}
	tr := api.TransitionRef{From: "A", To: "B"}

	h1, err := ActionHash("deal-1", tr, a)
	require.NoError(t, err)
	h2, err := ActionHash("deal-1", tr, &api.NotifyAction{ToRoles: []api.Role{api.RoleAdmin}, Template: "x"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	other, err := ActionHash("deal-2", tr, a)
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)

	other, err = ActionHash("deal-1", api.TransitionRef{From: "B", To: "B"}, a)
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

func TestTaskCreateBuildsTaskFromBindingsDefaultsAndProfile(t *testing.T) {
	ctx := context.Background()
	store, tpl := setup(t)
	require.NoError(t, store.SaveProfile(ctx, "deal-1", api.ProfileClient, map[string]any{
		"client_phone": "+971500000000",
		"ignored":      "x",
	}))
	exec := NewExecutor(store, store, store, WithClock(clock), WithProfileStore(store))
	actx := offerPrepContext(tpl)

	require.NoError(t, exec.Execute(ctx, actx.Status.EntryActions[0], actx))

	tasks, err := store.ListTasks(ctx, "deal-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]

	assert.Equal(t, "PREPARE_QUOTE", task.Type)
	assert.Equal(t, api.TaskOpen, task.Status)
	assert.Equal(t, api.RoleOpManager, task.AssigneeRole)
	assert.Equal(t, "owner-9", task.AssigneeUserID)
	require.NotNil(t, task.SLADueAt)
	assert.Equal(t, fixedNow.Add(8*time.Hour), *task.SLADueAt)

	assert.Equal(t, "Offer preparation", task.Payload["status_title"])
	assert.Equal(t, "OFFER_PREP", task.Payload["status_key"])
	assert.Equal(t, "OP_MANAGER", task.Payload["created_by_role"])
	assert.Nil(t, task.Payload["guard_key"])
	assert.Equal(t, map[string]any{
		"client_name":  "Amal",
		"deal_ref":     "Deal deal-1",
		"price":        125000,
		"currency":     "AED",
		"client_phone": "+971500000000",
	}, task.Payload["fields"])

	entries := store.AuditEntries("deal-1")
	require.Len(t, entries, 1)
	assert.Equal(t, api.AuditTaskCreate, entries[0].Event)
	assert.Equal(t, task.ActionHash, entries[0].ActionHash)
}

func TestExecuteIsIdempotentPerTransition(t *testing.T) {
	ctx := context.Background()
	store, tpl := setup(t)
	exec := NewExecutor(store, store, store, WithClock(clock))
	m := statemachine.New(tpl, statemachine.WithActionExecutor(exec))

	req := api.TransitionRequest{
		DealID: "deal-1", From: "NEW", To: "OFFER_PREP", ActorRole: api.RoleOpManager,
		Context: map[string]any{"quotationPrepared": true},
	}
	for i := 0; i < 3; i++ {
		_, err := m.PerformTransition(ctx, req)
		require.NoError(t, err)
	}

	tasks, err := store.ListTasks(ctx, "deal-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Len(t, store.Schedules(), 1)
	assert.Len(t, store.AuditEntries("deal-1"), 2)

	sched := store.Schedules()[0]
	assert.Equal(t, "offer_followup", sched.JobType)
	assert.Equal(t, "0 9 * * *", sched.Cron)
	assert.Equal(t, api.QueuePending, sched.Status)
}

func TestNotifyRendersTemplateOrFallsBackToKey(t *testing.T) {
	ctx := context.Background()
	store, tpl := setup(t)
	exec := NewExecutor(store, store, store, WithClock(clock))
	actx := api.ActionContext{
		DealID:     "deal-1",
		Transition: api.TransitionRef{From: "NEW", To: "NEW"},
		Template:   tpl,
		Payload:    map[string]any{"channel": "ops"},
	}

	require.NoError(t, exec.Execute(ctx, &api.NotifyAction{ToRoles: []api.Role{api.RoleOpManager}, Template: "new_deal_created"}, actx))
	require.NoError(t, exec.Execute(ctx, &api.EscalateAction{ToRoles: []api.Role{api.RoleAdmin}, Template: "raw_key"}, actx))

	rows := store.Notifications()
	require.Len(t, rows, 2)
	assert.Equal(t, api.ActionNotify, rows[0].Kind)
	assert.Equal(t, "New deal created", rows[0].Payload["message"])
	assert.Equal(t, "ops", rows[0].Payload["channel"])
	assert.Equal(t, api.ActionEscalate, rows[1].Kind)
	assert.Equal(t, "raw_key", rows[1].Message())

	events := []string{}
	for _, e := range store.AuditEntries("deal-1") {
		events = append(events, e.Event)
	}
	assert.Equal(t, []string{api.AuditNotifyTrigger, api.AuditEscalateTrigger}, events)
}

func TestQueueRowsRecordEnqueueingTransition(t *testing.T) {
	ctx := context.Background()
	store, _ := setup(t)
	exec := NewExecutor(store, store, nil)

	webhook := &api.WebhookAction{
		Endpoint: "https://hooks.example.com/x",
		Payload:  map[string]any{"transition_to": "VEHICLE_DELIVERY", "n": 1},
	}
	actx := api.ActionContext{DealID: "deal-1", Transition: api.TransitionRef{From: "A", To: "B"}}
	require.NoError(t, exec.Execute(ctx, webhook, actx))
	require.NoError(t, exec.Execute(ctx, webhook, actx))
	require.NoError(t, exec.Execute(ctx, &api.NotifyAction{ToRoles: []api.Role{api.RoleOpManager}, Template: "hello"}, actx))
	require.NoError(t, exec.Execute(ctx, &api.ScheduleAction{Job: api.ScheduleJob{Type: "ping", Cron: "* * * * *"}}, actx))

	hooks := store.Webhooks()
	require.Len(t, hooks, 1)
	assert.Equal(t, "A", hooks[0].TransitionFrom)
	assert.Equal(t, "B", hooks[0].TransitionTo)
	assert.Equal(t, "https://hooks.example.com/x", hooks[0].Endpoint)
	assert.Equal(t, "VEHICLE_DELIVERY", hooks[0].Payload["transition_to"])

	notes := store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "A", notes[0].TransitionFrom)
	assert.Equal(t, "B", notes[0].TransitionTo)

	jobs := store.Schedules()
	require.Len(t, jobs, 1)
	assert.Equal(t, "A", jobs[0].TransitionFrom)
	assert.Equal(t, "B", jobs[0].TransitionTo)

	assert.Empty(t, store.AuditEntries("deal-1"))
}

func TestDeferredTasksAreQueued(t *testing.T) {
	ctx := context.Background()
	store, tpl := setup(t)
	exec := NewExecutor(store, store, store, WithDeferredTasks())
	actx := offerPrepContext(tpl)

	require.NoError(t, exec.Execute(ctx, actx.Status.EntryActions[0], actx))

	tasks, err := store.ListTasks(ctx, "deal-1")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	rows := store.TaskQueue()
	require.Len(t, rows, 1)
	assert.Equal(t, "PREPARE_QUOTE", rows[0].Task.Type)
	assert.Equal(t, api.RoleOpManager, rows[0].ActorRole)
	assert.Equal(t, 125000, rows[0].Context["price"])
}

type failingAudit struct{}

func (failingAudit) LogTransition(context.Context, api.AuditEntry) error { return errors.New("down") }
func (failingAudit) LogAction(context.Context, api.AuditEntry) error     { return errors.New("down") }

func TestAuditFailureDoesNotFailAction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	store, _ := setup(t)
	exec := NewExecutor(store, store, failingAudit{}, WithLogger(logger))

	err := exec.Execute(context.Background(), &api.ScheduleAction{Job: api.ScheduleJob{Type: "ping"}},
		api.ActionContext{DealID: "deal-1", Transition: api.TransitionRef{From: "A", To: "B"}})
	require.NoError(t, err)
	assert.Len(t, store.Schedules(), 1)
	assert.Contains(t, buf.String(), "audit_insert_failed")
}

func TestTaskCreateFailsForMissingDeal(t *testing.T) {
	store, tpl := setup(t)
	exec := NewExecutor(store, store, store)
	actx := offerPrepContext(tpl)
	actx.DealID = "missing"

	err := exec.Execute(context.Background(), actx.Status.EntryActions[0], actx)
	assert.True(t, errors.Is(err, api.ErrDealNotFound))
}

func TestScopeEvaluate(t *testing.T) {
	scope := NewScope(&api.Deal{ID: "d-1", Payload: map[string]any{"n": 2.5, "tags": []any{"a"}}},
		nil, "OFFER_PREP", map[string]any{"flag": true}, map[string]any{"extra": "x"}, fixedNow)

	v, ok := scope.Evaluate("{{ payload.n }}")
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	v, ok = scope.Evaluate("{{context.flag}}")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = scope.Evaluate("{{ payload.missing }}")
	assert.False(t, ok)

	v, _ = scope.Evaluate("n={{ payload.n }} tags={{ payload.tags }} x={{ payload.extra }} m={{ nope }}")
	assert.Equal(t, `n=2.5 tags=["a"] x=x m=`, v)

	v, _ = scope.Evaluate("plain text")
	assert.Equal(t, "plain text", v)

	v, _ = scope.Evaluate("{{ now }}")
	assert.Equal(t, "2025-03-01T10:00:00Z", v)

	v, _ = scope.Evaluate("{{ status.title }}")
	assert.Equal(t, "OFFER_PREP", v)
}
