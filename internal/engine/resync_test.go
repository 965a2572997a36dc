package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/dealflow/internal/actions"
	"github.com/petrijr/dealflow/internal/persistence"
	"github.com/petrijr/dealflow/internal/testutil"
	"github.com/petrijr/dealflow/internal/versioning"
	"github.com/petrijr/dealflow/pkg/api"
)

func withExecutor(c *Config) {
	p := c.Persistence
	c.Executor = actions.NewExecutor(p.Deals, p.Queues, p.Audit)
}

func auditEvents(store *persistence.InMemoryStore, dealID string) []string {
	var events []string
	for _, e := range store.AuditEntries(dealID) {
		events = append(events, e.Event)
	}
	return events
}

func TestResyncDealAppliesActionsOfNewVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withExecutor)
	f.deal(t, "deal-1", "NEW", map[string]any{"quotationPrepared": true})

	_, err := f.svc.TransitionDeal(ctx, api.TransitionInput{
		DealID: "deal-1", TargetStatus: "OFFER_PREP", ActorRole: api.RoleOpManager,
	})
	require.NoError(t, err)
	assert.Empty(t, f.store.Notifications())

	v2, err := versioning.NewRegistry(f.store).CreateVersion(ctx, versioning.CreateVersionInput{
		Source: string(testutil.FastLeaseTemplateWith(
			"      - type: SCHEDULE\n",
			"      - type: NOTIFY\n        to_roles: [ADMIN]\n        template: offer_started\n      - type: SCHEDULE\n",
		)),
		Activate: true,
	})
	require.NoError(t, err)

	out, err := f.svc.ResyncDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, "OFFER_PREP", out.PreviousStatus)
	assert.Equal(t, "OFFER_PREP", out.NewStatus)
	assert.Equal(t, v2.ID, out.WorkflowVersionID)
	assert.Equal(t, []api.ActionKind{api.ActionTaskCreate, api.ActionNotify, api.ActionSchedule}, out.ExecutedActions)

	deal, err := f.store.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, deal.WorkflowVersionID)
	assert.Equal(t, "OFFER_PREP", deal.Status)

	notes := f.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "offer_started", notes[0].Template)

	// A second resync of the same status enqueues nothing new.
	_, err = f.svc.ResyncDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Len(t, f.store.Notifications(), 1)
	assert.Len(t, f.store.Schedules(), 2)
	tasks, err := f.store.ListTasks(ctx, "deal-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	events := auditEvents(f.store, "deal-1")
	assert.Equal(t, api.AuditResync, events[len(events)-1])
	assert.Equal(t, api.AuditResync, events[len(events)-2])
}

func TestResyncDealWithoutExecutorOnlyRepins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.store.SaveDeal(ctx, &api.Deal{ID: "deal-1", WorkflowID: "fast-lease-v1", Status: "CONTRACT_PREP"}))

	out, err := f.svc.ResyncDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Empty(t, out.ExecutedActions)
	assert.Equal(t, f.version.ID, out.WorkflowVersionID)

	deal, err := f.store.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, f.version.ID, deal.WorkflowVersionID)
	assert.Equal(t, []string{api.AuditResync}, auditEvents(f.store, "deal-1"))
}

func TestResyncDealRejectsStatusMissingFromActiveVersion(t *testing.T) {
	f := newFixture(t, nil)
	f.deal(t, "deal-1", "ARCHIVED", nil)

	_, err := f.svc.ResyncDeal(context.Background(), "deal-1")
	assert.ErrorIs(t, err, api.ErrUnknownStatus)
}

func TestResyncAllCollectsPerDealFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deal(t, "deal-1", "OFFER_PREP", nil)
	f.deal(t, "deal-2", "CANCELLED", nil)
	require.NoError(t, f.store.SaveDeal(ctx, &api.Deal{ID: "deal-3", WorkflowID: "retired-flow", Status: "NEW"}))

	report, err := f.svc.ResyncAll(ctx, f.store, "CANCELLED")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "deal-1", report.Results[0].DealID)
	assert.Contains(t, report.Errors, "deal-3")
	assert.Empty(t, auditEvents(f.store, "deal-2"))
}
