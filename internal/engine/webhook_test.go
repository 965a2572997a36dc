package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/dealflow/pkg/api"
)

func esignEvent(status string) api.IncomingWebhook {
	return api.IncomingWebhook{
		DealID:  "deal-1",
		Event:   "ESIGN_COMPLETED",
		Payload: map[string]any{"esign": map[string]any{"status": status}},
	}
}

func TestIncomingWebhookTransitionsDeal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deal(t, "deal-1", "SIGNING_FUNDING", map[string]any{"client": "Amal"})

	res := f.svc.HandleIncomingWebhook(ctx, esignEvent("completed"))
	assert.Equal(t, api.WebhookResult{Success: true, NewStatus: "VEHICLE_DELIVERY"}, res)

	deal, err := f.store.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, "VEHICLE_DELIVERY", deal.Status)
	assert.Equal(t, "Amal", deal.Payload["client"])
	assert.Equal(t, map[string]any{"status": "completed"}, deal.Payload["esign"])

	entries := f.store.AuditEntries("deal-1")
	require.Len(t, entries, 1)
	assert.Equal(t, api.RoleSystem, entries[0].ActorRole)
}

func TestIncomingWebhookFailures(t *testing.T) {
	tests := []struct {
		name   string
		status string
		in     api.IncomingWebhook
		want   string
	}{
		{"unknown deal", "SIGNING_FUNDING", api.IncomingWebhook{DealID: "missing", Event: "ESIGN_COMPLETED"}, api.WebhookErrDealNotFound},
		{"status without webhooks", "NEW", esignEvent("completed"), api.WebhookErrNoConfig},
		{"unmapped event", "SIGNING_FUNDING", api.IncomingWebhook{DealID: "deal-1", Event: "ESIGN_DECLINED"}, api.WebhookErrNoMatchingEvent},
		{"conditions not met", "SIGNING_FUNDING", esignEvent("pending"), api.WebhookErrGuardsNotMet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.deal(t, "deal-1", tt.status, nil)

			res := f.svc.HandleIncomingWebhook(context.Background(), tt.in)
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Error)
		})
	}
}

func TestIncomingWebhookKeepsPayloadWhenConditionsFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.deal(t, "deal-1", "SIGNING_FUNDING", nil)

	res := f.svc.HandleIncomingWebhook(ctx, esignEvent("pending"))
	require.False(t, res.Success)

	deal, err := f.store.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, "SIGNING_FUNDING", deal.Status)
	assert.Equal(t, map[string]any{"status": "pending"}, deal.Payload["esign"])
}

func TestIncomingWebhookWithoutActiveVersion(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.SaveDeal(context.Background(), &api.Deal{
		ID: "deal-1", WorkflowID: "retired-flow", Status: "SIGNING_FUNDING",
	}))

	res := f.svc.HandleIncomingWebhook(context.Background(), esignEvent("completed"))
	assert.Equal(t, api.WebhookErrNoVersion, res.Error)
}

type brokenDeals struct {
	api.DealRepository
	getErr, payloadErr, statusErr error
}

func (b *brokenDeals) GetDeal(ctx context.Context, id string) (*api.Deal, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.DealRepository.GetDeal(ctx, id)
}

func (b *brokenDeals) UpdateDealPayload(ctx context.Context, id string, payload map[string]any) error {
	if b.payloadErr != nil {
		return b.payloadErr
	}
	return b.DealRepository.UpdateDealPayload(ctx, id, payload)
}

func (b *brokenDeals) UpdateDealStatus(ctx context.Context, u api.DealStatusUpdate) error {
	if b.statusErr != nil {
		return b.statusErr
	}
	return b.DealRepository.UpdateDealStatus(ctx, u)
}

func TestIncomingWebhookRepositoryFailures(t *testing.T) {
	boom := errors.New("disk quota exceeded")
	tests := []struct {
		name   string
		broken brokenDeals
		want   string
	}{
		{"load", brokenDeals{getErr: boom}, api.WebhookErrLoadDeal},
		{"payload", brokenDeals{payloadErr: boom}, api.WebhookErrUpdatePayload},
		{"status", brokenDeals{statusErr: boom}, api.WebhookErrTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *Config) {
				broken := tt.broken
				broken.DealRepository = c.Persistence.Deals
				c.Persistence.Deals = &broken
			})
			require.NoError(t, f.store.SaveDeal(context.Background(), &api.Deal{
				ID: "deal-1", WorkflowID: "fast-lease-v1", WorkflowVersionID: f.version.ID, Status: "SIGNING_FUNDING",
			}))

			res := f.svc.HandleIncomingWebhook(context.Background(), esignEvent("completed"))
			assert.Equal(t, tt.want, res.Error)
			assert.Empty(t, f.sleeps.Delays())
		})
	}
}
