package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/pkg/api"
)

// HandleIncomingWebhook applies an inbound integration event to a deal.
// The event payload is merged into the deal's stored context, the current
// status's webhook mapping picks the target status, and the transition
// runs as SYSTEM. Every failure is reported in the result; the error
// strings are the api.WebhookErr* constants.
func (s *Service) HandleIncomingWebhook(ctx context.Context, in api.IncomingWebhook) api.WebhookResult {
	log := s.logger.With(slog.String("deal_id", in.DealID), slog.String("event", in.Event))

	deal, err := s.deals.GetDeal(ctx, in.DealID)
	if err != nil {
		if errors.Is(err, api.ErrDealNotFound) {
			return api.WebhookResult{Error: api.WebhookErrDealNotFound}
		}
		log.ErrorContext(ctx, "webhook_load_deal_failed", slog.Any("error", err))
		return api.WebhookResult{Error: api.WebhookErrLoadDeal}
	}

	payload := deal.Payload
	if len(in.Payload) > 0 {
		payload = guard.DeepMerge(deal.Payload, in.Payload)
		if err := s.deals.UpdateDealPayload(ctx, deal.ID, payload); err != nil {
			log.ErrorContext(ctx, "webhook_update_payload_failed", slog.Any("error", err))
			return api.WebhookResult{Error: api.WebhookErrUpdatePayload}
		}
	}

	version, err := s.ResolveVersion(ctx, deal)
	if err != nil {
		log.ErrorContext(ctx, "webhook_resolve_version_failed", slog.Any("error", err))
		return api.WebhookResult{Error: api.WebhookErrNoVersion}
	}

	status, ok := s.Machine(version).Status(deal.Status)
	if !ok || status.Webhooks == nil || len(status.Webhooks.OnEvent) == 0 {
		return api.WebhookResult{Error: api.WebhookErrNoConfig}
	}

	var mapping *api.StatusWebhookEvent
	for i := range status.Webhooks.OnEvent {
		if status.Webhooks.OnEvent[i].Event == in.Event {
			mapping = &status.Webhooks.OnEvent[i]
			break
		}
	}
	if mapping == nil {
		return api.WebhookResult{Error: api.WebhookErrNoMatchingEvent}
	}

	failed, err := guard.CheckAll(ctx, s.guards, mapping.Conditions, payload)
	if err != nil {
		log.ErrorContext(ctx, "webhook_conditions_failed", slog.Any("error", err))
		return api.WebhookResult{Error: api.WebhookErrGuardsNotMet}
	}
	if len(failed) > 0 {
		return api.WebhookResult{Error: api.WebhookErrGuardsNotMet}
	}

	actionPayload := map[string]any{"event": in.Event}
	if in.ActorRole != "" {
		actionPayload["actorRole"] = string(in.ActorRole)
	}
	if in.ActorID != "" {
		actionPayload["actorId"] = in.ActorID
	}

	out, err := s.TransitionDeal(ctx, api.TransitionInput{
		DealID:        deal.ID,
		TargetStatus:  mapping.TransitionTo,
		ActorRole:     api.RoleSystem,
		ActorID:       in.ActorID,
		GuardContext:  in.Payload,
		ActionPayload: map[string]any{"webhook": actionPayload},
	})
	if err != nil {
		if api.IsGuardFailure(err) {
			return api.WebhookResult{Error: api.WebhookErrGuardsNotMet}
		}
		log.ErrorContext(ctx, "webhook_transition_failed",
			slog.String("target", mapping.TransitionTo),
			slog.Any("error", err),
		)
		return api.WebhookResult{Error: api.WebhookErrTransition}
	}
	return api.WebhookResult{Success: true, NewStatus: out.NewStatus}
}
