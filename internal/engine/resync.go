package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petrijr/dealflow/pkg/api"
)

// ResyncDeal moves a deal onto its workflow's active version without
// changing its status, then replays the current status's entry actions as
// a self-transition (from == to) when an executor is configured. The
// self-transition has its own action hashes, so repeated resyncs of the
// same status enqueue nothing new.
func (s *Service) ResyncDeal(ctx context.Context, dealID string) (*api.TransitionOutcome, error) {
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("load deal %s: %w", dealID, err)
	}

	active, err := s.versions.FindActive(ctx, deal.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("resolve active version for workflow %s: %w", deal.WorkflowID, err)
	}

	machine := s.Machine(active)
	status, ok := machine.Status(deal.Status)
	if !ok {
		return nil, fmt.Errorf("status %q of deal %s in version %s: %w", deal.Status, deal.ID, active.Version, api.ErrUnknownStatus)
	}

	if deal.WorkflowVersionID != active.ID {
		if err := s.deals.UpdateDealStatus(ctx, api.DealStatusUpdate{
			DealID:            deal.ID,
			PreviousStatus:    deal.Status,
			NewStatus:         deal.Status,
			WorkflowVersionID: active.ID,
		}); err != nil {
			return nil, fmt.Errorf("repin deal %s: %w", deal.ID, err)
		}
	}

	out := &api.TransitionOutcome{
		DealID:            deal.ID,
		PreviousStatus:    deal.Status,
		NewStatus:         deal.Status,
		WorkflowVersionID: active.ID,
		Attempts:          1,
	}
	if s.executor != nil {
		actx := machine.ActionContext(api.TransitionRequest{
			DealID:            deal.ID,
			From:              deal.Status,
			To:                deal.Status,
			ActorRole:         api.RoleSystem,
			WorkflowVersionID: active.ID,
			Context:           deal.Payload,
		})
		executed, err := machine.ExecuteEntryActions(ctx, status, actx)
		out.ExecutedActions = executed
		if err != nil {
			return out, fmt.Errorf("replay entry actions of deal %s: %w", deal.ID, err)
		}
	}

	s.logTransition(ctx, api.AuditEntry{
		ID:                uuid.NewString(),
		DealID:            deal.ID,
		Event:             api.AuditResync,
		From:              deal.Status,
		To:                deal.Status,
		ActorRole:         api.RoleSystem,
		WorkflowVersionID: active.ID,
		Actions:           out.ExecutedActions,
		Details: map[string]any{
			"previousVersionId": deal.WorkflowVersionID,
		},
		CreatedAt: s.now().UTC(),
	})
	return out, nil
}

// SyncReport summarizes a ResyncAll sweep.
type SyncReport struct {
	Total     int                      `json:"total"`
	Processed int                      `json:"processed"`
	Failed    int                      `json:"failed"`
	Results   []*api.TransitionOutcome `json:"results"`
	Errors    map[string]string        `json:"errors,omitempty"`
}

// ResyncAll resyncs every deal listed by lister except those in
// skipStatuses. Per-deal failures are collected, not returned.
func (s *Service) ResyncAll(ctx context.Context, lister api.DealLister, skipStatuses ...string) (*SyncReport, error) {
	deals, err := lister.ListDeals(ctx, skipStatuses...)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}

	report := &SyncReport{Total: len(deals)}
	for _, d := range deals {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		out, err := s.ResyncDeal(ctx, d.ID)
		if err != nil {
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[d.ID] = err.Error()
			report.Failed++
			s.logger.ErrorContext(ctx, "deal_resync_failed",
				slog.String("deal_id", d.ID),
				slog.Any("error", err),
			)
			continue
		}
		report.Results = append(report.Results, out)
		report.Processed++
	}
	return report, nil
}
