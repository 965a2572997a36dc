package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/petrijr/dealflow/pkg/api"
)

// maxWebhookBackoff caps the delay between webhook delivery attempts.
const maxWebhookBackoff = 30 * time.Minute

// WebhookBackoff is the delay before the next delivery after retryCount
// failures: 2^retryCount minutes, capped at 30 minutes.
func WebhookBackoff(retryCount int) time.Duration {
	if retryCount >= 5 {
		return maxWebhookBackoff
	}
	d := time.Duration(1<<retryCount) * time.Minute
	if d > maxWebhookBackoff {
		return maxWebhookBackoff
	}
	return d
}

// ProcessWebhooks delivers up to limit due webhook rows. A failed delivery
// is rescheduled with WebhookBackoff until api.MaxWebhookAttempts failures,
// after which the row is FAILED. A SENT row with a TransitionTo then moves
// the deal as SYSTEM; that transition's failure is logged only.
func (p *Processor) ProcessWebhooks(ctx context.Context, limit int) (api.QueueResult, error) {
	rows, err := p.store.PendingWebhooks(ctx, p.now().UTC(), batchSize(limit))
	if err != nil {
		return api.QueueResult{}, fmt.Errorf("load webhook queue: %w", err)
	}

	var res api.QueueResult
	for _, row := range rows {
		p.dispatchWebhook(ctx, row)

		if err := p.store.UpdateWebhook(ctx, row); err != nil {
			p.logger.ErrorContext(ctx, "webhook_update_failed",
				slog.String("row_id", row.ID),
				slog.Any("error", err),
			)
			res.Failed++
			continue
		}

		switch row.Status {
		case api.QueueSent:
			res.Processed++
			p.followTransition(ctx, row)
		case api.QueueFailed:
			res.Failed++
		}
	}
	return res, nil
}

func (p *Processor) dispatchWebhook(ctx context.Context, row *api.WebhookRow) {
	err := p.post(ctx, row)
	if err == nil {
		p.logger.InfoContext(ctx, "webhook_sent",
			slog.String("row_id", row.ID),
			slog.String("endpoint", row.Endpoint),
		)
		now := p.timestamp()
		row.Status = api.QueueSent
		row.LastError = ""
		row.NextAttemptAt = nil
		row.SentAt = now
		row.ProcessedAt = now
		return
	}

	p.logger.WarnContext(ctx, "webhook_dispatch_failed",
		slog.String("row_id", row.ID),
		slog.String("endpoint", row.Endpoint),
		slog.Int("retry_count", row.RetryCount+1),
		slog.Any("error", err),
	)
	row.RetryCount++
	row.LastError = err.Error()
	if row.RetryCount >= api.MaxWebhookAttempts {
		row.Status = api.QueueFailed
		row.NextAttemptAt = nil
		row.ProcessedAt = p.timestamp()
		return
	}
	next := p.now().UTC().Add(WebhookBackoff(row.RetryCount))
	row.NextAttemptAt = &next
}

func (p *Processor) post(ctx context.Context, row *api.WebhookRow) error {
	payload := row.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, row.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook failed: %s", resp.Status)
	}
	return nil
}

func (p *Processor) followTransition(ctx context.Context, row *api.WebhookRow) {
	if row.TransitionTo == "" || row.DealID == "" || p.transitioner == nil {
		return
	}
	out, err := p.transitioner.TransitionDeal(ctx, api.TransitionInput{
		DealID:       row.DealID,
		TargetStatus: row.TransitionTo,
		ActorRole:    api.RoleSystem,
		GuardContext: row.Payload,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "webhook_transition_failed",
			slog.String("deal_id", row.DealID),
			slog.String("to", row.TransitionTo),
			slog.Any("error", err),
		)
		return
	}
	p.logger.InfoContext(ctx, "webhook_transition_performed",
		slog.String("deal_id", row.DealID),
		slog.String("to", out.NewStatus),
	)
}
