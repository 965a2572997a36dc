package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/petrijr/dealflow/pkg/api"
)

// Messenger delivers a rendered notification.
type Messenger interface {
	Send(ctx context.Context, row *api.NotificationRow) error
}

// LogMessenger is the credential-less stub: it logs the message and
// reports success.
type LogMessenger struct {
	Logger *slog.Logger
}

func (m LogMessenger) Send(ctx context.Context, row *api.NotificationRow) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	roles := make([]string, 0, len(row.ToRoles))
	for _, r := range row.ToRoles {
		roles = append(roles, string(r))
	}
	logger.InfoContext(ctx, "notification_stub",
		slog.String("deal_id", row.DealID),
		slog.String("template", row.Template),
		slog.String("to", strings.Join(roles, ",")),
		slog.String("message", row.Message()),
	)
	return nil
}

// DefaultTelegramBaseURL is the Telegram Bot API root.
const DefaultTelegramBaseURL = "https://api.telegram.org"

// TelegramMessenger posts notifications to a Telegram chat.
type TelegramMessenger struct {
	Token  string
	ChatID string
	// BaseURL defaults to DefaultTelegramBaseURL.
	BaseURL string
	Client  *http.Client
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (m *TelegramMessenger) Send(ctx context.Context, row *api.NotificationRow) error {
	body, err := json.Marshal(telegramMessage{ChatID: m.ChatID, Text: row.Message(), ParseMode: "HTML"})
	if err != nil {
		return err
	}

	base := m.BaseURL
	if base == "" {
		base = DefaultTelegramBaseURL
	}
	url := strings.TrimRight(base, "/") + "/bot" + m.Token + "/sendMessage"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("telegram API error: %d %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	return nil
}

// NewMessenger returns a TelegramMessenger when both credentials are set,
// else a LogMessenger.
func NewMessenger(token, chatID, baseURL string, client *http.Client, logger *slog.Logger) Messenger {
	if token == "" || chatID == "" {
		return LogMessenger{Logger: logger}
	}
	return &TelegramMessenger{Token: token, ChatID: chatID, BaseURL: baseURL, Client: client}
}

// ProcessNotifications sends up to limit pending notifications. Each row
// is attempted once: SENT on success, FAILED with the error otherwise.
func (p *Processor) ProcessNotifications(ctx context.Context, limit int) (api.QueueResult, error) {
	rows, err := p.store.PendingNotifications(ctx, batchSize(limit))
	if err != nil {
		return api.QueueResult{}, fmt.Errorf("load notification queue: %w", err)
	}

	var res api.QueueResult
	for _, row := range rows {
		if err := p.messenger.Send(ctx, row); err != nil {
			p.logger.ErrorContext(ctx, "notification_send_failed",
				slog.String("row_id", row.ID),
				slog.String("deal_id", row.DealID),
				slog.Any("error", err),
			)
			row.Status = api.QueueFailed
			row.Error = err.Error()
		} else {
			row.Status = api.QueueSent
			row.Error = ""
			row.SentAt = p.timestamp()
		}

		if err := p.store.UpdateNotification(ctx, row); err != nil {
			p.logger.ErrorContext(ctx, "notification_update_failed",
				slog.String("row_id", row.ID),
				slog.Any("error", err),
			)
			res.Failed++
			continue
		}
		if row.Status == api.QueueSent {
			res.Processed++
		} else {
			res.Failed++
		}
	}
	return res, nil
}
