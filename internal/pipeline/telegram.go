package pipeline

import (
	"context"
	"fmt"

	"signal-notifier-go/internal/config"
	"signal-notifier-go/internal/signal"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TelegramChannel pushes notifications to a Telegram chat through the bot
// API. It sits behind the same Channel interface as the local channels and
// follows the toast gating; delivery is best effort.
type TelegramChannel struct {
	client *resty.Client
	chatID int64
	logger *zap.Logger
}

// NewTelegramChannel creates a Telegram channel from config.
func NewTelegramChannel(cfg *config.Telegram, logger *zap.Logger) *TelegramChannel {
	client := resty.New().
		SetBaseURL(fmt.Sprintf("https://api.telegram.org/bot%s", cfg.Token))

	return &TelegramChannel{
		client: client,
		chatID: cfg.ChatID,
		logger: logger.Named("telegram"),
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Deliver(ctx context.Context, _ string, ev signal.Event) error {
	payload := map[string]interface{}{
		"chat_id": c.chatID,
		"text":    eventMessage(ev),
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send failed with status %s: %s", resp.Status(), resp.String())
	}

	c.logger.Debug("Telegram notification sent",
		zap.String("instrument", ev.Instrument),
		zap.String("kind", string(ev.Kind)))
	return nil
}
