package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig holds Telegram notifier configuration.
type TelegramConfig struct {
	Token  string // Bot token from @BotFather
	ChatID int64  // Chat that receives notifications
	// APIEndpoint overrides tgbotapi.APIEndpoint (tests, self-hosted Bot API).
	APIEndpoint string
}

// Telegram sends events to a Telegram chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram authorizes the bot and returns a Telegram notifier.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: chat_id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Telegram{bot: bot, chatID: cfg.ChatID, logger: logger}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Notify sends ev as HTML, falling back to plain text if Telegram rejects
// the markup.
func (t *Telegram) Notify(_ context.Context, ev Event) error {
	msg := tgbotapi.NewMessage(t.chatID, TelegramHTML(ev))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := t.bot.Send(msg)
	if err != nil {
		t.logger.Warn("HTML send failed, falling back to plain text",
			"chat_id", t.chatID,
			"error", err,
		)
		msg.Text = PlainText(ev)
		msg.ParseMode = ""
		_, err = t.bot.Send(msg)
	}
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}
