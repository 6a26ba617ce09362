package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackConfig holds Slack notifier configuration. Either WebhookURL or
// BotToken with Channel must be set; the webhook wins when both are.
type SlackConfig struct {
	WebhookURL string
	BotToken   string // xoxb-... Bot User OAuth Token
	Channel    string
	Username   string

	// APIURL overrides the Web API base URL (tests).
	APIURL string
}

// Slack posts events to a Slack channel.
type Slack struct {
	cfg SlackConfig
	api *slack.Client
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	s := &Slack{cfg: cfg}
	if cfg.WebhookURL != "" {
		return s, nil
	}
	if cfg.BotToken == "" || cfg.Channel == "" {
		return nil, errors.New("slack: webhook_url or bot_token with channel is required")
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	s.api = slack.New(cfg.BotToken, opts...)
	return s, nil
}

func (s *Slack) Name() string { return "slack" }

// Notify posts ev as a mrkdwn message.
func (s *Slack) Notify(ctx context.Context, ev Event) error {
	text := SlackMrkdwn(ev)

	if s.api == nil {
		msg := &slack.WebhookMessage{
			Text:     text,
			Channel:  s.cfg.Channel,
			Username: s.cfg.Username,
		}
		if err := slack.PostWebhookContext(ctx, s.cfg.WebhookURL, msg); err != nil {
			return fmt.Errorf("slack: post webhook: %w", err)
		}
		return nil
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if s.cfg.Username != "" {
		opts = append(opts, slack.MsgOptionUsername(s.cfg.Username))
	}
	if _, _, err := s.api.PostMessageContext(ctx, s.cfg.Channel, opts...); err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}
