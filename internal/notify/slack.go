package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackDriver delivers to Slack either through an incoming webhook URL
// or, when a bot token and channel are configured, the Web API.
type SlackDriver struct {
	// postWebhook and postMessage are indirected for tests.
	postWebhook func(ctx context.Context, url string, msg *slack.WebhookMessage) error
	postMessage func(ctx context.Context, token, channel string, opts ...slack.MsgOption) error
}

type slackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Token      string `json:"token"`
	Channel    string `json:"channel"`
}

func NewSlackDriver() *SlackDriver {
	return &SlackDriver{
		postWebhook: slack.PostWebhookContext,
		postMessage: func(ctx context.Context, token, channel string, opts ...slack.MsgOption) error {
			_, _, err := slack.New(token).PostMessageContext(ctx, channel, opts...)
			return err
		},
	}
}

func (s *SlackDriver) Send(ctx context.Context, config json.RawMessage, title, body string) error {
	var cfg slackConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("slack config: %w", err)
	}

	switch {
	case cfg.WebhookURL != "":
		msg := &slack.WebhookMessage{
			Text: fmt.Sprintf("*%s*\n%s", title, body),
		}
		return s.postWebhook(ctx, cfg.WebhookURL, msg)
	case cfg.Token != "" && cfg.Channel != "":
		return s.postMessage(ctx, cfg.Token, cfg.Channel,
			slack.MsgOptionText(fmt.Sprintf("*%s*\n%s", title, body), false))
	default:
		return fmt.Errorf("slack config: webhook_url or token+channel required")
	}
}
