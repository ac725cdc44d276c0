// Package notify publishes best-effort operator notifications to Slack
// (spec §6's notification channel interface). A publish failure is logged
// and never affects alert state.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/openlews/openlews/internal/observability"
)

// Interface is the notification channel's public contract.
type Interface interface {
	Publish(ctx context.Context, subject string, payload map[string]any) error
}

type noop struct{}

func (noop) Publish(context.Context, string, map[string]any) error { return nil }

// NewNoop returns an Interface that drops every notification.
func NewNoop() Interface { return noop{} }

type slackChannel struct {
	client  *slack.Client
	channel string
	log     zerolog.Logger
}

// NewSlackChannel posts messages to channel (a Slack channel id or name)
// using a bot token.
func NewSlackChannel(botToken, channel string, log zerolog.Logger) Interface {
	return &slackChannel{client: slack.New(botToken), channel: channel, log: log}
}

func (s *slackChannel) Publish(ctx context.Context, subject string, payload map[string]any) error {
	text := formatMessage(subject, payload)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	observability.ObservePublish(err)
	if err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("notify: slack publish failed")
		return fmt.Errorf("notify: slack publish: %w", err)
	}
	return nil
}

func formatMessage(subject string, payload map[string]any) string {
	msg := subject
	for k, v := range payload {
		msg += fmt.Sprintf("\n%s: %v", k, v)
	}
	return msg
}
