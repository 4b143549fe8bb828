package alerting

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts alerts to a Slack channel.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
	logger    *zap.Logger
}

// NewSlackNotifier creates a Slack notifier. botToken is the Bot User
// OAuth Token (xoxb-...); channelID is the alert channel.
func NewSlackNotifier(botToken, channelID string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:    slack.New(botToken),
		channelID: channelID,
		logger:    logger,
	}
}

// Name implements Notifier.
func (n *SlackNotifier) Name() string { return "slack" }

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("%s *[%s] %s*\n%s",
		severityEmoji(alert.Severity), alert.Severity, alert.Component, alert.Message)

	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

func severityEmoji(s Severity) string {
	switch s {
	case SeverityCritical:
		return ":rotating_light:"
	case SeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}
