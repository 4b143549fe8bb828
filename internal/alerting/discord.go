package alerting

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier posts alerts to a Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier creates a Discord notifier and opens the session.
func NewDiscordNotifier(botToken, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord open: %w", err)
	}
	logger.Info("discord notifier connected",
		zap.String("user", session.State.User.Username))
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

// Name implements Notifier.
func (n *DiscordNotifier) Name() string { return "discord" }

// Notify implements Notifier.
func (n *DiscordNotifier) Notify(_ context.Context, alert Alert) error {
	content := fmt.Sprintf("**[%s] %s**\n%s", alert.Severity, alert.Component, alert.Message)
	if _, err := n.session.ChannelMessageSend(n.channelID, content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}
