package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// discordMaxLen is the Discord webhook content limit.
const discordMaxLen = 2000

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordMessage struct {
	Content string `json:"content"`
}

// Send posts the message to the webhook with the title in bold. Discord
// replies 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Content: clip(fmt.Sprintf("**%s**\n%s", title, message), discordMaxLen),
	}
	if err := postJSON(ctx, d.client, d.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
