package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/bwmarrin/discordgo"
)

const alertEmbedColor = 0xef4444

// WebhookExecutor is the slice of *discordgo.Session used to post alerts.
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts alerts to a Discord channel webhook.
type DiscordNotifier struct {
	exec  WebhookExecutor
	id    string
	token string
}

// ParseWebhookURL extracts the id and token from a Discord webhook URL of the
// form https://discord.com/api/webhooks/{id}/{token}.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("webhook url must end in /webhooks/{id}/{token}")
}

// NewDiscordNotifier creates a notifier for webhookURL. A bot token is not
// needed for webhooks, so the session is created without one.
func NewDiscordNotifier(webhookURL string) (*DiscordNotifier, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordNotifier{exec: session, id: id, token: token}, nil
}

// NewDiscordNotifierWith posts through exec.
func NewDiscordNotifierWith(exec WebhookExecutor, id, token string) *DiscordNotifier {
	return &DiscordNotifier{exec: exec, id: id, token: token}
}

func (d *DiscordNotifier) Alert(ctx context.Context, a domain.Alert) error {
	params := &discordgo.WebhookParams{
		Username: appName,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       a.Title,
			Description: a.Body,
			Color:       alertEmbedColor,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Attention", Value: fmt.Sprintf("%d%%", a.Score), Inline: true},
			},
		}},
	}
	if _, err := d.exec.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil {
			return fmt.Errorf("discord webhook returned %d: %w", restErr.Response.StatusCode, err)
		}
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
