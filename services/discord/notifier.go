package discord

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aethex/platform/internal/httputil"
)

// embedColor is the AeThex brand purple.
const embedColor = 0x7C3AED

// Notifier posts announcements to a Discord channel webhook.
type Notifier struct {
	client     *httputil.Client
	webhookURL string
	username   string
	now        func() time.Time
}

// NewNotifier creates a Notifier for webhookURL. httpClient may be nil.
func NewNotifier(webhookURL string, httpClient *http.Client) *Notifier {
	return &Notifier{
		client:     httputil.NewClient(httputil.ClientConfig{HTTPClient: httpClient, Timeout: 10 * time.Second}),
		webhookURL: webhookURL,
		username:   "AeThex",
		now:        time.Now,
	}
}

type webhookMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

// Announce sends a single embed. Discord answers 204 on success.
func (n *Notifier) Announce(ctx context.Context, title, body, link string) error {
	msg := webhookMessage{
		Username: n.username,
		Embeds: []webhookEmbed{{
			Title:       title,
			Description: body,
			URL:         link,
			Color:       embedColor,
			Timestamp:   n.now().UTC().Format(time.RFC3339),
		}},
	}
	if err := n.client.PostJSON(ctx, n.webhookURL, msg, nil, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
