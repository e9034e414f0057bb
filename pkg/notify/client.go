// Package notify delivers escalation and SLA notifications to Slack.
// The service is nil-safe so callers never need to branch on whether
// notifications are configured.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// Client is a thin wrapper around the slack-go SDK.
type Client struct {
	api            *goslack.Client
	defaultChannel string
	logger         *slog.Logger
}

// NewClient creates a new Slack API client.
func NewClient(token, defaultChannel string) *Client {
	return &Client{
		api:            goslack.New(token),
		defaultChannel: defaultChannel,
		logger:         slog.Default().With("component", "slack-client"),
	}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom API URL.
// Useful for testing with a mock server.
func NewClientWithAPIURL(token, defaultChannel, apiURL string) *Client {
	return &Client{
		api:            goslack.New(token, goslack.OptionAPIURL(apiURL)),
		defaultChannel: defaultChannel,
		logger:         slog.Default().With("component", "slack-client"),
	}
}

// PostMessage sends Block Kit blocks to a channel. An empty channel
// falls back to the configured default.
func (c *Client) PostMessage(ctx context.Context, channel string, blocks []goslack.Block, timeout time.Duration) error {
	if channel == "" {
		channel = c.defaultChannel
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, _, err := c.api.PostMessageContext(ctx, channel, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
