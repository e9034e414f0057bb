package notify

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/supportstack/orchestrad/pkg/config"
)

// Service handles Slack notification delivery for escalations and SLA
// breaches. Nil-safe: all methods are no-ops when service is nil, so it
// plugs into the escalation engine regardless of configuration.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates the notification service from configuration. The
// bot token is read from the environment variable named by TokenEnv.
// Returns nil when notifications are disabled or not configured.
func NewService(cfg *config.SlackConfig) *Service {
	if cfg == nil || !cfg.Enabled || cfg.Channel == "" {
		return nil
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		slog.Warn("Slack notifications enabled but token env var is empty", "env", cfg.TokenEnv)
		return nil
	}
	return &Service{
		client: NewClient(token, cfg.Channel),
		logger: slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "notify-service"),
	}
}

// Send delivers one notification. It implements the escalation
// engine's Notifier contract: the channel names a Slack channel, an
// empty channel uses the configured default.
func (s *Service) Send(ctx context.Context, channel, message, urgency string, metadata map[string]any) error {
	if s == nil {
		return nil
	}
	blocks := BuildEscalationMessage(message, urgency, metadata)
	return s.client.PostMessage(ctx, channel, blocks, 10*time.Second)
}
