package channels

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/crew/pkg/models"
)

// LogAdapter records outbound messages to the log instead of a transport.
// It stands in for channels that have no transport bound in this deployment
// so deliveries and owner notices remain observable.
type LogAdapter struct {
	channel models.ChannelType
	logger  *slog.Logger
}

// NewLogAdapter creates a log-only adapter for a channel.
func NewLogAdapter(channel models.ChannelType, logger *slog.Logger) *LogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdapter{channel: channel, logger: logger}
}

// Channel implements Adapter.
func (a *LogAdapter) Channel() models.ChannelType { return a.channel }

// Send implements Adapter.
func (a *LogAdapter) Send(_ context.Context, contactID string, msg *models.Message) error {
	a.logger.Info("outbound message",
		"channel", a.channel,
		"contact_id", contactID,
		"session_id", msg.SessionID,
		"role", msg.Role,
		"content", msg.Content)
	return nil
}
