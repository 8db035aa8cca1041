package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/crew/internal/retry"
	"github.com/haasonsaas/crew/pkg/models"
)

// DeliveryConfig configures outbound delivery.
type DeliveryConfig struct {
	// MaxAttempts is the send attempt budget per message.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps backoff growth.
	MaxBackoff time.Duration

	Logger *slog.Logger

	// OnRetry is called once per retried attempt, OnDeadLetter once per
	// dead-lettered message. Both are optional.
	OnRetry      func()
	OnDeadLetter func(channel models.ChannelType)
}

// DefaultDeliveryConfig returns production delivery settings.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Logger:         slog.Default(),
	}
}

// Delivery sends outbound messages through channel adapters with retry.
// Messages that exhaust their attempts are dead-lettered, never dropped.
type Delivery struct {
	registry   *Registry
	deadLetter DeadLetterStore
	cfg        DeliveryConfig
	logger     *slog.Logger
}

// NewDelivery creates an outbound delivery pipeline.
func NewDelivery(registry *Registry, deadLetter DeadLetterStore, cfg DeliveryConfig) *Delivery {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Delivery{
		registry:   registry,
		deadLetter: deadLetter,
		cfg:        cfg,
		logger:     cfg.Logger,
	}
}

// Send delivers one outbound message with retries. On exhaustion the
// message is dead-lettered and the final error returned.
func (d *Delivery) Send(ctx context.Context, contactID string, msg *models.Message) error {
	adapter, err := d.registry.Get(msg.Channel)
	if err != nil {
		d.letter(ctx, contactID, msg, 0, err)
		return err
	}

	result := retry.Do(ctx, retry.Config{
		MaxAttempts:  d.cfg.MaxAttempts,
		InitialDelay: d.cfg.InitialBackoff,
		MaxDelay:     d.cfg.MaxBackoff,
		Factor:       2,
		Jitter:       true,
	}, func() error {
		err := adapter.Send(ctx, contactID, msg)
		if err != nil && !IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if d.cfg.OnRetry != nil {
		for i := 1; i < result.Attempts; i++ {
			d.cfg.OnRetry()
		}
	}
	if result.Err != nil {
		d.logger.Error("outbound delivery failed",
			"channel", msg.Channel, "session_id", msg.SessionID,
			"attempts", result.Attempts, "error", result.Err)
		d.letter(ctx, contactID, msg, result.Attempts, result.Err)
		return result.Err
	}
	return nil
}

func (d *Delivery) letter(ctx context.Context, contactID string, msg *models.Message, attempts int, cause error) {
	if d.cfg.OnDeadLetter != nil {
		d.cfg.OnDeadLetter(msg.Channel)
	}
	if d.deadLetter == nil {
		return
	}
	err := d.deadLetter.Add(ctx, &DeadLetter{
		SessionID: msg.SessionID,
		Channel:   msg.Channel,
		ContactID: contactID,
		Message:   msg,
		Attempts:  attempts,
		LastError: cause.Error(),
		FailedAt:  time.Now(),
	})
	if err != nil {
		d.logger.Error("dead letter write failed",
			"session_id", msg.SessionID, "error", err)
	}
}

// Notifier delivers operational notices to organization owners on their
// configured contact channel. Notices are best effort; a failure is logged
// and dropped rather than retried into the dead-letter queue.
type Notifier struct {
	registry *Registry
	logger   *slog.Logger
}

// NewNotifier creates an owner notifier.
func NewNotifier(registry *Registry, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{registry: registry, logger: logger}
}

// Notify sends one notice to a notification target.
func (n *Notifier) Notify(ctx context.Context, target models.NotificationTarget, body string) {
	adapter, err := n.registry.Get(target.Channel)
	if err != nil {
		n.logger.Warn("owner notice dropped, no adapter",
			"channel", target.Channel)
		return
	}
	msg := &models.Message{
		Channel:   target.Channel,
		Direction: models.DirectionOutbound,
		Role:      models.RoleSystem,
		Content:   body,
		CreatedAt: time.Now(),
	}
	if err := adapter.Send(ctx, target.Address, msg); err != nil {
		n.logger.Warn("owner notice delivery failed",
			"channel", target.Channel, "error", err)
	}
}
