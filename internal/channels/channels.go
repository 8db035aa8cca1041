// Package channels abstracts outbound message delivery across messaging
// platforms and handles retry and dead-lettering for failed sends.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haasonsaas/crew/pkg/models"
)

// ErrUnknownChannel means no adapter is registered for a channel type.
var ErrUnknownChannel = errors.New("unknown channel")

// Adapter delivers outbound messages on one messaging platform.
type Adapter interface {
	// Channel is the platform this adapter serves.
	Channel() models.ChannelType

	// Send delivers one message to the contact identified by msg metadata.
	// Transient failures should be returned as a SendError with Retryable
	// set so delivery can retry.
	Send(ctx context.Context, contactID string, msg *models.Message) error
}

// SendError classifies a delivery failure.
type SendError struct {
	// Retryable marks failures worth retrying: network errors, provider
	// throttling, 5xx responses. Permanent failures (invalid recipient,
	// blocked account) are not.
	Retryable bool

	Message string
	Cause   error
}

func (e *SendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "send failed"
}

func (e *SendError) Unwrap() error { return e.Cause }

// Retryable wraps an error as a transient delivery failure.
func Retryable(err error) *SendError {
	return &SendError{Retryable: true, Cause: err}
}

// Permanent wraps an error as a permanent delivery failure.
func Permanent(err error) *SendError {
	return &SendError{Retryable: false, Cause: err}
}

// IsRetryable reports whether a delivery error is worth retrying. Errors
// that carry no classification are treated as retryable.
func IsRetryable(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Retryable
	}
	return true
}

// Registry holds channel adapters keyed by channel type. Safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChannelType]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[models.ChannelType]Adapter{}}
}

// Register adds an adapter, replacing any existing one for the channel.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Channel()] = adapter
}

// Get returns the adapter for a channel.
func (r *Registry) Get(channel models.ChannelType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return adapter, nil
}

// Channels lists the registered channel types.
func (r *Registry) Channels() []models.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ChannelType, 0, len(r.adapters))
	for channel := range r.adapters {
		out = append(out, channel)
	}
	return out
}
