// Package model wraps LLM providers behind a single non-streaming
// completion interface with error classification, per-provider retries,
// and ordered failover.
package model

import (
	"context"

	"github.com/haasonsaas/crew/internal/tools"
	"github.com/haasonsaas/crew/pkg/models"
)

// Request is a provider-independent completion request.
type Request struct {
	// Model selects the model ID; empty uses the provider default.
	Model string

	// System is the system prompt, kept separate from the message history.
	System string

	Messages []*models.Message

	// Tools the model may call this turn.
	Tools []tools.Definition

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int

	Temperature float32
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a provider-independent completion result.
type Response struct {
	Content   string
	ToolCalls []models.ToolCall

	// StopReason is the provider's termination reason, normalized to
	// "end_turn", "tool_use", or "max_tokens".
	StopReason string

	Usage Usage

	// Provider and Model record who actually served the request, which may
	// differ from the request under failover.
	Provider string
	Model    string
}

// StopToolUse means the model wants tool results before continuing.
const StopToolUse = "tool_use"

// Provider is a single LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}
