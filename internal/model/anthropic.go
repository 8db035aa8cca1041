package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/crew/pkg/models"
)

// AnthropicProvider serves completions through Anthropic's Messages API.
// Safe for concurrent use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// DefaultModel is used when the request does not name a model.
	DefaultModel string
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends one non-streaming completion request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, p.wrapError(err, modelID)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		toolParams, err := p.convertTools(req)
		if err != nil {
			return nil, p.wrapError(err, modelID)
		}
		params.Tools = toolParams
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, modelID)
	}

	resp := &Response{
		StopReason: normalizeStopReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Provider: p.Name(),
		Model:    modelID,
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    toolUse.ID,
				Name:  toolUse.Name,
				Input: json.RawMessage(toolUse.Input),
			})
		}
	}
	resp.Content = text.String()
	return resp, nil
}

func (p *AnthropicProvider) convertMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID, toolResult.Content, toolResult.IsError))
		}
		for _, toolCall := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(toolCall.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(
				toolCall.ID, input, toolCall.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User, tool, and human operator messages all present as user
			// turns to the model.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(req *Request) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) wrapError(err error, modelID string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError(p.Name(), modelID, err).WithStatus(apiErr.StatusCode)
	}
	return NewProviderError(p.Name(), modelID, err)
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return "max_tokens"
	default:
		return "end_turn"
	}
}
