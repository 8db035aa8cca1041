package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/haasonsaas/crew/pkg/models"
)

// OpenAIProvider serves completions through OpenAI's chat API. Safe for
// concurrent use.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint, for OpenAI-compatible gateways.
	BaseURL string

	// DefaultModel is used when the request does not name a model.
	DefaultModel string
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends one non-streaming chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    p.convertMessages(req.Messages, req.System),
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	for _, def := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Schema,
			},
		})
	}

	completion, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, modelID)
	}
	if len(completion.Choices) == 0 {
		return nil, NewProviderError(p.Name(), modelID, errors.New("empty completion"))
	}

	choice := completion.Choices[0]
	resp := &Response{
		Content:    choice.Message.Content,
		StopReason: normalizeOpenAIFinish(choice.FinishReason),
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
		Provider: p.Name(),
		Model:    modelID,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

func (p *OpenAIProvider) convertMessages(messages []*models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out := openai.ChatCompletionMessage{Role: role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		result = append(result, out)

		// Tool results become separate tool-role messages.
		for _, tr := range msg.ToolResults {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, modelID string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError(p.Name(), modelID, err).WithStatus(apiErr.HTTPStatusCode)
	}
	return NewProviderError(p.Name(), modelID, err)
}

func normalizeOpenAIFinish(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopToolUse
	case openai.FinishReasonLength:
		return "max_tokens"
	default:
		return "end_turn"
	}
}
