package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/crew/internal/model"
	"github.com/haasonsaas/crew/pkg/models"
)

// DefaultSummaryModel is the low-cost model used for close summaries.
const DefaultSummaryModel = "claude-3-5-haiku-latest"

// summaryMaxMessages bounds how much transcript is sent for summarization.
const summaryMaxMessages = 100

const summarySystemPrompt = `You summarize finished customer conversations.
Write a compact summary covering: who the contact is, what they wanted,
what was done or decided, and any open follow-ups. Plain prose, at most
150 words. Output only the summary.`

// ModelSummarizer produces close summaries through a model provider.
type ModelSummarizer struct {
	provider model.Provider
	model    string
}

// NewModelSummarizer creates a summarizer. An empty modelName selects the
// default low-cost summary model.
func NewModelSummarizer(provider model.Provider, modelName string) *ModelSummarizer {
	if modelName == "" {
		modelName = DefaultSummaryModel
	}
	return &ModelSummarizer{provider: provider, model: modelName}
}

// Summarize condenses the session transcript into a handful of sentences.
func (s *ModelSummarizer) Summarize(ctx context.Context, session *models.Session, history []*models.Message) (string, error) {
	if len(history) > summaryMaxMessages {
		history = history[len(history)-summaryMaxMessages:]
	}
	transcript := renderTranscript(history)
	if transcript == "" {
		return "", errors.New("empty transcript")
	}

	resp, err := s.provider.Complete(ctx, &model.Request{
		Model:  s.model,
		System: summarySystemPrompt,
		Messages: []*models.Message{{
			Role:    models.RoleUser,
			Content: transcript,
		}},
		MaxTokens: 512,
	})
	if err != nil {
		return "", fmt.Errorf("summarize session %s: %w", session.ID, err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", errors.New("model returned empty summary")
	}
	return summary, nil
}

func renderTranscript(history []*models.Message) string {
	var b strings.Builder
	for _, msg := range history {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, text)
	}
	return strings.TrimSpace(b.String())
}
