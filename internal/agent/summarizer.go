package agent

import (
	"context"
	"strings"

	"github.com/hayahq/haya/pkg/models"
)

const summaryMaxTokens = 1024

// Summarizer adapts a Provider to the history compactor: dropped transcript
// chunks are condensed through a plain completion with no tools.
type Summarizer struct {
	provider Provider
	model    string
}

// NewSummarizer uses provider/model for summary completions.
func NewSummarizer(provider Provider, model string) *Summarizer {
	return &Summarizer{provider: provider, model: model}
}

// Summarize condenses content under the given system instruction.
func (s *Summarizer) Summarize(ctx context.Context, system, content string) (string, error) {
	resp, err := s.provider.Complete(ctx, &Request{
		Model: s.model,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: content},
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
