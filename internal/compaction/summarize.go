package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/hayahq/haya/internal/tokens"
	"github.com/hayahq/haya/pkg/models"
)

const summarySystemPrompt = "You condense conversation history. Produce a faithful, compact summary " +
	"of the messages you are given. Preserve facts, decisions, names, dates, and open tasks. " +
	"Do not add commentary."

const mergeSystemPrompt = "You merge partial conversation summaries. Combine the numbered summaries " +
	"into one coherent summary without losing facts, decisions, names, dates, or open tasks."

// CompactWithSummary compacts msgs and replaces the dropped prefix with a
// single synthesized system message carrying an LLM-produced summary. The
// prefix is summarized in token-bounded chunks; multiple chunk summaries
// are merged with one more call. Any summarizer failure falls back to a
// plain drop marker.
func CompactWithSummary(ctx context.Context, msgs []models.Message, cfg Config, s Summarizer) []models.Message {
	result := Compact(msgs, cfg)
	if len(result.Dropped) == 0 {
		return result.Messages
	}
	if s == nil {
		return prepend(DropMarker(len(result.Dropped)), result.Messages)
	}

	summary, err := summarizePrefix(ctx, result.Dropped, cfg, s)
	if err != nil {
		return prepend(DropMarker(len(result.Dropped)), result.Messages)
	}
	marker := models.Message{
		Role:    models.RoleSystem,
		Content: "Summary of earlier conversation:\n" + summary,
	}
	return prepend(marker, result.Messages)
}

func summarizePrefix(ctx context.Context, dropped []models.Message, cfg Config, s Summarizer) (string, error) {
	chunkBudget := cfg.ReserveTokens * 4
	if chunkBudget < MinChunkTokens {
		chunkBudget = MinChunkTokens
	}
	chunks := chunkByTokens(dropped, chunkBudget)

	summaries := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		text, err := s.Summarize(ctx, summarySystemPrompt, renderChunk(chunk))
		if err != nil {
			return "", err
		}
		summaries = append(summaries, strings.TrimSpace(text))
	}
	if len(summaries) == 1 {
		return summaries[0], nil
	}

	var merged strings.Builder
	for i, summary := range summaries {
		fmt.Fprintf(&merged, "%d. %s\n", i+1, summary)
	}
	text, err := s.Summarize(ctx, mergeSystemPrompt, merged.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// chunkByTokens splits messages into runs whose rendered estimate stays at
// or under budget; a single oversized message becomes its own chunk.
func chunkByTokens(msgs []models.Message, budget int) [][]models.Message {
	var chunks [][]models.Message
	var current []models.Message
	currentTokens := 0

	for _, msg := range msgs {
		msgTokens := tokens.EstimateText(renderMessage(msg))
		if len(current) > 0 && currentTokens+msgTokens > budget {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, msg)
		currentTokens += msgTokens
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func renderChunk(msgs []models.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(renderMessage(msg))
		b.WriteByte('\n')
	}
	return b.String()
}

func renderMessage(msg models.Message) string {
	content := msg.Content
	if msg.Role == models.RoleTool && len(content) > ToolContentLimit {
		content = content[:ToolContentLimit] + "…"
	}
	if len(msg.ToolCalls) > 0 {
		var calls []string
		for _, call := range msg.ToolCalls {
			calls = append(calls, call.Name+"("+call.Arguments+")")
		}
		if content != "" {
			content += " "
		}
		content += "[tool calls: " + strings.Join(calls, ", ") + "]"
	}
	return string(msg.Role) + ": " + content
}

func prepend(msg models.Message, msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs)+1)
	out = append(out, msg)
	out = append(out, msgs...)
	return out
}
