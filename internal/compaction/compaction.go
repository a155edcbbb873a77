// Package compaction reduces a conversation's token footprint while
// preserving the latest turns and tool-call/result pairing. It implements
// keep-recent truncation, chunked LLM summarization of the dropped prefix,
// and tool-result pruning.
package compaction

import (
	"context"
	"fmt"

	"github.com/hayahq/haya/internal/tokens"
	"github.com/hayahq/haya/pkg/models"
)

const (
	// DefaultRecentMessageCount is how many trailing messages survive
	// compaction untouched.
	DefaultRecentMessageCount = 10

	// MinChunkTokens floors the summarization chunk size.
	MinChunkTokens = 1000

	// ToolContentLimit caps tool-result text sent to the summarizer.
	ToolContentLimit = 2000
)

// Config bounds one compaction pass.
type Config struct {
	// MaxTokens is the provider context budget.
	MaxTokens int
	// ReserveTokens is held back for the model response.
	ReserveTokens int
	// SystemTokens is the estimated size of the runtime system prompt,
	// which is not part of the message list.
	SystemTokens int
	// RecentMessageCount overrides DefaultRecentMessageCount when > 0.
	RecentMessageCount int
}

// Budget returns the token allowance for the message list itself.
func (c Config) Budget() int {
	return c.MaxTokens - c.ReserveTokens - c.SystemTokens
}

func (c Config) recentCount() int {
	if c.RecentMessageCount > 0 {
		return c.RecentMessageCount
	}
	return DefaultRecentMessageCount
}

// Result carries the kept messages and the contiguous prefix that was cut.
type Result struct {
	Messages []models.Message
	Dropped  []models.Message
}

// Compact drops the oldest prefix until the estimate fits the budget. The
// last RecentMessageCount messages and a leading system message always
// survive; if those alone exceed the budget they are returned unchanged.
// The cut never separates a tool result from its assistant tool call. When
// nothing needs dropping the input slice is returned as-is.
func Compact(msgs []models.Message, cfg Config) Result {
	budget := cfg.Budget()
	if len(msgs) == 0 || budget <= 0 || tokens.EstimateMessages(msgs) <= budget {
		return Result{Messages: msgs}
	}

	var head []models.Message
	body := msgs
	if msgs[0].Role == models.RoleSystem {
		head = msgs[:1]
		body = msgs[1:]
	}

	recent := cfg.recentCount()
	if len(body) <= recent {
		// Nothing droppable; the keep set is the whole list.
		return Result{Messages: msgs}
	}
	tail := body[len(body)-recent:]
	middle := body[:len(body)-recent]

	keepTokens := tokens.EstimateMessages(head) + tokens.EstimateMessages(tail)
	if keepTokens > budget {
		kept := make([]models.Message, 0, len(head)+len(tail))
		kept = append(kept, head...)
		kept = append(kept, tail...)
		return Result{Messages: kept, Dropped: middle}
	}

	// Walk the cut forward until the remainder fits.
	cut := 0
	remaining := tokens.EstimateMessages(middle)
	for cut < len(middle) && keepTokens+remaining > budget {
		remaining -= tokens.EstimateMessage(middle[cut])
		cut++
	}
	// Never leave a tool result orphaned at the cut boundary.
	for cut > 0 && cut < len(middle) && middle[cut].Role == models.RoleTool {
		remaining -= tokens.EstimateMessage(middle[cut])
		cut++
	}
	if cut == 0 {
		return Result{Messages: msgs}
	}

	kept := make([]models.Message, 0, len(head)+len(middle)-cut+len(tail))
	kept = append(kept, head...)
	kept = append(kept, middle[cut:]...)
	kept = append(kept, tail...)
	return Result{Messages: kept, Dropped: middle[:cut]}
}

// Summarizer produces one completion for a fixed system prompt and content.
// The agent runtime supplies a provider-backed implementation.
type Summarizer interface {
	Summarize(ctx context.Context, system, content string) (string, error)
}

// DropMarker formats the fallback system message used when summarization
// is unavailable or fails.
func DropMarker(n int) models.Message {
	return models.Message{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("[… %d messages dropped/summarized …]", n),
	}
}
