package compaction

import (
	"github.com/hayahq/haya/pkg/models"
)

// Tool-result pruning limits. Ratios compare accumulated character counts
// against MaxTokens*4 chars of context.
const (
	DefaultSoftTrimRatio        = 0.3
	DefaultHardClearRatio       = 0.5
	DefaultMinPrunableToolChars = 50000
	DefaultKeepLastAssistants   = 3

	softTrimHeadChars = 1000
	softTrimTailChars = 250

	// SoftTrimMarker is inserted between the kept head and tail of a
	// trimmed tool result.
	SoftTrimMarker = "\n… [Tool result trimmed] …\n"

	// HardClearPlaceholder replaces tool results entirely under hard
	// pruning.
	HardClearPlaceholder = "[Tool result cleared to free context]"
)

// PruneConfig bounds one tool-result pruning pass.
type PruneConfig struct {
	MaxTokens            int
	SoftTrimRatio        float64
	HardClearRatio       float64
	MinPrunableToolChars int
	KeepLastAssistants   int
}

func (c PruneConfig) withDefaults() PruneConfig {
	if c.SoftTrimRatio <= 0 {
		c.SoftTrimRatio = DefaultSoftTrimRatio
	}
	if c.HardClearRatio <= 0 {
		c.HardClearRatio = DefaultHardClearRatio
	}
	if c.MinPrunableToolChars <= 0 {
		c.MinPrunableToolChars = DefaultMinPrunableToolChars
	}
	if c.KeepLastAssistants <= 0 {
		c.KeepLastAssistants = DefaultKeepLastAssistants
	}
	return c
}

// PruneToolResults shrinks old tool results when the conversation nears its
// context budget. Bootstrap messages (before the first user message) and
// the protected tail (from the Nth-from-last assistant on) are never
// touched. The input slice is returned unmodified — same reference — when
// no pruning applies.
func PruneToolResults(msgs []models.Message, cfg PruneConfig) []models.Message {
	cfg = cfg.withDefaults()
	if len(msgs) == 0 || cfg.MaxTokens <= 0 {
		return msgs
	}

	maxChars := cfg.MaxTokens * 4
	ratio := float64(charCount(msgs)) / float64(maxChars)
	if ratio < cfg.SoftTrimRatio {
		return msgs
	}

	start, end := prunableWindow(msgs, cfg.KeepLastAssistants)
	if start < 0 || end <= start {
		return msgs
	}

	prunableChars := 0
	for i := start; i < end; i++ {
		if msgs[i].Role == models.RoleTool {
			prunableChars += len(msgs[i].Content)
		}
	}
	if prunableChars == 0 {
		return msgs
	}

	hard := ratio >= cfg.HardClearRatio && prunableChars >= cfg.MinPrunableToolChars

	var out []models.Message
	modified := false
	for i := start; i < end; i++ {
		if msgs[i].Role != models.RoleTool {
			continue
		}
		replacement, changed := pruneContent(msgs[i].Content, hard)
		if !changed {
			continue
		}
		if !modified {
			out = make([]models.Message, len(msgs))
			copy(out, msgs)
			modified = true
		}
		out[i].Content = replacement
	}
	if !modified {
		return msgs
	}
	return out
}

// prunableWindow returns [start, end) strictly between the first user
// message and the KeepLastAssistants-th assistant from the end.
func prunableWindow(msgs []models.Message, keepLastAssistants int) (int, int) {
	firstUser := -1
	for i, msg := range msgs {
		if msg.Role == models.RoleUser {
			firstUser = i
			break
		}
	}
	if firstUser < 0 {
		return -1, -1
	}

	cutoff := -1
	seen := 0
	for i := len(msgs) - 1; i > firstUser; i-- {
		if msgs[i].Role == models.RoleAssistant {
			seen++
			if seen == keepLastAssistants {
				cutoff = i
				break
			}
		}
	}
	if cutoff < 0 {
		return -1, -1
	}
	return firstUser + 1, cutoff
}

func pruneContent(content string, hard bool) (string, bool) {
	if hard {
		if content == HardClearPlaceholder {
			return content, false
		}
		return HardClearPlaceholder, true
	}
	if len(content) <= softTrimHeadChars+softTrimTailChars+len(SoftTrimMarker) {
		return content, false
	}
	trimmed := content[:softTrimHeadChars] + SoftTrimMarker + content[len(content)-softTrimTailChars:]
	return trimmed, true
}

func charCount(msgs []models.Message) int {
	total := 0
	for _, msg := range msgs {
		total += len(msg.Content)
		for _, call := range msg.ToolCalls {
			total += len(call.Name) + len(call.Arguments)
		}
	}
	return total
}
