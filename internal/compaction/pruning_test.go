package compaction

import (
	"strings"
	"testing"

	"github.com/hayahq/haya/pkg/models"
)

// pruneFixture builds a conversation with large tool results between the
// first user message and the last few assistant turns.
func pruneFixture(toolChars int) []models.Message {
	big := strings.Repeat("t", toolChars)
	msgs := []models.Message{
		msg(models.RoleSystem, "sys"),
		msg(models.RoleUser, "bootstrap question"),
	}
	for i := 0; i < 4; i++ {
		assistant := msg(models.RoleAssistant, "calling a tool")
		assistant.ToolCalls = []models.ToolCall{{ID: "c", Name: "read_file", Arguments: "{}"}}
		msgs = append(msgs,
			assistant,
			models.Message{Role: models.RoleTool, ToolCallID: "c", Content: big},
		)
	}
	for i := 0; i < 3; i++ {
		msgs = append(msgs,
			msg(models.RoleUser, "followup"),
			msg(models.RoleAssistant, "answer"),
		)
	}
	return msgs
}

func TestPruneToolResultsIdentityBelowThreshold(t *testing.T) {
	msgs := pruneFixture(100)
	out := PruneToolResults(msgs, PruneConfig{MaxTokens: 200000})
	if &out[0] != &msgs[0] {
		t.Fatal("expected the input slice back when under the soft threshold")
	}
}

func TestPruneToolResultsSoftTrimsOldToolResults(t *testing.T) {
	msgs := pruneFixture(20000)
	// 4*20000 tool chars ≈ 80k chars; MaxTokens 50000 → ratio ≈ 0.4.
	out := PruneToolResults(msgs, PruneConfig{MaxTokens: 50000})

	trimmed := 0
	for _, m := range out {
		if m.Role == models.RoleTool && strings.Contains(m.Content, "[Tool result trimmed]") {
			trimmed++
			if len(m.Content) >= 20000 {
				t.Fatalf("trimmed content still %d chars", len(m.Content))
			}
		}
	}
	if trimmed == 0 {
		t.Fatal("no tool results were trimmed")
	}
}

func TestPruneToolResultsHardClearsWhenPastHardRatio(t *testing.T) {
	msgs := pruneFixture(30000)
	// 120k tool chars, MaxTokens 50000 → ratio ≈ 0.6 and prunable > 50000.
	out := PruneToolResults(msgs, PruneConfig{MaxTokens: 50000})

	cleared := 0
	for _, m := range out {
		if m.Content == HardClearPlaceholder {
			cleared++
		}
	}
	if cleared == 0 {
		t.Fatal("expected hard-cleared tool results")
	}
}

func TestPruneToolResultsSoftOnlyWhenPrunableTooSmallForHard(t *testing.T) {
	msgs := pruneFixture(8000)
	// 32k prunable chars is under the 50k hard floor even at a high ratio.
	out := PruneToolResults(msgs, PruneConfig{MaxTokens: 15000})

	for _, m := range out {
		if m.Content == HardClearPlaceholder {
			t.Fatal("hard clear applied below the prunable-chars floor")
		}
	}
}

func TestPruneToolResultsPreservesBootstrapAndRecentTurns(t *testing.T) {
	msgs := pruneFixture(30000)
	out := PruneToolResults(msgs, PruneConfig{MaxTokens: 50000})

	if out[1].Content != "bootstrap question" {
		t.Fatal("first user message altered")
	}
	// Everything from the 3rd-from-last assistant onward stays verbatim.
	start, end := prunableWindow(msgs, DefaultKeepLastAssistants)
	if start < 0 {
		t.Fatal("fixture should have a prunable window")
	}
	for i := end; i < len(msgs); i++ {
		if out[i].Content != msgs[i].Content {
			t.Fatalf("message %d inside the protected tail was modified", i)
		}
	}
}

func TestPrunableWindowRequiresEnoughAssistants(t *testing.T) {
	msgs := []models.Message{
		msg(models.RoleUser, "hi"),
		msg(models.RoleAssistant, "hello"),
	}
	if start, _ := prunableWindow(msgs, 3); start != -1 {
		t.Fatalf("window start = %d, want -1 with too few assistant turns", start)
	}
}
