package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hayahq/haya/internal/tokens"
	"github.com/hayahq/haya/pkg/models"
)

func msg(role models.Role, content string) models.Message {
	return models.Message{Role: role, Content: content}
}

func conversation(n int, size int) []models.Message {
	msgs := []models.Message{msg(models.RoleSystem, "You are helpful.")}
	filler := strings.Repeat("x", size)
	for i := 0; i < n; i++ {
		msgs = append(msgs, msg(models.RoleUser, filler))
		msgs = append(msgs, msg(models.RoleAssistant, filler))
	}
	return msgs
}

func TestCompactReturnsInputWhenUnderBudget(t *testing.T) {
	msgs := conversation(3, 20)
	result := Compact(msgs, Config{MaxTokens: 10000, ReserveTokens: 1000})

	if len(result.Dropped) != 0 {
		t.Fatalf("dropped %d messages, want 0", len(result.Dropped))
	}
	if &result.Messages[0] != &msgs[0] {
		t.Fatal("expected the input slice back unchanged")
	}
}

func TestCompactKeepsRecentAndLeadingSystem(t *testing.T) {
	msgs := conversation(40, 400)
	cfg := Config{MaxTokens: 6000, ReserveTokens: 500, RecentMessageCount: 10}
	result := Compact(msgs, cfg)

	if len(result.Dropped) == 0 {
		t.Fatal("expected messages to be dropped")
	}
	if result.Messages[0].Role != models.RoleSystem {
		t.Fatalf("first kept message role = %s, want system", result.Messages[0].Role)
	}
	// The last 10 input messages must survive verbatim.
	tail := result.Messages[len(result.Messages)-10:]
	wantTail := msgs[len(msgs)-10:]
	for i := range tail {
		if tail[i].Content != wantTail[i].Content {
			t.Fatalf("tail message %d altered", i)
		}
	}
	if got := tokens.EstimateMessages(result.Messages); got > cfg.Budget() {
		t.Fatalf("compacted estimate %d exceeds budget %d", got, cfg.Budget())
	}
}

func TestCompactKeepSetReturnedWhenItAloneExceedsBudget(t *testing.T) {
	msgs := conversation(20, 4000)
	cfg := Config{MaxTokens: 1200, ReserveTokens: 200, RecentMessageCount: 10}
	result := Compact(msgs, cfg)

	if len(result.Messages) != 11 { // system + 10 recent
		t.Fatalf("kept %d messages, want 11", len(result.Messages))
	}
}

func TestCompactNeverOrphansToolResults(t *testing.T) {
	filler := strings.Repeat("x", 400)
	msgs := []models.Message{msg(models.RoleSystem, "sys")}
	for i := 0; i < 30; i++ {
		assistant := msg(models.RoleAssistant, "")
		assistant.ToolCalls = []models.ToolCall{{ID: "t", Name: "echo", Arguments: `{"v":"` + filler + `"}`}}
		msgs = append(msgs,
			msg(models.RoleUser, filler),
			assistant,
			models.Message{Role: models.RoleTool, ToolCallID: "t", Content: filler},
			msg(models.RoleAssistant, filler),
		)
	}

	result := Compact(msgs, Config{MaxTokens: 8000, ReserveTokens: 1000, RecentMessageCount: 10})
	if len(result.Dropped) == 0 {
		t.Fatal("expected a cut")
	}
	// The message immediately after the leading system message must not be
	// a tool result whose call was cut away.
	if len(result.Messages) > 1 && result.Messages[1].Role == models.RoleTool {
		t.Fatal("cut left an orphaned tool result at the boundary")
	}
}

type stubSummarizer struct {
	texts []string
	calls int
	err   error
}

func (s *stubSummarizer) Summarize(ctx context.Context, system, content string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.texts) > 0 {
		text := s.texts[0]
		if len(s.texts) > 1 {
			s.texts = s.texts[1:]
		}
		return text, nil
	}
	return "summary", nil
}

func TestCompactWithSummaryPrependsSyntheticSystemMessage(t *testing.T) {
	msgs := conversation(40, 400)
	cfg := Config{MaxTokens: 6000, ReserveTokens: 500, RecentMessageCount: 10}
	s := &stubSummarizer{texts: []string{"the user discussed travel plans"}}

	out := CompactWithSummary(context.Background(), msgs, cfg, s)
	if out[0].Role != models.RoleSystem {
		t.Fatalf("first message role = %s, want system", out[0].Role)
	}
	if !strings.Contains(out[0].Content, "travel plans") {
		t.Fatalf("summary not carried: %q", out[0].Content)
	}
	if s.calls == 0 {
		t.Fatal("summarizer never called")
	}
}

func TestCompactWithSummaryFallsBackToMarkerOnFailure(t *testing.T) {
	msgs := conversation(40, 400)
	cfg := Config{MaxTokens: 6000, ReserveTokens: 500, RecentMessageCount: 10}
	s := &stubSummarizer{err: errors.New("provider down")}

	out := CompactWithSummary(context.Background(), msgs, cfg, s)
	if !strings.Contains(out[0].Content, "dropped/summarized") {
		t.Fatalf("expected drop marker, got %q", out[0].Content)
	}
	if got := tokens.EstimateMessages(out); got > cfg.MaxTokens {
		t.Fatalf("estimate %d exceeds maxTokens %d", got, cfg.MaxTokens)
	}
}

func TestCompactWithSummaryMergesMultipleChunks(t *testing.T) {
	// Small reserve keeps chunks at the 1000-token floor; a large dropped
	// prefix forces several chunks plus one merge call.
	msgs := conversation(120, 500)
	cfg := Config{MaxTokens: 9000, ReserveTokens: 100, RecentMessageCount: 10}
	s := &stubSummarizer{texts: []string{"part one", "part two", "merged summary"}}

	out := CompactWithSummary(context.Background(), msgs, cfg, s)
	if s.calls < 3 {
		t.Fatalf("expected chunked summaries plus a merge, got %d calls", s.calls)
	}
	if out[0].Role != models.RoleSystem {
		t.Fatal("expected synthetic system message first")
	}
}

func TestChunkByTokensTruncatesToolContent(t *testing.T) {
	long := strings.Repeat("y", ToolContentLimit*3)
	rendered := renderMessage(models.Message{Role: models.RoleTool, Content: long})
	if len(rendered) > ToolContentLimit+len("tool: ")+len("…") {
		t.Fatalf("tool content not truncated: %d chars", len(rendered))
	}
	if !strings.HasSuffix(rendered, "…") {
		t.Fatal("truncated tool content should end with ellipsis")
	}
}
