package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/internal/retry"
	"github.com/hayahq/haya/pkg/models"
)

func TestSplitSystem(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "You are terse."},
		{Role: models.RoleSystem, Content: "Answer in English."},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleSystem, Content: "Summary of earlier conversation."},
	}

	system, rest := splitSystem(msgs)
	if system != "You are terse.\n\nAnswer in English." {
		t.Fatalf("system = %q", system)
	}
	if len(rest) != 2 {
		t.Fatalf("rest = %d messages, want 2", len(rest))
	}
	// Mid-conversation system messages stay in the transcript.
	if rest[1].Role != models.RoleSystem {
		t.Fatalf("trailing system message dropped: %+v", rest[1])
	}
}

func TestSplitSystemWithoutLeadingSystem(t *testing.T) {
	msgs := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	system, rest := splitSystem(msgs)
	if system != "" || len(rest) != 1 {
		t.Fatalf("system = %q, rest = %d", system, len(rest))
	}
}

func TestHTTPStatusErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", 429, true},
		{"unavailable", 503, true},
		{"server error", 500, true},
		{"bad request", 400, false},
		{"unauthorized", 401, false},
		{"not found", 404, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := httpStatusError("openai", tt.status, "boom", "")
			var transient *retry.TransientError
			if got := errors.As(err, &transient); got != tt.transient {
				t.Fatalf("transient = %v, want %v (err %v)", got, tt.transient, err)
			}
			if !tt.transient {
				var httpErr *errdefs.ProviderHTTPError
				if !errors.As(err, &httpErr) || httpErr.Status != tt.status {
					t.Fatalf("err = %v, want ProviderHTTPError with status %d", err, tt.status)
				}
			}
		})
	}
}

func TestHTTPStatusErrorCarriesRetryAfter(t *testing.T) {
	err := httpStatusError("anthropic", 429, "slow down", "7")
	var transient *retry.TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v", err)
	}
	if transient.RetryAfter != 7*time.Second {
		t.Fatalf("retry after = %v, want 7s", transient.RetryAfter)
	}
}

func TestUsageOfDropsZeroReports(t *testing.T) {
	if usageOf(0, 0) != nil {
		t.Fatal("zero usage should be nil")
	}
	u := usageOf(10, 3)
	if u == nil || u.InputTokens != 10 || u.OutputTokens != 3 {
		t.Fatalf("usage = %+v", u)
	}
}

func TestOpenAIMessageConversion(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "what time is it?"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "t1", Name: "current_time", Arguments: `{"timezone":"UTC"}`},
		}},
		{Role: models.RoleTool, ToolCallID: "t1", Content: "12:00 UTC"},
	}

	out := openaiMessages(msgs)
	if len(out) != 4 {
		t.Fatalf("converted %d messages, want 4", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("first role = %s", out[0].Role)
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "current_time" {
		t.Fatalf("assistant tool calls = %+v", out[2].ToolCalls)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "t1" {
		t.Fatalf("tool message = %+v", out[3])
	}
}

func TestOpenAIFinishReasonMapping(t *testing.T) {
	tests := []struct {
		in   openai.FinishReason
		want models.FinishReason
	}{
		{openai.FinishReasonStop, models.FinishStop},
		{openai.FinishReasonLength, models.FinishLength},
		{openai.FinishReasonToolCalls, models.FinishToolCalls},
		{openai.FinishReason("content_filter"), models.FinishStop},
	}
	for _, tt := range tests {
		if got := openaiFinishReason(tt.in); got != tt.want {
			t.Errorf("openaiFinishReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnthropicMessagesCoalesceToolResults(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "check two things"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "a", Name: "one", Arguments: `{}`},
			{ID: "b", Name: "two", Arguments: `{}`},
		}},
		{Role: models.RoleTool, ToolCallID: "a", Content: "first"},
		{Role: models.RoleTool, ToolCallID: "b", Content: "second"},
	}

	out, err := anthropicMessages(msgs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// user, assistant, one coalesced user message with both results.
	if len(out) != 3 {
		t.Fatalf("converted %d messages, want 3", len(out))
	}
	if len(out[2].Content) != 2 {
		t.Fatalf("result blocks = %d, want 2", len(out[2].Content))
	}
}

func TestAnthropicMessagesRejectBadToolArguments(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "a", Name: "broken", Arguments: `{not json`},
		}},
	}
	if _, err := anthropicMessages(msgs); err == nil {
		t.Fatal("expected error for invalid tool arguments")
	}
}

func TestAnthropicFinishReasonMapping(t *testing.T) {
	tests := []struct {
		reason string
		calls  int
		want   models.FinishReason
	}{
		{"end_turn", 0, models.FinishStop},
		{"stop_sequence", 0, models.FinishStop},
		{"max_tokens", 0, models.FinishLength},
		{"tool_use", 1, models.FinishToolCalls},
		{"", 1, models.FinishToolCalls},
		{"", 0, models.FinishStop},
	}
	for _, tt := range tests {
		if got := anthropicFinishReason(tt.reason, tt.calls); got != tt.want {
			t.Errorf("anthropicFinishReason(%q, %d) = %q, want %q", tt.reason, tt.calls, got, tt.want)
		}
	}
}

func TestBedrockMessagesCoalesceToolResults(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "go"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "a", Name: "one", Arguments: `{}`},
		}},
		{Role: models.RoleTool, ToolCallID: "a", Content: "done"},
		{Role: models.RoleAssistant, Content: "finished"},
	}

	out, err := bedrockMessages(msgs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("converted %d messages, want 4", len(out))
	}
}

func TestGeminiSchemaConversion(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"description": "args",
		"properties": {
			"city": {"type": "string", "enum": ["sf", "nyc"]},
			"days": {"type": "integer"}
		},
		"required": ["city"]
	}`)
	var schemaMap map[string]any
	if err := json.Unmarshal(raw, &schemaMap); err != nil {
		t.Fatal(err)
	}

	schema := geminiSchema(schemaMap)
	if string(schema.Type) != "OBJECT" {
		t.Fatalf("type = %q", schema.Type)
	}
	if len(schema.Properties) != 2 {
		t.Fatalf("properties = %d", len(schema.Properties))
	}
	if got := schema.Properties["city"].Enum; len(got) != 2 {
		t.Fatalf("enum = %v", got)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "city" {
		t.Fatalf("required = %v", schema.Required)
	}
}

func TestGeminiToolNameRecovery(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call_weather_1", Name: "weather", Arguments: `{}`},
		}},
	}
	if got := toolNameForCallID("call_weather_1", msgs); got != "weather" {
		t.Fatalf("name = %q", got)
	}
	// Unknown IDs fall back to parsing the minted format.
	if got := toolNameForCallID("call_clock_99", nil); got != "clock" {
		t.Fatalf("fallback name = %q", got)
	}
}

func TestRegistryKnowsAllConfiguredProviders(t *testing.T) {
	want := []string{"anthropic", "bedrock", "gemini", "openai"}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("names = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), "aol", Settings{}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegistryBuildsOpenAI(t *testing.T) {
	p, err := New(context.Background(), "openai", Settings{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(Settings{}); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	if _, err := NewAnthropic(Settings{}); err == nil {
		t.Fatal("expected error for missing key")
	}
}
