package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hayahq/haya/internal/compaction"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/internal/retry"
	"github.com/hayahq/haya/pkg/models"
)

// scriptedProvider returns canned responses in order, then repeats the last.
type scriptedProvider struct {
	name      string
	responses []*Response
	errs      []error
	calls     int
	requests  []*Request
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return "scripted"
	}
	return p.name
}

func (p *scriptedProvider) next() (*Response, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if len(p.responses) == 0 {
		return &Response{FinishReason: models.FinishStop}, nil
	}
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) Complete(_ context.Context, req *Request) (*Response, error) {
	p.requests = append(p.requests, req)
	return p.next()
}

func (p *scriptedProvider) CompleteStream(_ context.Context, req *Request, onChunk func(Chunk)) (*Response, error) {
	p.requests = append(p.requests, req)
	resp, err := p.next()
	if err != nil {
		return nil, err
	}
	if resp.Message.Content != "" && onChunk != nil {
		onChunk(Chunk{Delta: resp.Message.Content})
	}
	return resp, nil
}

// echoDispatcher implements an "echo" tool returning its input argument, and
// denies everything else.
type echoDispatcher struct {
	dispatched []models.ToolCall
}

func (d *echoDispatcher) Specs() []ToolSpec {
	return []ToolSpec{{
		Name:        "echo",
		Description: "Returns the input argument.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"input":{"type":"string"}},"required":["input"]}`),
	}}
}

func (d *echoDispatcher) Dispatch(_ context.Context, _ string, call models.ToolCall) models.ToolResult {
	d.dispatched = append(d.dispatched, call)
	if call.Name != "echo" {
		return models.ToolResult{ToolCallID: call.ID, Content: "Tool call denied by policy", IsError: true}
	}
	var args struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: "Error: " + err.Error(), IsError: true}
	}
	return models.ToolResult{ToolCallID: call.ID, Content: args.Input}
}

func fastRetry() retry.Options {
	opts := retry.DefaultOptions()
	opts.Sleep = func(context.Context, time.Duration) error { return nil }
	return opts
}

func newTestRuntime(p Provider, tools ToolDispatcher, opts Options) *Runtime {
	if opts.Retry.Sleep == nil {
		opts.Retry = fastRetry()
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = "gpt-4o"
	}
	return NewRuntime(p, tools, retry.NewBreaker(0, 0), opts, nil)
}

func TestChatPlainReply(t *testing.T) {
	p := &scriptedProvider{responses: []*Response{{
		Message:      models.Message{Content: "hello there"},
		FinishReason: models.FinishStop,
		Usage:        &models.TokenUsage{InputTokens: 12, OutputTokens: 4},
	}}}
	rt := newTestRuntime(p, nil, Options{SystemPrompt: "Be brief."})

	result, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Message.Content != "hello there" {
		t.Fatalf("reply = %q", result.Message.Content)
	}
	if result.Usage.Total() != 16 {
		t.Fatalf("usage total = %d, want 16", result.Usage.Total())
	}
	// NewMessages: user turn plus assistant reply.
	if len(result.NewMessages) != 2 {
		t.Fatalf("new messages = %d, want 2", len(result.NewMessages))
	}
	if result.NewMessages[0].Role != models.RoleUser || result.NewMessages[0].Content != "hi" {
		t.Fatalf("first new message = %+v", result.NewMessages[0])
	}

	sent := p.requests[0].Messages
	if sent[0].Role != models.RoleSystem || sent[0].Content != "Be brief." {
		t.Fatalf("system prompt not prepended: %+v", sent[0])
	}
	if sent[len(sent)-1].Content != "hi" {
		t.Fatalf("user message not appended: %+v", sent[len(sent)-1])
	}
}

func TestChatToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{responses: []*Response{
		{
			Message: models.Message{ToolCalls: []models.ToolCall{
				{ID: "t1", Name: "echo", Arguments: `{"input":"hi"}`},
			}},
			FinishReason: models.FinishToolCalls,
			Usage:        &models.TokenUsage{InputTokens: 20, OutputTokens: 5},
		},
		{
			Message:      models.Message{Content: "hi"},
			FinishReason: models.FinishStop,
			Usage:        &models.TokenUsage{InputTokens: 30, OutputTokens: 2},
		},
	}}
	tools := &echoDispatcher{}
	rt := newTestRuntime(p, tools, Options{})

	result, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "say hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Message.Content != "hi" {
		t.Fatalf("final reply = %q, want hi", result.Message.Content)
	}
	if len(tools.dispatched) != 1 || tools.dispatched[0].ID != "t1" {
		t.Fatalf("dispatched = %+v", tools.dispatched)
	}
	if result.Usage.InputTokens != 50 || result.Usage.OutputTokens != 7 {
		t.Fatalf("usage = %+v", result.Usage)
	}

	// user, assistant(tool_calls), tool result, final assistant.
	if len(result.NewMessages) != 4 {
		t.Fatalf("new messages = %d, want 4", len(result.NewMessages))
	}
	if len(result.NewMessages[1].ToolCalls) != 1 {
		t.Fatal("assistant tool-call message missing")
	}
	toolMsg := result.NewMessages[2]
	if toolMsg.Role != models.RoleTool || toolMsg.ToolCallID != "t1" || toolMsg.Content != "hi" {
		t.Fatalf("tool message = %+v", toolMsg)
	}

	// The second provider call must include the tool transcript.
	second := p.requests[1].Messages
	if second[len(second)-1].Role != models.RoleTool {
		t.Fatalf("second request should end with the tool result, got %s", second[len(second)-1].Role)
	}
}

func TestChatDeniedToolStillLoops(t *testing.T) {
	p := &scriptedProvider{responses: []*Response{
		{
			Message: models.Message{ToolCalls: []models.ToolCall{
				{ID: "t1", Name: "shell", Arguments: `{"cmd":"ls"}`},
			}},
			FinishReason: models.FinishToolCalls,
		},
		{
			Message:      models.Message{Content: "I can't run shell commands."},
			FinishReason: models.FinishStop,
		},
	}}
	tools := &echoDispatcher{}
	rt := newTestRuntime(p, tools, Options{})

	result, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "run ls"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.Contains(result.Message.Content, "can't") {
		t.Fatalf("final reply = %q", result.Message.Content)
	}
	toolMsg := result.NewMessages[2]
	if toolMsg.Content != "Tool call denied by policy" {
		t.Fatalf("tool result = %q", toolMsg.Content)
	}
}

func TestChatToolLoopBound(t *testing.T) {
	// Provider always asks for another tool call.
	p := &scriptedProvider{responses: []*Response{{
		Message: models.Message{ToolCalls: []models.ToolCall{
			{ID: "t", Name: "echo", Arguments: `{"input":"again"}`},
		}},
		FinishReason: models.FinishToolCalls,
	}}}
	tools := &echoDispatcher{}
	rt := newTestRuntime(p, tools, Options{MaxToolLoops: 3})

	result, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "loop"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Message.Content != ToolLoopLimitMessage {
		t.Fatalf("final reply = %q", result.Message.Content)
	}
	if result.FinishReason != models.FinishStop {
		t.Fatalf("finish reason = %s, want stop", result.FinishReason)
	}
	if p.calls != 3 {
		t.Fatalf("provider calls = %d, want 3", p.calls)
	}
}

func TestChatRetriesTransientThenRecordsBreakerSuccess(t *testing.T) {
	p := &scriptedProvider{
		errs: []error{&retry.TransientError{Status: 503, Body: "unavailable"}},
		responses: []*Response{
			nil, // consumed by the error slot
			{Message: models.Message{Content: "recovered"}, FinishReason: models.FinishStop},
		},
	}
	rt := newTestRuntime(p, nil, Options{})

	result, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Message.Content != "recovered" {
		t.Fatalf("reply = %q", result.Message.Content)
	}
	if p.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", p.calls)
	}
}

func TestChatExhaustedRetriesSurfaceRetryableProviderError(t *testing.T) {
	transient := &retry.TransientError{Status: 429, Body: "slow down"}
	p := &scriptedProvider{errs: []error{transient, transient, transient, transient}}
	rt := newTestRuntime(p, nil, Options{})

	_, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "hi"})
	var rpErr *errdefs.RetryableProviderError
	if !errors.As(err, &rpErr) {
		t.Fatalf("err = %v, want RetryableProviderError", err)
	}
	if rpErr.Status != 429 {
		t.Fatalf("status = %d, want 429", rpErr.Status)
	}
}

func TestChatShortCircuitsWhenBreakerOpen(t *testing.T) {
	p := &scriptedProvider{responses: []*Response{{
		Message:      models.Message{Content: "ignored"},
		FinishReason: models.FinishStop,
	}}}
	breaker := retry.NewBreaker(0, 0)
	for i := 0; i < retry.DefaultFailureThreshold; i++ {
		breaker.RecordFailure("scripted")
	}
	rt := NewRuntime(p, nil, breaker, Options{DefaultModel: "gpt-4o", Retry: fastRetry()}, nil)

	_, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "hi"})
	var rpErr *errdefs.RetryableProviderError
	if !errors.As(err, &rpErr) {
		t.Fatalf("err = %v, want RetryableProviderError from open circuit", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times behind an open circuit", p.calls)
	}
}

func TestChatStreamEmitsEvents(t *testing.T) {
	p := &scriptedProvider{responses: []*Response{
		{
			Message: models.Message{ToolCalls: []models.ToolCall{
				{ID: "t1", Name: "echo", Arguments: `{"input":"streamed"}`},
			}},
			FinishReason: models.FinishToolCalls,
		},
		{
			Message:      models.Message{Content: "done"},
			FinishReason: models.FinishStop,
		},
	}}
	rt := newTestRuntime(p, &echoDispatcher{}, Options{})

	var events []Event
	result, err := rt.ChatStream(context.Background(), ChatRequest{SessionID: "s", Message: "go"}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if result.Message.Content != "done" {
		t.Fatalf("final = %q", result.Message.Content)
	}

	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Type)
	}
	joined := strings.Join(kinds, ",")
	if !strings.Contains(joined, "tool-call-start") || !strings.Contains(joined, "tool-result") || !strings.Contains(joined, "delta") {
		t.Fatalf("event kinds = %v", kinds)
	}
	for _, e := range events {
		if e.Type == "tool-result" && e.Excerpt != "streamed" {
			t.Fatalf("tool-result excerpt = %q", e.Excerpt)
		}
	}
}

func TestSystemPromptNotDuplicated(t *testing.T) {
	p := &scriptedProvider{responses: []*Response{{
		Message:      models.Message{Content: "ok"},
		FinishReason: models.FinishStop,
	}}}
	rt := newTestRuntime(p, nil, Options{SystemPrompt: "configured"})

	history := []models.Message{
		{Role: models.RoleSystem, Content: "configured"},
		{Role: models.RoleUser, Content: "earlier"},
	}
	if _, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "hi", History: history}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	sent := p.requests[0].Messages
	count := 0
	for _, m := range sent {
		if m.Role == models.RoleSystem {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("system messages sent = %d, want 1", count)
	}
}

func TestSystemPromptSurvivesCompactionMarker(t *testing.T) {
	p := &scriptedProvider{responses: []*Response{{
		Message:      models.Message{Content: "ok"},
		FinishReason: models.FinishStop,
	}}}
	rt := newTestRuntime(p, nil, Options{SystemPrompt: "You are Haya."})

	// Compacted histories lead with a synthesized system message; the
	// configured prompt must still reach the provider ahead of it.
	marker := compaction.DropMarker(12)
	history := []models.Message{
		marker,
		{Role: models.RoleUser, Content: "earlier"},
		{Role: models.RoleAssistant, Content: "noted"},
	}
	if _, err := rt.Chat(context.Background(), ChatRequest{SessionID: "s", Message: "hi", History: history}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	sent := p.requests[0].Messages
	if len(sent) < 2 {
		t.Fatalf("messages sent = %d", len(sent))
	}
	if sent[0].Role != models.RoleSystem || sent[0].Content != "You are Haya." {
		t.Fatalf("first message = %+v, want the configured prompt", sent[0])
	}
	if sent[1].Content != marker.Content {
		t.Fatalf("second message = %+v, want the compaction marker", sent[1])
	}
}
