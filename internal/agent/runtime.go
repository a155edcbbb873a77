package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/internal/retry"
	"github.com/hayahq/haya/pkg/models"
)

// DefaultMaxToolLoops bounds provider round trips within one chat turn.
const DefaultMaxToolLoops = 8

// ToolLoopLimitMessage is appended as a synthetic assistant reply when the
// loop bound is hit.
const ToolLoopLimitMessage = "Tool loop limit reached"

const toolResultExcerptLen = 200

// Event is one streaming runtime notification.
type Event struct {
	Type    string `json:"type"` // "delta", "tool-call-start", "tool-result"
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
	ID      string `json:"id,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID string
	Message   string
	Model     string           // empty applies the runtime default
	Tools     []ToolSpec       // request-scoped extras, unioned with the registry
	History   []models.Message // prior transcript, already capped/compacted
}

// ChatResult is the runtime's answer. NewMessages holds every message this
// turn produced, user message first; the caller decides what to persist.
type ChatResult struct {
	Message      models.Message
	FinishReason models.FinishReason
	Usage        models.TokenUsage
	NewMessages  []models.Message
}

// Options configures a Runtime.
type Options struct {
	SystemPrompt string
	DefaultModel string
	MaxToolLoops int
	MaxTokens    int
	Retry        retry.Options
}

// Runtime drives the provider/tool loop. It never persists; processors and
// RPC handlers own the transcript.
type Runtime struct {
	provider Provider
	tools    ToolDispatcher
	breaker  *retry.Breaker
	opts     Options
	logger   *slog.Logger
}

// NewRuntime wires a runtime. breaker may be shared across runtimes; nil
// tools means the model sees no tools.
func NewRuntime(provider Provider, tools ToolDispatcher, breaker *retry.Breaker, opts Options, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxToolLoops <= 0 {
		opts.MaxToolLoops = DefaultMaxToolLoops
	}
	if breaker == nil {
		breaker = retry.NewBreaker(0, 0)
	}
	return &Runtime{
		provider: provider,
		tools:    tools,
		breaker:  breaker,
		opts:     opts,
		logger:   logger.With("component", "agent"),
	}
}

// Provider exposes the wired backend (for summarizers and usage records).
func (r *Runtime) Provider() Provider { return r.provider }

// Chat runs one turn to completion.
func (r *Runtime) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	return r.run(ctx, req, nil)
}

// ChatStream runs one turn, emitting deltas and tool progress through
// onEvent. onEvent runs on the runtime goroutine and must not block long.
func (r *Runtime) ChatStream(ctx context.Context, req ChatRequest, onEvent func(Event)) (*ChatResult, error) {
	if onEvent == nil {
		return r.run(ctx, req, nil)
	}
	return r.run(ctx, req, onEvent)
}

func (r *Runtime) run(ctx context.Context, req ChatRequest, onEvent func(Event)) (*ChatResult, error) {
	model := req.Model
	if model == "" {
		model = r.opts.DefaultModel
	}

	working := r.seedMessages(req)
	newStart := len(working) - 1 // user message index
	specs := r.activeTools(req.Tools)

	var usage models.TokenUsage
	for loop := 0; loop < r.opts.MaxToolLoops; loop++ {
		resp, err := r.callProvider(ctx, &Request{
			Model:     model,
			Messages:  working,
			Tools:     specs,
			MaxTokens: r.opts.MaxTokens,
		}, onEvent)
		if err != nil {
			return nil, err
		}
		if resp.Usage != nil {
			usage.Add(*resp.Usage)
		}

		assistant := resp.Message
		assistant.Role = models.RoleAssistant

		if resp.FinishReason != models.FinishToolCalls || len(assistant.ToolCalls) == 0 {
			working = append(working, assistant)
			return &ChatResult{
				Message:      assistant,
				FinishReason: resp.FinishReason,
				Usage:        usage,
				NewMessages:  working[newStart:],
			}, nil
		}

		results := make([]models.Message, 0, len(assistant.ToolCalls))
		for _, call := range assistant.ToolCalls {
			if onEvent != nil {
				onEvent(Event{Type: "tool-call-start", Name: call.Name, ID: call.ID})
			}
			result := r.dispatch(ctx, req.SessionID, call)
			if onEvent != nil {
				onEvent(Event{Type: "tool-result", ID: call.ID, Excerpt: excerpt(result.Content)})
			}
			results = append(results, models.Message{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    result.Content,
			})
		}
		// Assistant tool-call message and its results land together, once
		// per turn.
		working = append(working, assistant)
		working = append(working, results...)
	}

	r.logger.Warn("tool loop limit reached", "session_id", req.SessionID, "limit", r.opts.MaxToolLoops)
	limitMsg := models.NewMessage(models.RoleAssistant, ToolLoopLimitMessage)
	working = append(working, limitMsg)
	return &ChatResult{
		Message:      limitMsg,
		FinishReason: models.FinishStop,
		Usage:        usage,
		NewMessages:  working[newStart:],
	}, nil
}

// seedMessages builds the working list: configured system prompt, prior
// history, then the new user message. The prompt is skipped only when the
// history already leads with it verbatim; synthesized system messages
// (compaction summaries, drop markers) must not displace it.
func (r *Runtime) seedMessages(req ChatRequest) []models.Message {
	working := make([]models.Message, 0, len(req.History)+2)
	if prompt := r.opts.SystemPrompt; prompt != "" {
		leadsWithPrompt := len(req.History) > 0 &&
			req.History[0].Role == models.RoleSystem &&
			req.History[0].Content == prompt
		if !leadsWithPrompt {
			working = append(working, models.Message{Role: models.RoleSystem, Content: prompt})
		}
	}
	working = append(working, req.History...)
	working = append(working, models.NewMessage(models.RoleUser, req.Message))
	return working
}

func (r *Runtime) activeTools(extra []ToolSpec) []ToolSpec {
	var specs []ToolSpec
	if r.tools != nil {
		specs = r.tools.Specs()
	}
	if len(extra) == 0 {
		return specs
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		seen[s.Name] = true
	}
	for _, s := range extra {
		if !seen[s.Name] {
			specs = append(specs, s)
		}
	}
	return specs
}

// callProvider wraps one completion in the breaker and the retry schedule.
func (r *Runtime) callProvider(ctx context.Context, req *Request, onEvent func(Event)) (*Response, error) {
	name := r.provider.Name()
	if !r.breaker.Allow(name) {
		return nil, &errdefs.RetryableProviderError{
			Provider: name,
			Err:      errors.New("circuit open"),
		}
	}

	resp, err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) (*Response, error) {
		if onEvent == nil {
			return r.provider.Complete(ctx, req)
		}
		return r.provider.CompleteStream(ctx, req, func(c Chunk) {
			if c.Delta != "" {
				onEvent(Event{Type: "delta", Content: c.Delta})
			}
		})
	})
	if err != nil {
		r.breaker.RecordFailure(name)
		if retry.IsTransient(err) {
			var transient *retry.TransientError
			if errors.As(err, &transient) {
				return nil, &errdefs.RetryableProviderError{
					Provider: name,
					Status:   transient.Status,
					Body:     transient.Body,
					Err:      transient.Err,
				}
			}
			return nil, &errdefs.RetryableProviderError{Provider: name, Err: err}
		}
		return nil, err
	}
	r.breaker.RecordSuccess(name)
	return resp, nil
}

func (r *Runtime) dispatch(ctx context.Context, sessionID string, call models.ToolCall) models.ToolResult {
	if r.tools == nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    "Tool not found: " + call.Name,
			IsError:    true,
		}
	}
	return r.tools.Dispatch(ctx, sessionID, call)
}

func excerpt(s string) string {
	if len(s) <= toolResultExcerptLen {
		return s
	}
	return s[:toolResultExcerptLen] + "…"
}
